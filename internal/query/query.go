// Package query compiles the tag selector language into composable
// predicate functions.
//
// The grammar is small: terms joined by "|" (OR), factors within a term
// joined by ":" (AND), and a "!" prefix negating a factor. Each factor
// is a qualified tag selector matched with capture semantics.
//
// Predicates are pure closures over an entity's qualified tag list,
// composed with And/Or combinators, independent of any query-building
// framework.
package query

import (
	"strings"

	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/tag"
)

// Predicate decides whether a qualified tag list matches.
type Predicate func(tags []string) bool

// All matches everything. The read spec for moderators.
func All(tags []string) bool { return true }

// None matches nothing.
func None(tags []string) bool { return false }

// And combines predicates with logical AND. Nil entries are skipped.
func And(preds ...Predicate) Predicate {
	return func(tags []string) bool {
		for _, p := range preds {
			if p != nil && !p(tags) {
				return false
			}
		}
		return true
	}
}

// Or combines predicates with logical OR. Nil entries are skipped.
func Or(preds ...Predicate) Predicate {
	return func(tags []string) bool {
		for _, p := range preds {
			if p != nil && p(tags) {
				return true
			}
		}
		return false
	}
}

// HasTag matches lists containing the exact tag.
func HasTag(t string) Predicate {
	return func(tags []string) bool {
		return tag.Contains(tags, t)
	}
}

// AnyCapturedBy matches lists where any selector captures any tag.
// An empty selector list matches nothing.
func AnyCapturedBy(selectors []string) Predicate {
	return func(tags []string) bool {
		return tag.AnyCaptures(selectors, tags)
	}
}

// Compile translates a selector query string into a predicate.
//
// Returns a MalformedTag error if any factor fails to parse. An empty
// query compiles to All.
func Compile(raw string) (Predicate, error) {
	if raw == "" {
		return All, nil
	}
	var terms []Predicate
	for _, term := range strings.Split(raw, "|") {
		var factors []Predicate
		for _, factor := range strings.Split(term, ":") {
			negated := strings.HasPrefix(factor, "!")
			if negated {
				factor = factor[1:]
			}
			selector, err := tag.Parse(factor)
			if err != nil {
				return nil, err
			}
			p := captures(selector)
			if negated {
				p = not(p)
			}
			factors = append(factors, p)
		}
		terms = append(terms, And(factors...))
	}
	return Or(terms...), nil
}

// Selectors tokenizes a query into its factor selectors, stripped of
// "!" negation. Used by the access engine to vet private query terms.
func Selectors(raw string) []string {
	if raw == "" {
		return nil
	}
	var result []string
	for _, term := range strings.Split(raw, "|") {
		for _, factor := range strings.Split(term, ":") {
			factor = strings.TrimPrefix(factor, "!")
			if factor != "" {
				result = append(result, factor)
			}
		}
	}
	return result
}

// Validate checks every factor of the query against the tag grammar.
func Validate(raw string) error {
	for _, selector := range Selectors(raw) {
		if _, err := tag.Parse(selector); err != nil {
			return errs.Newf(errs.CodeMalformedTag, "invalid query selector %q", selector)
		}
	}
	return nil
}

// captures matches lists where the selector captures any entry.
func captures(selector tag.QualifiedTag) Predicate {
	return func(tags []string) bool {
		for _, t := range tags {
			target, err := tag.Parse(t)
			if err != nil {
				continue
			}
			if selector.Captures(target) {
				return true
			}
		}
		return false
	}
}

func not(p Predicate) Predicate {
	return func(tags []string) bool {
		return !p(tags)
	}
}
