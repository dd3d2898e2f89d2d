package tag

import (
	"strings"
)

// Visibility classifies a tag by its leading prefix character.
//
// Public tags have no prefix and are readable by anyone. Protected tags
// are prefixed "+" and private tags "_"; both are restricted to owners,
// access-list holders, and elevated roles.
type Visibility int

const (
	Public Visibility = iota
	Protected
	Private
)

// String returns the prefix character for the visibility class.
func (v Visibility) String() string {
	switch v {
	case Protected:
		return "+"
	case Private:
		return "_"
	default:
		return ""
	}
}

// QualifiedTag is the parsed form of a tag string: visibility prefix,
// hierarchical path, and owning origin.
//
// The wire form is `prefix path @origin`, e.g. "_science/physics@remote".
// The origin is a suffix, never a prefix, so path matching can ignore it
// until the final comparison. An empty origin means the local deployment.
type QualifiedTag struct {
	Visibility Visibility
	Path       string
	Origin     string
}

// Parse splits a raw tag string into its qualified parts.
//
// Returns a MalformedTag error if the path violates the grammar:
// slash-delimited segments of lowercase alphanumerics and ".", no empty
// segments, no trailing slash.
func Parse(raw string) (QualifiedTag, error) {
	var t QualifiedTag
	rest := raw
	switch {
	case strings.HasPrefix(rest, "+"):
		t.Visibility = Protected
		rest = rest[1:]
	case strings.HasPrefix(rest, "_"):
		t.Visibility = Private
		rest = rest[1:]
	}
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		t.Origin = rest[at:]
		rest = rest[:at]
		if len(t.Origin) == 1 || !validPath(t.Origin[1:]) {
			return QualifiedTag{}, newMalformed(raw, "invalid origin suffix")
		}
	}
	if !validPath(rest) {
		return QualifiedTag{}, newMalformed(raw, "invalid tag path")
	}
	t.Path = rest
	return t, nil
}

// MustParse is Parse for known-good literals. Panics on error.
// Intended for constants and tests.
func MustParse(raw string) QualifiedTag {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats the tag back to its canonical wire form.
// Inverse of Parse for any tag that round-trips.
func (t QualifiedTag) String() string {
	return t.Visibility.String() + t.Path + t.Origin
}

// Local reports whether the tag belongs to the local origin.
func (t QualifiedTag) Local() bool {
	return t.Origin == ""
}

// Captures reports whether the selector tag contains the target tag.
//
// Containment requires all three of:
//  1. Origin match: the selector's origin equals the target's, or the
//     selector has no origin and matches any.
//  2. Path match: equal paths, or the selector path is a strict ancestor
//     of the target path on "/" segment boundaries. "a/b" captures
//     "a/b/c" but never "a/bc".
//  3. Visibility compatibility: a public selector captures only public
//     targets, a protected selector captures protected targets, and a
//     private selector captures private or protected targets.
func (t QualifiedTag) Captures(target QualifiedTag) bool {
	if t.Origin != "" && t.Origin != target.Origin {
		return false
	}
	if !pathCaptures(t.Path, target.Path) {
		return false
	}
	switch t.Visibility {
	case Private:
		return target.Visibility != Public
	default:
		return t.Visibility == target.Visibility
	}
}

// CapturesRaw parses both strings and applies Captures.
// Unparseable selectors or targets never capture.
func CapturesRaw(selector, target string) bool {
	s, err := Parse(selector)
	if err != nil {
		return false
	}
	t, err := Parse(target)
	if err != nil {
		return false
	}
	return s.Captures(t)
}

// pathCaptures checks equality or strict segment-boundary ancestry.
func pathCaptures(selector, target string) bool {
	if selector == target {
		return true
	}
	return strings.HasPrefix(target, selector) && target[len(selector)] == '/'
}

// validPath enforces the tag path grammar.
func validPath(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	prev := byte('/')
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '/':
			if prev == '/' {
				return false
			}
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.':
		default:
			return false
		}
		prev = c
	}
	return true
}
