package tag

import "strings"

// List helpers operate on raw tag strings with set semantics: order is
// preserved, duplicates are never introduced.

// Contains reports whether tags contains the exact tag.
func Contains(tags []string, t string) bool {
	for _, existing := range tags {
		if existing == t {
			return true
		}
	}
	return false
}

// AddAll merges toAdd into tags with set semantics.
//
// A "-tag" entry removes "tag" instead of adding it. Returns the merged
// list; the input slices are not mutated.
func AddAll(tags, toAdd []string) []string {
	merged := make([]string, len(tags))
	copy(merged, tags)
	for _, t := range toAdd {
		if removed, ok := strings.CutPrefix(t, "-"); ok {
			merged = remove(merged, removed)
			continue
		}
		if !Contains(merged, t) {
			merged = append(merged, t)
		}
	}
	return merged
}

// AddHierarchical appends every ancestor of every hierarchical tag.
//
// Tagging "a/b/c" makes the ref discoverable under "a/b" and "a" as well.
// Ancestors inherit the child's visibility prefix. Existing entries are
// never duplicated.
func AddHierarchical(tags []string) []string {
	merged := make([]string, len(tags))
	copy(merged, tags)
	for i := len(tags) - 1; i >= 0; i-- {
		t := tags[i]
		for strings.Contains(t, "/") {
			t = t[:strings.LastIndexByte(t, '/')]
			if !Contains(merged, t) {
				merged = append(merged, t)
			}
		}
	}
	return merged
}

// RemovePrefix strips tags that are strict ancestors of another tag in
// the list, leaving only the longest paths. Inverse of AddHierarchical.
func RemovePrefix(tags []string) []string {
	var result []string
outer:
	for _, t := range tags {
		check := t + "/"
		for _, other := range tags {
			if strings.HasPrefix(other, check) {
				continue outer
			}
		}
		result = append(result, t)
	}
	return result
}

// IsPublic reports whether the raw tag carries no visibility prefix.
func IsPublic(t string) bool {
	return !strings.HasPrefix(t, "_") && !strings.HasPrefix(t, "+")
}

// Qualify appends the origin suffix to a raw tag. Local origin is the
// empty string and leaves the tag unchanged.
func Qualify(t, origin string) string {
	return t + origin
}

// QualifyAll qualifies every tag in the list with the origin.
func QualifyAll(tags []string, origin string) []string {
	if origin == "" {
		return tags
	}
	qualified := make([]string, len(tags))
	for i, t := range tags {
		qualified[i] = Qualify(t, origin)
	}
	return qualified
}

// QualifiedNonPublic returns the protected and private tags of the list,
// each qualified with the given origin.
func QualifiedNonPublic(tags []string, origin string) []string {
	var result []string
	for _, t := range tags {
		if !IsPublic(t) {
			result = append(result, Qualify(t, origin))
		}
	}
	return result
}

// AnyCaptures reports whether any selector captures any target.
// Logical OR across both lists; a single capture is sufficient.
// Unparseable entries on either side are skipped.
func AnyCaptures(selectors, targets []string) bool {
	for _, s := range selectors {
		sel, err := Parse(s)
		if err != nil {
			continue
		}
		for _, t := range targets {
			target, err := Parse(t)
			if err != nil {
				continue
			}
			if sel.Captures(target) {
				return true
			}
		}
	}
	return false
}

// NewTags returns the entries of changes that are absent from existing.
// Used to compute the newly introduced tags of an update.
func NewTags(changes, existing []string) []string {
	var result []string
	for _, t := range changes {
		if !Contains(existing, t) {
			result = append(result, t)
		}
	}
	return result
}

func remove(tags []string, t string) []string {
	for i, existing := range tags {
		if existing == t {
			return append(tags[:i:i], tags[i+1:]...)
		}
	}
	return tags
}
