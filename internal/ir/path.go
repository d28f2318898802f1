package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Field paths are dot-separated keys with numeric segments for array items:
// "contacts.0.street". A leading "/" marks a path as absolute (form root)
// when it appears inside an array item scope.

// Wildcard is the array-item segment used in template paths.
const Wildcard = "*"

// ExternalPrefix namespaces external data keys in dependency sets.
const ExternalPrefix = "$external."

// FormStatePath is the pseudo path that tracks aggregate form state
// (validity, submitting) for button predicates.
const FormStatePath = "$form"

// SplitPath splits a dot path into segments. The empty path has no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath joins non-empty path parts with dots.
func JoinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

// IsAbsolute reports whether the path carries the absolute marker.
func IsAbsolute(path string) bool {
	return strings.HasPrefix(path, "/")
}

// StripAbsolute removes the absolute marker.
func StripAbsolute(path string) string {
	return strings.TrimPrefix(path, "/")
}

// ResolvePath resolves a configured path against an instance scope.
// Absolute paths ignore the scope.
func ResolvePath(scope, path string) string {
	if IsAbsolute(path) {
		return StripAbsolute(path)
	}
	return JoinPath(scope, path)
}

// PathsOverlap reports whether a change at one path can affect a read at
// the other: equal paths, or one is an ancestor of the other. A Wildcard
// segment matches any single segment.
func PathsOverlap(a, b string) bool {
	if a == b || a == "" || b == "" {
		return true
	}
	as, bs := SplitPath(a), SplitPath(b)
	n := min(len(as), len(bs))
	for i := 0; i < n; i++ {
		if as[i] != bs[i] && as[i] != Wildcard && bs[i] != Wildcard {
			return false
		}
	}
	return true
}

// HasPathPrefix reports whether path equals prefix or lies beneath it.
func HasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+".")
}

// ParentPath returns the path without its last segment.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// LastSegment returns the last segment of a path.
func LastSegment(path string) string {
	i := strings.LastIndexByte(path, '.')
	return path[i+1:]
}

// GetPath reads the value at path. Missing segments report false.
func GetPath(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, seg := range SplitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes v at path, creating intermediate objects as needed.
// Array segments must address existing items.
func SetPath(root map[string]any, path string, v any) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	var cur any = root
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = v
				return nil
			}
			next, ok := node[seg]
			if !ok || next == nil {
				if _, err := strconv.Atoi(segs[i+1]); err == nil {
					return fmt.Errorf("path %q: no array at %q", path, JoinPath(segs[:i+1]...))
				}
				next = map[string]any{}
				node[seg] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("path %q: index %q out of range", path, seg)
			}
			if last {
				node[idx] = v
				return nil
			}
			if node[idx] == nil {
				node[idx] = map[string]any{}
			}
			cur = node[idx]
		default:
			return fmt.Errorf("path %q: cannot descend into %T at %q", path, cur, seg)
		}
	}
	return nil
}

// TemplatePath replaces numeric segments with the wildcard so an instance
// path can be matched to its template.
func TemplatePath(path string) string {
	segs := SplitPath(path)
	for i, s := range segs {
		if _, err := strconv.Atoi(s); err == nil {
			segs[i] = Wildcard
		}
	}
	return strings.Join(segs, ".")
}

// Instantiate substitutes the indices of an instance scope into a template
// path. Scope "contacts.2" turns "contacts.*.street" into "contacts.2.street".
// Wildcards beyond the scope are left in place.
func Instantiate(template, scope string) string {
	tsegs := SplitPath(template)
	ssegs := SplitPath(scope)
	for i := 0; i < len(tsegs) && i < len(ssegs); i++ {
		if tsegs[i] == Wildcard {
			tsegs[i] = ssegs[i]
		}
	}
	return strings.Join(tsegs, ".")
}
