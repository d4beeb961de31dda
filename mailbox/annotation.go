package mailbox

import (
	"fmt"
	"sort"
	"strings"
)

// AnnotationKey is a slash-delimited hierarchical entry name such as
// "/private/comment". Keys compare case-insensitively and are kept in
// lower case.
type AnnotationKey string

// NewAnnotationKey validates and normalises s.
func NewAnnotationKey(s string) (AnnotationKey, error) {
	if !strings.HasPrefix(s, "/") || len(s) < 2 {
		return "", fmt.Errorf("%w: %q must start with '/'", ErrInvalidAnnotationKey, s)
	}
	if strings.HasSuffix(s, "/") {
		return "", fmt.Errorf("%w: %q ends with '/'", ErrInvalidAnnotationKey, s)
	}
	if strings.Contains(s, "//") {
		return "", fmt.Errorf("%w: %q has an empty component", ErrInvalidAnnotationKey, s)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x21 || c > 0x7e || c == '*' || c == '%' {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidAnnotationKey, s, c)
		}
	}
	return AnnotationKey(strings.ToLower(s)), nil
}

// MustAnnotationKey is NewAnnotationKey for constants. It panics on
// invalid input.
func MustAnnotationKey(s string) AnnotationKey {
	k, err := NewAnnotationKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Components returns the number of path components.
func (k AnnotationKey) Components() int {
	return strings.Count(string(k), "/")
}

// IsDescendantOf reports whether k equals parent or sits below it.
func (k AnnotationKey) IsDescendantOf(parent AnnotationKey) bool {
	return k == parent || strings.HasPrefix(string(k), string(parent)+"/")
}

// Annotation is a key/value pair attached to a mailbox. A nil Value
// expresses deletion intent and is never stored.
type Annotation struct {
	Key   AnnotationKey
	Value *string
}

// NewAnnotation builds an annotation carrying value.
func NewAnnotation(key AnnotationKey, value string) Annotation {
	return Annotation{Key: key, Value: &value}
}

// NilAnnotation builds a deletion marker for key.
func NilAnnotation(key AnnotationKey) Annotation {
	return Annotation{Key: key}
}

// IsNil reports whether the annotation carries no value.
func (a Annotation) IsNil() bool {
	return a.Value == nil
}

// Depth selects which descendants of a queried key are returned.
type Depth int

const (
	// DepthExact returns only the queried keys.
	DepthExact Depth = iota
	// DepthOne adds direct children.
	DepthOne
	// DepthAll adds every descendant.
	DepthAll
)

// String returns the GETMETADATA spelling of the depth.
func (d Depth) String() string {
	switch d {
	case DepthOne:
		return "1"
	case DepthAll:
		return "infinity"
	default:
		return "0"
	}
}

// Matches reports whether candidate is selected by querying key at depth d.
func (d Depth) Matches(key, candidate AnnotationKey) bool {
	switch d {
	case DepthAll:
		return candidate.IsDescendantOf(key)
	case DepthOne:
		return candidate.IsDescendantOf(key) && candidate.Components() <= key.Components()+1
	default:
		return candidate == key
	}
}

// FilterAnnotations returns the annotations of all selected by any of keys
// at depth, sorted by key and without duplicates.
func FilterAnnotations(all []Annotation, keys []AnnotationKey, depth Depth) []Annotation {
	var out []Annotation
	for _, a := range all {
		for _, k := range keys {
			if depth.Matches(k, a.Key) {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
