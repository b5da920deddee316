// Package pathspec selects the most specific registered path pattern for a
// request path.
//
// Three pattern forms are supported:
//
//	/exact/path    matches only the identical path
//	/prefix/*      matches any path starting with "/prefix/" (the separator is
//	               part of the literal prefix, so "/prefix" itself does not match)
//	/*             the default; matches every path
//
// Precedence is exact, then the longest matching prefix, then the default.
package pathspec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidPattern is returned when a pattern string cannot be parsed.
	ErrInvalidPattern = errors.New("invalid path pattern")

	// ErrDuplicatePattern is returned when a pattern is registered twice in one table.
	ErrDuplicatePattern = errors.New("duplicate path pattern")
)

// Kind classifies a pattern.
type Kind int

const (
	// KindExact matches a single path.
	KindExact Kind = iota
	// KindPrefix matches every path below a literal prefix.
	KindPrefix
	// KindDefault matches every path.
	KindDefault
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindPrefix:
		return "prefix"
	case KindDefault:
		return "default"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pattern is a parsed path pattern.
type Pattern struct {
	raw    string
	kind   Kind
	prefix string // literal prefix for KindPrefix, including the trailing "/"
}

// Parse validates and parses a pattern string.
func Parse(s string) (Pattern, error) {
	if !strings.HasPrefix(s, "/") {
		return Pattern{}, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, s)
	}
	if s == "/*" {
		return Pattern{raw: s, kind: KindDefault, prefix: "/"}, nil
	}
	star := strings.IndexByte(s, '*')
	switch {
	case star == -1:
		return Pattern{raw: s, kind: KindExact}, nil
	case star != len(s)-1 || !strings.HasSuffix(s, "/*"):
		return Pattern{}, fmt.Errorf("%w: %q wildcard is only allowed as a trailing /*", ErrInvalidPattern, s)
	}
	return Pattern{raw: s, kind: KindPrefix, prefix: strings.TrimSuffix(s, "*")}, nil
}

// String returns the pattern as registered.
func (p Pattern) String() string { return p.raw }

// Kind returns the pattern classification.
func (p Pattern) Kind() Kind { return p.kind }

// Matches reports whether the pattern covers path.
func (p Pattern) Matches(path string) bool {
	switch p.kind {
	case KindExact:
		return path == p.raw
	case KindPrefix:
		return strings.HasPrefix(path, p.prefix)
	case KindDefault:
		return true
	}
	return false
}

// Overlaps reports whether some path exists that both patterns match.
func (p Pattern) Overlaps(q Pattern) bool {
	switch {
	case p.kind == KindDefault || q.kind == KindDefault:
		return true
	case p.kind == KindExact && q.kind == KindExact:
		return p.raw == q.raw
	case p.kind == KindExact:
		return q.Matches(p.raw)
	case q.kind == KindExact:
		return p.Matches(q.raw)
	default:
		return strings.HasPrefix(p.prefix, q.prefix) || strings.HasPrefix(q.prefix, p.prefix)
	}
}

type entry[T any] struct {
	pattern Pattern
	value   T
}

// Table maps patterns to values. It is built once and is safe for
// concurrent reads after the last Add.
type Table[T any] struct {
	exact    map[string]entry[T]
	prefixes []entry[T] // longest prefix first
	def      *entry[T]
}

// NewTable returns an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{exact: make(map[string]entry[T])}
}

// Add registers value under pattern. Registering the same pattern twice
// fails with ErrDuplicatePattern.
func (t *Table[T]) Add(pattern string, value T) error {
	p, err := Parse(pattern)
	if err != nil {
		return err
	}
	if _, ok := t.Lookup(pattern); ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePattern, pattern)
	}

	e := entry[T]{pattern: p, value: value}
	switch p.kind {
	case KindExact:
		t.exact[p.raw] = e
	case KindPrefix:
		t.prefixes = append(t.prefixes, e)
		sort.SliceStable(t.prefixes, func(i, j int) bool {
			return len(t.prefixes[i].pattern.prefix) > len(t.prefixes[j].pattern.prefix)
		})
	case KindDefault:
		t.def = &e
	}
	return nil
}

// Lookup returns the value registered under exactly this pattern string.
func (t *Table[T]) Lookup(pattern string) (T, bool) {
	var zero T
	p, err := Parse(pattern)
	if err != nil {
		return zero, false
	}
	switch p.kind {
	case KindExact:
		e, ok := t.exact[p.raw]
		return e.value, ok
	case KindPrefix:
		for _, e := range t.prefixes {
			if e.pattern.raw == p.raw {
				return e.value, true
			}
		}
	case KindDefault:
		if t.def != nil {
			return t.def.value, true
		}
	}
	return zero, false
}

// Match returns the most specific pattern covering path and its value.
func (t *Table[T]) Match(path string) (Pattern, T, bool) {
	if e, ok := t.exact[path]; ok {
		return e.pattern, e.value, true
	}
	// Two distinct prefixes of equal length cannot both prefix the same
	// path, so the first hit in length order is the unique winner.
	for _, e := range t.prefixes {
		if strings.HasPrefix(path, e.pattern.prefix) {
			return e.pattern, e.value, true
		}
	}
	if t.def != nil {
		return t.def.pattern, t.def.value, true
	}
	var zero T
	return Pattern{}, zero, false
}

// HasDefault reports whether a "/*" mapping exists.
func (t *Table[T]) HasDefault() bool { return t.def != nil }

// Len returns the number of registered patterns.
func (t *Table[T]) Len() int {
	n := len(t.exact) + len(t.prefixes)
	if t.def != nil {
		n++
	}
	return n
}

// Each calls fn for every registered pattern in precedence order.
func (t *Table[T]) Each(fn func(Pattern, T)) {
	keys := make([]string, 0, len(t.exact))
	for k := range t.exact {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(t.exact[k].pattern, t.exact[k].value)
	}
	for _, e := range t.prefixes {
		fn(e.pattern, e.value)
	}
	if t.def != nil {
		fn(t.def.pattern, t.def.value)
	}
}
