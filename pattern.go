package pollen

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a subscription's addressable scope: a channel kind plus a name
// matcher. The matcher is either the literal MatchAll token or a regular
// expression compiled once at construction and never re-parsed.
type Pattern struct {
	kind Kind
	expr string
	re   *regexp.Regexp // nil when expr is MatchAll
}

// NewPattern compiles a channel pattern. The expression is evaluated
// unanchored against channel names, so "orders" matches every name containing
// it; exact matches anchor explicitly ("^orders$"). An expression of MatchAll
// matches every name of the same kind. A kind mismatch never matches,
// independent of name.
func NewPattern(kind Kind, expr string) (Pattern, error) {
	if kind != KindTopic && kind != KindQueue {
		return Pattern{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidPattern, kind)
	}
	if expr == MatchAll {
		return Pattern{kind: kind, expr: expr}, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return Pattern{kind: kind, expr: expr, re: re}, nil
}

// MustPattern is NewPattern for statically known expressions; it panics when
// the pattern does not compile.
func MustPattern(kind Kind, expr string) Pattern {
	p, err := NewPattern(kind, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePattern parses the textual kind:expr form produced by String.
func ParsePattern(s string) (Pattern, error) {
	kind, expr, ok := strings.Cut(s, ":")
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %q: want kind:expr", ErrInvalidPattern, s)
	}
	return NewPattern(Kind(kind), expr)
}

// Kind returns the pattern's channel kind.
func (p Pattern) Kind() Kind {
	return p.kind
}

// Expr returns the pattern's original matcher text.
func (p Pattern) Expr() string {
	return p.expr
}

// String renders the pattern in kind:expr form.
func (p Pattern) String() string {
	return string(p.kind) + ":" + p.expr
}

// Matches reports whether an emit targeting ch falls within the pattern's
// scope. Kinds must be equal; a MatchAll matcher or a MatchAll target name
// matches unconditionally; otherwise the compiled expression is evaluated
// against the target name.
func (p Pattern) Matches(ch Channel) bool {
	if p.kind != ch.Kind {
		return false
	}
	if p.expr == MatchAll || ch.Name == MatchAll {
		return true
	}
	return p.re.MatchString(ch.Name)
}

// valid reports whether the pattern was produced by NewPattern. The zero
// Pattern is not usable and is rejected at registration.
func (p Pattern) valid() bool {
	if p.kind != KindTopic && p.kind != KindQueue {
		return false
	}
	return p.expr == MatchAll || p.re != nil
}
