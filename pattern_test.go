package pollen

import (
	"errors"
	"testing"
)

func TestNewPattern_CompileErrors(t *testing.T) {
	if _, err := NewPattern(KindTopic, "["); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("bad expression: got %v, want ErrInvalidPattern", err)
	}
	if _, err := NewPattern("fanout", "orders"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("unknown kind: got %v, want ErrInvalidPattern", err)
	}
}

func TestMustPattern_PanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustPattern should panic on an invalid expression")
		}
	}()
	MustPattern(KindQueue, "[")
}

func TestPattern_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		target  Channel
		want    bool
	}{
		{"substring", MustPattern(KindTopic, "Order"), NewTopic("Orders"), true},
		{"regex prefix", MustPattern(KindTopic, "Order.*"), NewTopic("Orders"), true},
		{"no match", MustPattern(KindTopic, "Order.*"), NewTopic("Accounts"), false},
		{"kind mismatch blocks name match", MustPattern(KindTopic, "Orders"), NewQueue("Orders"), false},
		{"match-all pattern", MustPattern(KindQueue, MatchAll), NewQueue("anything"), true},
		{"match-all pattern blocked by kind", MustPattern(KindTopic, MatchAll), NewQueue("anything"), false},
		{"match-all target name", MustPattern(KindTopic, "Orders"), NewTopic(MatchAll), true},
		{"anchored exact", MustPattern(KindTopic, "^orders$"), NewTopic("orders"), true},
		{"anchored exact rejects superstring", MustPattern(KindTopic, "^orders$"), NewTopic("orders-eu"), false},
		{"queue kind matches queue", MustPattern(KindQueue, "billing"), NewQueue("billing"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(tt.target); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("topic:Order.*")
	if err != nil {
		t.Fatalf("ParsePattern returned error: %v", err)
	}
	if p.Kind() != KindTopic {
		t.Errorf("got kind %v, want %v", p.Kind(), KindTopic)
	}
	if p.Expr() != "Order.*" {
		t.Errorf("got expr %q, want %q", p.Expr(), "Order.*")
	}

	if _, err := ParsePattern("orders"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("missing kind: got %v, want ErrInvalidPattern", err)
	}
	if _, err := ParsePattern("fanout:orders"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("unknown kind: got %v, want ErrInvalidPattern", err)
	}
}

func TestPattern_ZeroValueInvalid(t *testing.T) {
	var p Pattern
	if p.valid() {
		t.Error("zero pattern should not be valid")
	}
}
