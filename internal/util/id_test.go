package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("grp")
	if !strings.HasPrefix(id, "grp_") {
		t.Fatalf("NewID(grp) = %q, want grp_ prefix", id)
	}
	if len(id) != len("grp_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if bare := NewID(""); strings.Contains(bare, "_") || len(bare) != 32 {
		t.Fatalf("NewID(\"\") = %q", bare)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID("x")
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if a, b := NewToken(), NewToken(); a == b || len(a) != 64 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
