package idgen

import "testing"

func TestNewIDReturnsDistinctUUIDStrings(t *testing.T) {
	g := New()
	a, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	b, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if a == b {
		t.Fatalf("NewID() returned the same value twice: %q", a)
	}
	if len(a) != 36 {
		t.Errorf("NewID() = %q, want a 36-character UUID string", a)
	}
}
