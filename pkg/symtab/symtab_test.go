package symtab

import "testing"

func TestEmptyIsSentinel(t *testing.T) {
	tab := New()
	if s, ok := tab.Lookup(""); !ok || s != Empty {
		t.Fatalf("Lookup(\"\") = (%d, %v), want (%d, true)", s, ok, Empty)
	}
	if got := tab.Name(Empty); got != "" {
		t.Errorf("Name(Empty) = %q, want \"\"", got)
	}
}

func TestInternIsBijective(t *testing.T) {
	tab := New()
	a := tab.Intern("foo")
	b := tab.Intern("bar")
	c := tab.Intern("foo")

	if a != c {
		t.Errorf("Intern(\"foo\") twice gave different Syms: %d != %d", a, c)
	}
	if a == b {
		t.Errorf("Intern gave the same Sym for distinct strings")
	}
	if got := tab.Name(a); got != "foo" {
		t.Errorf("Name(a) = %q, want \"foo\"", got)
	}
	if got := tab.Name(b); got != "bar" {
		t.Errorf("Name(b) = %q, want \"bar\"", got)
	}
}

func TestLookupDoesNotIntern(t *testing.T) {
	tab := New()
	if _, ok := tab.Lookup("unseen"); ok {
		t.Fatalf("Lookup reported an unseen name as interned")
	}
	if s, ok := tab.Lookup("unseen"); ok || s != 0 {
		t.Fatalf("Lookup mutated state: (%d, %v)", s, ok)
	}
}

func TestNamePanicsOnUnknownSym(t *testing.T) {
	tab := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("Name did not panic on an unknown Sym")
		}
	}()
	tab.Name(Sym(999))
}

func TestSharedTable(t *testing.T) {
	a := Intern("shapevm-shared-test-symbol")
	b := Intern("shapevm-shared-test-symbol")
	if a != b {
		t.Errorf("shared Intern not idempotent: %d != %d", a, b)
	}
	if Name(a) != "shapevm-shared-test-symbol" {
		t.Errorf("shared Name mismatch: %q", Name(a))
	}
}
