// Package symtab implements the process-wide symbol interner: a
// bijection between strings and unsigned integer symbol IDs.
package symtab

import "sync"

// Sym is an interned symbol. The zero value is the reserved "empty"
// sentinel and is always bound to the empty string.
type Sym uint32

// Empty is the sentinel symbol for the empty string.
const Empty Sym = 0

// Table is a bijective string<->Sym interner. The zero value is not
// usable; construct with New.
type Table struct {
	mu     sync.RWMutex
	byName map[string]Sym
	byID   []string
}

// New returns a Table with the empty string eagerly interned as Empty.
func New() *Table {
	t := &Table{
		byName: make(map[string]Sym),
		byID:   make([]string, 0, 16),
	}
	t.byID = append(t.byID, "")
	t.byName[""] = Empty
	return t
}

// Intern returns the Sym for name, creating one if this is the first
// time name has been seen.
func (t *Table) Intern(name string) Sym {
	t.mu.RLock()
	if s, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byName[name]; ok {
		return s
	}
	s := Sym(len(t.byID))
	t.byID = append(t.byID, name)
	t.byName[name] = s
	return s
}

// Name returns the string a Sym was interned from. It panics if s was
// never interned by this table — a Sym is only ever meaningful relative
// to the table that produced it.
func (t *Table) Name(s Sym) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(s) >= len(t.byID) {
		panic("symtab: unknown symbol")
	}
	return t.byID[s]
}

// Lookup returns the Sym for name without interning it, and whether name
// has been interned before.
func (t *Table) Lookup(name string) (Sym, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byName[name]
	return s, ok
}

// shared is the process-wide default table used when callers don't need
// an isolated namespace (the common case: one VM family per process).
var shared = New()

// Shared returns the process-wide default Table.
func Shared() *Table { return shared }

// Intern interns name in the shared process-wide table.
func Intern(name string) Sym { return shared.Intern(name) }

// Name returns the string for s in the shared process-wide table.
func Name(s Sym) string { return shared.Name(s) }
