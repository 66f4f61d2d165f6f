// Package code defines the bytecode instruction set, the Label-keyed
// Code catalog (VmCode), and a debug printer for disassembled catalogs.
package code

import (
	"fmt"
	"io"

	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
)

// Label identifies a code body: a name overloaded by the shapes it maps
// between. Two labels are equal iff all three components match.
type Label struct {
	Name symtab.Sym
	From symtab.Sym
	To   symtab.Sym
}

// Toplevel is the label used for the top-level initialization sequence
// and for the compile-time-execution submachine's scratch code.
var Toplevel = Label{}

// String renders a label as "<name> <from>-><to>" per spec.md §6.
func (l Label) String() string {
	return fmt.Sprintf("%s %s->%s", symtab.Name(l.Name), symtab.Name(l.From), symtab.Name(l.To))
}

// Instr is implemented by every opcode struct. It carries no behavior of
// its own; the VM dispatches on the concrete type.
type Instr interface {
	implInstr()
}

// --- Stack ---

type Push struct{ Value value.Val }
type Pop struct{}
type Swap struct{}
type PushDup struct{}

// --- Control (conditional, stack-consuming) ---

type If struct{ Offset int }
type IfNot struct{ Offset int }

// --- Control (failure-bit) ---

type IfFail struct{ Offset int }
type IfNotFail struct{ Offset int }

// --- Frame manipulation ---

type PopFramehead struct{}
type PopFrametail struct{}
type DropFrame struct{}
type GetFrameheadFields struct{}

// --- Calls ---

type Call struct{}
type Tailcall struct{}
type CallLight struct{}
type Syscall struct{}

// --- Termination ---

type Exit struct{}
type Fail struct{}

// --- Shape-defining (emit-time) ---

type NewShapeOp struct{}
type DefField struct{}
type DefStructField struct{}
type DefShape struct{}

// --- Struct ops ---

type NewStruct struct{ N int }
type SetFields struct{}
type GetFields struct{}

// --- Conversions added by the richer opcode set (SPEC_FULL.md §2) ---

type IntToChar struct{}
type UintToChar struct{}

func (Push) implInstr()               {}
func (Pop) implInstr()                {}
func (Swap) implInstr()               {}
func (PushDup) implInstr()            {}
func (If) implInstr()                 {}
func (IfNot) implInstr()              {}
func (IfFail) implInstr()             {}
func (IfNotFail) implInstr()          {}
func (PopFramehead) implInstr()       {}
func (PopFrametail) implInstr()       {}
func (DropFrame) implInstr()          {}
func (GetFrameheadFields) implInstr() {}
func (Call) implInstr()               {}
func (Tailcall) implInstr()           {}
func (CallLight) implInstr()          {}
func (Syscall) implInstr()            {}
func (Exit) implInstr()               {}
func (Fail) implInstr()               {}
func (NewShapeOp) implInstr()         {}
func (DefField) implInstr()           {}
func (DefStructField) implInstr()     {}
func (DefShape) implInstr()           {}
func (NewStruct) implInstr()          {}
func (SetFields) implInstr()          {}
func (GetFields) implInstr()          {}
func (IntToChar) implInstr()          {}
func (UintToChar) implInstr()         {}

// Equal reports whether two instructions are the same opcode with the
// same operands — used by Catalog.Equal to compare catalogs
// structurally.
func Equal(a, b Instr) bool {
	switch x := a.(type) {
	case Push:
		y, ok := b.(Push)
		return ok && x.Value == y.Value
	case If:
		y, ok := b.(If)
		return ok && x.Offset == y.Offset
	case IfNot:
		y, ok := b.(IfNot)
		return ok && x.Offset == y.Offset
	case IfFail:
		y, ok := b.(IfFail)
		return ok && x.Offset == y.Offset
	case IfNotFail:
		y, ok := b.(IfNotFail)
		return ok && x.Offset == y.Offset
	case NewStruct:
		y, ok := b.(NewStruct)
		return ok && x.N == y.N
	case BinOp:
		y, ok := b.(BinOp)
		return ok && x.Op == y.Op
	case UnOp:
		y, ok := b.(UnOp)
		return ok && x.Op == y.Op
	default:
		// All remaining opcodes carry no operands; type equality suffices.
		return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
	}
}

// SyscallFunc is a registered native callback. It receives the
// caller-prepared input Struct (sized size(fromShape)) and returns
// either a Struct sized size(toShape) and ok == true, or ok == false to
// signal failure (the VM sets the fail bit and does not use the
// returned Struct).
type SyscallFunc func(input value.Struct) (result value.Struct, ok bool)

// Catalog is the VmCode: a Label-keyed mapping to instruction sequences,
// plus a separate mapping from Label to native syscall callbacks.
type Catalog struct {
	bodies   map[Label][]Instr
	syscalls map[Label]SyscallFunc
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		bodies:   make(map[Label][]Instr),
		syscalls: make(map[Label]SyscallFunc),
	}
}

// Define installs the instruction sequence for label, failing if label
// is already defined (as code or as a syscall).
func (c *Catalog) Define(label Label, body []Instr) error {
	if _, dup := c.bodies[label]; dup {
		return fmt.Errorf("code: label %s already defined", label)
	}
	if _, dup := c.syscalls[label]; dup {
		return fmt.Errorf("code: label %s already registered as a syscall", label)
	}
	c.bodies[label] = body
	return nil
}

// Redefine overwrites (or installs) the instruction sequence for label
// unconditionally. It exists for the cmode submachine, which emits into
// the Toplevel label repeatedly across successive _cmode_on/_cmode_off
// pairs.
func (c *Catalog) Redefine(label Label, body []Instr) {
	c.bodies[label] = body
}

// DefineSyscall registers a native callback for label, failing if label
// is already defined (as code or as a syscall).
func (c *Catalog) DefineSyscall(label Label, fn SyscallFunc) error {
	if _, dup := c.bodies[label]; dup {
		return fmt.Errorf("code: label %s already defined", label)
	}
	if _, dup := c.syscalls[label]; dup {
		return fmt.Errorf("code: label %s already registered as a syscall", label)
	}
	c.syscalls[label] = fn
	return nil
}

// Lookup returns the instruction sequence for label.
func (c *Catalog) Lookup(label Label) ([]Instr, bool) {
	body, ok := c.bodies[label]
	return body, ok
}

// LookupSyscall returns the native callback for label.
func (c *Catalog) LookupSyscall(label Label) (SyscallFunc, bool) {
	fn, ok := c.syscalls[label]
	return fn, ok
}

// Labels returns all defined (non-syscall) labels, in no particular
// order — callers needing a stable order should sort by String().
func (c *Catalog) Labels() []Label {
	out := make([]Label, 0, len(c.bodies))
	for l := range c.bodies {
		out = append(out, l)
	}
	return out
}

// Equal reports whether two catalogs define the same set of labels with
// pairwise-Equal instruction sequences (syscalls, being native
// callbacks, are not compared). Map ordering never affects the result.
func (c *Catalog) Equal(other *Catalog) bool {
	if len(c.bodies) != len(other.bodies) {
		return false
	}
	for l, body := range c.bodies {
		obody, ok := other.bodies[l]
		if !ok || len(body) != len(obody) {
			return false
		}
		for i := range body {
			if !Equal(body[i], obody[i]) {
				return false
			}
		}
	}
	return true
}

// Printer disassembles a Catalog to an io.Writer, one section per label,
// mirroring the teacher's io.Writer-based assembly printer.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

// Print writes every label's body, each instruction mnemonic-per-line.
func (p *Printer) Print(c *Catalog) {
	for _, l := range c.Labels() {
		fmt.Fprintf(p.w, "%s:\n", l)
		body, _ := c.Lookup(l)
		for i, instr := range body {
			fmt.Fprintf(p.w, "\t%04d\t%s\n", i, formatInstr(instr))
		}
	}
}

func formatInstr(instr Instr) string {
	switch x := instr.(type) {
	case Push:
		return fmt.Sprintf("PUSH %d", x.Value)
	case If:
		return fmt.Sprintf("IF %d", x.Offset)
	case IfNot:
		return fmt.Sprintf("IF_NOT %d", x.Offset)
	case IfFail:
		return fmt.Sprintf("IF_FAIL %d", x.Offset)
	case IfNotFail:
		return fmt.Sprintf("IF_NOT_FAIL %d", x.Offset)
	case GetFrameheadFields:
		return "GET_FRAMEHEAD_FIELDS"
	case NewStruct:
		return fmt.Sprintf("NEW_STRUCT %d", x.N)
	case BinOp:
		return x.Op.String()
	case UnOp:
		return x.Op.String()
	default:
		return mnemonicOf(instr)
	}
}

func mnemonicOf(instr Instr) string {
	switch instr.(type) {
	case Pop:
		return "POP"
	case Swap:
		return "SWAP"
	case PushDup:
		return "PUSH_DUP"
	case PopFramehead:
		return "POP_FRAMEHEAD"
	case PopFrametail:
		return "POP_FRAMETAIL"
	case DropFrame:
		return "DROP_FRAME"
	case Call:
		return "CALL"
	case Tailcall:
		return "TAILCALL"
	case CallLight:
		return "CALL_LIGHT"
	case Syscall:
		return "SYSCALL"
	case Exit:
		return "EXIT"
	case Fail:
		return "FAIL"
	case NewShapeOp:
		return "NEW_SHAPE"
	case DefField:
		return "DEF_FIELD"
	case DefStructField:
		return "DEF_STRUCT_FIELD"
	case DefShape:
		return "DEF_SHAPE"
	case SetFields:
		return "SET_FIELDS"
	case GetFields:
		return "GET_FIELDS"
	case IntToChar:
		return "INT_TO_CHAR"
	case UintToChar:
		return "UINT_TO_CHAR"
	default:
		return fmt.Sprintf("?%T", instr)
	}
}
