// Package vm implements the stack-machine interpreter: the operand
// stack, frame stack, fail bit, and the dispatch loop over code.Instr.
package vm

import (
	"fmt"

	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/shape"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
)

// Fault is a host-level error that aborts Run. It is never recoverable
// from within a running program — it is distinct from the in-VM fail
// bit, which is normal control flow.
type Fault struct {
	Label code.Label
	IP    int
	Msg   string
	Err   error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("vm: %s at %s:%d: %v", f.Msg, f.Label, f.IP, f.Err)
	}
	return fmt.Sprintf("vm: %s at %s:%d", f.Msg, f.Label, f.IP)
}

func (f *Fault) Unwrap() error { return f.Err }

func (vm *VM) fault(msg string, err error) error {
	return &Fault{Label: vm.label, IP: vm.ip, Msg: msg, Err: err}
}

// Frame is a call record. StackBase is the absolute operand-stack index
// where the callee's input struct begins; StructSize is its slot count.
type Frame struct {
	PrevLabel  code.Label
	PrevIP     int
	StackBase  int
	StructSize int
}

// VM is a single interpreter instance: an operand stack, a frame stack,
// a fail bit, and a reference to a shared shape registry and code
// catalog. The operand stack, frame stack, fail bit, and scratch shape
// are owned exclusively by this VM; the registry and catalog are shared
// with the assembler and must not be mutated concurrently with Run.
type VM struct {
	Shapes  *shape.Registry
	Catalog *code.Catalog
	Tab     *symtab.Table

	stack   []value.Val
	frames  []Frame
	failBit bool

	label code.Label
	ip    int

	// scratch is the Shape under construction by NEW_SHAPE/DEF_FIELD/
	// DEF_STRUCT_FIELD/DEF_SHAPE, used by the assembler's compile-time
	// execution submachine to build shapes programmatically.
	scratch *shape.Shape

	peakFrames int
}

// FrameDepth returns the VM's current frame-stack depth.
func (vm *VM) FrameDepth() int { return len(vm.frames) }

// PeakFrameDepth returns the highest frame-stack depth reached since the
// VM was constructed. Exposed mainly for tests distinguishing CALL's
// linear frame growth from TAILCALL's bounded depth (spec.md §8
// scenario 4).
func (vm *VM) PeakFrameDepth() int { return vm.peakFrames }

func (vm *VM) trackPeak() {
	if len(vm.frames) > vm.peakFrames {
		vm.peakFrames = len(vm.frames)
	}
}

// New returns a VM sharing the given registry and catalog.
func New(shapes *shape.Registry, catalog *code.Catalog, tab *symtab.Table) *VM {
	return &VM{Shapes: shapes, Catalog: catalog, Tab: tab}
}

// FailBit reports the VM's current fail bit. Exposed for callers driving
// a VM instance directly (e.g. the assembler's cmode submachine) rather
// than only through Run.
func (vm *VM) FailBit() bool { return vm.failBit }

const sentinelPrevIP = -1

var binOpFuncs = map[code.ValueOp]func(value.Val, value.Val) value.Val{
	code.OpAddInt: value.AddInt, code.OpSubInt: value.SubInt, code.OpMulInt: value.MulInt, code.OpDivInt: value.DivInt, code.OpModInt: value.ModInt,
	code.OpAddUint: value.AddUint, code.OpSubUint: value.SubUint, code.OpMulUint: value.MulUint, code.OpDivUint: value.DivUint, code.OpModUint: value.ModUint,
	code.OpAndUint: value.AndUint, code.OpOrUint: value.OrUint, code.OpXorUint: value.XorUint, code.OpShlUint: value.ShlUint, code.OpShrUint: value.ShrUint,
	code.OpAddReal: value.AddReal, code.OpSubReal: value.SubReal, code.OpMulReal: value.MulReal, code.OpDivReal: value.DivReal,
	code.OpEqInt: value.EqInt, code.OpNeInt: value.NeInt, code.OpLtInt: value.LtInt, code.OpLeInt: value.LeInt, code.OpGtInt: value.GtInt, code.OpGeInt: value.GeInt,
	code.OpEqUint: value.EqUint, code.OpNeUint: value.NeUint, code.OpLtUint: value.LtUint, code.OpLeUint: value.LeUint, code.OpGtUint: value.GtUint, code.OpGeUint: value.GeUint,
	code.OpEqReal: value.EqReal, code.OpNeReal: value.NeReal, code.OpLtReal: value.LtReal, code.OpLeReal: value.LeReal, code.OpGtReal: value.GtReal, code.OpGeReal: value.GeReal,
}

var unOpFuncs = map[code.ValueOp]func(value.Val) value.Val{
	code.OpNegInt: value.NegInt, code.OpNotUint: value.NotUint, code.OpNegReal: value.NegReal,
	code.OpIntToReal: value.IntToReal, code.OpUintToReal: value.UintToReal, code.OpRealToInt: value.RealToInt, code.OpRealToUint: value.RealToUint,
	code.OpNoop: func(v value.Val) value.Val { return v },
}

// Run executes entry starting with input placed on the operand stack as
// the frame-head, and returns whatever Vals remain above that starting
// point once control unwinds back past the frame Run pushed to start
// execution (well-formed code leaves exactly size(entry.To) of them, by
// having explicitly popped its own frame-head via POP_FRAMEHEAD/
// POP_FRAMETAIL before EXIT/FAIL — Run does not itself enforce this).
// failed reports the VM's fail bit at that point. A non-nil error is
// always a host-level fault (spec.md §7); it is never used for
// in-program failure.
func (vm *VM) Run(entry code.Label, input value.Struct) (result value.Struct, failed bool, err error) {
	base := len(vm.stack)
	vm.stack = append(vm.stack, input...)
	baselineDepth := len(vm.frames)
	vm.frames = append(vm.frames, Frame{PrevLabel: code.Label{}, PrevIP: sentinelPrevIP, StackBase: base, StructSize: len(input)})
	vm.trackPeak()
	vm.label = entry
	vm.ip = 0

	for {
		unwoundToBaseline, err := vm.step(baselineDepth)
		if err != nil {
			return nil, false, err
		}
		if unwoundToBaseline {
			break
		}
	}

	result = value.Struct(vm.stack[base:]).Clone()
	vm.stack = vm.stack[:base]
	return result, vm.failBit, nil
}

// step executes exactly one instruction. It returns true once the frame
// pushed by Run has been popped (i.e. control has unwound to the depth
// at which Run was entered).
func (vm *VM) step(baselineDepth int) (bool, error) {
	body, ok := vm.Catalog.Lookup(vm.label)
	if !ok {
		return false, vm.fault("undefined label", nil)
	}
	if vm.ip < 0 || vm.ip >= len(body) {
		return false, vm.fault("ip out of bounds", nil)
	}
	instr := body[vm.ip]
	advance := true

	switch op := instr.(type) {
	case code.Push:
		vm.push(op.Value)
	case code.Pop:
		if err := vm.pop1(); err != nil {
			return false, err
		}
	case code.Swap:
		if err := vm.requireDepth(2); err != nil {
			return false, err
		}
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
	case code.PushDup:
		if err := vm.requireDepth(1); err != nil {
			return false, err
		}
		vm.push(vm.stack[len(vm.stack)-1])

	case code.If:
		v, err := vm.popVal()
		if err != nil {
			return false, err
		}
		if v.Bool() {
			vm.ip += op.Offset
			advance = false
		}
	case code.IfNot:
		v, err := vm.popVal()
		if err != nil {
			return false, err
		}
		if !v.Bool() {
			vm.ip += op.Offset
			advance = false
		}
	case code.IfFail:
		if vm.failBit {
			vm.ip += op.Offset
			advance = false
		}
	case code.IfNotFail:
		if !vm.failBit {
			vm.ip += op.Offset
			advance = false
		}

	case code.PopFramehead:
		f, err := vm.curFrame()
		if err != nil {
			return false, err
		}
		if err := vm.removeRange(f.StackBase, f.StackBase+f.StructSize); err != nil {
			return false, err
		}
	case code.PopFrametail:
		f, err := vm.curFrame()
		if err != nil {
			return false, err
		}
		if err := vm.removeRange(f.StackBase+f.StructSize, len(vm.stack)); err != nil {
			return false, err
		}
	case code.DropFrame:
		if len(vm.frames) == 0 {
			return false, vm.fault("DROP_FRAME with empty frame stack", nil)
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
	case code.GetFrameheadFields:
		if err := vm.doGetFrameheadFields(); err != nil {
			return false, err
		}

	case code.Call:
		if err := vm.doCall(); err != nil {
			return false, err
		}
		advance = false
	case code.Tailcall:
		if err := vm.doTailcall(); err != nil {
			return false, err
		}
		advance = false
	case code.CallLight:
		if err := vm.doCallLight(); err != nil {
			return false, err
		}
		advance = false
	case code.Syscall:
		if err := vm.doSyscall(); err != nil {
			return false, err
		}

	case code.Exit:
		done, err := vm.unwind(baselineDepth, false)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		advance = false
	case code.Fail:
		done, err := vm.unwind(baselineDepth, true)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		advance = false

	case code.NewShapeOp:
		vm.scratch = shape.NewShape()
	case code.DefField:
		if err := vm.doDefField(); err != nil {
			return false, err
		}
	case code.DefStructField:
		if err := vm.doDefStructField(); err != nil {
			return false, err
		}
	case code.DefShape:
		if err := vm.doDefShape(); err != nil {
			return false, err
		}

	case code.NewStruct:
		if op.N < 0 {
			return false, vm.fault("NEW_STRUCT with negative count", nil)
		}
		for i := 0; i < op.N; i++ {
			vm.push(value.Val(0))
		}
	case code.SetFields:
		if err := vm.doSetFields(); err != nil {
			return false, err
		}
	case code.GetFields:
		if err := vm.doGetFields(); err != nil {
			return false, err
		}

	case code.BinOp:
		v2, err := vm.popVal()
		if err != nil {
			return false, err
		}
		v1, err := vm.popVal()
		if err != nil {
			return false, err
		}
		fn, ok := binOpFuncs[op.Op]
		if !ok {
			return false, vm.fault(fmt.Sprintf("unknown binary op %s", op.Op), nil)
		}
		vm.push(fn(v1, v2))
	case code.UnOp:
		v, err := vm.popVal()
		if err != nil {
			return false, err
		}
		fn, ok := unOpFuncs[op.Op]
		if !ok {
			return false, vm.fault(fmt.Sprintf("unknown unary op %s", op.Op), nil)
		}
		vm.push(fn(v))

	case code.IntToChar:
		v, err := vm.popVal()
		if err != nil {
			return false, err
		}
		vm.push(value.IntToChar(v))
	case code.UintToChar:
		v, err := vm.popVal()
		if err != nil {
			return false, err
		}
		vm.push(value.UintToChar(v))

	default:
		return false, vm.fault(fmt.Sprintf("unimplemented opcode %T", instr), nil)
	}

	if advance {
		vm.ip++
	}
	return false, nil
}

// --- operand stack helpers ---

func (vm *VM) push(v value.Val) { vm.stack = append(vm.stack, v) }

func (vm *VM) popVal() (value.Val, error) {
	if len(vm.stack) == 0 {
		return 0, vm.fault("operand stack underflow", nil)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) pop1() error {
	_, err := vm.popVal()
	return err
}

func (vm *VM) requireDepth(n int) error {
	if len(vm.stack) < n {
		return vm.fault("operand stack underflow", fmt.Errorf("need %d, have %d", n, len(vm.stack)))
	}
	return nil
}

// removeRange deletes stack[from:to] in place, shifting the remaining
// top elements down. from/to are absolute stack indices.
func (vm *VM) removeRange(from, to int) error {
	if from < 0 || to < from || to > len(vm.stack) {
		return vm.fault("stack range out of bounds", fmt.Errorf("[%d:%d) vs len %d", from, to, len(vm.stack)))
	}
	vm.stack = append(vm.stack[:from], vm.stack[to:]...)
	return nil
}

func (vm *VM) curFrame() (*Frame, error) {
	if len(vm.frames) == 0 {
		return nil, vm.fault("no active frame", nil)
	}
	return &vm.frames[len(vm.frames)-1], nil
}

// --- calls ---

// popLabelTriple pops (name, fromShape, toShape) per the spec's
// tuple-popping convention: the last-listed component is popped first.
func (vm *VM) popLabelTriple() (code.Label, error) {
	toShape, err := vm.popVal()
	if err != nil {
		return code.Label{}, err
	}
	fromShape, err := vm.popVal()
	if err != nil {
		return code.Label{}, err
	}
	name, err := vm.popVal()
	if err != nil {
		return code.Label{}, err
	}
	return code.Label{
		Name: symtab.Sym(name.Uint()),
		From: symtab.Sym(fromShape.Uint()),
		To:   symtab.Sym(toShape.Uint()),
	}, nil
}

func (vm *VM) doCall() error {
	label, err := vm.popLabelTriple()
	if err != nil {
		return err
	}
	if _, ok := vm.Catalog.Lookup(label); !ok {
		return vm.fault(fmt.Sprintf("undefined label %s", label), nil)
	}
	structSize, err := vm.Shapes.Size(label.From)
	if err != nil {
		return vm.fault("CALL: unknown fromShape", err)
	}
	if err := vm.requireDepth(structSize); err != nil {
		return err
	}
	stackBase := len(vm.stack) - structSize
	vm.frames = append(vm.frames, Frame{
		PrevLabel:  vm.label,
		PrevIP:     vm.ip + 1,
		StackBase:  stackBase,
		StructSize: structSize,
	})
	vm.trackPeak()
	vm.label = label
	vm.ip = 0
	vm.failBit = false
	return nil
}

func (vm *VM) doTailcall() error {
	label, err := vm.popLabelTriple()
	if err != nil {
		return err
	}
	if _, ok := vm.Catalog.Lookup(label); !ok {
		return vm.fault(fmt.Sprintf("undefined label %s", label), nil)
	}
	f, err := vm.curFrame()
	if err != nil {
		return err
	}
	newSize, err := vm.Shapes.Size(label.From)
	if err != nil {
		return vm.fault("TAILCALL: unknown fromShape", err)
	}
	if err := vm.requireDepth(newSize); err != nil {
		return err
	}
	newInput := make([]value.Val, newSize)
	copy(newInput, vm.stack[len(vm.stack)-newSize:])

	base := f.StackBase
	vm.stack = vm.stack[:base]
	vm.stack = append(vm.stack, newInput...)

	f.StructSize = newSize
	vm.label = label
	vm.ip = 0
	vm.failBit = false
	return nil
}

func (vm *VM) doCallLight() error {
	name, err := vm.popVal()
	if err != nil {
		return err
	}
	if len(vm.frames) == 0 {
		return vm.fault("CALL_LIGHT with no active frame", nil)
	}
	label := code.Label{Name: symtab.Sym(name.Uint()), From: vm.label.From, To: vm.label.To}
	if _, ok := vm.Catalog.Lookup(label); !ok {
		return vm.fault(fmt.Sprintf("undefined label %s", label), nil)
	}
	// Deliberately does not touch stackBase/structSize: CALL_LIGHT
	// reuses the current frame's input-struct slice verbatim, even if
	// it is stale relative to the operand stack's current shape (see
	// SPEC_FULL.md's open-question resolution).
	vm.label = label
	vm.ip = 0
	vm.failBit = false
	return nil
}

func (vm *VM) doSyscall() error {
	label, err := vm.popLabelTriple()
	if err != nil {
		return err
	}
	fn, ok := vm.Catalog.LookupSyscall(label)
	if !ok {
		return vm.fault(fmt.Sprintf("undefined syscall %s", label), nil)
	}
	fromSize, err := vm.Shapes.Size(label.From)
	if err != nil {
		return vm.fault("SYSCALL: unknown fromShape", err)
	}
	toSize, err := vm.Shapes.Size(label.To)
	if err != nil {
		return vm.fault("SYSCALL: unknown toShape", err)
	}
	if err := vm.requireDepth(fromSize); err != nil {
		return err
	}
	input := make(value.Struct, fromSize)
	copy(input, vm.stack[len(vm.stack)-fromSize:])
	vm.stack = vm.stack[:len(vm.stack)-fromSize]

	vm.failBit = false
	result, ok := fn(input)
	if !ok {
		vm.failBit = true
		return nil
	}
	if len(result) != toSize {
		return vm.fault(fmt.Sprintf("syscall %s returned %d slots, want %d", label, len(result), toSize), nil)
	}
	vm.stack = append(vm.stack, result...)
	return nil
}

// unwind implements EXIT (setFail=false) and FAIL (setFail=true): pop
// the current frame, restore control to its PrevLabel/PrevIP, and set
// the fail bit accordingly. It returns done=true once the frame popped
// is the one Run pushed to start execution.
func (vm *VM) unwind(baselineDepth int, setFail bool) (bool, error) {
	if len(vm.frames) <= baselineDepth {
		return false, vm.fault("EXIT/FAIL with no frame to pop", nil)
	}
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.failBit = setFail

	if len(vm.frames) == baselineDepth {
		return true, nil
	}
	vm.label = f.PrevLabel
	vm.ip = f.PrevIP
	return false, nil
}

// --- shape-defining opcodes ---

func (vm *VM) doDefField() error {
	if vm.scratch == nil {
		return vm.fault("DEF_FIELD without NEW_SHAPE", nil)
	}
	kindVal, err := vm.popVal()
	if err != nil {
		return err
	}
	fieldVal, err := vm.popVal()
	if err != nil {
		return err
	}
	kind := shape.Kind(kindVal.Int())
	field := symtab.Sym(fieldVal.Uint())
	if err := vm.scratch.AddField(field, kind); err != nil {
		return vm.fault("DEF_FIELD", err)
	}
	return nil
}

func (vm *VM) doDefStructField() error {
	if vm.scratch == nil {
		return vm.fault("DEF_STRUCT_FIELD without NEW_SHAPE", nil)
	}
	nestedVal, err := vm.popVal()
	if err != nil {
		return err
	}
	fieldVal, err := vm.popVal()
	if err != nil {
		return err
	}
	nested := symtab.Sym(nestedVal.Uint())
	field := symtab.Sym(fieldVal.Uint())
	size, err := vm.Shapes.Size(nested)
	if err != nil {
		return vm.fault("DEF_STRUCT_FIELD: unknown nested shape", err)
	}
	if err := vm.scratch.AddStructField(field, nested, size); err != nil {
		return vm.fault("DEF_STRUCT_FIELD", err)
	}
	return nil
}

func (vm *VM) doDefShape() error {
	if vm.scratch == nil {
		return vm.fault("DEF_SHAPE without NEW_SHAPE", nil)
	}
	nameVal, err := vm.popVal()
	if err != nil {
		return err
	}
	name := symtab.Sym(nameVal.Uint())
	if err := vm.Shapes.Add(name, vm.scratch); err != nil {
		return vm.fault("DEF_SHAPE", err)
	}
	vm.scratch = nil
	return nil
}

// --- struct ops ---

func (vm *VM) doSetFields() error {
	structSizeVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixEndVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixBegVal, err := vm.popVal()
	if err != nil {
		return err
	}
	structSize := int(structSizeVal.Int())
	ixEnd := int(ixEndVal.Int())
	ixBeg := int(ixBegVal.Int())
	width := ixEnd - ixBeg
	if ixBeg < 0 || width < 0 || ixEnd > structSize {
		return vm.fault("SET_FIELDS: range out of bounds", fmt.Errorf("[%d:%d) vs size %d", ixBeg, ixEnd, structSize))
	}
	if err := vm.requireDepth(width + structSize); err != nil {
		return err
	}
	newValues := make([]value.Val, width)
	copy(newValues, vm.stack[len(vm.stack)-width:])
	vm.stack = vm.stack[:len(vm.stack)-width]

	structBase := len(vm.stack) - structSize
	copy(vm.stack[structBase+ixBeg:structBase+ixEnd], newValues)
	return nil
}

func (vm *VM) doGetFrameheadFields() error {
	ixEndVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixBegVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixEnd := int(ixEndVal.Int())
	ixBeg := int(ixBegVal.Int())
	width := ixEnd - ixBeg
	f, err := vm.curFrame()
	if err != nil {
		return err
	}
	if ixBeg < 0 || width < 0 || ixEnd > f.StructSize {
		return vm.fault("GET_FRAMEHEAD_FIELDS: range out of bounds", fmt.Errorf("[%d:%d) vs size %d", ixBeg, ixEnd, f.StructSize))
	}
	slice := make([]value.Val, width)
	copy(slice, vm.stack[f.StackBase+ixBeg:f.StackBase+ixEnd])
	vm.stack = append(vm.stack, slice...)
	return nil
}

func (vm *VM) doGetFields() error {
	structSizeVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixEndVal, err := vm.popVal()
	if err != nil {
		return err
	}
	ixBegVal, err := vm.popVal()
	if err != nil {
		return err
	}
	structSize := int(structSizeVal.Int())
	ixEnd := int(ixEndVal.Int())
	ixBeg := int(ixBegVal.Int())
	width := ixEnd - ixBeg
	if ixBeg < 0 || width < 0 || ixEnd > structSize {
		return vm.fault("GET_FIELDS: range out of bounds", fmt.Errorf("[%d:%d) vs size %d", ixBeg, ixEnd, structSize))
	}
	if err := vm.requireDepth(structSize); err != nil {
		return err
	}
	structBase := len(vm.stack) - structSize
	extracted := make([]value.Val, width)
	copy(extracted, vm.stack[structBase+ixBeg:structBase+ixEnd])
	vm.stack = vm.stack[:structBase]
	vm.stack = append(vm.stack, extracted...)
	return nil
}
