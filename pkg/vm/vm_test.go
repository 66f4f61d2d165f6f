package vm

import (
	"testing"

	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/shape"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
)

// pushLabelTriple appends PUSHes of a Label's three components as the Vals CALL/TAILCALL
// expect on the stack (name, fromShape, toShape — popped in reverse).
func pushLabelTriple(body []code.Instr, l code.Label) []code.Instr {
	return append(body,
		code.Push{Value: value.FromUint(uint64(l.Name))},
		code.Push{Value: value.FromUint(uint64(l.From))},
		code.Push{Value: value.FromUint(uint64(l.To))},
	)
}

func TestRunArithmetic(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	vm := New(reg, cat, symtab.Shared())

	body := []code.Instr{
		code.Push{Value: value.FromInt(3)},
		code.Push{Value: value.FromInt(4)},
		code.BinOp{Op: code.OpAddInt},
		code.Exit{},
	}
	if err := cat.Define(code.Toplevel, body); err != nil {
		t.Fatal(err)
	}

	result, failed, err := vm.Run(code.Toplevel, nil)
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Fatal("expected failed = false")
	}
	if len(result) != 1 || result[0].Int() != 7 {
		t.Fatalf("result = %v, want [7]", result)
	}
}

func TestRunFieldAccessSumXY(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	vm := New(reg, cat, symtab.Shared())

	xSym := symtab.Intern("x")
	ySym := symtab.Intern("y")
	pointSym := symtab.Intern("Point")
	intSym := symtab.Intern("Int")

	point := shape.NewShape()
	if err := point.AddField(xSym, shape.INT); err != nil {
		t.Fatal(err)
	}
	if err := point.AddField(ySym, shape.INT); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(pointSym, point); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddPrimitive(intSym, shape.INT); err != nil {
		t.Fatal(err)
	}

	sumxy := code.Label{Name: symtab.Intern("sumxy"), From: pointSym, To: intSym}
	body := []code.Instr{
		code.Push{Value: value.FromInt(0)},
		code.Push{Value: value.FromInt(1)},
		code.GetFrameheadFields{},
		code.Push{Value: value.FromInt(1)},
		code.Push{Value: value.FromInt(2)},
		code.GetFrameheadFields{},
		code.BinOp{Op: code.OpAddInt},
		code.PopFramehead{},
		code.Exit{},
	}
	if err := cat.Define(sumxy, body); err != nil {
		t.Fatal(err)
	}

	result, failed, err := vm.Run(sumxy, value.Struct{value.FromInt(10), value.FromInt(32)})
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Fatal("expected failed = false")
	}
	if len(result) != 1 || result[0].Int() != 42 {
		t.Fatalf("result = %v, want [42]", result)
	}
}

// TestRunFailurePropagationHalver exercises the fail bit: halver fails on
// zero (no defined division-by-zero result) and otherwise returns n/2.
func TestRunFailurePropagationHalver(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	vm := New(reg, cat, symtab.Shared())

	intSym := symtab.Intern("Int")
	if err := reg.AddPrimitive(intSym, shape.INT); err != nil {
		t.Fatal(err)
	}

	halver := code.Label{Name: symtab.Intern("halver"), From: intSym, To: intSym}
	body := []code.Instr{
		code.Push{Value: value.FromInt(0)},   // 0  ixBeg
		code.Push{Value: value.FromInt(1)},   // 1  ixEnd
		code.GetFrameheadFields{},            // 2
		code.Push{Value: value.FromInt(0)},   // 3
		code.BinOp{Op: code.OpEqInt},         // 4
		code.If{Offset: 8},                   // 5 -> jumps to 13 when n == 0
		code.Push{Value: value.FromInt(0)},   // 6  ixBeg
		code.Push{Value: value.FromInt(1)},   // 7  ixEnd
		code.GetFrameheadFields{},            // 8
		code.Push{Value: value.FromInt(2)},   // 9
		code.BinOp{Op: code.OpDivInt},        // 10
		code.PopFramehead{},                  // 11
		code.Exit{},                          // 12
		code.PopFramehead{},                  // 13
		code.Fail{},                          // 14
	}
	if err := cat.Define(halver, body); err != nil {
		t.Fatal(err)
	}

	if _, failed, err := vm.Run(halver, value.Struct{value.FromInt(0)}); err != nil {
		t.Fatal(err)
	} else if !failed {
		t.Fatalf("halver(0) should fail")
	}

	result, failed, err := vm.Run(halver, value.Struct{value.FromInt(8)})
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Fatal("halver(8) should not fail")
	}
	if len(result) != 1 || result[0].Int() != 4 {
		t.Fatalf("halver(8) = %v, want [4]", result)
	}
}

// TestTailcallBoundsFrameDepth checks that TAILCALL keeps the frame
// stack at a constant depth across a self-recursive countdown, while
// the equivalent CALL-based loop grows one frame per recursive step.
func TestTailcallBoundsFrameDepth(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	intSym := symtab.Intern("Int")
	if err := reg.AddPrimitive(intSym, shape.INT); err != nil {
		t.Fatal(err)
	}

	loopTail := code.Label{Name: symtab.Intern("loopTail"), From: intSym, To: intSym}
	var tailBody []code.Instr
	tailBody = append(tailBody,
		code.Push{Value: value.FromInt(0)}, // 0  ixBeg
		code.Push{Value: value.FromInt(1)}, // 1  ixEnd
		code.GetFrameheadFields{},          // 2
		code.Push{Value: value.FromInt(0)}, // 3
		code.BinOp{Op: code.OpEqInt},       // 4
		code.IfNot{Offset: 4},              // 5 -> jump to 9 when n != 0
		code.Push{Value: value.FromInt(0)}, // 6
		code.PopFramehead{},                // 7
		code.Exit{},                        // 8
		code.Push{Value: value.FromInt(0)}, // 9  ixBeg
		code.Push{Value: value.FromInt(1)}, // 10 ixEnd
		code.GetFrameheadFields{},          // 11
		code.Push{Value: value.FromInt(1)}, // 12
		code.BinOp{Op: code.OpSubInt},      // 13
	)
	tailBody = pushLabelTriple(tailBody, loopTail) // 14,15,16
	tailBody = append(tailBody, code.Tailcall{})   // 17
	if err := cat.Define(loopTail, tailBody); err != nil {
		t.Fatal(err)
	}

	tailVM := New(reg, cat, symtab.Shared())
	result, failed, err := tailVM.Run(loopTail, value.Struct{value.FromInt(5)})
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Fatal("loopTail should not fail")
	}
	if len(result) != 1 || result[0].Int() != 0 {
		t.Fatalf("loopTail(5) = %v, want [0]", result)
	}
	if depth := tailVM.PeakFrameDepth(); depth != 1 {
		t.Errorf("loopTail PeakFrameDepth() = %d, want 1", depth)
	}

	loopCall := code.Label{Name: symtab.Intern("loopCall"), From: intSym, To: intSym}
	var callBody []code.Instr
	callBody = append(callBody,
		code.Push{Value: value.FromInt(0)}, // 0  ixBeg
		code.Push{Value: value.FromInt(1)}, // 1  ixEnd
		code.GetFrameheadFields{},          // 2
		code.Push{Value: value.FromInt(0)}, // 3
		code.BinOp{Op: code.OpEqInt},       // 4
		code.IfNot{Offset: 4},              // 5 -> jump to 9 when n != 0
		code.Push{Value: value.FromInt(0)}, // 6
		code.PopFramehead{},                // 7
		code.Exit{},                        // 8
		code.Push{Value: value.FromInt(0)}, // 9  ixBeg
		code.Push{Value: value.FromInt(1)}, // 10 ixEnd
		code.GetFrameheadFields{},          // 11
		code.Push{Value: value.FromInt(1)}, // 12
		code.BinOp{Op: code.OpSubInt},      // 13
	)
	callBody = pushLabelTriple(callBody, loopCall) // 14,15,16
	callBody = append(callBody,
		code.Call{},         // 17
		code.PopFramehead{}, // 18
		code.Exit{},         // 19
	)
	if err := cat.Define(loopCall, callBody); err != nil {
		t.Fatal(err)
	}

	callVM := New(reg, cat, symtab.Shared())
	result, failed, err = callVM.Run(loopCall, value.Struct{value.FromInt(2)})
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Fatal("loopCall should not fail")
	}
	if len(result) != 1 || result[0].Int() != 0 {
		t.Fatalf("loopCall(2) = %v, want [0]", result)
	}
	if depth := callVM.PeakFrameDepth(); depth != 3 {
		t.Errorf("loopCall PeakFrameDepth() = %d, want 3 (one frame per recursive step plus toplevel)", depth)
	}
}
