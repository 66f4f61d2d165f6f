package vmasm

import (
	"errors"
	"strings"
	"testing"

	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/shape"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
	"github.com/shapevm/shapevm/pkg/vm"
)

func TestAssembleArithmeticToplevel(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	asm := New(reg, cat)

	if err := asm.Assemble("PUSH Int 3 PUSH Int 4 ADD_INT EXIT"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	machine := vm.New(reg, cat, symtab.Shared())
	result, failed, err := machine.Run(code.Toplevel, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if failed {
		t.Fatalf("Run failed unexpectedly")
	}
	if len(result) != 1 || result[0].Int() != 7 {
		t.Errorf("result = %v, want [7]", result)
	}
}

func TestAssembleFieldAccessSumXY(t *testing.T) {
	reg := shape.NewRegistry()
	xSym, ySym := symtab.Intern("x"), symtab.Intern("y")
	pointSym, intSym := symtab.Intern("Point"), symtab.Intern("Int")
	if err := reg.AddPrimitive(intSym, shape.INT); err != nil {
		t.Fatalf("AddPrimitive Int: %v", err)
	}
	point := shape.NewShape()
	if err := point.AddField(xSym, shape.INT); err != nil {
		t.Fatalf("AddField x: %v", err)
	}
	if err := point.AddField(ySym, shape.INT); err != nil {
		t.Fatalf("AddField y: %v", err)
	}
	if err := reg.Add(pointSym, point); err != nil {
		t.Fatalf("Add Point: %v", err)
	}

	cat := code.NewCatalog()
	asm := New(reg, cat)
	src := `
_push_funlabel sumxy Point Int
GET_FRAMEHEAD_FIELDS 0 1
GET_FRAMEHEAD_FIELDS 1 2
ADD_INT
POP_FRAMEHEAD
EXIT
_push_type Int
_pop_funlabel
`
	if err := asm.Assemble(src); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	sumxy := code.Label{Name: symtab.Intern("sumxy"), From: pointSym, To: intSym}
	machine := vm.New(reg, cat, symtab.Shared())
	result, failed, err := machine.Run(sumxy, value.Struct{value.FromInt(10), value.FromInt(32)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if failed {
		t.Fatalf("Run failed unexpectedly")
	}
	if len(result) != 1 || result[0].Int() != 42 {
		t.Errorf("result = %v, want [42]", result)
	}
}

// TestAssembleGetFieldsDirective drives _get_fields end-to-end: the
// directive pushes the field's index bounds, and the bare
// GET_FRAMEHEAD_FIELDS mnemonic that follows consumes them off the
// stack rather than taking literal operands.
func TestAssembleGetFieldsDirective(t *testing.T) {
	reg := shape.NewRegistry()
	xSym, ySym := symtab.Intern("x"), symtab.Intern("y")
	pointSym, intSym := symtab.Intern("Point"), symtab.Intern("Int")
	if err := reg.AddPrimitive(intSym, shape.INT); err != nil {
		t.Fatalf("AddPrimitive Int: %v", err)
	}
	point := shape.NewShape()
	if err := point.AddField(xSym, shape.INT); err != nil {
		t.Fatalf("AddField x: %v", err)
	}
	if err := point.AddField(ySym, shape.INT); err != nil {
		t.Fatalf("AddField y: %v", err)
	}
	if err := reg.Add(pointSym, point); err != nil {
		t.Fatalf("Add Point: %v", err)
	}

	cat := code.NewCatalog()
	asm := New(reg, cat)
	src := `
_push_funlabel getx Point Int
_get_fields x
GET_FRAMEHEAD_FIELDS
POP_FRAMEHEAD
EXIT
_pop_funlabel
`
	if err := asm.Assemble(src); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	getx := code.Label{Name: symtab.Intern("getx"), From: pointSym, To: intSym}
	machine := vm.New(reg, cat, symtab.Shared())
	result, failed, err := machine.Run(getx, value.Struct{value.FromInt(10), value.FromInt(32)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if failed {
		t.Fatalf("Run failed unexpectedly")
	}
	if len(result) != 1 || result[0].Int() != 10 {
		t.Errorf("result = %v, want [10]", result)
	}
}

func TestAssembleFieldTypeCheckRejectsRealForInt(t *testing.T) {
	reg := shape.NewRegistry()
	xSym := symtab.Intern("x")
	point := shape.NewShape()
	if err := point.AddField(xSym, shape.INT); err != nil {
		t.Fatalf("AddField x: %v", err)
	}
	if err := reg.Add(symtab.Intern("Point"), point); err != nil {
		t.Fatalf("Add Point: %v", err)
	}

	cat := code.NewCatalog()
	asm := New(reg, cat)
	err := asm.Assemble("_push_type Point _push_type Real _fieldtype_check x")
	if err == nil {
		t.Fatalf("Assemble: expected a type-check error, got nil")
	}
	if !strings.Contains(err.Error(), "x") {
		t.Errorf("error %q does not name the offending field", err.Error())
	}
	var asmErr *AsmError
	if !errors.As(err, &asmErr) {
		t.Errorf("error is not an *AsmError: %v", err)
	}
}

func TestAssembleTupleShapeResolvesRegisteredSym(t *testing.T) {
	reg := shape.NewRegistry()
	tuple := shape.NewShape()
	if err := tuple.AddField(symtab.Intern("_0"), shape.INT); err != nil {
		t.Fatalf("AddField _0: %v", err)
	}
	if err := tuple.AddField(symtab.Intern("_1"), shape.INT); err != nil {
		t.Fatalf("AddField _1: %v", err)
	}
	tupleName := shape.TupleName([]string{"Int", "Int"})
	tupleSym := symtab.Intern(tupleName)
	if err := reg.Add(tupleSym, tuple); err != nil {
		t.Fatalf("Add tuple: %v", err)
	}

	cat := code.NewCatalog()
	asm := New(reg, cat)
	if err := asm.Assemble("_mark_tuple _push_type Int _push_type Int _make_tupletype"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(asm.shapeStack) != 1 {
		t.Fatalf("shapeStack = %v, want exactly one entry", asm.shapeStack)
	}
	if asm.shapeStack[0] != tupleSym {
		t.Errorf("shapeStack top = %q, want %q", symtab.Name(asm.shapeStack[0]), tupleName)
	}
}

func TestAssembleUnknownDirectiveFails(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	asm := New(reg, cat)
	if err := asm.Assemble("_bogus_directive"); err == nil {
		t.Fatalf("Assemble: expected error for unknown directive")
	}
}

func TestAssembleUnterminatedFunctionFails(t *testing.T) {
	reg := shape.NewRegistry()
	cat := code.NewCatalog()
	asm := New(reg, cat)
	err := asm.Assemble("_push_funlabel f Int Int EXIT")
	if err == nil {
		t.Fatalf("Assemble: expected error for missing _pop_funlabel")
	}
}
