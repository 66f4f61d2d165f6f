// Package vmasm implements VmAsm: the directive-driven assembler that
// turns a flat token stream into a code.Catalog, including the
// compile-time-execution submachine that lets assembled programs define
// shapes at assemble time.
package vmasm

import (
	"fmt"
	"strconv"

	"github.com/shapevm/shapevm/pkg/asmtok"
	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/shape"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
	"github.com/shapevm/shapevm/pkg/vm"
)

var primitiveShapes = []struct {
	Name string
	Kind shape.Kind
}{
	{"Int", shape.INT},
	{"UInt", shape.UINT},
	{"Real", shape.REAL},
	{"Bool", shape.BOOL},
	{"Sym", shape.SYMBOL},
}

// Assembler holds the shape-stack/label-stack bookkeeping and emits into
// a shared code.Catalog and shape.Registry as it consumes tokens.
type Assembler struct {
	shapes  *shape.Registry
	catalog *code.Catalog

	l         *asmtok.Lexer
	curToken  asmtok.Token
	peekToken asmtok.Token

	shapeStack []symtab.Sym
	labelStack []code.Label

	current code.Label
	bodies  map[code.Label][]code.Instr

	cmodeOn  bool
	cmodeBuf []code.Instr
	cmodeCat *code.Catalog
	cmodeVM  *vm.VM
}

// New returns an Assembler emitting into catalog and registering shapes
// into reg, bootstrapping the Int/UInt/Real/Bool/Sym primitive shapes if
// they are not already present.
func New(reg *shape.Registry, catalog *code.Catalog) *Assembler {
	for _, p := range primitiveShapes {
		_ = reg.AddPrimitive(symtab.Intern(p.Name), p.Kind)
	}
	cmodeCat := code.NewCatalog()
	return &Assembler{
		shapes:   reg,
		catalog:  catalog,
		current:  code.Toplevel,
		bodies:   map[code.Label][]code.Instr{code.Toplevel: nil},
		cmodeCat: cmodeCat,
		cmodeVM:  vm.New(reg, cmodeCat, symtab.Shared()),
	}
}

// Assemble tokenizes and assembles source, installing every completed
// function label (and the toplevel label) into the Assembler's Catalog.
func (a *Assembler) Assemble(source string) error {
	a.l = asmtok.New(source)
	a.nextToken()
	a.nextToken()

	for a.curToken.Type != asmtok.TokenEOF {
		if err := a.statement(); err != nil {
			return err
		}
	}

	if len(a.labelStack) != 0 {
		return a.errf("unterminated function definition (missing _pop_funlabel)", nil)
	}
	if _, dup := a.catalog.Lookup(code.Toplevel); dup {
		return a.errf("toplevel label already defined in destination catalog", nil)
	}
	return a.catalog.Define(code.Toplevel, a.bodies[code.Toplevel])
}

func (a *Assembler) nextToken() {
	a.curToken = a.peekToken
	a.peekToken = a.l.NextToken()
}

func (a *Assembler) errf(msg string, err error) error {
	return &AsmError{Line: a.curToken.Line, Column: a.curToken.Column, Msg: msg, Err: err}
}

func (a *Assembler) expectIdent() (string, error) {
	if a.curToken.Type != asmtok.TokenIdent {
		return "", a.errf(fmt.Sprintf("expected identifier, got %s %q", a.curToken.Type, a.curToken.Literal), nil)
	}
	lit := a.curToken.Literal
	a.nextToken()
	return lit, nil
}

func (a *Assembler) expectInt() (int64, error) {
	neg := false
	if a.curToken.Type == asmtok.TokenMinus {
		neg = true
		a.nextToken()
	}
	if a.curToken.Type != asmtok.TokenInt {
		return 0, a.errf(fmt.Sprintf("expected integer literal, got %s %q", a.curToken.Type, a.curToken.Literal), nil)
	}
	n, err := strconv.ParseInt(a.curToken.Literal, 10, 64)
	if err != nil {
		return 0, a.errf("malformed integer literal", err)
	}
	a.nextToken()
	if neg {
		n = -n
	}
	return n, nil
}

func (a *Assembler) expectReal() (float64, error) {
	neg := false
	if a.curToken.Type == asmtok.TokenMinus {
		neg = true
		a.nextToken()
	}
	if a.curToken.Type != asmtok.TokenReal && a.curToken.Type != asmtok.TokenInt {
		return 0, a.errf(fmt.Sprintf("expected real literal, got %s %q", a.curToken.Type, a.curToken.Literal), nil)
	}
	f, err := strconv.ParseFloat(a.curToken.Literal, 64)
	if err != nil {
		return 0, a.errf("malformed real literal", err)
	}
	a.nextToken()
	if neg {
		f = -f
	}
	return f, nil
}

// resolveShapeName maps a source identifier to its Sym, special-casing
// "Void" to the empty-Sym sentinel rather than interning a new symbol.
func resolveShapeName(name string) symtab.Sym {
	if name == "Void" {
		return symtab.Empty
	}
	return symtab.Intern(name)
}

func kindToPrimitiveName(k shape.Kind) (string, bool) {
	switch k {
	case shape.BOOL:
		return "Bool", true
	case shape.SYMBOL:
		return "Sym", true
	case shape.INT:
		return "Int", true
	case shape.UINT:
		return "UInt", true
	case shape.REAL:
		return "Real", true
	default:
		return "", false
	}
}

func (a *Assembler) emit(instr code.Instr) {
	a.bodies[a.current] = append(a.bodies[a.current], instr)
	if a.cmodeOn {
		a.cmodeBuf = append(a.cmodeBuf, instr)
	}
}

func (a *Assembler) pushShape(s symtab.Sym) { a.shapeStack = append(a.shapeStack, s) }

func (a *Assembler) popShape() (symtab.Sym, error) {
	if len(a.shapeStack) == 0 {
		return symtab.Empty, a.errf("shape stack underflow", nil)
	}
	s := a.shapeStack[len(a.shapeStack)-1]
	a.shapeStack = a.shapeStack[:len(a.shapeStack)-1]
	return s, nil
}

func (a *Assembler) topShape() (symtab.Sym, error) {
	if len(a.shapeStack) == 0 {
		return symtab.Empty, a.errf("shape stack underflow", nil)
	}
	return a.shapeStack[len(a.shapeStack)-1], nil
}

// statement consumes exactly one directive or one opcode mnemonic
// (plus its operands).
func (a *Assembler) statement() error {
	if a.curToken.Type != asmtok.TokenIdent {
		return a.errf(fmt.Sprintf("expected directive or opcode, got %s %q", a.curToken.Type, a.curToken.Literal), nil)
	}
	word := a.curToken.Literal
	if len(word) > 0 && word[0] == '_' {
		a.nextToken()
		return a.directive(word)
	}
	a.nextToken()
	return a.opcode(word)
}

func (a *Assembler) directive(name string) error {
	switch name {
	case "_push_type":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		sym := resolveShapeName(ident)
		if !a.shapes.Has(sym) {
			return a.errf(fmt.Sprintf("_push_type: unknown shape %q", ident), nil)
		}
		a.pushShape(sym)
		return nil

	case "_pop_type":
		_, err := a.popShape()
		return err

	case "_drop_types":
		a.shapeStack = a.shapeStack[:0]
		return nil

	case "_top_type":
		top, err := a.topShape()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromUint(uint64(top))})
		return nil

	case "_push_funlabel":
		nameLit, err := a.expectIdent()
		if err != nil {
			return err
		}
		fromLit, err := a.expectIdent()
		if err != nil {
			return err
		}
		toLit, err := a.expectIdent()
		if err != nil {
			return err
		}
		label := code.Label{Name: symtab.Intern(nameLit), From: resolveShapeName(fromLit), To: resolveShapeName(toLit)}
		if _, dup := a.bodies[label]; dup {
			return a.errf(fmt.Sprintf("function %s already defined", label), nil)
		}
		if _, dup := a.catalog.Lookup(label); dup {
			return a.errf(fmt.Sprintf("function %s already defined", label), nil)
		}
		a.labelStack = append(a.labelStack, a.current)
		a.current = label
		a.bodies[label] = nil
		return nil

	case "_pop_funlabel":
		if len(a.labelStack) == 0 {
			return a.errf("_pop_funlabel with no matching _push_funlabel", nil)
		}
		if a.current.To == symtab.Empty {
			if len(a.shapeStack) != 0 {
				return a.errf("_pop_funlabel: expected empty shape stack for Void return", nil)
			}
		} else {
			top, err := a.popShape()
			if err != nil {
				return err
			}
			if top != a.current.To {
				return a.errf(fmt.Sprintf("_pop_funlabel: shape stack top %q does not match return shape %q",
					symtab.Name(top), symtab.Name(a.current.To)), nil)
			}
		}
		finished := a.current
		body := a.bodies[finished]
		delete(a.bodies, finished)
		a.current = a.labelStack[len(a.labelStack)-1]
		a.labelStack = a.labelStack[:len(a.labelStack)-1]
		return a.catalog.Define(finished, body)

	case "_type_size":
		top, err := a.topShape()
		if err != nil {
			return err
		}
		size, err := a.shapes.Size(top)
		if err != nil {
			return a.errf("_type_size", err)
		}
		a.emit(code.Push{Value: value.FromInt(int64(size))})
		return nil

	case "_mark_tuple":
		a.pushShape(symtab.Empty)
		return nil

	case "_make_tupletype":
		return a.makeTupleType()

	case "_fieldname_deref":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		if len(a.shapeStack) < 2 {
			return a.errf("_fieldname_deref: shape stack needs at least 2 entries", nil)
		}
		structShape := a.shapeStack[len(a.shapeStack)-2]
		fieldSym := symtab.Intern(ident)
		ixFrom, ixTo, err := a.shapes.IndexOf(structShape, fieldSym)
		if err != nil {
			return a.errf(fmt.Sprintf("_fieldname_deref: unknown field %q", ident), err)
		}
		a.emit(code.Push{Value: value.FromInt(int64(ixFrom))})
		a.emit(code.Push{Value: value.FromInt(int64(ixTo))})
		return nil

	case "_fieldtype_check":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		return a.fieldTypeCheck(ident)

	case "_get_fields":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		return a.getFields(ident)

	case "_asmcall":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		return a.asmcall(ident)

	case "_cmode_on":
		a.cmodeOn = true
		a.cmodeBuf = nil
		return nil

	case "_cmode_off":
		return a.cmodeOff()

	default:
		return a.errf(fmt.Sprintf("unknown directive %q", name), nil)
	}
}

func (a *Assembler) makeTupleType() error {
	var names []string
	for {
		top, err := a.popShape()
		if err != nil {
			return a.errf("_make_tupletype: missing _mark_tuple sentinel", err)
		}
		if top == symtab.Empty {
			break
		}
		names = append(names, symtab.Name(top))
	}
	// names were popped innermost-last-pushed-first; reverse to original
	// push order.
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	tupleName := shape.TupleName(names)
	tupleSym := symtab.Intern(tupleName)
	if !a.shapes.Has(tupleSym) {
		return a.errf(fmt.Sprintf("_make_tupletype: tuple shape %q is not pre-registered", tupleName), nil)
	}
	a.pushShape(tupleSym)
	return nil
}

func (a *Assembler) fieldTypeCheck(fieldIdent string) error {
	if len(a.shapeStack) < 2 {
		return a.errf("_fieldtype_check: shape stack needs at least 2 entries", nil)
	}
	valueShape := a.shapeStack[len(a.shapeStack)-1]
	structShape := a.shapeStack[len(a.shapeStack)-2]
	fieldSym := symtab.Intern(fieldIdent)
	ti, err := a.shapes.TypeOf(structShape, fieldSym)
	if err != nil {
		return a.errf(fmt.Sprintf("_fieldtype_check: unknown field %q", fieldIdent), err)
	}
	if ti.Kind == shape.STRUCT {
		if valueShape != ti.NestedShape {
			return a.errf(fmt.Sprintf("_fieldtype_check: field %q requires shape %q, got %q",
				fieldIdent, symtab.Name(ti.NestedShape), symtab.Name(valueShape)), nil)
		}
		return nil
	}
	valueName := symtab.Name(valueShape)
	ok := false
	switch ti.Kind {
	case shape.BOOL:
		ok = valueName == "Bool"
	case shape.INT, shape.UINT:
		ok = valueName == "Int" || valueName == "UInt"
	case shape.REAL:
		ok = valueName == "Real"
	case shape.SYMBOL:
		ok = valueName == "Sym"
	}
	if !ok {
		return a.errf(fmt.Sprintf("_fieldtype_check: field %q (%s) is not assignable from %q",
			fieldIdent, ti.Kind, valueName), nil)
	}
	return nil
}

func (a *Assembler) getFields(fieldIdent string) error {
	fieldSym := symtab.Intern(fieldIdent)
	ixFrom, ixTo, err := a.shapes.IndexOf(a.current.From, fieldSym)
	if err != nil {
		return a.errf(fmt.Sprintf("_get_fields: unknown field %q of %q", fieldIdent, symtab.Name(a.current.From)), err)
	}
	ti, err := a.shapes.TypeOf(a.current.From, fieldSym)
	if err != nil {
		return a.errf("_get_fields", err)
	}
	a.emit(code.Push{Value: value.FromInt(int64(ixFrom))})
	a.emit(code.Push{Value: value.FromInt(int64(ixTo))})
	var resultSym symtab.Sym
	if ti.Kind == shape.STRUCT {
		resultSym = ti.NestedShape
	} else {
		name, ok := kindToPrimitiveName(ti.Kind)
		if !ok {
			return a.errf(fmt.Sprintf("_get_fields: field %q has no primitive shape", fieldIdent), nil)
		}
		resultSym = symtab.Intern(name)
	}
	a.pushShape(resultSym)
	return nil
}

func (a *Assembler) asmcall(method string) error {
	receiver, err := a.popShape()
	if err != nil {
		return err
	}
	entry, ok := methodTable[methodKey{Receiver: symtab.Name(receiver), Method: method}]
	if !ok {
		return a.errf(fmt.Sprintf("_asmcall: no method %q on %q", method, symtab.Name(receiver)), nil)
	}
	switch {
	case entry.Instr != nil:
		a.emit(entry.Instr)
	case entry.Op.IsUnary():
		a.emit(code.UnOp{Op: entry.Op})
	default:
		a.emit(code.BinOp{Op: entry.Op})
	}
	a.pushShape(symtab.Intern(entry.Result))
	return nil
}

// opcode consumes the operands (if any) of a non-directive mnemonic and
// emits the corresponding instruction.
func (a *Assembler) opcode(mnemonic string) error {
	switch mnemonic {
	case "PUSH":
		return a.pushLiteral()
	case "POP":
		a.emit(code.Pop{})
		return nil
	case "SWAP":
		a.emit(code.Swap{})
		return nil
	case "PUSH_DUP":
		a.emit(code.PushDup{})
		return nil

	case "IF":
		off, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.If{Offset: int(off)})
		return nil
	case "IF_NOT":
		off, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.IfNot{Offset: int(off)})
		return nil
	case "IF_FAIL":
		off, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.IfFail{Offset: int(off)})
		return nil
	case "IF_NOT_FAIL":
		off, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.IfNotFail{Offset: int(off)})
		return nil

	case "POP_FRAMEHEAD":
		a.emit(code.PopFramehead{})
		return nil
	case "POP_FRAMETAIL":
		a.emit(code.PopFrametail{})
		return nil
	case "DROP_FRAME":
		a.emit(code.DropFrame{})
		return nil
	case "GET_FRAMEHEAD_FIELDS":
		// Surface syntax allows literal bounds (desugared to two PUSHes
		// ahead of the bare opcode) or a bare mnemonic consuming bounds
		// already pushed by _get_fields.
		if a.curToken.Type == asmtok.TokenInt || a.curToken.Type == asmtok.TokenMinus {
			beg, err := a.expectInt()
			if err != nil {
				return err
			}
			end, err := a.expectInt()
			if err != nil {
				return err
			}
			a.emit(code.Push{Value: value.FromInt(beg)})
			a.emit(code.Push{Value: value.FromInt(end)})
		}
		a.emit(code.GetFrameheadFields{})
		return nil

	case "CALL":
		a.emit(code.Call{})
		return nil
	case "TAILCALL":
		a.emit(code.Tailcall{})
		return nil
	case "CALL_LIGHT":
		a.emit(code.CallLight{})
		return nil
	case "SYSCALL":
		a.emit(code.Syscall{})
		return nil

	case "EXIT":
		a.emit(code.Exit{})
		return nil
	case "FAIL":
		a.emit(code.Fail{})
		return nil

	case "NEW_SHAPE":
		a.emit(code.NewShapeOp{})
		return nil
	case "DEF_FIELD":
		a.emit(code.DefField{})
		return nil
	case "DEF_STRUCT_FIELD":
		a.emit(code.DefStructField{})
		return nil
	case "DEF_SHAPE":
		a.emit(code.DefShape{})
		return nil

	case "NEW_STRUCT":
		n, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.NewStruct{N: int(n)})
		return nil
	case "SET_FIELDS":
		a.emit(code.SetFields{})
		return nil
	case "GET_FIELDS":
		a.emit(code.GetFields{})
		return nil

	case "INT_TO_CHAR":
		a.emit(code.IntToChar{})
		return nil
	case "UINT_TO_CHAR":
		a.emit(code.UintToChar{})
		return nil

	default:
		op, ok := code.ParseValueOp(mnemonic)
		if !ok {
			return a.errf(fmt.Sprintf("unknown opcode %q", mnemonic), nil)
		}
		if op.IsUnary() {
			a.emit(code.UnOp{Op: op})
		} else {
			a.emit(code.BinOp{Op: op})
		}
		return nil
	}
}

// pushLiteral consumes PUSH's <typeTag> <literal> operand pair.
func (a *Assembler) pushLiteral() error {
	tag, err := a.expectIdent()
	if err != nil {
		return err
	}
	switch tag {
	case "Sym":
		ident, err := a.expectIdent()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromUint(uint64(resolveShapeName(ident)))})
		return nil
	case "Int":
		n, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromInt(n)})
		return nil
	case "UInt":
		n, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromUint(uint64(n))})
		return nil
	case "Bool":
		n, err := a.expectInt()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromBool(n != 0)})
		return nil
	case "Real":
		f, err := a.expectReal()
		if err != nil {
			return err
		}
		a.emit(code.Push{Value: value.FromReal(f)})
		return nil
	default:
		return a.errf(fmt.Sprintf("PUSH: unknown type tag %q", tag), nil)
	}
}

func (a *Assembler) cmodeOff() error {
	if !a.cmodeOn {
		return a.errf("_cmode_off without matching _cmode_on", nil)
	}
	a.cmodeOn = false
	buf := append(a.cmodeBuf, code.Fail{})
	buf[len(buf)-1] = code.Exit{}
	a.cmodeCat.Redefine(code.Toplevel, buf)
	a.cmodeBuf = nil

	_, failed, err := a.cmodeVM.Run(code.Toplevel, nil)
	if err != nil {
		return a.errf("compile-time execution faulted", err)
	}
	if failed {
		return a.errf("compile-time execution set the fail bit", nil)
	}
	return nil
}
