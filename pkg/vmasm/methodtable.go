package vmasm

import "github.com/shapevm/shapevm/pkg/code"

// methodEntry is what a (receiverShape, methodName) pair resolves to:
// the opcode to emit and the shape the result is pushed as. Instr
// overrides Op for methods that don't lower to a ValueOp BinOp/UnOp,
// such as the INT_TO_CHAR/UINT_TO_CHAR symbol casts.
type methodEntry struct {
	Op     code.ValueOp
	Instr  code.Instr
	Result string
}

type methodKey struct {
	Receiver string
	Method   string
}

// methodTable backs _asmcall: numeric arithmetic, comparisons, bitwise,
// conversions, and the trivial Int/UInt/Bool reinterpret casts.
var methodTable = map[methodKey]methodEntry{
	{"Int", "add"}: {code.OpAddInt, "Int"},
	{"Int", "sub"}: {code.OpSubInt, "Int"},
	{"Int", "mul"}: {code.OpMulInt, "Int"},
	{"Int", "div"}: {code.OpDivInt, "Int"},
	{"Int", "mod"}: {code.OpModInt, "Int"},
	{"Int", "neg"}: {code.OpNegInt, "Int"},

	{"UInt", "add"}: {code.OpAddUint, "UInt"},
	{"UInt", "sub"}: {code.OpSubUint, "UInt"},
	{"UInt", "mul"}: {code.OpMulUint, "UInt"},
	{"UInt", "div"}: {code.OpDivUint, "UInt"},
	{"UInt", "mod"}: {code.OpModUint, "UInt"},
	{"UInt", "and"}: {code.OpAndUint, "UInt"},
	{"UInt", "or"}:  {code.OpOrUint, "UInt"},
	{"UInt", "xor"}: {code.OpXorUint, "UInt"},
	{"UInt", "shl"}: {code.OpShlUint, "UInt"},
	{"UInt", "shr"}: {code.OpShrUint, "UInt"},
	{"UInt", "not"}: {code.OpNotUint, "UInt"},

	{"Real", "add"}: {code.OpAddReal, "Real"},
	{"Real", "sub"}: {code.OpSubReal, "Real"},
	{"Real", "mul"}: {code.OpMulReal, "Real"},
	{"Real", "div"}: {code.OpDivReal, "Real"},
	{"Real", "neg"}: {code.OpNegReal, "Real"},

	{"Int", "toReal"}:  {code.OpIntToReal, "Real"},
	{"UInt", "toReal"}: {code.OpUintToReal, "Real"},
	{"Real", "toInt"}:  {code.OpRealToInt, "Int"},
	{"Real", "toUint"}: {code.OpRealToUint, "UInt"},

	{"Int", "eq"}: {code.OpEqInt, "Bool"}, {"Int", "ne"}: {code.OpNeInt, "Bool"},
	{"Int", "lt"}: {code.OpLtInt, "Bool"}, {"Int", "le"}: {code.OpLeInt, "Bool"},
	{"Int", "gt"}: {code.OpGtInt, "Bool"}, {"Int", "ge"}: {code.OpGeInt, "Bool"},

	{"UInt", "eq"}: {code.OpEqUint, "Bool"}, {"UInt", "ne"}: {code.OpNeUint, "Bool"},
	{"UInt", "lt"}: {code.OpLtUint, "Bool"}, {"UInt", "le"}: {code.OpLeUint, "Bool"},
	{"UInt", "gt"}: {code.OpGtUint, "Bool"}, {"UInt", "ge"}: {code.OpGeUint, "Bool"},

	{"Real", "eq"}: {code.OpEqReal, "Bool"}, {"Real", "ne"}: {code.OpNeReal, "Bool"},
	{"Real", "lt"}: {code.OpLtReal, "Bool"}, {"Real", "le"}: {code.OpLeReal, "Bool"},
	{"Real", "gt"}: {code.OpGtReal, "Bool"}, {"Real", "ge"}: {code.OpGeReal, "Bool"},

	{"Int", "asUInt"}:  {code.OpNoop, "UInt"},
	{"Int", "asBool"}:  {code.OpNoop, "Bool"},
	{"UInt", "asInt"}:  {code.OpNoop, "Int"},
	{"UInt", "asBool"}: {code.OpNoop, "Bool"},
	{"Bool", "asInt"}:  {code.OpNoop, "Int"},
	{"Bool", "asUInt"}: {code.OpNoop, "UInt"},

	{"Int", "toSym"}:  {Instr: code.IntToChar{}, Result: "Sym"},
	{"UInt", "toSym"}: {Instr: code.UintToChar{}, Result: "Sym"},
}
