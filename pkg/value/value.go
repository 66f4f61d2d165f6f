// Package value implements the Val cell (a 64-bit cell reinterpretable
// as signed int, unsigned int, or IEEE-754 double) and Struct (an
// ordered sequence of Vals), plus the numeric operation families the
// VM's arithmetic/comparison/conversion opcodes dispatch to.
package value

import "math"

// Val is an untagged 64-bit cell. Which of its three views (Int, Uint,
// Real) applies is determined entirely by the opcode that reads it, not
// by any tag carried on the cell itself.
type Val uint64

// Int returns v reinterpreted as a signed 64-bit integer.
func (v Val) Int() int64 { return int64(v) }

// Uint returns v reinterpreted as an unsigned 64-bit integer.
func (v Val) Uint() uint64 { return uint64(v) }

// Real returns v reinterpreted as an IEEE-754 double.
func (v Val) Real() float64 { return math.Float64frombits(uint64(v)) }

// Bool returns whether v, read as UInt, is non-zero.
func (v Val) Bool() bool { return uint64(v) != 0 }

// FromInt constructs a Val from a signed integer.
func FromInt(i int64) Val { return Val(uint64(i)) }

// FromUint constructs a Val from an unsigned integer.
func FromUint(u uint64) Val { return Val(u) }

// FromReal constructs a Val from an IEEE-754 double.
func FromReal(f float64) Val { return Val(math.Float64bits(f)) }

// FromBool constructs a Val holding 1 (true) or 0 (false) in its UInt view.
func FromBool(b bool) Val {
	if b {
		return Val(1)
	}
	return Val(0)
}

// Struct is the flat, in-memory realization of a Shape: an ordered
// sequence of Vals. Its size is determined entirely by the Shape known
// statically at the call site — a Struct carries no self-describing
// shape tag.
type Struct []Val

// Clone returns a copy of s, since Structs are copied by value across
// call/syscall boundaries.
func (s Struct) Clone() Struct {
	out := make(Struct, len(s))
	copy(out, s)
	return out
}

// --- Integer arithmetic (two's-complement wraparound on overflow) ---

func AddInt(a, b Val) Val { return FromInt(a.Int() + b.Int()) }
func SubInt(a, b Val) Val { return FromInt(a.Int() - b.Int()) }
func MulInt(a, b Val) Val { return FromInt(a.Int() * b.Int()) }
func DivInt(a, b Val) Val { return FromInt(a.Int() / b.Int()) }
func ModInt(a, b Val) Val { return FromInt(a.Int() % b.Int()) }
func NegInt(a Val) Val    { return FromInt(-a.Int()) }

// --- Unsigned integer arithmetic, bitwise, and boolean-not ---

func AddUint(a, b Val) Val { return FromUint(a.Uint() + b.Uint()) }
func SubUint(a, b Val) Val { return FromUint(a.Uint() - b.Uint()) }
func MulUint(a, b Val) Val { return FromUint(a.Uint() * b.Uint()) }
func DivUint(a, b Val) Val { return FromUint(a.Uint() / b.Uint()) }
func ModUint(a, b Val) Val { return FromUint(a.Uint() % b.Uint()) }

func AndUint(a, b Val) Val { return FromUint(a.Uint() & b.Uint()) }
func OrUint(a, b Val) Val  { return FromUint(a.Uint() | b.Uint()) }
func XorUint(a, b Val) Val { return FromUint(a.Uint() ^ b.Uint()) }
func ShlUint(a, b Val) Val { return FromUint(a.Uint() << (b.Uint() & 63)) }
func ShrUint(a, b Val) Val { return FromUint(a.Uint() >> (b.Uint() & 63)) }
func NotUint(a Val) Val    { return FromUint(^a.Uint()) }

// --- Real (IEEE-754 double) arithmetic ---

func AddReal(a, b Val) Val { return FromReal(a.Real() + b.Real()) }
func SubReal(a, b Val) Val { return FromReal(a.Real() - b.Real()) }
func MulReal(a, b Val) Val { return FromReal(a.Real() * b.Real()) }
func DivReal(a, b Val) Val { return FromReal(a.Real() / b.Real()) }
func NegReal(a Val) Val    { return FromReal(-a.Real()) }

// --- Conversions ---

func IntToReal(a Val) Val { return FromReal(float64(a.Int())) }
func UintToReal(a Val) Val { return FromReal(float64(a.Uint())) }
func RealToInt(a Val) Val { return FromInt(int64(a.Real())) }
func RealToUint(a Val) Val { return FromUint(uint64(a.Real())) }

// IntToChar truncates an Int Val to an unsigned byte, per SPEC_FULL.md's
// richer piccol_asm.h opcode set.
func IntToChar(a Val) Val { return FromUint(a.Uint() & 0xff) }

// UintToChar truncates a UInt Val to an unsigned byte.
func UintToChar(a Val) Val { return FromUint(a.Uint() & 0xff) }

// --- Comparisons: each family produces a 0/1 Val via FromBool ---

func EqInt(a, b Val) Val { return FromBool(a.Int() == b.Int()) }
func NeInt(a, b Val) Val { return FromBool(a.Int() != b.Int()) }
func LtInt(a, b Val) Val { return FromBool(a.Int() < b.Int()) }
func LeInt(a, b Val) Val { return FromBool(a.Int() <= b.Int()) }
func GtInt(a, b Val) Val { return FromBool(a.Int() > b.Int()) }
func GeInt(a, b Val) Val { return FromBool(a.Int() >= b.Int()) }

func EqUint(a, b Val) Val { return FromBool(a.Uint() == b.Uint()) }
func NeUint(a, b Val) Val { return FromBool(a.Uint() != b.Uint()) }
func LtUint(a, b Val) Val { return FromBool(a.Uint() < b.Uint()) }
func LeUint(a, b Val) Val { return FromBool(a.Uint() <= b.Uint()) }
func GtUint(a, b Val) Val { return FromBool(a.Uint() > b.Uint()) }
func GeUint(a, b Val) Val { return FromBool(a.Uint() >= b.Uint()) }

func EqReal(a, b Val) Val { return FromBool(a.Real() == b.Real()) }
func NeReal(a, b Val) Val { return FromBool(a.Real() != b.Real()) }
func LtReal(a, b Val) Val { return FromBool(a.Real() < b.Real()) }
func LeReal(a, b Val) Val { return FromBool(a.Real() <= b.Real()) }
func GtReal(a, b Val) Val { return FromBool(a.Real() > b.Real()) }
func GeReal(a, b Val) Val { return FromBool(a.Real() >= b.Real()) }
