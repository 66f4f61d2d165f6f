package main

import (
	"bufio"
	"io"

	"github.com/shapevm/shapevm/pkg/code"
	"github.com/shapevm/shapevm/pkg/symtab"
	"github.com/shapevm/shapevm/pkg/value"
)

// registerCharIO wires the putchar/getchar syscall pair that assembled
// programs use to do byte-oriented I/O via UINT_TO_CHAR/INT_TO_CHAR
// values (SPEC_FULL.md's char_io family). putchar: UInt->Void, writing
// the low byte of its input to out. getchar: Void->UInt, reading one
// byte from in and failing at EOF.
func registerCharIO(cat *code.Catalog, out io.Writer, in io.Reader) {
	putchar := code.Label{Name: symtab.Intern("putchar"), From: symtab.Intern("UInt"), To: symtab.Empty}
	getchar := code.Label{Name: symtab.Intern("getchar"), From: symtab.Empty, To: symtab.Intern("UInt")}

	_ = cat.DefineSyscall(putchar, func(input value.Struct) (value.Struct, bool) {
		if len(input) != 1 {
			return nil, false
		}
		b := byte(input[0].Uint())
		if _, err := out.Write([]byte{b}); err != nil {
			return nil, false
		}
		return value.Struct{}, true
	})

	r := bufio.NewReader(in)
	_ = cat.DefineSyscall(getchar, func(input value.Struct) (value.Struct, bool) {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false
		}
		return value.Struct{value.FromUint(uint64(b))}, true
	})
}
