package vmasm

import "fmt"

// AsmError is a host-level assembler fault: an unknown opcode or
// directive, a duplicate function/shape definition, an unknown field, a
// failed type check, a mis-nested _pop_funlabel, or a premature end of
// the token stream. It always names the offending symbol when one is
// involved.
type AsmError struct {
	Line, Column int
	Msg          string
	Err          error
}

func (e *AsmError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vmasm: %s at %d:%d: %v", e.Msg, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("vmasm: %s at %d:%d", e.Msg, e.Line, e.Column)
}

func (e *AsmError) Unwrap() error { return e.Err }
