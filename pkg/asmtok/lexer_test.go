package asmtok

import "testing"

func TestNextTokenLabelHeader(t *testing.T) {
	input := `sumxy Point->Int:`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenIdent, "sumxy"},
		{TokenIdent, "Point"},
		{TokenArrow, "->"},
		{TokenIdent, "Int"},
		{TokenColon, ":"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, tt.expectedType, tok.Type)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestNextTokenInstruction(t *testing.T) {
	input := "GET_FRAMEHEAD_FIELDS 0 1\nIF -3"

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenIdent, "GET_FRAMEHEAD_FIELDS"},
		{TokenInt, "0"},
		{TokenInt, "1"},
		{TokenIdent, "IF"},
		{TokenInt, "-3"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, tt.expectedType, tok.Type)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestNextTokenDirectiveAndFieldDeref(t *testing.T) {
	input := `_asmcall Point.x`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenIdent, "_asmcall"},
		{TokenIdent, "Point"},
		{TokenDot, "."},
		{TokenIdent, "x"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, tt.expectedType, tok.Type)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestSkipsCommentsAndTupleBrackets(t *testing.T) {
	input := "; a comment\n_mark_tuple [ Int Int ]"

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenIdent, "_mark_tuple"},
		{TokenLBracket, "["},
		{TokenIdent, "Int"},
		{TokenIdent, "Int"},
		{TokenRBracket, "]"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, tt.expectedType, tok.Type)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestRealLiteral(t *testing.T) {
	l := New("3.25")
	tok := l.NextToken()
	if tok.Type != TokenReal || tok.Literal != "3.25" {
		t.Fatalf("got (%s, %q), want (REAL, \"3.25\")", tok.Type, tok.Literal)
	}
}

func TestStringLiteral(t *testing.T) {
	l := New(`"hello world"`)
	tok := l.NextToken()
	if tok.Type != TokenString || tok.Literal != "hello world" {
		t.Fatalf("got (%s, %q), want (STRING, \"hello world\")", tok.Type, tok.Literal)
	}
}
