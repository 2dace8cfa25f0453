// Package bvh parses hierarchical-text motion capture files (the BVH
// format) and samples them into per-joint transforms. This is the only
// package that touches raw motion bytes; everything downstream works on
// the parsed Clip.
package bvh

import (
	"github.com/pkg/errors"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
)

const (
	TOKEN_WORD = iota
	TOKEN_NUMBER
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_COLON
)

var lexer *lexmachine.Lexer

func init() {
	lexer = lexmachine.NewLexer()
	lexer.Add([]byte(`[a-zA-Z_][a-zA-Z0-9_.\-]*`), getToken(TOKEN_WORD))
	lexer.Add([]byte(`[\+\-]?[0-9]*\.?[0-9]+(e[\+\-]?[0-9]+|E[\+\-]?[0-9]+)?`), getToken(TOKEN_NUMBER))
	lexer.Add([]byte(`{`), getToken(TOKEN_LBRACE))
	lexer.Add([]byte(`}`), getToken(TOKEN_RBRACE))
	lexer.Add([]byte(`:`), getToken(TOKEN_COLON))
	lexer.Add([]byte(`(\s|\n|\r)+`), skip)
	lexer.Add([]byte(`//[^\n]*`), skip)
}

func getToken(tokenType int) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(tokenType, string(m.Bytes), m), nil
	}
}

func skip(scan *lexmachine.Scanner, match *machines.Match) (interface{}, error) {
	return nil, nil
}

// tokenStream wraps the scanner with one-token lookahead, which is all the
// BVH grammar needs.
type tokenStream struct {
	scanner *lexmachine.Scanner
	peeked  *lexmachine.Token
	eof     bool
}

func newTokenStream(text []byte) (*tokenStream, error) {
	scanner, err := lexer.Scanner(text)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create lexer scanner")
	}
	return &tokenStream{scanner: scanner}, nil
}

func (ts *tokenStream) next() (*lexmachine.Token, error) {
	if ts.peeked != nil {
		tok := ts.peeked
		ts.peeked = nil
		return tok, nil
	}
	if ts.eof {
		return nil, nil
	}
	itok, err, eos := ts.scanner.Next()
	if eos {
		ts.eof = true
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse token")
	}
	return itok.(*lexmachine.Token), nil
}

func (ts *tokenStream) peek() (*lexmachine.Token, error) {
	if ts.peeked == nil && !ts.eof {
		tok, err := ts.next()
		if err != nil {
			return nil, err
		}
		ts.peeked = tok
	}
	return ts.peeked, nil
}
