package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(source string) []Token {
	s := NewScanner(source)
	var tokens []Token
	for {
		tok := s.ScanToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

func kinds(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func TestPunctuationAndOperators(t *testing.T) {
	tokens := scanAll("( ) { } [ ] , . ; - + / * % : ! != = == < <= > >=")
	assert.Equal(t, []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenLeftBracket, TokenRightBracket, TokenComma, TokenDot,
		TokenSemicolon, TokenMinus, TokenPlus, TokenSlash, TokenStar,
		TokenPercent, TokenColon, TokenBang, TokenBangEqual, TokenEqual,
		TokenEqualEqual, TokenLess, TokenLessEqual, TokenGreater,
		TokenGreaterEqual, TokenEOF,
	}, kinds(tokens))
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		source string
		want   TokenType
	}{
		{"and", TokenAnd},
		{"class", TokenClass},
		{"else", TokenElse},
		{"false", TokenFalse},
		{"for", TokenFor},
		{"fun", TokenFun},
		{"if", TokenIf},
		{"nil", TokenNil},
		{"or", TokenOr},
		{"print", TokenPrint},
		{"return", TokenReturn},
		{"super", TokenSuper},
		{"this", TokenThis},
		{"true", TokenTrue},
		{"var", TokenVar},
		{"while", TokenWhile},
		{"async", TokenAsync},
		{"finish", TokenFinish},
		{"future", TokenFuture},
		{"await", TokenAwait},
		{"lambda", TokenLambda},
		{"reduce", TokenReduce},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			tokens := scanAll(tt.source)
			require.Len(t, tokens, 2)
			assert.Equal(t, tt.want, tokens[0].Type)
		})
	}
}

func TestKeywordPrefixesAreIdentifiers(t *testing.T) {
	for _, source := range []string{"an", "classy", "fu", "funny", "futures", "finis", "asy", "superb", "thistle"} {
		tokens := scanAll(source)
		require.Len(t, tokens, 2, source)
		assert.Equal(t, TokenIdentifier, tokens[0].Type, source)
	}
}

func TestNumbers(t *testing.T) {
	tokens := scanAll("12 3.5 0.25 7.")
	assert.Equal(t, []TokenType{
		TokenNumber, TokenNumber, TokenNumber, TokenNumber, TokenDot, TokenEOF,
	}, kinds(tokens))
	assert.Equal(t, "12", tokens[0].Lexeme)
	assert.Equal(t, "3.5", tokens[1].Lexeme)
}

func TestStrings(t *testing.T) {
	tokens := scanAll("\"hello\" \"two\nlines\"")
	require.Equal(t, TokenString, tokens[0].Type)
	assert.Equal(t, "\"hello\"", tokens[0].Lexeme)
	require.Equal(t, TokenString, tokens[1].Type)
	assert.Equal(t, 2, tokens[1].Line, "newline inside a string advances the line counter")
}

func TestUnterminatedString(t *testing.T) {
	tokens := scanAll("\"oops")
	require.Equal(t, TokenError, tokens[0].Type)
	assert.Equal(t, "Unterminated string.", tokens[0].Lexeme)
}

func TestUnexpectedCharacter(t *testing.T) {
	tokens := scanAll("@")
	require.Equal(t, TokenError, tokens[0].Type)
	assert.Equal(t, "Unexpected character.", tokens[0].Lexeme)
}

func TestCommentsAndLines(t *testing.T) {
	tokens := scanAll("var a; // the rest is ignored\nvar b;")
	assert.Equal(t, []TokenType{
		TokenVar, TokenIdentifier, TokenSemicolon,
		TokenVar, TokenIdentifier, TokenSemicolon, TokenEOF,
	}, kinds(tokens))
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 2, tokens[3].Line)
}

// Scanning the same source twice yields identical tokens.
func TestScanningIsDeterministic(t *testing.T) {
	source := "fun f(a, b) { return a % b; } print f(7, 3);"
	assert.Equal(t, scanAll(source), scanAll(source))
}
