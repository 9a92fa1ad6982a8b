package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/types"
)

func TestLexerTokenizesTermsPhrasesAndOperators(t *testing.T) {
	lex := NewLexer(`foo "bar baz" AND OR -qux (x)`)

	var kinds []TokenType
	for {
		tok, err := lex.NextToken()
		require.NoError(t, err)
		if tok.Type == TokenEOF {
			break
		}
		kinds = append(kinds, tok.Type)
	}
	require.Equal(t, []TokenType{
		TokenTerm, TokenPhrase, TokenAnd, TokenOr, TokenMinus, TokenTerm, TokenLParen, TokenTerm, TokenRParen,
	}, kinds)
}

func TestParserImplicitAndBetweenAdjacentTerms(t *testing.T) {
	node, err := NewParser("foo bar").Parse()
	require.NoError(t, err)
	and, ok := node.(*AndNode)
	require.True(t, ok)
	require.Equal(t, "foo", and.Left.(*TermNode).Text)
	require.Equal(t, "bar", and.Right.(*TermNode).Text)
}

func TestParserNegation(t *testing.T) {
	node, err := NewParser("foo -bar").Parse()
	require.NoError(t, err)
	and, ok := node.(*AndNode)
	require.True(t, ok)
	not, ok := and.Right.(*NotNode)
	require.True(t, ok)
	require.Equal(t, "bar", not.Operand.(*TermNode).Text)
}

func TestParserStatusToken(t *testing.T) {
	node, err := NewParser("doing").Parse()
	require.NoError(t, err)
	status, ok := node.(*StatusNode)
	require.True(t, ok)
	require.Equal(t, types.StatusDoing, status.Status)
}

func TestParserOrHasLowerPrecedenceThanAnd(t *testing.T) {
	node, err := NewParser("a AND b OR c").Parse()
	require.NoError(t, err)
	or, ok := node.(*OrNode)
	require.True(t, ok)
	_, ok = or.Left.(*AndNode)
	require.True(t, ok)
	require.Equal(t, "c", or.Right.(*TermNode).Text)
}

func TestParserRejectsEmptyQuery(t *testing.T) {
	_, err := NewParser("").Parse()
	require.Error(t, err)
}

func TestCompileRendersPhraseAsQuoted(t *testing.T) {
	node, err := NewParser(`"hello world"`).Parse()
	require.NoError(t, err)
	compiled, err := Compile(node)
	require.NoError(t, err)
	require.Equal(t, `"hello world"`, compiled.Match)
	require.Empty(t, compiled.Statuses)
}

func TestCompileExtractsStatusFilterAndDropsLiteral(t *testing.T) {
	node, err := NewParser("widget todo").Parse()
	require.NoError(t, err)
	compiled, err := Compile(node)
	require.NoError(t, err)
	require.Equal(t, []types.Status{types.StatusTodo}, compiled.Statuses)
	require.NotContains(t, compiled.Match, "todo")
	require.Contains(t, compiled.Match, "widget")
}

func TestCompileNegationUsesFTS5BinaryNOT(t *testing.T) {
	node, err := NewParser("foo -bar").Parse()
	require.NoError(t, err)
	compiled, err := Compile(node)
	require.NoError(t, err)
	require.Equal(t, "foo NOT bar", compiled.Match)
}

func TestCompileQuotesPunctuationInBareTerms(t *testing.T) {
	node, err := NewParser(`C++ OR rust`).Parse()
	require.NoError(t, err)
	compiled, err := Compile(node)
	require.NoError(t, err)
	require.Contains(t, compiled.Match, `"C++"`)
}
