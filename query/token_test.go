package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/varenc"
)

func TestQueryToken_Wildcard(t *testing.T) {
	tok := newQueryToken("*", 0, 1, false, varenc.EightByte)
	assert.True(t, tok.isWildcard())
	assert.False(t, tok.isAmbiguous())
}

func TestQueryToken_StaticText(t *testing.T) {
	tok := newQueryToken("hello", 0, 5, false, varenc.EightByte)
	assert.False(t, tok.isAmbiguous())
	assert.False(t, tok.isVar())
	assert.Equal(t, tokenLogtype, tok.currentType())
}

func TestQueryToken_WildcardStaticIsAmbiguous(t *testing.T) {
	// A non-variable token with wildcards can be static text or any
	// variable kind.
	tok := newQueryToken("*abc*", 0, 5, false, varenc.EightByte)
	require.True(t, tok.isAmbiguous())
	assert.True(t, tok.hasPrefixGreedyWildcard)
	assert.True(t, tok.hasSuffixGreedyWildcard)
	assert.False(t, tok.hasGreedyWildcardInMiddle)

	var seen []tokenType
	seen = append(seen, tok.currentType())
	for tok.changeToNextPossibleType() {
		seen = append(seen, tok.currentType())
	}
	assert.Equal(t, []tokenType{tokenLogtype, tokenIntVar, tokenFloatVar, tokenDictionaryVar}, seen)

	// After wrapping, the token is back at its first interpretation.
	assert.Equal(t, tokenLogtype, tok.currentType())
}

func TestQueryToken_ConvertibleVar(t *testing.T) {
	tok := newQueryToken("*4938*", 0, 6, true, varenc.EightByte)
	require.True(t, tok.isAmbiguous())

	var seen []tokenType
	seen = append(seen, tok.currentType())
	for tok.changeToNextPossibleType() {
		seen = append(seen, tok.currentType())
	}
	assert.Equal(t, []tokenType{tokenIntVar, tokenFloatVar, tokenDictionaryVar}, seen)
}

func TestQueryToken_DictOnlyVar(t *testing.T) {
	tok := newQueryToken("*python2.7.3*", 0, 13, true, varenc.EightByte)
	assert.False(t, tok.isAmbiguous())
	assert.True(t, tok.cannotConvertToNonDictVar)
	assert.Equal(t, tokenDictionaryVar, tok.currentType())
	assert.True(t, tok.isVar())
}

func TestQueryToken_MiddleWildcard(t *testing.T) {
	tok := newQueryToken("abc*123", 0, 7, true, varenc.EightByte)
	assert.True(t, tok.hasGreedyWildcardInMiddle)
	assert.False(t, tok.hasPrefixGreedyWildcard)
	assert.False(t, tok.hasSuffixGreedyWildcard)
}

func TestBoundsOfNextPotentialVar(t *testing.T) {
	processed := "*opened bin/python2.7.3 with pid 4938 code=fast*"

	type tok struct {
		value string
		isVar bool
	}
	var tokens []tok
	begin, end := 0, 0
	for {
		var isVar, found bool
		begin, end, isVar, found = boundsOfNextPotentialVar(processed, begin, end)
		if !found {
			break
		}
		tokens = append(tokens, tok{value: processed[begin:end], isVar: isVar})
	}

	// "fast*" follows an equals sign with no wildcard before its first
	// alphabetic character, so it is a definite variable.
	assert.Equal(t, []tok{
		{"*opened", false},
		{"bin/python2.7.3", true},
		{"4938", true},
		{"fast*", true},
	}, tokens)
}
