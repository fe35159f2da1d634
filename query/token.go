package query

import (
	"github.com/logcask/logcask/varenc"
)

// tokenType is the interpretation of a query token for the purpose of
// generating subqueries. A token interpreted as a variable generates a
// different subquery than the same token as static logtype text.
type tokenType int

const (
	tokenWildcard tokenType = iota
	// tokenAmbiguous indicates the token can be more than one of the types
	// below.
	tokenAmbiguous
	tokenLogtype
	tokenDictionaryVar
	tokenFloatVar
	tokenIntVar
)

// queryToken is one token of a processed search string, tracking every
// interpretation it supports.
type queryToken struct {
	value    string
	beginPos int
	endPos   int

	cannotConvertToNonDictVar bool
	containsWildcards         bool
	hasGreedyWildcardInMiddle bool
	hasPrefixGreedyWildcard   bool
	hasSuffixGreedyWildcard   bool

	typ           tokenType
	possibleTypes []tokenType
	currentTypeIx int
}

// newQueryToken interprets the token at [beginPos, endPos) of the processed
// search string. isVar is the tokenizer's judgement that the token must be a
// variable.
func newQueryToken(processed string, beginPos, endPos int, isVar bool, enc varenc.Encoding) *queryToken {
	t := &queryToken{
		value:    processed[beginPos:endPos],
		beginPos: beginPos,
		endPos:   endPos,
	}

	if t.value == "*" {
		t.hasPrefixGreedyWildcard = true
		t.containsWildcards = true
		t.typ = tokenWildcard
		return t
	}

	t.hasPrefixGreedyWildcard = t.value[0] == '*'
	t.hasSuffixGreedyWildcard = len(t.value) > 1 && t.value[len(t.value)-1] == '*'
	for i := 1; i+1 < len(t.value); i++ {
		if t.value[i] == '*' {
			t.hasGreedyWildcardInMiddle = true
			break
		}
	}
	t.containsWildcards = t.hasPrefixGreedyWildcard || t.hasSuffixGreedyWildcard ||
		t.hasGreedyWildcardInMiddle

	if !isVar {
		if !t.containsWildcards {
			t.typ = tokenLogtype
		} else {
			t.typ = tokenAmbiguous
			t.possibleTypes = []tokenType{tokenLogtype, tokenIntVar, tokenFloatVar, tokenDictionaryVar}
		}
		return t
	}

	valueWithoutWildcards := t.value
	if t.hasPrefixGreedyWildcard {
		valueWithoutWildcards = valueWithoutWildcards[1:]
	}
	if t.hasSuffixGreedyWildcard {
		valueWithoutWildcards = valueWithoutWildcards[:len(valueWithoutWildcards)-1]
	}

	_, intOK := enc.EncodeInt(valueWithoutWildcards)
	_, floatOK := enc.EncodeFloat(valueWithoutWildcards)
	if !intOK && !floatOK {
		// Must be a dictionary variable.
		t.typ = tokenDictionaryVar
		t.cannotConvertToNonDictVar = true
		return t
	}

	t.typ = tokenAmbiguous
	t.possibleTypes = []tokenType{tokenIntVar, tokenFloatVar, tokenDictionaryVar}
	return t
}

func (t *queryToken) currentType() tokenType {
	if t.typ == tokenAmbiguous {
		return t.possibleTypes[t.currentTypeIx]
	}
	return t.typ
}

func (t *queryToken) isAmbiguous() bool { return t.typ == tokenAmbiguous }

func (t *queryToken) isWildcard() bool { return t.typ == tokenWildcard }

func (t *queryToken) isVar() bool {
	switch t.currentType() {
	case tokenIntVar, tokenFloatVar, tokenDictionaryVar:
		return true
	default:
		return false
	}
}

func (t *queryToken) isIntVar() bool   { return t.currentType() == tokenIntVar }
func (t *queryToken) isFloatVar() bool { return t.currentType() == tokenFloatVar }

// changeToNextPossibleType advances an ambiguous token to its next
// interpretation, wrapping around. It returns false on wrap, signalling that
// every combination with earlier tokens has been tried.
func (t *queryToken) changeToNextPossibleType() bool {
	if t.currentTypeIx < len(t.possibleTypes)-1 {
		t.currentTypeIx++
		return true
	}
	t.currentTypeIx = 0
	return false
}
