package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/query"
	"github.com/logcask/logcask/varenc"
)

func patterns(subqueries []query.Subquery) map[string]query.Subquery {
	out := make(map[string]query.Subquery, len(subqueries))
	for _, s := range subqueries {
		out[s.LogtypeQuery] = s
	}
	return out
}

func TestGenerateSubqueries_Empty(t *testing.T) {
	_, err := query.GenerateSubqueries("", varenc.EightByte)
	require.Error(t, err)
	assert.Equal(t, errors.EBadParam, errors.ErrorCode(err))
}

func TestGenerateSubqueries_MatchAll(t *testing.T) {
	subqueries, err := query.GenerateSubqueries("*", varenc.EightByte)
	require.NoError(t, err)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "*", subqueries[0].LogtypeQuery)
	assert.True(t, subqueries[0].LogtypeQueryContainsWildcards)
	assert.Empty(t, subqueries[0].Vars)
}

func TestGenerateSubqueries_NoWildcards(t *testing.T) {
	message := "took 12.5 ms on shard 7 for bin/python2.7.3"
	m := varenc.EightByte.EncodeMessage(message)

	subqueries, err := query.GenerateSubqueries(message, varenc.EightByte)
	require.NoError(t, err)
	require.Len(t, subqueries, 1)

	sub := subqueries[0]
	// With no wildcards the single subquery's pattern is exactly the
	// encoded logtype and every variable is exact.
	assert.Equal(t, m.Logtype, sub.LogtypeQuery)
	assert.False(t, sub.LogtypeQueryContainsWildcards)

	var encoded []int64
	var dictVars []string
	for _, v := range sub.Vars {
		require.True(t, v.IsExact())
		if v.Exact.Placeholder == 0x12 {
			dictVars = append(dictVars, v.Exact.Value)
		} else {
			encoded = append(encoded, v.Exact.Encoded)
		}
	}
	assert.Equal(t, m.Vars, encoded)
	assert.Equal(t, m.DictVars, dictVars)
}

func TestGenerateSubqueries_AmbiguousTokens(t *testing.T) {
	subqueries, err := query.GenerateSubqueries("*abc*123?456?", varenc.EightByte)
	require.NoError(t, err)
	byPattern := patterns(subqueries)

	// All wildcards as delimiters with "*abc*" as static text.
	intIntPattern := "*abc*\x11?\x11?"
	sub, ok := byPattern[intIntPattern]
	require.True(t, ok, "missing pattern %q", intIntPattern)
	require.Len(t, sub.Vars, 2)
	assert.False(t, sub.Vars[0].IsExact())
	assert.Equal(t, byte(0x11), sub.Vars[0].Placeholder())
	assert.True(t, sub.Vars[1].IsExact())
	assert.Equal(t, int64(456), sub.Vars[1].Exact.Encoded)

	// "*abc*" as a dictionary variable, "123" as a float candidate and the
	// trailing "456?" merged into a dictionary variable.
	dictFloatDict := "*\x12*\x13?\x12"
	sub, ok = byPattern[dictFloatDict]
	require.True(t, ok, "missing pattern %q", dictFloatDict)
	require.Len(t, sub.Vars, 3)
	assert.Equal(t, "*abc*", sub.Vars[0].Wildcard.Value)
	assert.Equal(t, query.TokenFloatVariable, sub.Vars[1].Wildcard.Type)
	assert.Equal(t, "456?", sub.Vars[2].Wildcard.Value)

	// The match-everything pattern must never be generated for this query.
	_, ok = byPattern["*"]
	assert.False(t, ok)

	for _, s := range subqueries {
		assert.True(t, s.LogtypeQueryContainsWildcards, "pattern %q", s.LogtypeQuery)
	}
}

func TestGenerateSubqueries_MiddleWildcardToken(t *testing.T) {
	// A token with a greedy wildcard in the middle merges into a single
	// dictionary-variable candidate in some interpretation.
	subqueries, err := query.GenerateSubqueries("abc*123", varenc.EightByte)
	require.NoError(t, err)
	byPattern := patterns(subqueries)

	_, ok := byPattern["\x12"]
	assert.True(t, ok, "merged dictionary interpretation missing")
	_, ok = byPattern["abc*\x11"]
	assert.True(t, ok, "split interpretation missing")
}
