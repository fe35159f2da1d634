package query

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/archive"
	"github.com/logcask/logcask/pkg/wildcard"
	"github.com/logcask/logcask/varenc"
)

// MaxSubQueries caps the planner's enumeration of token-interpretation
// combinations. Enumeration stops and logs once the cap is hit; the residual
// wildcard match keeps results correct for the combinations that were kept.
const MaxSubQueries = 128

// Query is a planned wildcard search: the normalized search string, a time
// range gate, and the subqueries that survived dictionary pruning.
type Query struct {
	SearchString   string
	IgnoreCase     bool
	BeginTimestamp int64
	EndTimestamp   int64

	subQueries []*SubQuery
}

// EpochTimeMin and EpochTimeMax are the open time-range bounds.
const (
	EpochTimeMin = math.MinInt64
	EpochTimeMax = math.MaxInt64
)

// ContainsSubQueries reports whether dictionary pruning left any subqueries.
// A query without subqueries matches by time range and residual wildcard
// match alone.
func (q *Query) ContainsSubQueries() bool { return len(q.subQueries) > 0 }

// SubQueries returns the surviving subqueries.
func (q *Query) SubQueries() []*SubQuery { return q.subQueries }

// SearchStringMatchesAll reports whether the normalized search string is the
// match-everything pattern.
func (q *Query) SearchStringMatchesAll() bool { return q.SearchString == "*" }

// TimestampIsInSearchRange reports whether ts passes the time-range gate.
func (q *Query) TimestampIsInSearchRange(ts int64) bool {
	return q.BeginTimestamp <= ts && ts <= q.EndTimestamp
}

// RelevantSubQueries returns the subqueries whose candidate segment sets
// include the given segment.
func (q *Query) RelevantSubQueries(segment logcask.SegmentID) []*SubQuery {
	var out []*SubQuery
	for _, s := range q.subQueries {
		if s.RelevantToSegment(segment) {
			out = append(out, s)
		}
	}
	return out
}

// subQueryMatchability classifies a candidate subquery.
type subQueryMatchability int

const (
	// mayMatch: the subquery might match a message.
	mayMatch subQueryMatchability = iota
	// wontMatch: the subquery has no chance of matching a message.
	wontMatch
	// supersedesAllSubQueries: the subquery will cause all messages to be
	// matched.
	supersedesAllSubQueries
)

// ProcessRawQuery plans a search over one archive. It normalizes the
// expression, enumerates one subquery per combination of ambiguous token
// interpretations, prunes each against the logtype and variable
// dictionaries, and computes candidate segment sets. It returns false when
// no message can possibly match.
func ProcessRawQuery(arch *archive.Reader, searchString string, beginTs, endTs int64, ignoreCase bool, log *zap.Logger) (*Query, bool, error) {
	if log == nil {
		log = zap.NewNop()
	}

	q := &Query{
		IgnoreCase:     ignoreCase,
		BeginTimestamp: beginTs,
		EndTimestamp:   endTs,
	}

	// Surround with '*' to make the search a substring match, then clean.
	processed := wildcard.Clean("*" + searchString + "*")
	q.SearchString = processed

	// Replace non-greedy wildcards with greedy wildcards since the encoded
	// form cannot be searched with single-character wildcards, then clean up
	// any "**" that produced.
	heuristic := wildcard.Clean(strings.ReplaceAll(processed, "?", "*"))

	enc := arch.Encoding()
	var tokens []*queryToken
	begin, end := 0, 0
	for {
		var isVar, found bool
		begin, end, isVar, found = boundsOfNextPotentialVar(heuristic, begin, end)
		if !found {
			break
		}
		tokens = append(tokens, newQueryToken(heuristic, begin, end, isVar, enc))
	}

	// Tokens with wildcards in the middle fall back to decompression plus
	// wildcard matching, so they contribute no interpretations.
	var ambiguous []*queryToken
	for _, t := range tokens {
		if !t.hasGreedyWildcardInMiddle && t.isAmbiguous() {
			ambiguous = append(ambiguous, t)
		}
	}

	// Generate a subquery for each combination of ambiguous token
	// interpretations.
	combinations := 0
	typeOfOneTokenChanged := true
	for typeOfOneTokenChanged {
		if combinations >= MaxSubQueries {
			log.Warn("subquery enumeration capped",
				zap.Int("cap", MaxSubQueries),
				zap.String("query", searchString))
			break
		}
		combinations++

		sub := newSubQuery()
		matchability := generateLogtypesAndVarsForSubQuery(arch, heuristic, tokens, ignoreCase, sub)
		switch matchability {
		case supersedesAllSubQueries:
			// Clear all subqueries since they will be superseded by this
			// one.
			q.subQueries = nil
			return q, true, nil
		case mayMatch:
			q.subQueries = append(q.subQueries, sub)
		case wontMatch:
		}

		typeOfOneTokenChanged = false
		for _, t := range ambiguous {
			if t.changeToNextPossibleType() {
				typeOfOneTokenChanged = true
				break
			}
		}
	}

	return q, q.ContainsSubQueries(), nil
}

// generateLogtypesAndVarsForSubQuery builds the logtype pattern and variable
// constraints for the current combination of token interpretations, then
// prunes against the logtype dictionary.
func generateLogtypesAndVarsForSubQuery(arch *archive.Reader, processed string, tokens []*queryToken, ignoreCase bool, sub *SubQuery) subQueryMatchability {
	lastTokenEndPos := 0
	var logtype []byte
	for _, t := range tokens {
		// Append from the end of the last token to the beginning of this
		// one.
		logtype = varenc.AppendConstantToLogtype(logtype, processed[lastTokenEndPos:t.beginPos], true)
		lastTokenEndPos = t.endPos

		switch {
		case t.isWildcard():
			logtype = append(logtype, '*')
		case t.hasGreedyWildcardInMiddle:
			// Fall back to decompression plus wildcard matching rather than
			// interpreting the pieces on either side of the wildcard as
			// ambiguous tokens of their own.
			sub.MarkWildcardMatchRequired()
			if t.isVar() {
				logtype = append(logtype, '*', logcask.PlaceholderDictionary, '*')
			} else {
				logtype = append(logtype, '*')
			}
		case !t.isVar():
			logtype = varenc.AppendConstantToLogtype(logtype, t.value, true)
		default:
			var ok bool
			logtype, ok = processVarToken(t, arch, ignoreCase, sub, logtype)
			if !ok {
				return wontMatch
			}
		}
	}
	if lastTokenEndPos < len(processed) {
		logtype = varenc.AppendConstantToLogtype(logtype, processed[lastTokenEndPos:], true)
	}

	if string(logtype) == "*" {
		return supersedesAllSubQueries
	}

	entries := arch.LogtypeDict().EntriesMatchingWildcard(string(logtype), ignoreCase)
	if len(entries) == 0 {
		return wontMatch
	}
	sub.setPossibleLogtypes(entries)
	sub.calculateIDsOfMatchingSegments()
	return mayMatch
}

// processVarToken handles a token that is definitely a variable under its
// current interpretation.
func processVarToken(t *queryToken, arch *archive.Reader, ignoreCase bool, sub *SubQuery, logtype []byte) ([]byte, bool) {
	// Even with a precise variable, fall back to decompression to ensure it
	// is in the right place in the message.
	sub.MarkWildcardMatchRequired()

	enc := arch.Encoding()
	if !t.containsWildcards {
		if v, ok := enc.EncodeInt(t.value); ok {
			logtype = append(logtype, logcask.PlaceholderInteger)
			sub.addPreciseVar(logcask.PlaceholderInteger, v)
			return logtype, true
		}
		if v, ok := enc.EncodeFloat(t.value); ok {
			logtype = append(logtype, logcask.PlaceholderFloat)
			sub.addPreciseVar(logcask.PlaceholderFloat, v)
			return logtype, true
		}
		entry := arch.VarDict().EntryMatchingValue(t.value, ignoreCase)
		if entry == nil {
			// Variable doesn't exist in the dictionary.
			return logtype, false
		}
		logtype = append(logtype, logcask.PlaceholderDictionary)
		sub.addPreciseDictVar(logcask.PlaceholderDictionary, entry)
		return logtype, true
	}

	if t.hasPrefixGreedyWildcard {
		logtype = append(logtype, '*')
	}
	switch {
	case t.isFloatVar():
		logtype = append(logtype, logcask.PlaceholderFloat)
	case t.isIntVar():
		logtype = append(logtype, logcask.PlaceholderInteger)
	default:
		logtype = append(logtype, logcask.PlaceholderDictionary)
		if t.cannotConvertToNonDictVar {
			// Must be a dictionary variable, so search the dictionary.
			entries := arch.VarDict().EntriesMatchingWildcard(wildcard.Clean(t.value), ignoreCase)
			if len(entries) == 0 {
				return logtype, false
			}
			sub.addImpreciseDictVar(logcask.PlaceholderDictionary, entries)
		}
	}
	if t.hasSuffixGreedyWildcard {
		logtype = append(logtype, '*')
	}
	return logtype, true
}

// boundsOfNextPotentialVar finds the bounds of the next potential variable
// token in a wildcard search string, resuming from the previous bounds. A
// token is a definite variable if it contains a decimal digit, could be a
// multi-digit hex value, or directly follows an equals sign and contains an
// alphabetic character with no wildcard between the equals sign and the
// first alphabetic character.
func boundsOfNextPotentialVar(value string, beginPos, endPos int) (int, int, bool, bool) {
	n := len(value)
	if endPos >= n {
		return beginPos, endPos, false, false
	}

	isVar := false
	containsWildcard := false
	for !isVar && !containsWildcard && beginPos < n {
		// Start the search at the end of the last token.
		beginPos = endPos

		// Find the next wildcard or non-delimiter.
		escaped := false
		for ; beginPos < n; beginPos++ {
			c := value[beginPos]
			if escaped {
				escaped = false
				if !varenc.IsDelim(c) {
					// An escaped non-delimiter starts the token; back up to
					// retain the escape character.
					beginPos--
					break
				}
			} else if c == '\\' {
				escaped = true
			} else {
				if wildcard.IsWildcard(c) {
					containsWildcard = true
					break
				}
				if !varenc.IsDelim(c) {
					break
				}
			}
		}

		containsDecimalDigit := false
		containsAlphabet := false

		// Find the next delimiter.
		escaped = false
		endPos = beginPos
		for ; endPos < n; endPos++ {
			c := value[endPos]
			if escaped {
				escaped = false
				if varenc.IsDelim(c) {
					// An escaped delimiter ends the token; back up to retain
					// the escape character.
					endPos--
					break
				}
			} else if c == '\\' {
				escaped = true
			} else {
				if wildcard.IsWildcard(c) {
					containsWildcard = true
				} else if varenc.IsDelim(c) {
					break
				}
			}

			if varenc.IsDecimalDigit(c) {
				containsDecimalDigit = true
			} else if varenc.IsAlpha(c) {
				containsAlphabet = true
			}
		}

		if containsDecimalDigit || varenc.CouldBeMultiDigitHexValue(value[beginPos:endPos]) {
			isVar = true
		} else if beginPos > 0 && value[beginPos-1] == '=' && containsAlphabet {
			// Check for a wildcard between the equals sign and the first
			// alphabetic character.
			escaped = false
			foundWildcardBeforeAlphabet := false
			for i := beginPos; i < endPos; i++ {
				c := value[i]
				if escaped {
					escaped = false
					if varenc.IsAlpha(c) {
						break
					}
				} else if c == '\\' {
					escaped = true
				} else if wildcard.IsWildcard(c) {
					foundWildcardBeforeAlphabet = true
					break
				} else if varenc.IsAlpha(c) {
					break
				}
			}
			if !foundWildcardBeforeAlphabet {
				isVar = true
			}
		}
	}

	return beginPos, endPos, isVar, beginPos != n
}
