package query

import (
	"strings"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/pkg/wildcard"
	"github.com/logcask/logcask/varenc"
)

// TokenType classifies one interpretation of a query token.
type TokenType int

const (
	TokenStaticText TokenType = iota
	TokenIntegerVariable
	TokenFloatVariable
	TokenDictionaryVariable
)

// ExactVariableToken is a variable token with no wildcards: it resolves to a
// single encoded value or dictionary string.
type ExactVariableToken struct {
	Value       string
	Encoded     int64
	Placeholder byte
}

// WildcardVariableToken is a variable token whose value contains wildcards,
// including any adjacent greedy wildcards that could extend it.
type WildcardVariableToken struct {
	Value string
	Type  TokenType
}

// GeneratedVar is one variable constraint of a generated subquery: exactly
// one of Exact or Wildcard is set.
type GeneratedVar struct {
	Exact    *ExactVariableToken
	Wildcard *WildcardVariableToken
}

// IsExact reports whether the variable resolves to a single value.
func (v GeneratedVar) IsExact() bool { return v.Exact != nil }

// Placeholder returns the placeholder byte of the variable's
// interpretation.
func (v GeneratedVar) Placeholder() byte {
	if v.Exact != nil {
		return v.Exact.Placeholder
	}
	switch v.Wildcard.Type {
	case TokenIntegerVariable:
		return logcask.PlaceholderInteger
	case TokenFloatVariable:
		return logcask.PlaceholderFloat
	default:
		return logcask.PlaceholderDictionary
	}
}

// Subquery is one branch of the archive-independent query plan: a concrete
// logtype pattern plus the ordered variable constraints its placeholders
// stand for.
type Subquery struct {
	LogtypeQuery                  string
	LogtypeQueryContainsWildcards bool
	Vars                          []GeneratedVar
}

// patternElem is one element of a pattern under assembly.
type patternElem struct {
	// kind: 0 static text, 1 wildcard char, 2 placeholder
	kind        int
	text        string
	placeholder byte
}

// rendering is one fully-chosen interpretation of a query piece.
type rendering struct {
	elems []patternElem
	vars  []GeneratedVar
}

// GenerateSubqueries enumerates the subqueries for a wildcard expression
// without consulting any archive. Each wildcard in a token can act as a
// delimiter or as part of an adjacent variable, and each resulting variable
// candidate is tried as an integer, float or dictionary variable; one
// subquery is produced per combination, deduplicated by logtype pattern.
func GenerateSubqueries(wildcardQuery string, enc varenc.Encoding) ([]Subquery, error) {
	const op = "query.GenerateSubqueries"

	if wildcardQuery == "" {
		return nil, errors.New(errors.EBadParam, op, "empty query")
	}
	clean := wildcard.Clean(wildcardQuery)
	if clean == "" {
		return nil, errors.New(errors.EBadParam, op, "query empty after clean-up")
	}

	pieces := splitPieces(clean)

	// Per-piece rendering lists; the result is their Cartesian product.
	perPiece := make([][]rendering, 0, len(pieces))
	for _, p := range pieces {
		if p.composite {
			rs := renderComposite(clean, p, enc)
			perPiece = append(perPiece, rs)
			continue
		}
		elems := staticElems(p.text)
		perPiece = append(perPiece, []rendering{{elems: elems}})
	}

	var (
		out  []Subquery
		seen = make(map[string]struct{})
	)
	var assemble func(pieceIx int, acc rendering)
	assemble = func(pieceIx int, acc rendering) {
		if len(out) >= MaxSubQueries {
			return
		}
		if pieceIx == len(perPiece) {
			sq := finishSubquery(acc)
			if _, dup := seen[sq.LogtypeQuery]; dup {
				return
			}
			seen[sq.LogtypeQuery] = struct{}{}
			out = append(out, sq)
			return
		}
		for _, r := range perPiece[pieceIx] {
			next := rendering{
				elems: append(append([]patternElem{}, acc.elems...), r.elems...),
				vars:  append(append([]GeneratedVar{}, acc.vars...), r.vars...),
			}
			assemble(pieceIx+1, next)
		}
	}
	assemble(0, rendering{})
	return out, nil
}

// finishSubquery renders the assembled elements into the final pattern,
// double-escaping static placeholders when the pattern contains wildcards
// (since the dictionary filter then consumes one level of escaping).
func finishSubquery(r rendering) Subquery {
	hasWildcard := false
	for _, e := range r.elems {
		if e.kind == 1 {
			hasWildcard = true
			break
		}
	}

	var pattern []byte
	for _, e := range r.elems {
		switch e.kind {
		case 0:
			pattern = varenc.AppendConstantToLogtype(pattern, e.text, hasWildcard)
		case 1:
			// Collapse consecutive greedy wildcards.
			if e.text == "*" && len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
				continue
			}
			pattern = append(pattern, e.text...)
		case 2:
			pattern = append(pattern, e.placeholder)
		}
	}
	return Subquery{
		LogtypeQuery:                  string(pattern),
		LogtypeQueryContainsWildcards: hasWildcard,
		Vars:                          r.vars,
	}
}

// piece is a span of the cleaned query: either a composite token (adjacent
// non-delimiters and wildcards) or plain delimiter text.
type piece struct {
	composite bool
	begin     int
	end       int
	text      string
}

func isCompositeChar(c byte) bool {
	return !varenc.IsDelim(c) || wildcard.IsWildcard(c)
}

// splitPieces groups the query into composite tokens and the delimiter text
// between them. A wildcard run with no adjacent non-delimiter stays in the
// delimiter text.
func splitPieces(s string) []piece {
	var pieces []piece
	n := len(s)
	i := 0
	for i < n {
		if isCompositeChar(s[i]) {
			j := i
			hasNonDelim := false
			for j < n && isCompositeChar(s[j]) {
				if !wildcard.IsWildcard(s[j]) {
					hasNonDelim = true
				}
				j++
			}
			pieces = append(pieces, piece{composite: hasNonDelim, begin: i, end: j, text: s[i:j]})
			i = j
			continue
		}
		j := i
		for j < n && !isCompositeChar(s[j]) {
			j++
		}
		pieces = append(pieces, piece{begin: i, end: j, text: s[i:j]})
		i = j
	}
	return pieces
}

// staticElems splits delimiter text into static runs and wildcard chars.
func staticElems(text string) []patternElem {
	var elems []patternElem
	start := 0
	for i := 0; i < len(text); i++ {
		if wildcard.IsWildcard(text[i]) {
			if i > start {
				elems = append(elems, patternElem{kind: 0, text: text[start:i]})
			}
			elems = append(elems, patternElem{kind: 1, text: text[i : i+1]})
			start = i + 1
		}
	}
	if start < len(text) {
		elems = append(elems, patternElem{kind: 0, text: text[start:]})
	}
	return elems
}

// tokenRun is one maximal run of non-delimiter characters between
// delimiter-interpreted wildcards of a composite token.
type tokenRun struct {
	text             string
	leftStar         bool // a greedy wildcard delimits the run on the left
	rightStar        bool // a greedy wildcard delimits the run on the right
	internal         bool // the run contains variable-interpreted wildcards
	precededByEquals bool
}

// renderComposite enumerates every interpretation of a composite token: each
// non-edge wildcard can be a delimiter or part of an adjacent variable, and
// each resulting run is tried as every type it supports.
func renderComposite(query string, p piece, enc varenc.Encoding) []rendering {
	text := p.text
	var wildcardIxs []int
	for i := 0; i < len(text); i++ {
		if wildcard.IsWildcard(text[i]) {
			wildcardIxs = append(wildcardIxs, i)
		}
	}

	// Greedy wildcards at the extreme ends always act as delimiters; every
	// other wildcard gets both interpretations.
	var choosable []int
	forced := make(map[int]bool)
	for _, ix := range wildcardIxs {
		if text[ix] == '*' && (ix == 0 || ix == len(text)-1) {
			forced[ix] = true
			continue
		}
		choosable = append(choosable, ix)
	}

	// Bound the interpretation space; wildcards beyond the cap act as
	// delimiters, which the residual wildcard match keeps correct.
	const maxChoosableWildcards = 10
	if len(choosable) > maxChoosableWildcards {
		for _, ix := range choosable[maxChoosableWildcards:] {
			forced[ix] = true
		}
		choosable = choosable[:maxChoosableWildcards]
	}

	var out []rendering
	for mask := 0; mask < 1<<len(choosable); mask++ {
		if len(out) >= 4*MaxSubQueries {
			break
		}
		asDelim := make(map[int]bool, len(wildcardIxs))
		for ix := range forced {
			asDelim[ix] = true
		}
		for bit, ix := range choosable {
			if mask&(1<<bit) != 0 {
				asDelim[ix] = true
			}
		}
		out = append(out, renderInterpretation(query, p, text, asDelim, enc)...)
	}
	return out
}

// renderInterpretation splits the composite at its delimiter-interpreted
// wildcards and expands the Cartesian product of the runs' type choices.
func renderInterpretation(query string, p piece, text string, asDelim map[int]bool, enc varenc.Encoding) []rendering {
	// Walk the composite, building the skeleton of elements: delimiter
	// wildcards verbatim, one slot per run.
	type slot struct {
		run    tokenRun
		elemIx int
	}
	var (
		elems []patternElem
		slots []slot
	)

	runStart := -1
	runInternal := false
	lastDelimStar := false
	leftStarForRun := false
	flushRun := func(end int, rightStar bool) {
		if runStart < 0 {
			return
		}
		run := tokenRun{
			text:      text[runStart:end],
			leftStar:  leftStarForRun,
			rightStar: rightStar,
			internal:  runInternal,
		}
		if globalIx := p.begin + runStart; globalIx > 0 && query[globalIx-1] == '=' {
			run.precededByEquals = true
		}
		elems = append(elems, patternElem{})
		slots = append(slots, slot{run: run, elemIx: len(elems) - 1})
		runStart = -1
		runInternal = false
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if wildcard.IsWildcard(c) && asDelim[i] {
			flushRun(i, c == '*')
			lastDelimStar = c == '*'
			elems = append(elems, patternElem{kind: 1, text: text[i : i+1]})
			continue
		}
		if runStart < 0 {
			runStart = i
			leftStarForRun = lastDelimStar
		}
		if wildcard.IsWildcard(c) {
			runInternal = true
		}
	}
	flushRun(len(text), false)

	// Expand the Cartesian product of per-run choices.
	out := []rendering{{elems: elems}}
	for _, s := range slots {
		choices := runChoices(s.run, enc)
		var next []rendering
		for _, r := range out {
			if len(next) >= 4*MaxSubQueries {
				break
			}
			for _, ch := range choices {
				elemsCopy := append([]patternElem{}, r.elems...)
				elemsCopy[s.elemIx] = ch.elem
				varsCopy := append([]GeneratedVar{}, r.vars...)
				if ch.v != nil {
					varsCopy = append(varsCopy, *ch.v)
				}
				next = append(next, rendering{elems: elemsCopy, vars: varsCopy})
			}
		}
		out = next
	}
	return out
}

type runChoice struct {
	elem patternElem
	v    *GeneratedVar
}

// runChoices lists the interpretations one run supports.
func runChoices(run tokenRun, enc varenc.Encoding) []runChoice {
	touchesWildcard := run.internal || run.leftStar || run.rightStar

	if !touchesWildcard {
		// Exact token: a definite variable resolves to exactly one
		// interpretation; anything else is static text.
		if isExactVarCandidate(run) {
			return []runChoice{exactChoice(run.text, enc)}
		}
		return []runChoice{{elem: patternElem{kind: 0, text: run.text}}}
	}

	value := run.text
	if run.leftStar {
		value = "*" + value
	}
	if run.rightStar {
		value = value + "*"
	}

	var choices []runChoice
	if !containsDecimalDigit(run.text) {
		// Without digits the run could still be static text.
		choices = append(choices, runChoice{elem: patternElem{kind: 0, text: run.text}})
	}
	if couldBeIntVar(value) {
		choices = append(choices, wildcardChoice(value, TokenIntegerVariable))
	}
	if couldBeFloatVar(value) {
		choices = append(choices, wildcardChoice(value, TokenFloatVariable))
	}
	choices = append(choices, wildcardChoice(value, TokenDictionaryVariable))
	return choices
}

func exactChoice(text string, enc varenc.Encoding) runChoice {
	if v, ok := enc.EncodeInt(text); ok {
		return runChoice{
			elem: patternElem{kind: 2, placeholder: logcask.PlaceholderInteger},
			v: &GeneratedVar{Exact: &ExactVariableToken{
				Value: text, Encoded: v, Placeholder: logcask.PlaceholderInteger,
			}},
		}
	}
	if v, ok := enc.EncodeFloat(text); ok {
		return runChoice{
			elem: patternElem{kind: 2, placeholder: logcask.PlaceholderFloat},
			v: &GeneratedVar{Exact: &ExactVariableToken{
				Value: text, Encoded: v, Placeholder: logcask.PlaceholderFloat,
			}},
		}
	}
	return runChoice{
		elem: patternElem{kind: 2, placeholder: logcask.PlaceholderDictionary},
		v: &GeneratedVar{Exact: &ExactVariableToken{
			Value: text, Placeholder: logcask.PlaceholderDictionary,
		}},
	}
}

func wildcardChoice(value string, typ TokenType) runChoice {
	var placeholder byte
	switch typ {
	case TokenIntegerVariable:
		placeholder = logcask.PlaceholderInteger
	case TokenFloatVariable:
		placeholder = logcask.PlaceholderFloat
	default:
		placeholder = logcask.PlaceholderDictionary
	}
	return runChoice{
		elem: patternElem{kind: 2, placeholder: placeholder},
		v:    &GeneratedVar{Wildcard: &WildcardVariableToken{Value: value, Type: typ}},
	}
}

func isExactVarCandidate(run tokenRun) bool {
	if containsDecimalDigit(run.text) || varenc.CouldBeMultiDigitHexValue(run.text) {
		return true
	}
	if run.precededByEquals && containsAlpha(run.text) {
		return true
	}
	return false
}

func containsDecimalDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if varenc.IsDecimalDigit(s[i]) {
			return true
		}
	}
	return false
}

func containsAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if varenc.IsAlpha(s[i]) {
			return true
		}
	}
	return false
}

// couldBeIntVar reports whether the non-wildcard characters admit an integer
// once wildcards substitute for digits.
func couldBeIntVar(s string) bool {
	has := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if wildcard.IsWildcard(c) {
			continue
		}
		if c == '-' && i == 0 {
			continue
		}
		if !varenc.IsDecimalDigit(c) {
			return false
		}
		has = true
	}
	return has || strings.ContainsAny(s, "*?")
}

// couldBeFloatVar reports whether the non-wildcard characters admit a float
// once wildcards substitute for digits or the decimal point.
func couldBeFloatVar(s string) bool {
	dots := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if wildcard.IsWildcard(c) {
			continue
		}
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			dots++
			if dots > 1 {
				return false
			}
			continue
		}
		if !varenc.IsDecimalDigit(c) {
			return false
		}
	}
	// A float needs a decimal point from somewhere: either present or
	// suppliable by a greedy wildcard.
	return dots == 1 || strings.Contains(s, "*") || dotSuppliableByQuestion(s, dots)
}

func dotSuppliableByQuestion(s string, dots int) bool {
	return dots == 0 && strings.Contains(s, "?")
}
