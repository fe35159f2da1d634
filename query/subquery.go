// Package query plans and executes wildcard searches over archives. A
// wildcard expression expands into a disjunction of subqueries, each a
// concrete logtype pattern plus ordered variable constraints, pruned against
// the dictionaries so candidate records are filtered before any column byte
// is decompressed.
package query

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/archive"
)

// QueryVar is one variable constraint of a subquery, in placeholder order.
// A precise var pins the exact encoded value or dictionary id; an imprecise
// var admits any of a set of dictionary entries and forces decode-and-match.
type QueryVar struct {
	Placeholder byte

	Precise    bool
	EncodedVar int64

	// DictEntries holds the admissible dictionary entries when the variable
	// resolves through the variable dictionary.
	DictEntries []*archive.DictEntry
}

// matches reports whether the message variable at this position satisfies
// the constraint.
func (v *QueryVar) matches(msgVar int64) bool {
	if v.Precise && len(v.DictEntries) == 0 {
		return msgVar == v.EncodedVar
	}
	for _, e := range v.DictEntries {
		if uint64(msgVar) == e.ID {
			return true
		}
	}
	return false
}

// SubQuery is one branch of a query plan.
type SubQuery struct {
	possibleLogtypes []*archive.DictEntry
	logtypeIDs       map[uint64]struct{}
	vars             []QueryVar

	wildcardMatchRequired bool
	segments              *roaring.Bitmap
}

func newSubQuery() *SubQuery {
	return &SubQuery{
		logtypeIDs: make(map[uint64]struct{}),
		segments:   roaring.New(),
	}
}

func (s *SubQuery) clear() {
	s.possibleLogtypes = s.possibleLogtypes[:0]
	s.logtypeIDs = make(map[uint64]struct{})
	s.vars = s.vars[:0]
	s.wildcardMatchRequired = false
	s.segments = roaring.New()
}

// MarkWildcardMatchRequired flags that matches must be confirmed by decoding
// the message and running a full wildcard match.
func (s *SubQuery) MarkWildcardMatchRequired() { s.wildcardMatchRequired = true }

// WildcardMatchRequired reports whether the residual decode-and-match step
// is needed.
func (s *SubQuery) WildcardMatchRequired() bool { return s.wildcardMatchRequired }

// Vars returns the ordered variable constraints.
func (s *SubQuery) Vars() []QueryVar { return s.vars }

func (s *SubQuery) addPreciseVar(placeholder byte, encoded int64) {
	s.vars = append(s.vars, QueryVar{Placeholder: placeholder, Precise: true, EncodedVar: encoded})
}

func (s *SubQuery) addPreciseDictVar(placeholder byte, entry *archive.DictEntry) {
	s.vars = append(s.vars, QueryVar{
		Placeholder: placeholder,
		Precise:     true,
		DictEntries: []*archive.DictEntry{entry},
	})
}

func (s *SubQuery) addImpreciseDictVar(placeholder byte, entries []*archive.DictEntry) {
	s.vars = append(s.vars, QueryVar{Placeholder: placeholder, DictEntries: entries})
}

func (s *SubQuery) setPossibleLogtypes(entries []*archive.DictEntry) {
	s.possibleLogtypes = entries
	for _, e := range entries {
		s.logtypeIDs[e.ID] = struct{}{}
	}
}

// calculateIDsOfMatchingSegments intersects the segment sets of the
// surviving logtype entries (unioned) with those of every variable
// constraint (each unioned over its admissible entries).
func (s *SubQuery) calculateIDsOfMatchingSegments() {
	acc := roaring.New()
	for _, e := range s.possibleLogtypes {
		acc.Or(e.Segments)
	}
	for _, v := range s.vars {
		if len(v.DictEntries) == 0 {
			// Encoded variables live inline in the columns and constrain no
			// segments.
			continue
		}
		varSet := roaring.New()
		for _, e := range v.DictEntries {
			varSet.Or(e.Segments)
		}
		acc.And(varSet)
	}
	s.segments = acc
}

// RelevantToSegment reports whether the subquery might match messages in the
// given segment.
func (s *SubQuery) RelevantToSegment(id logcask.SegmentID) bool {
	return s.segments.Contains(uint32(id))
}

// Segments returns the candidate segment set.
func (s *SubQuery) Segments() *roaring.Bitmap { return s.segments }

// MatchesLogtype reports whether the message's logtype id is admissible.
func (s *SubQuery) MatchesLogtype(id uint64) bool {
	_, ok := s.logtypeIDs[id]
	return ok
}

// MatchesVars reports whether the constraints match the message's variables
// in order. Constraints may skip over unconstrained positions.
func (s *SubQuery) MatchesVars(msgVars []int64) bool {
	if len(msgVars) < len(s.vars) {
		return false
	}
	possibleIx := 0
	for varsIx := 0; varsIx < len(msgVars) && possibleIx < len(s.vars); varsIx++ {
		if s.vars[possibleIx].matches(msgVars[varsIx]) {
			possibleIx++
		}
	}
	return possibleIx == len(s.vars)
}
