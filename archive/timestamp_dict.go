package archive

import (
	"io"
	"math"
	"sort"
	"time"

	"github.com/logcask/logcask/kit/errors"
)

// TimestampPattern is a recognizable timestamp format. Patterns are assigned
// dense ids in first-use order and persisted with the dictionary so encoded
// timestamps can be rendered back in their original shape.
type TimestampPattern struct {
	ID     uint64
	Layout string
}

// knownTimestampLayouts are probed, in order, for timestamp strings that no
// previously seen pattern parses.
var knownTimestampLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"Jan _2 15:04:05.000",
	"Jan _2 15:04:05",
}

// TimestampEntry tracks the observed epoch-ms range for one timestamp
// column, merged per key name on write.
type TimestampEntry struct {
	Key       string
	ColumnIDs []int32
	Begin     int64
	End       int64
}

func newTimestampEntry(key string) *TimestampEntry {
	return &TimestampEntry{Key: key, Begin: math.MaxInt64, End: math.MinInt64}
}

func (e *TimestampEntry) ingest(ts int64) {
	if ts < e.Begin {
		e.Begin = ts
	}
	if ts > e.End {
		e.End = ts
	}
}

func (e *TimestampEntry) merge(other *TimestampEntry) {
	if other.Begin < e.Begin {
		e.Begin = other.Begin
	}
	if other.End > e.End {
		e.End = other.End
	}
}

// TimestampDict recognizes timestamp formats and stores per-column epoch
// ranges.
type TimestampDict struct {
	patterns        []*TimestampPattern
	layoutToPattern map[string]*TimestampPattern
	columnIDToRange map[int32]*TimestampEntry
}

// NewTimestampDict returns an empty timestamp dictionary.
func NewTimestampDict() *TimestampDict {
	return &TimestampDict{
		layoutToPattern: make(map[string]*TimestampPattern),
		columnIDToRange: make(map[int32]*TimestampEntry),
	}
}

func (d *TimestampDict) patternFor(layout string) *TimestampPattern {
	if p, ok := d.layoutToPattern[layout]; ok {
		return p
	}
	p := &TimestampPattern{ID: uint64(len(d.patterns)), Layout: layout}
	d.patterns = append(d.patterns, p)
	d.layoutToPattern[layout] = p
	return p
}

// Pattern returns the pattern with the given id.
func (d *TimestampDict) Pattern(id uint64) (*TimestampPattern, error) {
	if id >= uint64(len(d.patterns)) {
		return nil, errors.Newf(errors.EOutOfRange, "archive.TimestampDict.Pattern", "no pattern with id %d", id)
	}
	return d.patterns[id], nil
}

// IngestString parses ts against previously seen patterns first, then every
// known layout. On success it records the epoch into the column's range and
// returns the epoch milliseconds and the pattern id.
func (d *TimestampDict) IngestString(key string, nodeID int32, ts string) (int64, uint64, bool) {
	for _, p := range d.patterns {
		if t, err := time.Parse(p.Layout, ts); err == nil {
			epoch := t.UnixMilli()
			d.ingestEpoch(key, nodeID, epoch)
			return epoch, p.ID, true
		}
	}
	for _, layout := range knownTimestampLayouts {
		if _, seen := d.layoutToPattern[layout]; seen {
			continue
		}
		if t, err := time.Parse(layout, ts); err == nil {
			p := d.patternFor(layout)
			epoch := t.UnixMilli()
			d.ingestEpoch(key, nodeID, epoch)
			return epoch, p.ID, true
		}
	}
	return 0, 0, false
}

// ParseTimestamp parses ts like IngestString but records no range; the
// caller ingests the returned epoch once it knows the column id.
func (d *TimestampDict) ParseTimestamp(ts string) (int64, uint64, bool) {
	for _, p := range d.patterns {
		if t, err := time.Parse(p.Layout, ts); err == nil {
			return t.UnixMilli(), p.ID, true
		}
	}
	for _, layout := range knownTimestampLayouts {
		if _, seen := d.layoutToPattern[layout]; seen {
			continue
		}
		if t, err := time.Parse(layout, ts); err == nil {
			p := d.patternFor(layout)
			return t.UnixMilli(), p.ID, true
		}
	}
	return 0, 0, false
}

// IngestInt records an integer epoch-ms timestamp into the column's range.
func (d *TimestampDict) IngestInt(key string, nodeID int32, ts int64) {
	d.ingestEpoch(key, nodeID, ts)
}

// IngestFloat records a fractional epoch timestamp into the column's range.
func (d *TimestampDict) IngestFloat(key string, nodeID int32, ts float64) {
	d.ingestEpoch(key, nodeID, int64(ts))
}

func (d *TimestampDict) ingestEpoch(key string, nodeID int32, ts int64) {
	entry, ok := d.columnIDToRange[nodeID]
	if !ok {
		entry = newTimestampEntry(key)
		entry.ColumnIDs = append(entry.ColumnIDs, nodeID)
		d.columnIDToRange[nodeID] = entry
	}
	entry.ingest(ts)
}

// Render formats an encoded epoch back through the pattern it was parsed
// with.
func (d *TimestampDict) Render(patternID uint64, epochMs int64) (string, error) {
	p, err := d.Pattern(patternID)
	if err != nil {
		return "", err
	}
	return time.UnixMilli(epochMs).UTC().Format(p.Layout), nil
}

// TimestampColumn reports whether the node id is a tracked timestamp column.
func (d *TimestampDict) TimestampColumn(nodeID int32) bool {
	_, ok := d.columnIDToRange[nodeID]
	return ok
}

// mergedRanges merges per-column ranges by key name.
func (d *TimestampDict) mergedRanges() map[string]*TimestampEntry {
	merged := make(map[string]*TimestampEntry)
	for id, entry := range d.columnIDToRange {
		m, ok := merged[entry.Key]
		if !ok {
			m = newTimestampEntry(entry.Key)
			merged[entry.Key] = m
		}
		m.merge(entry)
		m.ColumnIDs = append(m.ColumnIDs, id)
	}
	return merged
}

// Ranges returns the merged per-key ranges.
func (d *TimestampDict) Ranges() map[string]*TimestampEntry { return d.mergedRanges() }

// BeginTimestamp returns the smallest observed epoch, or zero when no
// timestamps were ingested.
func (d *TimestampDict) BeginTimestamp() int64 {
	begin := int64(math.MaxInt64)
	for _, e := range d.columnIDToRange {
		if e.Begin < begin {
			begin = e.Begin
		}
	}
	if begin == math.MaxInt64 {
		return 0
	}
	return begin
}

// EndTimestamp returns the largest observed epoch, or zero when no
// timestamps were ingested.
func (d *TimestampDict) EndTimestamp() int64 {
	end := int64(math.MinInt64)
	for _, e := range d.columnIDToRange {
		if e.End > end {
			end = e.End
		}
	}
	if end == math.MinInt64 {
		return 0
	}
	return end
}

// writeTo persists the merged ranges and the pattern table as one compressed
// block.
func (d *TimestampDict) writeTo(w io.Writer, codec Codec) error {
	var bw byteWriter

	merged := d.mergedRanges()
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw.uint64(uint64(len(merged)))
	for _, k := range keys {
		e := merged[k]
		bw.uvarint(uint64(len(e.Key)))
		bw.str(e.Key)
		bw.uint32(uint32(len(e.ColumnIDs)))
		for _, id := range e.ColumnIDs {
			bw.uint32(uint32(id))
		}
		bw.int64(e.Begin)
		bw.int64(e.End)
	}

	bw.uint64(uint64(len(d.patterns)))
	for _, p := range d.patterns {
		bw.uint64(p.ID)
		bw.uvarint(uint64(len(p.Layout)))
		bw.str(p.Layout)
	}

	_, err := writeBlock(w, codec, bw.buf.Bytes())
	return err
}

// readTimestampDict loads a dictionary written by writeTo.
func readTimestampDict(r io.Reader, codec Codec) (*TimestampDict, error) {
	const op = "archive.readTimestampDict"

	data, err := readBlock(r, codec)
	if err != nil {
		return nil, err
	}
	br := newByteReader(data, op)

	d := NewTimestampDict()
	numEntries := int(br.uint64())
	for i := 0; i < numEntries; i++ {
		key := br.str(int(br.uvarint()))
		numIDs := int(br.uint32())
		ids := make([]int32, numIDs)
		for j := range ids {
			ids[j] = int32(br.uint32())
		}
		begin := br.int64()
		end := br.int64()
		if br.err != nil {
			return nil, br.err
		}
		for _, id := range ids {
			entry := newTimestampEntry(key)
			entry.ColumnIDs = []int32{id}
			entry.Begin = begin
			entry.End = end
			d.columnIDToRange[id] = entry
		}
	}

	numPatterns := int(br.uint64())
	for i := 0; i < numPatterns; i++ {
		id := br.uint64()
		layout := br.str(int(br.uvarint()))
		if br.err != nil {
			return nil, br.err
		}
		p := &TimestampPattern{ID: id, Layout: layout}
		for uint64(len(d.patterns)) <= id {
			d.patterns = append(d.patterns, nil)
		}
		d.patterns[id] = p
		d.layoutToPattern[layout] = p
	}
	if br.err != nil {
		return nil, br.err
	}
	return d, nil
}
