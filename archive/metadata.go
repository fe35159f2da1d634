package archive

import (
	"database/sql"
	"encoding/binary"
	"os"

	// Registers the sqlite3 driver used by the metadata stores.
	_ "github.com/mattn/go-sqlite3"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// metadataFileSize is the in-place updated archive metadata record: format
// version, stable uncompressed and compressed byte totals, the codec id and
// the encoded-variable width.
const metadataFileSize = 4 + 8 + 8 + 1 + 1

// Metadata is the archive-level metadata persisted in the archive's
// metadata file and updated in place after each segment close.
type Metadata struct {
	Version          uint32
	UncompressedSize uint64
	CompressedSize   uint64
	Codec            string
	FourByteEncoding bool
}

const (
	codecIDZstd byte = iota
	codecIDSnappy
)

func codecID(name string) byte {
	if name == "snappy" {
		return codecIDSnappy
	}
	return codecIDZstd
}

func codecName(id byte) string {
	if id == codecIDSnappy {
		return "snappy"
	}
	return DefaultCodec
}

func writeMetadataFile(f *os.File, m Metadata) error {
	var buf [metadataFileSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], m.Version)
	binary.LittleEndian.PutUint64(buf[4:12], m.UncompressedSize)
	binary.LittleEndian.PutUint64(buf[12:20], m.CompressedSize)
	buf[20] = codecID(m.Codec)
	if m.FourByteEncoding {
		buf[21] = 1
	}
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.writeMetadataFile")
	}
	return f.Sync()
}

func readMetadataFile(path string) (Metadata, error) {
	const op = "archive.readMetadataFile"

	var m Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, errors.Wrap(err, errors.EFileNotFound, op)
		}
		return m, errors.Wrap(err, errors.EIoErrno, op)
	}
	if len(data) < metadataFileSize {
		return m, errors.New(errors.ECorruptedMetadata, op, "metadata file too short")
	}
	m.Version = binary.LittleEndian.Uint32(data[0:4])
	m.UncompressedSize = binary.LittleEndian.Uint64(data[4:12])
	m.CompressedSize = binary.LittleEndian.Uint64(data[12:20])
	m.Codec = codecName(data[20])
	m.FourByteEncoding = data[21] == 1
	if m.Version != logcask.FormatVersion {
		return m, errors.Newf(errors.EUnsupportedVersion, op, "archive format version %d", m.Version)
	}
	return m, nil
}

// FileMetadata is the per-file metadata row persisted once the file's
// segment seals. A file without a row is invisible to readers.
type FileMetadata struct {
	ID             string
	OrigFileID     string
	Path           string
	SplitIx        int64
	BeginTs        int64
	EndTs          int64
	NumMessages    uint64
	SegmentID      logcask.SegmentID
	SegmentTableIx int64
}

// fileMetadataDB is the sqlite store inside the archive's logs directory
// holding one row per committed file.
type fileMetadataDB struct {
	db *sql.DB
}

func openFileMetadataDB(path string) (*fileMetadataDB, error) {
	const op = "archive.openFileMetadataDB"

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	orig_file_id TEXT NOT NULL,
	path TEXT NOT NULL,
	split_ix INTEGER NOT NULL,
	begin_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	num_messages INTEGER NOT NULL,
	segment_id INTEGER NOT NULL,
	segment_table_ix INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	return &fileMetadataDB{db: db}, nil
}

func (m *fileMetadataDB) addFiles(files []FileMetadata) error {
	const op = "archive.fileMetadataDB.addFiles"

	if len(files) == 0 {
		return nil
	}
	tx, err := m.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	stmt, err := tx.Prepare(`INSERT INTO files
		(id, orig_file_id, path, split_ix, begin_ts, end_ts, num_messages, segment_id, segment_table_ix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	defer stmt.Close()
	for _, f := range files {
		if _, err := stmt.Exec(f.ID, f.OrigFileID, f.Path, f.SplitIx, f.BeginTs, f.EndTs,
			int64(f.NumMessages), int64(f.SegmentID), f.SegmentTableIx); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.EDbBulkWrite, op)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}

func (m *fileMetadataDB) listFiles() ([]FileMetadata, error) {
	const op = "archive.fileMetadataDB.listFiles"

	rows, err := m.db.Query(`SELECT id, orig_file_id, path, split_ix, begin_ts, end_ts,
		num_messages, segment_id, segment_table_ix FROM files ORDER BY segment_id, segment_table_ix`)
	if err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	defer rows.Close()

	var out []FileMetadata
	for rows.Next() {
		var f FileMetadata
		var numMessages, segmentID int64
		if err := rows.Scan(&f.ID, &f.OrigFileID, &f.Path, &f.SplitIx, &f.BeginTs, &f.EndTs,
			&numMessages, &segmentID, &f.SegmentTableIx); err != nil {
			return nil, errors.Wrap(err, errors.EIoErrno, op)
		}
		f.NumMessages = uint64(numMessages)
		f.SegmentID = logcask.SegmentID(segmentID)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	return out, nil
}

func (m *fileMetadataDB) Close() error {
	return m.db.Close()
}

// GlobalMetadataDB records archives and their files in a store shared across
// archives. The core only exposes hooks: collaborators run their own retry
// loops.
type GlobalMetadataDB interface {
	Open() error
	Close() error
	AddArchive(archiveID, creatorID string, creationNum uint64) error
	UpdateArchiveSize(archiveID string, uncompressedSize, compressedSize uint64) error
	UpdateArchiveTimestamps(archiveID string, beginTs, endTs int64) error
	AddFiles(archiveID string, files []FileMetadata) error
}

// NopGlobalMetadataDB discards all metadata.
type NopGlobalMetadataDB struct{}

func (NopGlobalMetadataDB) Open() error  { return nil }
func (NopGlobalMetadataDB) Close() error { return nil }
func (NopGlobalMetadataDB) AddArchive(string, string, uint64) error {
	return nil
}
func (NopGlobalMetadataDB) UpdateArchiveSize(string, uint64, uint64) error {
	return nil
}
func (NopGlobalMetadataDB) UpdateArchiveTimestamps(string, int64, int64) error {
	return nil
}
func (NopGlobalMetadataDB) AddFiles(string, []FileMetadata) error {
	return nil
}

// SQLiteGlobalMetadataDB is a sqlite-backed global metadata store.
type SQLiteGlobalMetadataDB struct {
	Path string
	db   *sql.DB
}

func (g *SQLiteGlobalMetadataDB) Open() error {
	const op = "archive.SQLiteGlobalMetadataDB.Open"

	if g.db != nil {
		return errors.New(errors.EAlreadyOpen, op, "")
	}
	db, err := sql.Open("sqlite3", g.Path)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS archives (
	id TEXT PRIMARY KEY,
	creator_id TEXT NOT NULL,
	creation_num INTEGER NOT NULL,
	uncompressed_size INTEGER NOT NULL DEFAULT 0,
	compressed_size INTEGER NOT NULL DEFAULT 0,
	begin_ts INTEGER NOT NULL DEFAULT 0,
	end_ts INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	archive_id TEXT NOT NULL,
	orig_file_id TEXT NOT NULL,
	path TEXT NOT NULL,
	begin_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	num_messages INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	g.db = db
	return nil
}

func (g *SQLiteGlobalMetadataDB) Close() error {
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

func (g *SQLiteGlobalMetadataDB) AddArchive(archiveID, creatorID string, creationNum uint64) error {
	const op = "archive.SQLiteGlobalMetadataDB.AddArchive"

	if g.db == nil {
		return errors.New(errors.ENotInitialized, op, "")
	}
	_, err := g.db.Exec(`INSERT INTO archives (id, creator_id, creation_num) VALUES (?, ?, ?)`,
		archiveID, creatorID, int64(creationNum))
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}

func (g *SQLiteGlobalMetadataDB) UpdateArchiveSize(archiveID string, uncompressedSize, compressedSize uint64) error {
	const op = "archive.SQLiteGlobalMetadataDB.UpdateArchiveSize"

	if g.db == nil {
		return errors.New(errors.ENotInitialized, op, "")
	}
	_, err := g.db.Exec(`UPDATE archives SET uncompressed_size = ?, compressed_size = ? WHERE id = ?`,
		int64(uncompressedSize), int64(compressedSize), archiveID)
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}

func (g *SQLiteGlobalMetadataDB) UpdateArchiveTimestamps(archiveID string, beginTs, endTs int64) error {
	const op = "archive.SQLiteGlobalMetadataDB.UpdateArchiveTimestamps"

	if g.db == nil {
		return errors.New(errors.ENotInitialized, op, "")
	}
	_, err := g.db.Exec(`UPDATE archives SET begin_ts = ?, end_ts = ? WHERE id = ?`,
		beginTs, endTs, archiveID)
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}

func (g *SQLiteGlobalMetadataDB) AddFiles(archiveID string, files []FileMetadata) error {
	const op = "archive.SQLiteGlobalMetadataDB.AddFiles"

	if g.db == nil {
		return errors.New(errors.ENotInitialized, op, "")
	}
	tx, err := g.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	for _, f := range files {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO files
			(id, archive_id, orig_file_id, path, begin_ts, end_ts, num_messages)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, archiveID, f.OrigFileID, f.Path, f.BeginTs, f.EndTs, int64(f.NumMessages)); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.EDbBulkWrite, op)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}
