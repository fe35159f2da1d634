package archive

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/logcask/logcask/kit/errors"
)

// Codec compresses and decompresses whole blocks. Dictionary streams and
// segment tables are written as independent blocks so readers can load any
// table without touching its neighbors.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int) ([]byte, error)
}

// DefaultCodec is the codec used when the config doesn't name one.
const DefaultCodec = "zstd"

// CodecByName returns the named codec. Supported: "zstd", "snappy".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", DefaultCodec:
		return newZstdCodec()
	case "snappy":
		return snappyCodec{}, nil
	default:
		return nil, errors.Newf(errors.EBadParam, "archive.CodecByName", "unknown codec %q", name)
	}
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.EInternal, "archive.newZstdCodec")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.EInternal, "archive.newZstdCodec")
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (c *zstdCodec) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	dst, err := c.dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ECorruptedArchive, "archive.zstdCodec.Decompress")
	}
	return dst, nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	dst, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, errors.Wrap(err, errors.ECorruptedArchive, "archive.snappyCodec.Decompress")
	}
	return dst, nil
}

// Block framing: every compressed block is preceded by a fixed header and
// carries an xxhash64 of the compressed bytes so corruption is detected
// before decompression.
//
//	0        4        8                 16
//	+--------+--------+--------+--------+--------+----
//	| csize  | usize  |     checksum    |  bytes ...
//	+--------+--------+--------+--------+--------+----
const blockHeaderSize = 4 + 4 + 8

const maxBlockSize = 1 << 31

// writeBlock compresses src with the codec and writes a framed block,
// returning the number of bytes written.
func writeBlock(w io.Writer, codec Codec, src []byte) (int64, error) {
	const op = "archive.writeBlock"

	if len(src) >= maxBlockSize {
		return 0, errors.New(errors.EOutOfRange, op, "block too large")
	}
	compressed, err := codec.Compress(src)
	if err != nil {
		return 0, err
	}

	var header [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(src)))
	binary.LittleEndian.PutUint64(header[8:16], xxhash.Sum64(compressed))
	if _, err := w.Write(header[:]); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	if _, err := w.Write(compressed); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	return int64(blockHeaderSize + len(compressed)), nil
}

// readBlock reads one framed block and returns the decompressed bytes.
func readBlock(r io.Reader, codec Codec) ([]byte, error) {
	const op = "archive.readBlock"

	var header [blockHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, errors.Wrap(err, errors.EEndOfFile, op)
		}
		return nil, errors.Wrap(err, errors.ETruncated, op)
	}
	csize := binary.LittleEndian.Uint32(header[0:4])
	usize := binary.LittleEndian.Uint32(header[4:8])
	sum := binary.LittleEndian.Uint64(header[8:16])

	compressed := make([]byte, csize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errors.Wrap(err, errors.ETruncated, op)
	}
	if xxhash.Sum64(compressed) != sum {
		return nil, errors.New(errors.ECorruptedArchive, op, "block checksum mismatch")
	}
	return codec.Decompress(compressed, int(usize))
}
