package ir

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/varenc"
)

// Reader decodes an IR stream. ReadMessage returns io.EOF after the
// end-of-stream tag; a stream that ends without the tag fails with a
// Truncated error because more bytes were wanted.
type Reader struct {
	r      *bufio.Reader
	enc    varenc.Encoding
	meta   Metadata
	lastTs int64
	done   bool
}

// NewReader consumes the stream preamble: the magic number selecting the
// encoding and the JSON metadata block.
func NewReader(r io.Reader) (*Reader, error) {
	const op = "ir.NewReader"

	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, truncated(err, op)
	}
	var enc varenc.Encoding
	switch {
	case bytes.Equal(magic[:], MagicNumberEightByte[:]):
		enc = varenc.EightByte
	case bytes.Equal(magic[:], MagicNumberFourByte[:]):
		enc = varenc.FourByte
	default:
		return nil, errors.New(errors.ECorruptedIR, op, "bad magic number")
	}

	encByte, err := br.ReadByte()
	if err != nil {
		return nil, truncated(err, op)
	}
	if encByte != metadataJSONEncoding {
		return nil, errors.New(errors.ECorruptedMetadata, op, "unknown metadata encoding")
	}

	lenTag, err := br.ReadByte()
	if err != nil {
		return nil, truncated(err, op)
	}
	var metaLen int
	switch lenTag {
	case metadataLenUByte:
		b, err := br.ReadByte()
		if err != nil {
			return nil, truncated(err, op)
		}
		metaLen = int(b)
	case metadataLenUShort:
		var buf [2]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, truncated(err, op)
		}
		metaLen = int(binary.BigEndian.Uint16(buf[:]))
	default:
		return nil, errors.New(errors.ECorruptedMetadata, op, "bad metadata length tag")
	}

	metaJSON := make([]byte, metaLen)
	if _, err := io.ReadFull(br, metaJSON); err != nil {
		return nil, truncated(err, op)
	}
	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, errors.Wrap(err, errors.ECorruptedMetadata, op)
	}
	if meta.Version != Version {
		return nil, errors.Newf(errors.EUnsupportedVersion, op, "stream version %q", meta.Version)
	}

	return &Reader{r: br, enc: enc, meta: meta, lastTs: meta.ReferenceTimestamp}, nil
}

// Metadata returns the stream's preamble metadata.
func (r *Reader) Metadata() Metadata { return r.meta }

// Encoding returns the stream's encoded-variable width.
func (r *Reader) Encoding() varenc.Encoding { return r.enc }

// ReadMessage decodes the next log event. It returns io.EOF once the stream
// is cleanly terminated.
func (r *Reader) ReadMessage() (LogEvent, error) {
	const op = "ir.Reader.ReadMessage"

	if r.done {
		return LogEvent{}, io.EOF
	}

	var (
		vars     []int64
		dictVars []string
		logtype  string
	)

	// Tags for a message arrive as variables, then logtype, then timestamp.
readVars:
	for {
		tag, err := r.r.ReadByte()
		if err != nil {
			return LogEvent{}, truncated(err, op)
		}
		switch tag {
		case tagEndOfStream:
			if len(vars) > 0 || len(dictVars) > 0 {
				return LogEvent{}, errors.New(errors.ECorruptedIR, op, "end of stream inside message")
			}
			r.done = true
			return LogEvent{}, io.EOF
		case tagVarEightByte:
			if r.enc != varenc.EightByte {
				return LogEvent{}, errors.New(errors.ECorruptedIR, op, "eight-byte variable in four-byte stream")
			}
			v, err := r.readUint(8)
			if err != nil {
				return LogEvent{}, err
			}
			vars = append(vars, int64(v))
		case tagVarFourByte:
			if r.enc != varenc.FourByte {
				return LogEvent{}, errors.New(errors.ECorruptedIR, op, "four-byte variable in eight-byte stream")
			}
			v, err := r.readUint(4)
			if err != nil {
				return LogEvent{}, err
			}
			vars = append(vars, int64(int32(uint32(v))))
		case tagDictVarLenUByte, tagDictVarLenUShort, tagDictVarLenInt:
			s, err := r.readLengthPrefixed(tag - tagDictVarLenUByte)
			if err != nil {
				return LogEvent{}, err
			}
			dictVars = append(dictVars, s)
		case tagLogtypeLenUByte, tagLogtypeLenUShort, tagLogtypeLenInt:
			s, err := r.readLengthPrefixed(tag - tagLogtypeLenUByte)
			if err != nil {
				return LogEvent{}, err
			}
			logtype = s
			break readVars
		default:
			return LogEvent{}, errors.Newf(errors.ECorruptedIR, op, "unexpected tag 0x%02x", tag)
		}
	}

	ts, err := r.readTimestamp()
	if err != nil {
		return LogEvent{}, err
	}

	msg, err := r.enc.DecodeMessage(logtype, vars, dictVars)
	if err != nil {
		return LogEvent{}, errors.Wrap(err, errors.ECorruptedIR, op)
	}
	return LogEvent{Timestamp: ts, Message: msg}, nil
}

// readLengthPrefixed reads a length of 1, 2 or 4 bytes (selected by size
// index 0..2) followed by that many bytes of string data.
func (r *Reader) readLengthPrefixed(sizeIx byte) (string, error) {
	const op = "ir.Reader.readLengthPrefixed"

	width := 1 << sizeIx // 1, 2, 4
	n, err := r.readUint(width)
	if err != nil {
		return "", err
	}
	if width == 4 && n > 1<<31-1 {
		return "", errors.New(errors.ECorruptedIR, op, "negative length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", truncated(err, op)
	}
	return string(buf), nil
}

func (r *Reader) readUint(width int) (uint64, error) {
	const op = "ir.Reader.readUint"

	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[8-width:]); err != nil {
		return 0, truncated(err, op)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (r *Reader) readTimestamp() (int64, error) {
	const op = "ir.Reader.readTimestamp"

	tag, err := r.r.ReadByte()
	if err != nil {
		return 0, truncated(err, op)
	}

	if r.enc == varenc.EightByte {
		if tag != tagTimestamp {
			return 0, errors.Newf(errors.ECorruptedIR, op, "expected timestamp, got tag 0x%02x", tag)
		}
		v, err := r.readUint(8)
		if err != nil {
			return 0, err
		}
		return int64(v), nil
	}

	var delta int64
	switch tag {
	case tagTimestampDeltaByte:
		v, err := r.readUint(1)
		if err != nil {
			return 0, err
		}
		delta = int64(int8(uint8(v)))
	case tagTimestampDeltaShort:
		v, err := r.readUint(2)
		if err != nil {
			return 0, err
		}
		delta = int64(int16(uint16(v)))
	case tagTimestampDeltaInt:
		v, err := r.readUint(4)
		if err != nil {
			return 0, err
		}
		delta = int64(int32(uint32(v)))
	case tagTimestampDeltaLong:
		v, err := r.readUint(8)
		if err != nil {
			return 0, err
		}
		delta = int64(v)
	default:
		return 0, errors.Newf(errors.ECorruptedIR, op, "expected timestamp delta, got tag 0x%02x", tag)
	}

	r.lastTs += delta
	return r.lastTs, nil
}

// truncated maps an io error to the stream taxonomy: wanting more bytes is
// Truncated (the incomplete-stream condition), everything else is an io
// error.
func truncated(err error, op string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrap(err, errors.ETruncated, op)
	}
	return errors.Wrap(err, errors.EIoErrno, op)
}
