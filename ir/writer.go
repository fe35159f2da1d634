package ir

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/varenc"
)

// Writer serializes log events into an IR stream. It is not safe for
// concurrent use.
type Writer struct {
	w      *bufio.Writer
	enc    varenc.Encoding
	lastTs int64
	closed bool
}

// NewWriter writes the stream preamble for the given encoding and returns a
// writer for its messages. For four-byte streams the metadata's reference
// timestamp seeds the running timestamp.
func NewWriter(w io.Writer, enc varenc.Encoding, meta Metadata) (*Writer, error) {
	const op = "ir.NewWriter"

	if meta.Version == "" {
		meta.Version = Version
	} else if meta.Version != Version {
		return nil, errors.Newf(errors.EUnsupportedVersion, op, "cannot write version %q", meta.Version)
	}

	bw := bufio.NewWriter(w)
	magic := MagicNumberEightByte
	if enc == varenc.FourByte {
		magic = MagicNumberFourByte
	}
	if _, err := bw.Write(magic[:]); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, errors.ECorruptedMetadata, op)
	}
	if len(metaJSON) > math.MaxUint16 {
		return nil, errors.New(errors.EBadParam, op, "metadata too large")
	}
	if err := bw.WriteByte(metadataJSONEncoding); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	if len(metaJSON) <= math.MaxUint8 {
		bw.WriteByte(metadataLenUByte)
		bw.WriteByte(byte(len(metaJSON)))
	} else {
		bw.WriteByte(metadataLenUShort)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(metaJSON)))
		bw.Write(lenBuf[:])
	}
	if _, err := bw.Write(metaJSON); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}

	return &Writer{w: bw, enc: enc, lastTs: meta.ReferenceTimestamp}, nil
}

// WriteMessage encodes msg and appends it to the stream with the given
// epoch-ms timestamp.
func (w *Writer) WriteMessage(ts int64, msg string) error {
	const op = "ir.Writer.WriteMessage"

	if w.closed {
		return errors.New(errors.EUnsupported, op, "stream already closed")
	}

	m := w.enc.EncodeMessage(msg)

	// Variables are written in placeholder order, interleaving encoded and
	// dictionary variables exactly as they occur in the message.
	varIx, dictIx := 0, 0
	for i := 0; i < len(m.Logtype); i++ {
		switch m.Logtype[i] {
		case logcask.PlaceholderEscape:
			i++
		case logcask.PlaceholderInteger, logcask.PlaceholderFloat:
			w.writeEncodedVar(m.Vars[varIx])
			varIx++
		case logcask.PlaceholderDictionary:
			if err := w.writeDictVar(m.DictVars[dictIx]); err != nil {
				return err
			}
			dictIx++
		}
	}

	if err := w.writeLogtype(m.Logtype); err != nil {
		return err
	}
	if err := w.writeTimestamp(ts); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	return nil
}

// Close terminates the stream with the end-of-stream tag and flushes. It
// does not close the underlying writer.
func (w *Writer) Close() error {
	const op = "ir.Writer.Close"

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.WriteByte(tagEndOfStream); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	if err := w.w.Flush(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	return nil
}

func (w *Writer) writeEncodedVar(v int64) {
	if w.enc == varenc.FourByte {
		w.w.WriteByte(tagVarFourByte)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
		w.w.Write(buf[:])
		return
	}
	w.w.WriteByte(tagVarEightByte)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	w.w.Write(buf[:])
}

func (w *Writer) writeDictVar(s string) error {
	const op = "ir.Writer.writeDictVar"

	switch {
	case len(s) <= math.MaxUint8:
		w.w.WriteByte(tagDictVarLenUByte)
		w.w.WriteByte(byte(len(s)))
	case len(s) <= math.MaxUint16:
		w.w.WriteByte(tagDictVarLenUShort)
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(len(s)))
		w.w.Write(buf[:])
	case len(s) <= math.MaxInt32:
		w.w.WriteByte(tagDictVarLenInt)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(len(s)))
		w.w.Write(buf[:])
	default:
		return errors.New(errors.EOutOfRange, op, "dictionary variable too long")
	}
	if _, err := w.w.WriteString(s); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	return nil
}

func (w *Writer) writeLogtype(s string) error {
	const op = "ir.Writer.writeLogtype"

	switch {
	case len(s) <= math.MaxUint8:
		w.w.WriteByte(tagLogtypeLenUByte)
		w.w.WriteByte(byte(len(s)))
	case len(s) <= math.MaxUint16:
		w.w.WriteByte(tagLogtypeLenUShort)
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(len(s)))
		w.w.Write(buf[:])
	case len(s) <= math.MaxInt32:
		w.w.WriteByte(tagLogtypeLenInt)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(len(s)))
		w.w.Write(buf[:])
	default:
		return errors.New(errors.EOutOfRange, op, "logtype too long")
	}
	if _, err := w.w.WriteString(s); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	return nil
}

func (w *Writer) writeTimestamp(ts int64) error {
	if w.enc == varenc.EightByte {
		w.w.WriteByte(tagTimestamp)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(ts))
		_, err := w.w.Write(buf[:])
		return err
	}

	// Four-byte streams carry a signed delta against the running timestamp;
	// deltas can be negative for out-of-order events.
	delta := ts - w.lastTs
	w.lastTs = ts
	switch {
	case math.MinInt8 <= delta && delta <= math.MaxInt8:
		w.w.WriteByte(tagTimestampDeltaByte)
		return w.w.WriteByte(byte(int8(delta)))
	case math.MinInt16 <= delta && delta <= math.MaxInt16:
		w.w.WriteByte(tagTimestampDeltaShort)
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(int16(delta)))
		_, err := w.w.Write(buf[:])
		return err
	case math.MinInt32 <= delta && delta <= math.MaxInt32:
		w.w.WriteByte(tagTimestampDeltaInt)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(int32(delta)))
		_, err := w.w.Write(buf[:])
		return err
	default:
		w.w.WriteByte(tagTimestampDeltaLong)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(delta))
		_, err := w.w.Write(buf[:])
		return err
	}
}
