package varenc

import (
	"strconv"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// DecodeMessage reconstructs the original message from a logtype and its
// variables. Static bytes copy through, an escape consumes itself and emits
// the following byte verbatim, and each placeholder consumes the next
// variable of its kind.
func (e Encoding) DecodeMessage(logtype string, vars []int64, dictVars []string) (string, error) {
	const op = "varenc.DecodeMessage"

	out := make([]byte, 0, len(logtype)*2)
	varIx, dictIx := 0, 0
	for i := 0; i < len(logtype); i++ {
		c := logtype[i]
		switch c {
		case logcask.PlaceholderEscape:
			i++
			if i >= len(logtype) {
				return "", errors.New(errors.ECorruptedArchive, op, "dangling escape in logtype")
			}
			out = append(out, logtype[i])
		case logcask.PlaceholderInteger:
			if varIx >= len(vars) {
				return "", errors.New(errors.ECorruptedArchive, op, "logtype references more encoded variables than provided")
			}
			out = strconv.AppendInt(out, vars[varIx], 10)
			varIx++
		case logcask.PlaceholderFloat:
			if varIx >= len(vars) {
				return "", errors.New(errors.ECorruptedArchive, op, "logtype references more encoded variables than provided")
			}
			out = append(out, e.DecodeFloat(vars[varIx])...)
			varIx++
		case logcask.PlaceholderDictionary:
			if dictIx >= len(dictVars) {
				return "", errors.New(errors.ECorruptedArchive, op, "logtype references more dictionary variables than provided")
			}
			out = append(out, dictVars[dictIx]...)
			dictIx++
		default:
			out = append(out, c)
		}
	}

	if varIx != len(vars) || dictIx != len(dictVars) {
		return "", errors.New(errors.ECorruptedArchive, op, "unconsumed variables after logtype walk")
	}
	return string(out), nil
}

// PlaceholderCounts tallies the variable placeholders of each kind in a
// logtype, honoring escapes.
func PlaceholderCounts(logtype string) (ints, floats, dicts int) {
	for i := 0; i < len(logtype); i++ {
		switch logtype[i] {
		case logcask.PlaceholderEscape:
			i++
		case logcask.PlaceholderInteger:
			ints++
		case logcask.PlaceholderFloat:
			floats++
		case logcask.PlaceholderDictionary:
			dicts++
		}
	}
	return ints, floats, dicts
}
