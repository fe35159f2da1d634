package varenc

import (
	"strconv"
	"strings"

	"github.com/logcask/logcask"
)

// Layout of an eight-byte encoded float, from most to least significant:
// 1 bit sign, 53 bits of digits as an integer, 4 bits decimal-point position
// from the right, 6 bits total string length.
const (
	float8MaxDigits    = 16
	float8DigitsLimit  = 1 << 53
	float8MaxPointPos  = 1<<4 - 1
	float8MaxTotalLen  = 1<<6 - 1
	float8DigitsShift  = 10
	float8PointShift   = 6
	float8SignBit      = 1 << 63
	float8DigitsMask   = 1<<53 - 1
	float8PointPosMask = 1<<4 - 1
	float8TotalLenMask = 1<<6 - 1
)

// Layout of a four-byte encoded float: 1 bit sign, 25 bits of digits, 3 bits
// digit count minus one, 3 bits decimal-point position minus one.
const (
	float4DigitsLimit = 1 << 25
	float4MaxDigits   = 8
	float4DigitsShift = 6
	float4CountShift  = 3
	float4SignBit     = 1 << 31
	float4DigitsMask  = 1<<25 - 1
	float4FieldMask   = 1<<3 - 1
)

// EncodedMessage is the result of encoding a log message: the logtype
// template with placeholder bytes, the packed integer and float variables in
// placeholder order, and the dictionary variable strings in placeholder
// order.
type EncodedMessage struct {
	Logtype  string
	Vars     []int64
	DictVars []string
}

// EncodeMessage splits msg into a logtype and its variables. Each variable
// token is tried as an encoded integer, then as an encoded float, and falls
// back to a dictionary variable.
func (e Encoding) EncodeMessage(msg string) EncodedMessage {
	var m EncodedMessage
	logtype := make([]byte, 0, len(msg))

	lastEnd := 0
	begin, end := 0, 0
	for {
		var found bool
		begin, end, found = NextVarBounds(msg, begin, end)
		if !found {
			break
		}
		logtype = AppendConstantToLogtype(logtype, msg[lastEnd:begin], false)
		lastEnd = end

		token := msg[begin:end]
		if v, ok := e.EncodeInt(token); ok {
			logtype = append(logtype, logcask.PlaceholderInteger)
			m.Vars = append(m.Vars, v)
		} else if v, ok := e.EncodeFloat(token); ok {
			logtype = append(logtype, logcask.PlaceholderFloat)
			m.Vars = append(m.Vars, v)
		} else {
			logtype = append(logtype, logcask.PlaceholderDictionary)
			m.DictVars = append(m.DictVars, token)
		}
	}
	logtype = AppendConstantToLogtype(logtype, msg[lastEnd:], false)

	m.Logtype = string(logtype)
	return m
}

// EncodeInt packs s into an integer variable if its canonical decimal form
// equals s, so that decoding reproduces the original token byte-for-byte.
func (e Encoding) EncodeInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	bitSize := 64
	if e == FourByte {
		bitSize = 32
	}
	v, err := strconv.ParseInt(s, 10, bitSize)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(v, 10) != s {
		// Leading zeros or an explicit '+' would be lost.
		return 0, false
	}
	return v, true
}

// DecodeInt renders an encoded integer variable back to its string form.
func DecodeInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// EncodeFloat packs s into a float variable if the width's layout admits it:
// an optional sign, digits with exactly one decimal point, and digit count,
// point position and total length within the layout's field widths.
func (e Encoding) EncodeFloat(s string) (int64, bool) {
	neg, digits, pointPos, ok := splitFloat(s)
	if !ok {
		return 0, false
	}

	if e == FourByte {
		if len(digits) > float4MaxDigits || pointPos < 1 || pointPos > 8 {
			return 0, false
		}
		value, err := strconv.ParseUint(digits, 10, 64)
		if err != nil || value >= float4DigitsLimit {
			return 0, false
		}
		u := uint32(value)<<float4DigitsShift |
			uint32(len(digits)-1)<<float4CountShift |
			uint32(pointPos-1)
		if neg {
			u |= float4SignBit
		}
		return int64(int32(u)), true
	}

	if len(digits) > float8MaxDigits || pointPos > float8MaxPointPos || len(s) > float8MaxTotalLen {
		return 0, false
	}
	value, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || value >= float8DigitsLimit {
		return 0, false
	}
	u := value<<float8DigitsShift |
		uint64(pointPos)<<float8PointShift |
		uint64(len(s))
	if neg {
		u |= float8SignBit
	}
	return int64(u), true
}

// DecodeFloat renders an encoded float variable back to its exact original
// string form, including leading zeros.
func (e Encoding) DecodeFloat(v int64) string {
	if e == FourByte {
		u := uint32(v)
		pointPos := int(u&float4FieldMask) + 1
		numDigits := int(u>>float4CountShift&float4FieldMask) + 1
		digits := uint64(u >> float4DigitsShift & float4DigitsMask)
		return renderFloat(u&float4SignBit != 0, digits, numDigits, pointPos)
	}

	u := uint64(v)
	totalLen := int(u & float8TotalLenMask)
	pointPos := int(u >> float8PointShift & float8PointPosMask)
	digits := u >> float8DigitsShift & float8DigitsMask
	neg := u&float8SignBit != 0
	numDigits := totalLen - 1
	if neg {
		numDigits--
	}
	return renderFloat(neg, digits, numDigits, pointPos)
}

func renderFloat(neg bool, digits uint64, numDigits, pointPos int) string {
	ds := strconv.FormatUint(digits, 10)
	if pad := numDigits - len(ds); pad > 0 {
		ds = strings.Repeat("0", pad) + ds
	}

	var b strings.Builder
	b.Grow(numDigits + 2)
	if neg {
		b.WriteByte('-')
	}
	split := len(ds) - pointPos
	b.WriteString(ds[:split])
	b.WriteByte('.')
	b.WriteString(ds[split:])
	return b.String()
}

// splitFloat validates that s has the form of a decimal fraction and returns
// its sign, digit characters and the decimal-point position from the right.
func splitFloat(s string) (neg bool, digits string, pointPos int, ok bool) {
	rest := s
	if strings.HasPrefix(rest, "-") {
		neg = true
		rest = rest[1:]
	}
	point := strings.IndexByte(rest, '.')
	if point < 0 || point != strings.LastIndexByte(rest, '.') {
		return false, "", 0, false
	}
	digits = rest[:point] + rest[point+1:]
	if len(digits) == 0 {
		return false, "", 0, false
	}
	for i := 0; i < len(digits); i++ {
		if !IsDecimalDigit(digits[i]) {
			return false, "", 0, false
		}
	}
	return neg, digits, len(rest) - point - 1, true
}
