// Package varenc splits log messages into a logtype template plus encoded
// and dictionary variables, and losslessly reverses the process.
//
// A token is a maximal run of non-delimiter characters. A token is a
// variable if it contains a decimal digit, could be a multi-digit hex value,
// or directly follows an equals sign and contains an alphabetic character.
// Integer and float variables whose string form survives a round trip are
// packed into fixed-width integers; everything else becomes a dictionary
// variable.
package varenc

import (
	"github.com/logcask/logcask"
)

// Encoding selects the width of encoded variables. EightByte packs into
// int64, FourByte into int32 with out-of-range values demoting to the
// dictionary.
type Encoding int

const (
	EightByte Encoding = iota
	FourByte
)

func (e Encoding) String() string {
	if e == FourByte {
		return "four-byte"
	}
	return "eight-byte"
}

// IsDelim returns whether c separates tokens. Everything except
// '+', '-' through '9' (which covers '-', '.', '/' and the digits),
// uppercase and lowercase letters, '\' and '_' is a delimiter.
func IsDelim(c byte) bool {
	return !('+' == c || ('-' <= c && c <= '9') ||
		('A' <= c && c <= 'Z') || '\\' == c || '_' == c ||
		('a' <= c && c <= 'z'))
}

// IsAlpha returns whether c is an ASCII letter.
func IsAlpha(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// IsDecimalDigit returns whether c is a base-10 digit.
func IsDecimalDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// CouldBeMultiDigitHexValue returns whether s is at least two characters
// long and made solely of hex digits.
func CouldBeMultiDigitHexValue(s string) bool {
	if len(s) < 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(('a' <= c && c <= 'f') || ('A' <= c && c <= 'F') || ('0' <= c && c <= '9')) {
			return false
		}
	}
	return true
}

// NextVarBounds finds the bounds of the next variable in msg, resuming from
// the bounds of the previous variable. Pass (0, 0) to start. It returns the
// new bounds and whether a variable was found.
func NextVarBounds(msg string, beginPos, endPos int) (int, int, bool) {
	n := len(msg)
	if endPos >= n {
		return beginPos, endPos, false
	}

	for {
		beginPos = endPos

		// Find the next non-delimiter.
		for ; beginPos < n; beginPos++ {
			if !IsDelim(msg[beginPos]) {
				break
			}
		}
		if n == beginPos {
			return beginPos, endPos, false
		}

		// Find the next delimiter.
		containsDecimalDigit := false
		containsAlphabet := false
		for endPos = beginPos; endPos < n; endPos++ {
			c := msg[endPos]
			if IsDecimalDigit(c) {
				containsDecimalDigit = true
			} else if IsAlpha(c) {
				containsAlphabet = true
			} else if IsDelim(c) {
				break
			}
		}

		if containsDecimalDigit || CouldBeMultiDigitHexValue(msg[beginPos:endPos]) {
			return beginPos, endPos, true
		}
		if beginPos > 0 && '=' == msg[beginPos-1] && containsAlphabet {
			return beginPos, endPos, true
		}
		if endPos >= n {
			return beginPos, endPos, false
		}
	}
}

// AppendConstantToLogtype appends constant text to a logtype, escaping any
// variable placeholder bytes. With doubleEscape set, each escape is written
// twice; logtype patterns built for wildcard search need this since the
// wildcard matcher consumes one level of escaping.
func AppendConstantToLogtype(dst []byte, constant string, doubleEscape bool) []byte {
	for i := 0; i < len(constant); i++ {
		c := constant[i]
		if logcask.IsPlaceholder(c) || logcask.PlaceholderEscape == c {
			dst = append(dst, logcask.PlaceholderEscape)
			if doubleEscape {
				dst = append(dst, logcask.PlaceholderEscape)
				if logcask.PlaceholderEscape == c {
					dst = append(dst, logcask.PlaceholderEscape)
				}
			}
		}
		dst = append(dst, c)
	}
	return dst
}
