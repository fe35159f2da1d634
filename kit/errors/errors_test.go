package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/kit/errors"
)

func TestError_Error(t *testing.T) {
	cases := []struct {
		name string
		err  *errors.Error
		want string
	}{
		{
			name: "code only",
			err:  &errors.Error{Code: errors.EOutOfRange},
			want: "out of range",
		},
		{
			name: "op and code",
			err:  &errors.Error{Code: errors.EOutOfRange, Op: "dict.AddOccurrence"},
			want: "dict.AddOccurrence: out of range",
		},
		{
			name: "op code and msg",
			err:  &errors.Error{Code: errors.EBadParam, Op: "ir.NewWriter", Msg: "empty timestamp pattern"},
			want: "ir.NewWriter: bad parameter: empty timestamp pattern",
		},
		{
			name: "wrapped cause",
			err:  &errors.Error{Code: errors.EIoErrno, Op: "archive.Open", Err: fmt.Errorf("permission denied")},
			want: "archive.Open: permission denied",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", errors.ErrorCode(nil))
	assert.Equal(t, errors.EInternal, errors.ErrorCode(fmt.Errorf("plain")))
	assert.Equal(t, errors.ETruncated, errors.ErrorCode(errors.New(errors.ETruncated, "ir.ReadMessage", "")))

	// The first code in the chain wins.
	inner := errors.New(errors.EEndOfFile, "segment.ReadBlock", "")
	outer := errors.Wrap(inner, errors.ECorruptedArchive, "reader.ReadSchemaTable")
	assert.Equal(t, errors.ECorruptedArchive, errors.ErrorCode(outer))

	// An op-only wrapper defers to the wrapped code.
	wrapper := &errors.Error{Op: "reader.ReadSchemaTable", Err: inner}
	assert.Equal(t, errors.EEndOfFile, errors.ErrorCode(wrapper))
}

func TestIs(t *testing.T) {
	inner := errors.New(errors.EEndOfFile, "segment.ReadBlock", "")
	outer := errors.Wrap(inner, errors.ECorruptedArchive, "reader.ReadSchemaTable")

	require.True(t, errors.Is(outer, errors.ECorruptedArchive))
	require.True(t, errors.Is(outer, errors.EEndOfFile))
	require.False(t, errors.Is(outer, errors.ETruncated))
	require.False(t, errors.Is(fmt.Errorf("plain"), errors.EEndOfFile))
}

func TestErrorOp(t *testing.T) {
	err := errors.New(errors.EBadParam, "query.Plan", "bad expression")
	assert.Equal(t, "query.Plan", errors.ErrorOp(err))
	assert.Equal(t, "", errors.ErrorOp(fmt.Errorf("plain")))
}
