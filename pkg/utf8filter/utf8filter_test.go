package utf8filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/pkg/utf8filter"
)

func TestValidate_ValidPassthrough(t *testing.T) {
	f := utf8filter.New(utf8filter.ReturnError)
	out, err := f.Validate("plain ascii and é世界")
	require.NoError(t, err)
	assert.Equal(t, "plain ascii and é世界", out)
}

func TestValidate_Substitute(t *testing.T) {
	f := utf8filter.New(utf8filter.SubstituteReplacementCharacter)
	out, err := f.Validate("bad \xff\xfe byte")
	require.NoError(t, err)
	assert.Equal(t, "bad �� byte", out)
}

func TestValidate_ReturnError(t *testing.T) {
	f := utf8filter.New(utf8filter.ReturnError)
	_, err := f.Validate("bad \xff byte")
	require.Error(t, err)
	assert.Equal(t, errors.EIllegalByteSequence, errors.ErrorCode(err))
}
