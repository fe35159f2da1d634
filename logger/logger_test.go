package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/logcask/logcask/logger"
)

func TestConfig_New_Formats(t *testing.T) {
	for _, format := range []string{"auto", "console", "logfmt", "json"} {
		t.Run(format, func(t *testing.T) {
			config := logger.NewConfig()
			config.Format = format

			var buf bytes.Buffer
			l, err := config.New(&buf)
			require.NoError(t, err)

			l.Info("segment sealed")
			require.NoError(t, l.Sync())
			assert.Contains(t, buf.String(), "segment sealed")
		})
	}
}

func TestConfig_New_UnknownFormat(t *testing.T) {
	config := logger.NewConfig()
	config.Format = "yaml"
	_, err := config.New(&bytes.Buffer{})
	assert.Error(t, err)
}

func TestConfig_Level(t *testing.T) {
	config := logger.NewConfig()
	config.Level = zapcore.WarnLevel

	var buf bytes.Buffer
	l, err := config.New(&buf)
	require.NoError(t, err)

	l.Info("quiet")
	l.Warn("loud")
	require.NoError(t, l.Sync())
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}
