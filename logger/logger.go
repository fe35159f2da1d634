package logger

import (
	"io"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// New returns a logger that writes to w using the default console format at
// debug level. Components that want configurable output go through
// Config.New instead.
func New(w io.Writer) *zap.Logger {
	config := NewConfig()
	config.Level = zapcore.DebugLevel

	l, _ := config.New(w)
	return l
}

// New creates a logger that writes to w with the configured format and
// level.
func (c Config) New(defaultOutput io.Writer) (*zap.Logger, error) {
	w := defaultOutput
	format := c.Format
	if format == "" || format == "auto" {
		format = "console"
	}

	encoderConfig := newEncoderConfig()
	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(encoderConfig)
	default:
		return nil, &unknownFormatError{format}
	}

	return zap.New(zapcore.NewCore(
		encoder,
		zapcore.Lock(zapcore.AddSync(w)),
		c.Level,
	)), nil
}

func newEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(TimeFormat))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		val := float64(d) / float64(time.Millisecond)
		encoder.AppendString(fmtDuration(val))
	}
	return config
}

func fmtDuration(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).String()
}

type unknownFormatError struct {
	format string
}

func (e *unknownFormatError) Error() string {
	return "unknown logging format: " + e.format
}
