package loggingx

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZap returns a production zap logger that writes JSON to stderr at the
// given level, such as "info" or "debug".
func NewZap(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	return cfg.Build()
}

// Zap returns a logging.Logger that writes to l. Messages are logged at the
// info level, debug messages at the debug level.
func Zap(l *zap.Logger) logging.Logger {
	return &zapLogger{l.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

type zapLogger struct {
	target *zap.SugaredLogger
}

func (l *zapLogger) Log(f string, v ...any) {
	l.target.Infof(f, v...)
}

func (l *zapLogger) LogString(s string) {
	l.target.Info(s)
}

func (l *zapLogger) Debug(f string, v ...any) {
	l.target.Debugf(f, v...)
}

func (l *zapLogger) DebugString(s string) {
	l.target.Debug(s)
}

func (l *zapLogger) IsDebug() bool {
	return l.target.Desugar().Core().Enabled(zapcore.DebugLevel)
}
