package logger

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It discards everything until Initialize
// is called, so packages may log unconditionally.
var Log *zap.SugaredLogger

func init() {
	Log = zap.NewNop().Sugar()
}

// Initialize replaces Log with a logger writing to stderr at the given level
// ("debug", "info", "warn", "error"). jsonOutput selects the production JSON
// encoder instead of the console encoder.
func Initialize(level string, jsonOutput bool) error {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	Log = zap.New(core).Sugar()
	return nil
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger {
	return Log.Named(component)
}

// Sync flushes buffered entries. Errors from syncing stderr are ignored.
func Sync() {
	_ = Log.Sync()
}
