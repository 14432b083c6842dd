// Package logging builds the logr.Logger the job writes through.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger on top of zap. Lines always go to stdout;
// when logFile is non-empty they are appended to that file as well. debug
// raises verbosity so V(1) lines are emitted. The returned flush function
// syncs buffered output and should run before exit.
func New(debug bool, logFile string) (logr.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
	}
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("logging: build logger: %w", err)
	}
	flush := func() { _ = z.Sync() }
	return zapr.NewLogger(z), flush, nil
}
