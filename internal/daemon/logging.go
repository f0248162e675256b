package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sekigaharaEI/archon/internal/config"
	archonlog "github.com/sekigaharaEI/archon/internal/log"
)

// multiCloser closes every non-nil io.Closer it wraps, collecting (not
// short-circuiting on) the first error.
type multiCloser struct {
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// initLogging builds the process-wide slog logger from the daemon's
// LogConfig and installs it via slog.SetDefault. The returned closer
// flushes and releases the file-rotation and Loki sinks on shutdown;
// callers must Close it exactly once.
func initLogging(cfg config.LogConfig) (io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	closer := &multiCloser{}

	if cfg.Outputs.File.Enabled {
		lj := &lumberjack.Logger{
			Filename:   cfg.Outputs.File.Path,
			MaxSize:    cfg.Outputs.File.Rotation.MaxSizeMB,
			MaxAge:     cfg.Outputs.File.Rotation.MaxAgeDays,
			MaxBackups: cfg.Outputs.File.Rotation.MaxBackups,
			Compress:   cfg.Outputs.File.Rotation.Compress,
		}
		writers = append(writers, lj)
		closer.closers = append(closer.closers, lj)
	}

	if cfg.Outputs.Loki.Enabled {
		lw, err := archonlog.NewLokiWriter(archonlog.LokiConfig{
			Endpoint:      cfg.Outputs.Loki.Endpoint,
			Labels:        cfg.Outputs.Loki.Labels,
			BatchSize:     cfg.Outputs.Loki.BatchSize,
			FlushInterval: cfg.Outputs.Loki.BatchTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("daemon: init loki writer: %w", err)
		}
		writers = append(writers, lw)
		closer.closers = append(closer.closers, lw)
	}

	handlerOpts := &slog.HandlerOptions{Level: levelFromString(cfg.Level)}
	dest := io.MultiWriter(writers...)

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(dest, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(dest, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func levelFromString(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
