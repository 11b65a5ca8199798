package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin zerolog wrapper carrying the retrieval pipeline's field
// conventions (component, operation, workspace_id, run_id, server).
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

type loggerContextKey struct{}

// NewLogger builds a logger from the configuration: output target, console or
// JSON format, level, optional caller info and burst sampling.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	case "unixmicro":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zlog := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}
	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return &Logger{zlog: zlog, config: cfg}, nil
}

// openOutput resolves the configured output: stdout, stderr, or a file path
// opened for append.
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

func consoleTimeFormat(format string) string {
	if format == "unix" {
		return "unix"
	}
	return time.RFC3339
}

// NewComponentLogger returns a child logger tagged with a component name.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.WithField("component", component)
}

// WithContext embeds the logger in the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger embedded in ctx, or a minimal stdout logger
// when none is present.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// WithField returns a child logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// WithFields returns a child logger with the given fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	lc := l.zlog.With()
	for k, v := range fields {
		lc = lc.Interface(k, v)
	}
	return &Logger{zlog: lc.Logger(), config: l.config}
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger(), config: l.config}
}

// Pipeline field helpers.

func (l *Logger) WithOperation(operation string) *Logger {
	return l.WithField("operation", operation)
}

func (l *Logger) WithWorkspaceID(workspaceID string) *Logger {
	return l.WithField("workspace_id", workspaceID)
}

func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

func (l *Logger) WithServer(server string) *Logger {
	return l.WithField("server", server)
}

// Zerolog exposes the underlying zerolog logger for packages that take
// zerolog.Logger directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Level methods.

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
func (l *Logger) Fatal(msg string) { l.zlog.Fatal().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }
