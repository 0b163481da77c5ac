package log

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CbLog struct {
	logger zerolog.Logger
}

// Init builds the process logger on path, or on the console when path is
// empty. The console gets colored, human readable output when it is a
// terminal. The global zerolog logger is set to the same output.
func Init(path string, level string) CbLog {
	var out io.Writer
	if path == "" {
		out = consoleWriter()
	} else {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			panic(err)
		}
		out = logFile
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return CbLog{logger: log.Logger}
}

// New wraps an existing zerolog logger, mostly for tests.
func New(logger zerolog.Logger) CbLog {
	return CbLog{logger: logger}
}

// Nop discards everything.
func Nop() CbLog {
	return CbLog{logger: zerolog.Nop()}
}

func consoleWriter() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return zerolog.ConsoleWriter{Out: colorable.NewColorableStdout(), TimeFormat: "15:04:05.000"}
	}
	return os.Stdout
}

// With returns a child logger tagged with a component name.
func (cblog CbLog) With(component string) CbLog {
	return CbLog{logger: cblog.logger.With().Str("component", component).Logger()}
}

// WithInt returns a child logger carrying one extra integer field.
func (cblog CbLog) WithInt(key string, v int) CbLog {
	return CbLog{logger: cblog.logger.With().Int(key, v).Logger()}
}

// Z exposes the underlying logger for structured events.
func (cblog CbLog) Z() *zerolog.Logger {
	l := cblog.logger
	return &l
}

func (cblog CbLog) Debug(msg string) {
	cblog.logger.Debug().Msg(msg)
}

func (cblog CbLog) Info(msg string) {
	cblog.logger.Info().Msg(msg)
}

func (cblog CbLog) Warn(msg string) {
	cblog.logger.Warn().Msg(msg)
}

func (cblog CbLog) Error(msg string) {
	cblog.logger.Error().Msg(msg)
}
