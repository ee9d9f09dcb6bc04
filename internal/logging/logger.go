package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	Level   string
	File    string // optional rotating log file
	Version string
	Commit  string
	Buffer  *LogBuffer
	Stdout  io.Writer
}

// New builds the root logger. Output goes to stdout, the optional log
// buffer and, when File is set, to a rotating file.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	writers := []io.Writer{stdout}
	if opts.Buffer != nil {
		writers = append(writers, opts.Buffer)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		writers = append(writers, rotating)
		closer = rotating
	}

	logger := zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("version", opts.Version).
		Str("commit", opts.Commit).
		Logger()

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
