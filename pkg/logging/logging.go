// Package logging builds the process logger for aggregate-s3-logs using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the log destinations.
type Options struct {
	// Verbose lowers the stderr level from info to debug.
	Verbose bool
	// Human switches stderr to a console writer.
	Human bool
	// File, when set, receives every record at debug level as JSON lines.
	File string
}

// Init builds the process logger. The returned close function releases the
// log file, if any.
func Init(opts Options) (zerolog.Logger, func() error, error) {
	return initWith(os.Stderr, opts)
}

func initWith(stderr io.Writer, opts Options) (zerolog.Logger, func() error, error) {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	var console io.Writer = stderr
	if opts.Human {
		console = zerolog.ConsoleWriter{
			Out:        stderr,
			TimeFormat: time.RFC3339,
		}
	}
	writers := []io.Writer{&zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: console},
		Level:  level,
	}}

	closeFn := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return l, closeFn, nil
}
