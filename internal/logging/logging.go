// Package logging builds the component loggers used across a run.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 5
	MaxAgeDays = 28
)

// Sink is the shared destination for every component logger.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New returns a Sink writing to stderr and, when path is non-empty, to a
// size-rotated file.
func New(path string) *Sink {
	return newSink(os.Stderr, path)
}

func newSink(console io.Writer, path string) *Sink {
	if path == "" {
		return &Sink{out: console}
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}
	return &Sink{out: io.MultiWriter(console, file), file: file}
}

// Logger returns a logger with a bracketed component prefix, e.g. "[ftp] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer { return s.out }

// Close flushes and closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
