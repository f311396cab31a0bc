package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled logger used throughout loadgen. Printf is reserved for
// the progress and status lines that are the program's actual output; they are
// always written, regardless of level.
type Logger interface {
	Printf(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
}

type logger struct {
	lr  *logrus.Logger
	mut sync.Mutex
	out io.Writer
}

// make sure it implements Logger
var _ Logger = (*logger)(nil)

// NewLogger returns a Logger at the given level (0=error, 1=warn, 2=info, 3=debug)
// writing leveled messages to stderr and status lines to stdout.
func NewLogger(level int) Logger {
	return newLoggerTo(level, os.Stderr, os.Stdout)
}

func newLoggerTo(level int, errw, outw io.Writer) *logger {
	lr := logrus.New()
	lr.SetOutput(errw)
	lr.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	switch {
	case level >= 3:
		lr.SetLevel(logrus.DebugLevel)
	case level == 2:
		lr.SetLevel(logrus.InfoLevel)
	case level == 1:
		lr.SetLevel(logrus.WarnLevel)
	default:
		lr.SetLevel(logrus.ErrorLevel)
	}
	return &logger{lr: lr, out: outw}
}

func (l *logger) Printf(format string, v ...interface{}) {
	// workers and the reporter print concurrently; keep lines whole
	l.mut.Lock()
	defer l.mut.Unlock()
	fmt.Fprintf(l.out, format, v...)
}

func (l *logger) Debug(format string, v ...interface{}) {
	l.lr.Debugf(format, v...)
}

func (l *logger) Info(format string, v ...interface{}) {
	l.lr.Infof(format, v...)
}

func (l *logger) Warn(format string, v ...interface{}) {
	l.lr.Warnf(format, v...)
}

func (l *logger) Error(format string, v ...interface{}) {
	l.lr.Errorf(format, v...)
}

func (l *logger) Fatal(format string, v ...interface{}) {
	l.lr.Fatalf(format, v...)
}
