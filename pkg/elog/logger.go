package elog

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"
)

type LogLevel uint32

const (
	ErrorLevel LogLevel = LogLevel(logrus.ErrorLevel)
	WarnLevel  LogLevel = LogLevel(logrus.WarnLevel)
	InfoLevel  LogLevel = LogLevel(logrus.InfoLevel)
	DebugLevel LogLevel = LogLevel(logrus.DebugLevel)
	TraceLevel LogLevel = LogLevel(logrus.TraceLevel)
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	IsLogLevelEnabled(level LogLevel) bool
	Logf(level LogLevel, format string, args ...interface{})
	Scoped(scope string) Logger
	Tracef(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type CLI struct {
	*logrus.Entry
}

// NewCLI wraps the standard logrus logger. The caller is expected to have
// configured the formatter and level already.
func NewCLI() *CLI {
	return &CLI{
		Entry: logrus.NewEntry(logrus.StandardLogger()),
	}
}

func (log *CLI) IsLogLevelEnabled(level LogLevel) bool {
	return log.Entry.Logger.IsLevelEnabled(logrus.Level(level))
}

func (log *CLI) Logf(level LogLevel, format string, args ...interface{}) {
	log.Entry.Logf(logrus.Level(level), format, args...)
}

func (log *CLI) Scoped(scope string) Logger {
	return &CLI{
		Entry: log.Entry.WithField("scope", scope),
	}
}

// Discard returns a logger that swallows everything. Useful in tests and as
// a default when the caller provides no logger.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return &CLI{
		Entry: logrus.NewEntry(l),
	}
}
