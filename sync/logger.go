package sync

import "log"

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// DiscardLogger drops every message.
var DiscardLogger Logger = discardLogger{}

func loggerOrDefault(l Logger) Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
