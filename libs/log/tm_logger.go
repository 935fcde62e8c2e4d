package log

import (
	"io"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

const (
	msgKey    = "_msg" // "_" prefixed to avoid collisions
	moduleKey = "module"
)

type tmLogger struct {
	srcLogger kitlog.Logger
}

// Interface assertions
var _ Logger = (*tmLogger)(nil)

// NewTMLogger returns a logger that encodes msg and keyvals to the Writer
// using go-kit's log as an underlying logger and our custom formatter.
//
// Lines are colored by level only when w is a terminal. The node usually
// captures a plugin's stderr into its own log file, where escape codes are
// noise.
func NewTMLogger(w io.Writer) Logger {
	if !term.IsTerminal(w) {
		return &tmLogger{NewTMFmtLogger(w)}
	}
	return &tmLogger{term.NewLogger(w, NewTMFmtLogger, levelColor)}
}

func levelColor(keyvals ...interface{}) term.FgBgColor {
	if len(keyvals) < 2 || keyvals[0] != kitlevel.Key() {
		return term.FgBgColor{}
	}
	lvl, ok := keyvals[1].(kitlevel.Value)
	if !ok {
		return term.FgBgColor{}
	}
	switch lvl.String() {
	case "debug":
		return term.FgBgColor{Fg: term.Gray}
	case "error":
		return term.FgBgColor{Fg: term.Red}
	default:
		return term.FgBgColor{}
	}
}

// Info logs a message at level Info.
func (l *tmLogger) Info(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Info(l.srcLogger), msg, keyvals)
}

// Debug logs a message at level Debug.
func (l *tmLogger) Debug(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Debug(l.srcLogger), msg, keyvals)
}

// Error logs a message at level Error.
func (l *tmLogger) Error(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Error(l.srcLogger), msg, keyvals)
}

// log writes one record; an encoding failure is reported once at level Error
// with the message kept.
func (l *tmLogger) log(leveled kitlog.Logger, msg string, keyvals []interface{}) {
	if err := kitlog.With(leveled, msgKey, msg).Log(keyvals...); err != nil {
		kitlog.With(kitlevel.Error(l.srcLogger), msgKey, msg).Log("err", err) //nolint:errcheck // nowhere left to report
	}
}

// With returns a new contextual logger with keyvals prepended to those passed
// to calls to Info, Debug or Error.
func (l *tmLogger) With(keyvals ...interface{}) Logger {
	return &tmLogger{kitlog.With(l.srcLogger, keyvals...)}
}
