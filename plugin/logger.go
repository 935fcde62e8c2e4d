package plugin

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/go-logfmt/logfmt"

	"github.com/celestiaorg/mppay/libs/log"
)

// Log levels understood by the node's log notification.
const (
	hostLevelDebug   = "debug"
	hostLevelInfo    = "info"
	hostLevelUnusual = "unusual"
)

type logLevel int32

const (
	levelDebug logLevel = iota
	levelInfo
	levelError
	levelNone
)

func parseLogLevel(s string) (logLevel, error) {
	switch s {
	case "debug":
		return levelDebug, nil
	case "info":
		return levelInfo, nil
	case "error":
		return levelError, nil
	case "none":
		return levelNone, nil
	default:
		return 0, fmt.Errorf("expected either \"info\", \"debug\", \"error\" or \"none\" level, given %s", s)
	}
}

// hostSink is where HostLogger forwards log lines once the node is
// listening.
type hostSink interface {
	notifyLog(level, message string)
}

// HostLogger logs locally and, after init, into the node's own log through
// log notifications. Its level can be changed at runtime, which is how the
// mpp-log-level option takes effect.
type HostLogger struct {
	local   log.Logger
	level   *atomic.Int32
	sink    *atomic.Pointer[hostSinkHolder]
	keyvals []interface{}
}

type hostSinkHolder struct{ sink hostSink }

var _ log.Logger = (*HostLogger)(nil)

// NewHostLogger returns a logger writing to local at the given level.
func NewHostLogger(local log.Logger, level string) (*HostLogger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	l := &HostLogger{
		local: local,
		level: new(atomic.Int32),
		sink:  new(atomic.Pointer[hostSinkHolder]),
	}
	l.level.Store(int32(lvl))
	return l, nil
}

// SetLevel changes the level of this logger and every logger derived from
// it with With.
func (l *HostLogger) SetLevel(level string) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	l.level.Store(int32(lvl))
	return nil
}

func (l *HostLogger) attach(sink hostSink) {
	if sink == nil {
		l.sink.Store(nil)
		return
	}
	l.sink.Store(&hostSinkHolder{sink: sink})
}

func (l *HostLogger) enabled(lvl logLevel) bool {
	return lvl >= logLevel(l.level.Load())
}

func (l *HostLogger) Debug(msg string, keyvals ...interface{}) {
	if !l.enabled(levelDebug) {
		return
	}
	l.local.Debug(msg, keyvals...)
	l.forward(hostLevelDebug, msg, keyvals)
}

func (l *HostLogger) Info(msg string, keyvals ...interface{}) {
	if !l.enabled(levelInfo) {
		return
	}
	l.local.Info(msg, keyvals...)
	l.forward(hostLevelInfo, msg, keyvals)
}

func (l *HostLogger) Error(msg string, keyvals ...interface{}) {
	if !l.enabled(levelError) {
		return
	}
	l.local.Error(msg, keyvals...)
	l.forward(hostLevelUnusual, msg, keyvals)
}

func (l *HostLogger) With(keyvals ...interface{}) log.Logger {
	return &HostLogger{
		local:   l.local.With(keyvals...),
		level:   l.level,
		sink:    l.sink,
		keyvals: append(append([]interface{}{}, l.keyvals...), keyvals...),
	}
}

func (l *HostLogger) forward(level, msg string, keyvals []interface{}) {
	h := l.sink.Load()
	if h == nil {
		return
	}
	h.sink.notifyLog(level, formatMessage(msg, append(append([]interface{}{}, l.keyvals...), keyvals...)))
}

// formatMessage renders msg followed by keyvals in logfmt.
func formatMessage(msg string, keyvals []interface{}) string {
	if len(keyvals) == 0 {
		return msg
	}
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, nil)
	}

	var buf bytes.Buffer
	buf.WriteString(msg + " ")
	enc := logfmt.NewEncoder(&buf)
	for i := 0; i < len(keyvals); i += 2 {
		k, v := keyvals[i], keyvals[i+1]
		if b, ok := v.([]byte); ok {
			v = fmt.Sprintf("%X", b)
		}
		err := enc.EncodeKeyval(k, v)
		if err == logfmt.ErrUnsupportedValueType {
			enc.EncodeKeyval(k, fmt.Sprintf("%+v", v)) //nolint:errcheck // no need to check error again
		}
	}
	return buf.String()
}
