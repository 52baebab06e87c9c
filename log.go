package radix

import "github.com/mediocregopher/mediocre-go-lib/mlog"

// Logger is the narrow logging facade Conn, Pool and PubSub accept. A nil
// Logger is legal everywhere and silences all log output.
type Logger interface {
	Debugf(msg string, kv map[string]interface{})
	Infof(msg string, kv map[string]interface{})
	Errorf(msg string, kv map[string]interface{})
}

func logDebugf(l Logger, msg string, kv map[string]interface{}) {
	if l != nil {
		l.Debugf(msg, kv)
	}
}

func logInfof(l Logger, msg string, kv map[string]interface{}) {
	if l != nil {
		l.Infof(msg, kv)
	}
}

func logErrorf(l Logger, msg string, kv map[string]interface{}) {
	if l != nil {
		l.Errorf(msg, kv)
	}
}

// mlogLogger adapts mediocre-go-lib's mlog.Logger to the Logger interface.
// It is used only where a caller passes NewMLogLogger's result; nothing
// falls back to it when no Logger is configured.
type mlogLogger struct {
	l *mlog.Logger
}

// NewMLogLogger wraps an *mlog.Logger (or mlog.DefaultLogger if l is nil)
// as a Logger.
func NewMLogLogger(l *mlog.Logger) Logger {
	if l == nil {
		l = mlog.DefaultLogger
	}
	return mlogLogger{l: l}
}

func toKVer(kv map[string]interface{}) mlog.KV {
	return mlog.KV(kv)
}

func (m mlogLogger) Debugf(msg string, kv map[string]interface{}) {
	m.l.Debug(msg, toKVer(kv))
}

func (m mlogLogger) Infof(msg string, kv map[string]interface{}) {
	m.l.Info(msg, toKVer(kv))
}

func (m mlogLogger) Errorf(msg string, kv map[string]interface{}) {
	m.l.Error(msg, toKVer(kv))
}
