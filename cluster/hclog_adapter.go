package cluster

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// raftHCLogAdapter bridges hashicorp/raft's hclog.Logger interface to the
// process-wide zerolog.Logger, so Raft's internal heartbeat/election/apply
// chatter lands in the same structured log stream as the rest of the
// module instead of opening a second, unstructured log line format.
func raftHCLogAdapter(log zerolog.Logger) hclog.Logger {
	return &hclogBridge{log: log}
}

type hclogBridge struct {
	log  zerolog.Logger
	name string
}

func (b *hclogBridge) Log(level hclog.Level, msg string, args ...interface{}) {
	var ev *zerolog.Event
	switch level {
	case hclog.Trace, hclog.Debug:
		ev = b.log.Debug()
	case hclog.Warn:
		ev = b.log.Warn()
	case hclog.Error:
		ev = b.log.Error()
	default:
		ev = b.log.Info()
	}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			ev = ev.Interface(key, args[i+1])
		}
	}
	ev.Str("component", "raft").Msg(msg)
}

func (b *hclogBridge) Trace(msg string, args ...interface{}) { b.Log(hclog.Trace, msg, args...) }
func (b *hclogBridge) Debug(msg string, args ...interface{}) { b.Log(hclog.Debug, msg, args...) }
func (b *hclogBridge) Info(msg string, args ...interface{})  { b.Log(hclog.Info, msg, args...) }
func (b *hclogBridge) Warn(msg string, args ...interface{})  { b.Log(hclog.Warn, msg, args...) }
func (b *hclogBridge) Error(msg string, args ...interface{}) { b.Log(hclog.Error, msg, args...) }

func (b *hclogBridge) IsTrace() bool { return true }
func (b *hclogBridge) IsDebug() bool { return true }
func (b *hclogBridge) IsInfo() bool  { return true }
func (b *hclogBridge) IsWarn() bool  { return true }
func (b *hclogBridge) IsError() bool { return true }

func (b *hclogBridge) ImpliedArgs() []interface{} { return nil }

func (b *hclogBridge) With(args ...interface{}) hclog.Logger {
	ctx := b.log.With()
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			ctx = ctx.Interface(key, args[i+1])
		}
	}
	return &hclogBridge{log: ctx.Logger(), name: b.name}
}

func (b *hclogBridge) Name() string { return b.name }

func (b *hclogBridge) Named(name string) hclog.Logger {
	n := b.name
	if n != "" {
		n = n + "." + name
	} else {
		n = name
	}
	return &hclogBridge{log: b.log.With().Str("subsystem", n).Logger(), name: n}
}

func (b *hclogBridge) ResetNamed(name string) hclog.Logger {
	return &hclogBridge{log: b.log.With().Str("subsystem", name).Logger(), name: name}
}

func (b *hclogBridge) SetLevel(hclog.Level) {}

func (b *hclogBridge) GetLevel() hclog.Level { return hclog.Info }

func (b *hclogBridge) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(b.StandardWriter(opts), "", 0)
}

func (b *hclogBridge) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return zerologWriter{log: b.log}
}

type zerologWriter struct {
	log zerolog.Logger
}

func (w zerologWriter) Write(p []byte) (int, error) {
	w.log.Info().Str("component", "raft").Msg(string(p))
	return len(p), nil
}
