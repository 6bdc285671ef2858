package qube

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"

	cluelog "goa.design/clue/log"
)

// Logger is the interface used by qube to write log entries. It is kept
// deliberately small so that store, scripts and consumers can each declare
// their own structurally equivalent interface and accept a qube.Logger
// value without importing this package.
type Logger interface {
	// WithPrefix returns a logger that attaches the given key-value pairs
	// to every subsequent entry.
	WithPrefix(kvs ...any) Logger
	// Debug logs a debug message.
	Debug(msg string, kvs ...any)
	// Info logs an info message.
	Info(msg string, kvs ...any)
	// Error logs an error message.
	Error(err error, kvs ...any)
}

var (
	_ Logger = noopLogger{}
	_ Logger = (*stdLogger)(nil)
	_ Logger = (*clueLogger)(nil)
)

// NoopLogger returns a logger that discards everything it is given.
func NoopLogger() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) WithPrefix(_ ...any) Logger { return noopLogger{} }
func (noopLogger) Debug(string, ...any)       {}
func (noopLogger) Info(string, ...any)        {}
func (noopLogger) Error(error, ...any)        {}

// kv is an accumulated list of key/value pairs attached via WithPrefix.
// Both concrete backends below build on it instead of duplicating their
// own prefix bookkeeping.
type kv []any

func (p kv) with(more ...any) kv {
	return append(append(kv{}, p...), more...)
}

// join renders p as "k1=v1 k2=v2 ...", or "" if p is empty.
func (p kv) join() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p)/2)
	for i := 0; i+1 < len(p); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", p[i], p[i+1]))
	}
	return strings.Join(parts, " ")
}

// StdLogger adapts a standard library logger to the Logger interface. Each
// entry is a single line: level, message, any prefix attached via
// WithPrefix, then the call's own key-value pairs.
func StdLogger(out *stdlog.Logger) Logger { return &stdLogger{out: out} }

type stdLogger struct {
	out    *stdlog.Logger
	prefix kv
}

func (l *stdLogger) WithPrefix(kvs ...any) Logger {
	return &stdLogger{out: l.out, prefix: l.prefix.with(kvs...)}
}

func (l *stdLogger) emit(level, msg string, kvs kv) {
	line := fmt.Sprintf("[%s] %s", level, msg)
	if s := l.prefix.join(); s != "" {
		line += " " + s
	}
	if s := kvs.join(); s != "" {
		line += " " + s
	}
	l.out.Print(line)
}

func (l *stdLogger) Debug(msg string, kvs ...any) { l.emit("DEBUG", msg, kv(kvs)) }
func (l *stdLogger) Info(msg string, kvs ...any)  { l.emit("INFO", msg, kv(kvs)) }
func (l *stdLogger) Error(err error, kvs ...any)  { l.emit("ERROR", err.Error(), kv(kvs)) }

// ClueLogger adapts a context already carrying a clue logger (see
// goa.design/clue/log.Context) to the Logger interface.
func ClueLogger(ctx context.Context) Logger {
	cluelog.MustContainLogger(ctx)
	return &clueLogger{ctx: ctx}
}

type clueLogger struct {
	ctx    context.Context
	prefix kv
}

func (l *clueLogger) WithPrefix(kvs ...any) Logger {
	return &clueLogger{ctx: l.ctx, prefix: l.prefix.with(kvs...)}
}

func (l *clueLogger) fields(kvs kv) []cluelog.Fielder {
	all := l.prefix.with(kvs...)
	fields := make([]cluelog.Fielder, len(all)/2)
	for i := 0; i < len(all)/2; i++ {
		fields[i] = cluelog.KV{K: all[2*i].(string), V: all[2*i+1]}
	}
	return fields
}

func (l *clueLogger) Debug(msg string, kvs ...any) {
	cluelog.Debug(l.ctx, l.fields(kv{"msg", msg}.with(kvs...))...)
}

func (l *clueLogger) Info(msg string, kvs ...any) {
	cluelog.Info(l.ctx, l.fields(kv{"msg", msg}.with(kvs...))...)
}

func (l *clueLogger) Error(err error, kvs ...any) {
	cluelog.Error(l.ctx, err, l.fields(kv(kvs))...)
}
