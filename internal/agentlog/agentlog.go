// Package agentlog is the job-wide structured logger: a thin wrapper
// over log/slog that adds the severity levels slog itself doesn't
// define (Notice, Critical, Alert, Emergency) and a free-function
// Logf call in the teacher's fs.Errorf/fs.Infof style, so call sites
// read the same way a teacher backend's logging does rather than
// constructing slog.Record values inline.
package agentlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Extra severities above and below the ones log/slog defines natively
// (Debug=-4, Info=0, Warn=4, Error=8), mirroring the teacher's
// fs.SlogLevelNotice/Critical/Alert/Emergency spacing.
const (
	LevelNotice   = slog.Level(2)
	LevelCritical = slog.Level(12)
	LevelAlert    = slog.Level(16)
	LevelEmergency = slog.Level(20)
)

var levelNames = map[slog.Level]string{
	LevelNotice:    "NOTICE",
	LevelCritical:  "CRITICAL",
	LevelAlert:     "ALERT",
	LevelEmergency: "EMERGENCY",
}

// levelToString renders a level the way teacher logs do: the extra
// severities get their own name, everything else falls back to
// slog.Level.String().
func levelToString(l slog.Level) string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return l.String()
}

// replaceLevel renders the level attribute through levelToString, so
// the extra severities appear by their upper-case names (NOTICE,
// CRITICAL, ...) instead of slog's offset form, matching the teacher's
// mapLogLevelNames attr replacer.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lv, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelToString(lv))
		}
	}
	return a
}

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:       LevelNotice - 2, // admits Info and above by default
	ReplaceAttr: replaceLevel,
}))

// SetOutput replaces the process-wide logger's handler, e.g. to a
// JSON handler or a different writer. Intended for cmd/filed's CLI
// flags, not for per-call overrides.
func SetOutput(l *slog.Logger) { defaultLogger = l }

// object is anything with a String method. Logf also accepts a bare
// path string in its place, the way fs.Errorf accepts an fs.Object or
// a plain string interchangeably.
type object interface {
	String() string
}

// Logf formats and emits one log line at level, optionally scoped to
// o (nil when there is no single object the message is about). It is
// the free-function call site every package in this module uses
// instead of touching *slog.Logger directly.
func Logf(ctx context.Context, o any, level slog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o != nil {
		if obj, ok := o.(object); ok {
			msg = obj.String() + ": " + msg
		} else if s, ok := o.(string); ok && s != "" {
			msg = s + ": " + msg
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defaultLogger.Log(ctx, level, msg)
}

// Debugf, Infof, Noticef, Warnf, Errorf, Criticalf, Alertf, Emergencyf
// are the per-level convenience wrappers every call site actually
// uses, mirroring fs.Debugf/fs.Infof/fs.Errorf.
func Debugf(o any, format string, args ...any)     { Logf(nil, o, slog.LevelDebug, format, args...) }
func Infof(o any, format string, args ...any)      { Logf(nil, o, slog.LevelInfo, format, args...) }
func Noticef(o any, format string, args ...any)    { Logf(nil, o, LevelNotice, format, args...) }
func Warnf(o any, format string, args ...any)      { Logf(nil, o, slog.LevelWarn, format, args...) }
func Errorf(o any, format string, args ...any)     { Logf(nil, o, slog.LevelError, format, args...) }
func Criticalf(o any, format string, args ...any)  { Logf(nil, o, LevelCritical, format, args...) }
func Alertf(o any, format string, args ...any)     { Logf(nil, o, LevelAlert, format, args...) }
func Emergencyf(o any, format string, args ...any) { Logf(nil, o, LevelEmergency, format, args...) }
