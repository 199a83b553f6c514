// Package debug centralizes the library's internal logging so every layer
// (conn, session, link) logs through one configurable sink instead of
// writing to stderr directly.
package debug

import (
	"context"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	// Silent by default: a library shouldn't write to stderr until the
	// embedding application opts in via RegisterLogger.
	logger.SetOutput(noopWriter{})
}

// RegisterLogger directs all subsequent Log/Assert calls to l, replacing the
// default silent sink. Embedding applications call this once at startup.
func RegisterLogger(l *logrus.Logger) {
	logger = l
}

// Log writes a structured log entry at level, attaching fields as
// alternating key/value pairs (args[0], args[1], args[2], args[3], ...).
func Log(ctx context.Context, level logrus.Level, msg string, args ...interface{}) {
	logger.WithContext(ctx).WithFields(pairsToFields(args)).Log(level, msg)
}

// Assert logs an error-level entry if condition is false, carrying the same
// optional key/value fields as Log.
func Assert(ctx context.Context, condition bool, args ...interface{}) {
	if !condition {
		logger.WithContext(ctx).WithFields(pairsToFields(args)).Error("assertion failed")
	}
}

func pairsToFields(args []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
