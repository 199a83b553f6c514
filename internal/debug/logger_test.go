package debug

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	for _, testcase := range []struct {
		name  string
		level logrus.Level
		wants int
	}{
		{
			name:  "UnfilteredLevel",
			level: logrus.DebugLevel,
			wants: 4,
		},
		{
			name:  "DefaultLevelInfo",
			level: logrus.InfoLevel,
			wants: 3,
		},
		{
			name:  "ErrorOnly",
			level: logrus.ErrorLevel,
			wants: 1,
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			ctx := context.Background()
			buf := bytes.NewBuffer(nil)

			l := logrus.New()
			l.SetOutput(buf)
			l.SetLevel(testcase.level)
			l.SetFormatter(&logrus.JSONFormatter{})
			RegisterLogger(l)

			Log(ctx, logrus.DebugLevel, "debug")
			Log(ctx, logrus.InfoLevel, "info")
			Log(ctx, logrus.WarnLevel, "warn")
			Log(ctx, logrus.ErrorLevel, "error")

			require.Equal(t, testcase.wants, bytes.Count(buf.Bytes(), []byte("\n")))
		})
	}
}

func TestAssert(t *testing.T) {
	for _, testcase := range []struct {
		name       string
		comparison bool
		wants      bool
	}{
		{
			name:       "ComparisonIsTrue",
			comparison: true,
			wants:      false,
		},
		{
			name:       "ComparisonIsFalse",
			comparison: false,
			wants:      true,
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			ctx := context.Background()
			buf := bytes.NewBuffer(nil)

			l := logrus.New()
			l.SetOutput(buf)
			l.SetFormatter(&logrus.JSONFormatter{})
			RegisterLogger(l)

			Assert(ctx, testcase.comparison)

			require.Equal(t, testcase.wants, buf.Len() > 0)
		})
	}
}
