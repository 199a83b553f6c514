package amqp

import (
	"github.com/sirupsen/logrus"

	"github.com/amqp-proto/go-amqp/internal/debug"
)

// RegisterLogger configures the library's internal logger with l.
//
// By default the library logs nowhere; embedding applications that want
// wire-level tracing call this once at startup.
func RegisterLogger(l *logrus.Logger) {
	debug.RegisterLogger(l)
}
