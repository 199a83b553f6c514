package amqp

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp/internal/encoding"
)

// ErrCond is an AMQP defined error condition. See the AMQP 1.0 transport
// spec, §2.8.14, for the meaning of each value.
type ErrCond = encoding.ErrCond

// Error Conditions
const (
	// AMQP Errors
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	// Connection Errors
	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"

	// Session Errors
	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"

	// Link Errors
	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded   ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect          ErrCond = "amqp:link:redirect"
	ErrCondStolen                ErrCond = "amqp:link:stolen"

	// Transaction Errors (supplemented feature, see SPEC_FULL.md)
	ErrCondTransactionUnknownID        ErrCond = "amqp:transaction:unknown-id"
	ErrCondTransactionRollback         ErrCond = "amqp:transaction:rollback"
	ErrCondTransactionTimeout          ErrCond = "amqp:transaction:timeout"
)

// Error is the AMQP wire error type: a condition symbol plus optional
// description and info map.
type Error = encoding.Error

// DetachError is returned by a link (Receiver/Sender) when a detach frame
// is received. RemoteError is nil if the link was detached gracefully.
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("link detached, reason: %+v", e.RemoteError)
}

// Errors returned across package boundaries; wrapped with pkg/errors so
// callers can still pkgerrors.Cause() through a reattach/reconnect retry.
var (
	// ErrSessionClosed is propagated to Sender/Receivers when Session.Close
	// is called.
	ErrSessionClosed = pkgerrors.New("amqp: session closed")

	// ErrLinkClosed is returned by send and receive operations when
	// Sender.Close() or Receiver.Close() are called.
	ErrLinkClosed = pkgerrors.New("amqp: link closed")

	// ErrConnClosed is propagated to every Session/Sender/Receiver when the
	// connection has been closed by the local side.
	ErrConnClosed = pkgerrors.New("amqp: connection closed")

	// ErrTimeout is returned by blocking operations whose context deadline
	// expired while waiting on a corresponding frame.
	ErrTimeout = pkgerrors.New("amqp: timeout waiting for response")
)

// ConnectionError is propagated to Session and Sender/Receivers when the
// connection has been closed or is no longer functional.
type ConnectionError struct {
	inner error
}

func (c *ConnectionError) Error() string {
	if c.inner == nil {
		return "amqp: connection closed"
	}
	return c.inner.Error()
}

func (c *ConnectionError) Unwrap() error {
	return c.inner
}
