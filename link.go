package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/amqp-proto/go-amqp/internal/debug"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
	"github.com/amqp-proto/go-amqp/internal/shared"
)

// linkKey uniquely identifies a link within a connection: its name plus the
// role this end plays (spec.md §3 "Link context").
type linkKey struct {
	name string
	role encoding.Role
}

// link is the state shared by Sender and Receiver: attach/detach FSM,
// credit accounting, and the reattach policy (spec.md §4.7).
type link struct {
	key    linkKey
	handle uint32 // local handle, assigned by the session
	session *Session

	source *encoding.Source
	target *encoding.Target

	dynamicAddr bool

	senderSettleMode   *SenderSettleMode
	receiverSettleMode *ReceiverSettleMode
	maxMessageSize     uint64
	properties         map[encoding.Symbol]interface{}

	linkCredit    uint32
	deliveryCount uint32

	// Messages buffers reassembled deliveries for a receiving link; it is
	// nil on a Sender. Its capacity is the receiver's credit window, so a
	// manualCreditor checks against cap(Messages) before issuing more
	// credit than the buffer could hold (spec.md §4.9 "Manual credit").
	Messages chan *Message

	reattach *ReattachPolicy

	rx    chan frames.FrameBody // frames.go performatives addressed to this handle
	close chan struct{}        // closed by Close to unwind the mux
	done  chan struct{}        // closed once the mux has exited

	detached    chan struct{} // closed once the link reaches DETACHED terminally
	detachError *encoding.Error
	err         error
}

// attachLink assigns a handle, sends the attach performative (customized by
// beforeSend), registers the link with session, and waits for the peer's
// matching attach (customized via afterRecv) or ctx cancellation.
func (l *link) attachLink(ctx context.Context, s *Session, beforeSend, afterRecv func(*frames.PerformAttach)) error {
	l.session = s
	l.close = make(chan struct{})
	l.done = make(chan struct{})
	l.detached = make(chan struct{})

	handle, err := s.allocateHandle(l)
	if err != nil {
		return err
	}
	l.handle = handle

	attach := &frames.PerformAttach{
		Name:                 l.key.name,
		Handle:               l.handle,
		SenderSettleMode:     l.senderSettleMode,
		ReceiverSettleMode:   l.receiverSettleMode,
		Source:               l.source,
		Target:               l.target,
		InitialDeliveryCount: l.deliveryCount,
		MaxMessageSize:       l.maxMessageSize,
		Properties:           l.properties,
	}
	if beforeSend != nil {
		beforeSend(attach)
	}

	if err := s.txFrame(attach, nil); err != nil {
		s.freeHandle(l.handle)
		return err
	}

	select {
	case fr := <-l.rx:
		pa, ok := fr.(*frames.PerformAttach)
		if !ok {
			s.freeHandle(l.handle)
			return fmt.Errorf("amqp: expected attach response, got %T", fr)
		}
		// s.linksByRemoteHandle is already populated by
		// Session.handleFrame's PerformAttach case, which had to
		// correlate this exact reply by name before it could even route
		// it here.
		if afterRecv != nil {
			afterRecv(pa)
		}
		if pa.InitialDeliveryCount != 0 && l.key.role == encoding.RoleReceiver {
			l.deliveryCount = pa.InitialDeliveryCount
		}
		debug.Log(ctx, 4, "attached", "link", l.key.name, "handle", l.handle)
		return nil
	case <-s.done:
		return s.err
	case <-ctx.Done():
		s.freeHandle(l.handle)
		return ctx.Err()
	}
}

// closeLink sends detach(closed=true), waits for the peer's detach, and
// unwinds the mux goroutine.
func (l *link) closeLink(ctx context.Context) error {
	select {
	case <-l.close:
		// already closing
	default:
		close(l.close)
	}

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if l.detachError != nil {
		return &DetachError{RemoteError: l.detachError}
	}
	return nil
}

// muxDetach runs once, from the link's mux goroutine, on every exit path: it
// sends a detach frame (unless forced by transport loss), records the
// terminal error, and unblocks closeLink/Send/Receive callers.
func (l *link) muxDetach(detachError *encoding.Error, sendErr error) {
	defer close(l.done)
	defer close(l.detached)

	select {
	case <-l.session.done:
		// session already gone; no point sending a detach frame.
	default:
		fr := &frames.PerformDetach{Handle: l.handle, Closed: true, Error: detachError}
		_ = l.session.txFrame(fr, nil)
	}

	l.session.delete(l)
	l.detachError = detachError
	if l.err == nil {
		l.err = sendErr
	}
}

// muxHandleFrame processes frame types common to both Sender and Receiver;
// Sender/Receiver call this from their own muxHandleFrame default case.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformDetach:
		if fr.Error != nil {
			return fr.Error
		}
		if !fr.Closed {
			return nil
		}
		return ErrLinkClosed
	default:
		return fmt.Errorf("amqp: unexpected frame type %T", fr)
	}
}

// reattachBackoff builds a cenkalti/backoff policy from the link's
// ReattachPolicy (spec.md §4.7 "Reattach policy" / §5 "Reattach backoff").
func (l *link) reattachBackoff() backoff.BackOff {
	policy := l.reattach
	if policy == nil {
		policy = &ReattachPolicy{}
	}
	min := time.Duration(policy.MinInterval) * time.Millisecond
	if min <= 0 {
		min = 300 * time.Millisecond
	}
	max := time.Duration(policy.MaxInterval) * time.Millisecond
	if max <= 0 {
		max = time.Minute
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = min
	eb.MaxInterval = max
	eb.Multiplier = 1.6180339887 // Fibonacci-like growth per spec.md's fibonacci series

	if policy.Forever {
		eb.MaxElapsedTime = 0 // never returns Stop
		return eb
	}
	retries := uint64(policy.Retries)
	if retries == 0 {
		retries = 3
	}
	return backoff.WithMaxRetries(eb, retries)
}

// newLinkName generates a random per-attach link name, sidestepping the
// delivery-tag-collision-across-reattach Open Question (SPEC_FULL.md §9):
// a fresh name means a fresh remote-side unsettled map rather than one the
// peer might conflate with a stale attach.
func newLinkName() string {
	return shared.RandString(40)
}
