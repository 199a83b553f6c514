package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/amqp-proto/go-amqp/internal/bitmap"
	"github.com/amqp-proto/go-amqp/internal/debug"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

const defaultWindow = 5000

// SessionOptions configures Conn.NewSession.
type SessionOptions struct {
	// IncomingWindow is the number of transfers the session authorizes the
	// peer to send before a flow frame is required (spec.md §4.6).
	IncomingWindow uint32
	// OutgoingWindow is the number of transfers this session may emit
	// before waiting for session-level credit.
	OutgoingWindow uint32
	// MaxLinks caps concurrent links on this session (handle-max).
	MaxLinks uint32
	// IdleFlowInterval is recorded on the Session but does not drive any
	// timer: the session sends no periodic flow frame, whatever its value.
	IdleFlowInterval uint32 // milliseconds
}

// Session is an AMQP session: a sequence-numbered, flow-controlled channel
// multiplexing links (spec.md §4.6).
type Session struct {
	conn *Conn

	channel       uint16
	remoteChannel *uint16

	nextOutgoingID uint32
	nextIncomingID uint32

	incomingWindow uint32
	outgoingWindow uint32

	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32

	nextDeliveryID uint32

	mu                  sync.Mutex
	handles             *bitmap.Bitmap
	linksByHandle       map[uint32]*link
	linksByRemoteHandle map[uint32]*link

	// pendingAttachByName holds links that have sent an attach and are
	// waiting for the peer's matching attach reply. The reply's Handle is
	// the peer's own handle for the link — not ours — so it cannot be
	// used to look the link back up; Name is the only field both sides
	// agree on before linksByRemoteHandle exists for this link (spec.md
	// §3 "Handle").
	pendingAttachByName map[string]*link

	rx        chan frames.FrameBody
	txTransfer chan *frames.PerformTransfer
	txFrames  chan frameEnvelope

	close chan struct{}
	done  chan struct{}
	err   error

	idleFlowInterval uint32
}

type frameEnvelope struct {
	body frames.FrameBody
	done chan struct{}
}

func newSession(c *Conn, channel uint16, opts *SessionOptions) *Session {
	s := &Session{
		conn:                c,
		channel:             channel,
		incomingWindow:      defaultWindow,
		outgoingWindow:      defaultWindow,
		linksByHandle:       make(map[uint32]*link),
		linksByRemoteHandle: make(map[uint32]*link),
		pendingAttachByName: make(map[string]*link),
		rx:                  make(chan frames.FrameBody, 1),
		txTransfer:          make(chan *frames.PerformTransfer),
		txFrames:            make(chan frameEnvelope),
		close:               make(chan struct{}),
		done:                make(chan struct{}),
	}
	maxLinks := uint32(4294967295)
	if opts != nil {
		if opts.IncomingWindow != 0 {
			s.incomingWindow = opts.IncomingWindow
		}
		if opts.OutgoingWindow != 0 {
			s.outgoingWindow = opts.OutgoingWindow
		}
		if opts.MaxLinks != 0 {
			maxLinks = opts.MaxLinks
		}
		s.idleFlowInterval = opts.IdleFlowInterval
	}
	s.handles = bitmap.New(maxLinks)
	return s
}

func (s *Session) begin(ctx context.Context) error {
	begin := &frames.PerformBegin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
	}
	if err := s.conn.txFrame(s.channel, begin); err != nil {
		return err
	}

	select {
	case fr := <-s.rx:
		pb, ok := fr.(*frames.PerformBegin)
		if !ok {
			return fmt.Errorf("amqp: expected begin response, got %T", fr)
		}
		// s.remoteChannel is already set by Conn.dispatchSessionFrame,
		// which had to learn it from the frame header before it could
		// even route this reply here.
		s.nextIncomingID = pb.NextOutgoingID
		s.remoteIncomingWindow = pb.IncomingWindow
		s.remoteOutgoingWindow = pb.OutgoingWindow
		go s.mux()
		return nil
	case <-s.conn.done:
		return s.conn.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allocateHandle claims the lowest free handle for l, registers it, and
// marks it pending an attach reply correlated by name (see
// pendingAttachByName).
func (s *Session) allocateHandle(l *link) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles.Next()
	if !ok {
		return 0, fmt.Errorf("amqp: session handle-max exceeded")
	}
	l.rx = make(chan frames.FrameBody, 1)
	s.linksByHandle[h] = l
	s.pendingAttachByName[l.key.name] = l
	return h, nil
}

func (s *Session) freeHandle(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.linksByHandle[h]; ok {
		delete(s.pendingAttachByName, l.key.name)
	}
	s.handles.Remove(h)
	delete(s.linksByHandle, h)
}

// delete removes l from both handle tables, e.g. once it has detached.
func (s *Session) delete(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles.Remove(l.handle)
	delete(s.linksByHandle, l.handle)
	for rh, v := range s.linksByRemoteHandle {
		if v == l {
			delete(s.linksByRemoteHandle, rh)
		}
	}
}

// txFrame serializes fr onto the session's channel, blocking until the
// connection's writer goroutine has accepted it or done is closed. If done
// is non-nil, it is closed once the write completes.
func (s *Session) txFrame(fr frames.FrameBody, done chan struct{}) error {
	select {
	case s.txFrames <- frameEnvelope{body: fr, done: done}:
		return nil
	case <-s.done:
		return s.err
	}
}

// NewSender attaches a new sending link to target.
func (s *Session) NewSender(ctx context.Context, target string, opts *SenderOptions) (*Sender, error) {
	snd, err := newSender(target, s, opts)
	if err != nil {
		return nil, err
	}
	if err := snd.attach(ctx, s); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver attaches a new receiving link to source.
func (s *Session) NewReceiver(ctx context.Context, source string, opts *ReceiverOptions) (*Receiver, error) {
	rcv, err := newReceiver(source, s, opts)
	if err != nil {
		return nil, err
	}
	if err := rcv.attach(ctx, s); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Close ends the session gracefully, detaching all remaining links.
func (s *Session) Close(ctx context.Context) error {
	select {
	case <-s.close:
	default:
		close(s.close)
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mux is the session's single-threaded reactor: it owns the window
// bookkeeping and demuxes frames by handle to the addressed link.
func (s *Session) mux() {
	defer close(s.done)

	for {
		// Gate new transfers on session-level flow control: a sender MUST
		// NOT emit a transfer that would drive remoteIncomingWindow below
		// zero (spec.md §4.6/§4.8 "canSend()"). Disabling the case (nil
		// channel) rather than reading-then-rejecting keeps the send
		// blocked, not dropped, until a flow frame restores window —
		// mirroring how sender.mux gates outgoingTransfers on linkCredit.
		var txTransfer chan *frames.PerformTransfer
		if s.remoteIncomingWindow > 0 {
			txTransfer = s.txTransfer
		} else {
			debug.Log(context.Background(), 3, "session: remoteIncomingWindow exhausted, stalling new transfers")
		}

		select {
		case fr := <-s.rx:
			if err := s.handleFrame(fr); err != nil {
				s.err = err
				return
			}

		case tr := <-txTransfer:
			if tr.DeliveryID != nil {
				s.nextOutgoingID++
				s.remoteIncomingWindow--
			}
			s.outgoingWindow--
			if err := s.conn.txFrame(s.channel, tr); err != nil {
				s.err = err
				return
			}

		case env := <-s.txFrames:
			if err := s.conn.txFrame(s.channel, env.body); err != nil {
				s.err = err
				return
			}
			if env.done != nil {
				close(env.done)
			}

		case <-s.close:
			end := &frames.PerformEnd{}
			_ = s.conn.txFrame(s.channel, end)
			s.err = ErrSessionClosed
			return

		case <-s.conn.done:
			s.err = s.conn.err
			return
		}
	}
}

func (s *Session) handleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		if fr.NextIncomingID != nil {
			s.remoteIncomingWindow = *fr.NextIncomingID + fr.IncomingWindow - s.nextOutgoingID
		} else {
			s.remoteIncomingWindow = fr.IncomingWindow
		}
		s.remoteOutgoingWindow = fr.OutgoingWindow
		if fr.Handle != nil {
			if l, ok := s.linksByRemoteHandle[*fr.Handle]; ok {
				s.deliverTo(l, fr)
				return nil
			}
		}
		if fr.Echo {
			return s.conn.txFrame(s.channel, s.flowFrame())
		}
		return nil

	case *frames.PerformTransfer:
		s.incomingWindow--
		s.remoteOutgoingWindow--
		if fr.DeliveryID != nil {
			s.nextIncomingID = *fr.DeliveryID + 1
		}
		if l, ok := s.linksByRemoteHandle[fr.Handle]; ok {
			s.deliverTo(l, fr)
		}
		if s.incomingWindow == 0 {
			s.incomingWindow = defaultWindow
			return s.conn.txFrame(s.channel, s.flowFrame())
		}
		return nil

	case *frames.PerformDisposition:
		// dispositions are keyed by delivery-id range; fan out to every
		// link, which ignores ranges it doesn't recognize.
		s.mu.Lock()
		links := make([]*link, 0, len(s.linksByHandle))
		for _, l := range s.linksByHandle {
			links = append(links, l)
		}
		s.mu.Unlock()
		for _, l := range links {
			s.deliverTo(l, fr)
		}
		return nil

	case *frames.PerformAttach:
		// Correlate by name: fr.Handle is the peer's own handle for this
		// link, which we have no table for until this exact frame
		// registers one (spec.md §3 "Handle").
		s.mu.Lock()
		l, ok := s.pendingAttachByName[fr.Name]
		if ok {
			delete(s.pendingAttachByName, fr.Name)
			s.linksByRemoteHandle[fr.Handle] = l
		}
		s.mu.Unlock()
		if ok {
			s.deliverTo(l, fr)
		}
		return nil

	case *frames.PerformDetach:
		if l, ok := s.linksByRemoteHandle[fr.Handle]; ok {
			s.deliverTo(l, fr)
		}
		return nil

	case *frames.PerformEnd:
		return ErrSessionClosed

	default:
		return fmt.Errorf("amqp: unexpected frame on session: %T", fr)
	}
}

func (s *Session) deliverTo(l *link, fr frames.FrameBody) {
	select {
	case l.rx <- fr:
	case <-l.done:
	}
}

func (s *Session) flowFrame() *frames.PerformFlow {
	nextIncomingID := s.nextIncomingID
	return &frames.PerformFlow{
		NextIncomingID: &nextIncomingID,
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.outgoingWindow,
	}
}

