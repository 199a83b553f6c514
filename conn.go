package amqp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp/internal/bitmap"
	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/debug"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// connState is the connection's FSM state (spec.md §4.5).
type connState int

const (
	connStateDisconnected connState = iota
	connStateStart
	connStateInSASL
	connStateHdrRcvd
	connStateHdrSent
	connStateHdrExch
	connStateOpenRcvd
	connStateOpenSent
	connStateOpened
	connStateCloseRcvd
	connStateCloseSent
	connStateDiscarding
	connStateDisconnecting
	connStateEnd
)

func (s connState) String() string {
	switch s {
	case connStateDisconnected:
		return "DISCONNECTED"
	case connStateStart:
		return "START"
	case connStateInSASL:
		return "IN_SASL"
	case connStateHdrRcvd:
		return "HDR_RCVD"
	case connStateHdrSent:
		return "HDR_SENT"
	case connStateHdrExch:
		return "HDR_EXCH"
	case connStateOpenRcvd:
		return "OPEN_RCVD"
	case connStateOpenSent:
		return "OPEN_SENT"
	case connStateOpened:
		return "OPENED"
	case connStateCloseRcvd:
		return "CLOSE_RCVD"
	case connStateCloseSent:
		return "CLOSE_SENT"
	case connStateDiscarding:
		return "DISCARDING"
	case connStateDisconnecting:
		return "DISCONNECTING"
	default:
		return "END"
	}
}

// ConnOptions configures Dial.
type ConnOptions struct {
	ContainerID  string
	HostName     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[string]interface{}

	// SASLType selects and configures the SASL tunnel (spec.md §4.4); nil
	// disables SASL and sends the AMQP header directly.
	SASLType SASLType

	// TLSConfig, if non-nil, is used by the amqps/wss schemes.
	TLSConfig *tls.Config
}

// Conn is a single AMQP connection: version negotiation, optional SASL
// tunnel, the open/close handshake, heartbeats, and channel multiplexing
// over one transport byte stream (spec.md §4.5).
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader

	containerID  string
	hostname     string
	maxFrameSize uint32
	channelMax   uint16
	idleTimeout  time.Duration

	PeerMaxFrameSize uint32

	state   connState
	stateMu sync.Mutex

	channels          *bitmap.Bitmap
	mu                sync.Mutex
	sessionsByChannel map[uint16]*Session

	// sessionsByRemoteChannel indexes sessions by the channel number the
	// peer chose for its own side, learned from the remote-channel field
	// of the peer's begin reply (spec.md §4.6 "Channel mapping" — each
	// endpoint assigns its own channel independently). Every frame after
	// the begin exchange is dispatched through this table, not
	// sessionsByChannel, since header.Channel on an inbound frame is
	// always the peer's channel number.
	sessionsByRemoteChannel map[uint16]*Session

	txCh chan txEnvelope

	lastOutgoing time.Time
	lastIncoming time.Time
	activityMu   sync.Mutex

	done chan struct{}
	err  error

	saslType SASLType
}

type txEnvelope struct {
	channel uint16
	body    frames.FrameBody
	done    chan struct{}
}

// Dial establishes a TCP (or TLS, for amqps) connection to addr and performs
// protocol negotiation, optional SASL, and the open handshake.
func Dial(ctx context.Context, addr string, opts *ConnOptions) (*Conn, error) {
	if opts == nil {
		opts = &ConnOptions{}
	}
	nc, host, err := dialTransport(ctx, addr, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "amqp: dial")
	}
	return newConn(ctx, nc, host, opts)
}

// NewConn wraps an already-established net.Conn (e.g. a wss transport),
// performing the same negotiation Dial does.
func NewConn(ctx context.Context, nc net.Conn, opts *ConnOptions) (*Conn, error) {
	if opts == nil {
		opts = &ConnOptions{}
	}
	return newConn(ctx, nc, opts.HostName, opts)
}

func newConn(ctx context.Context, nc net.Conn, host string, opts *ConnOptions) (*Conn, error) {
	if opts == nil {
		opts = &ConnOptions{}
	}
	c := &Conn{
		netConn:           nc,
		reader:            bufio.NewReaderSize(nc, 32*1024),
		containerID:       opts.ContainerID,
		hostname:          host,
		maxFrameSize:      opts.MaxFrameSize,
		channelMax:        opts.ChannelMax,
		idleTimeout:       opts.IdleTimeout,
		PeerMaxFrameSize:  frames.DefaultMaxFrameSize,
		state:                   connStateStart,
		sessionsByChannel:       make(map[uint16]*Session),
		sessionsByRemoteChannel: make(map[uint16]*Session),
		txCh:                    make(chan txEnvelope),
		done:              make(chan struct{}),
		saslType:          opts.SASLType,
	}
	if opts.HostName != "" {
		c.hostname = opts.HostName
	}
	if c.maxFrameSize < frames.MinMaxFrameSize {
		c.maxFrameSize = frames.DefaultMaxFrameSize
	}
	if c.channelMax == 0 {
		c.channelMax = 65535
	}
	c.channels = bitmap.New(uint32(c.channelMax) + 1)

	if err := c.negotiate(ctx); err != nil {
		_ = nc.Close()
		return nil, err
	}

	go c.writeLoop()

	if err := c.openHandshake(ctx); err != nil {
		c.terminate(err)
		return nil, err
	}

	// the handshake reads the peer's open itself; readLoop owns the read
	// side only from here on.
	go c.readLoop()
	go c.idleSupervisor()

	return c, nil
}

func (c *Conn) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	debug.Log(context.Background(), 4, "conn: state", "state", s.String())
}

func (c *Conn) State() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.String()
}

// negotiate performs version negotiation and, if configured, the SASL
// tunnel, ending with both peers having exchanged the AMQP protocol header
// (spec.md §4.4, §4.5 "HDR_* states").
func (c *Conn) negotiate(ctx context.Context) error {
	if c.saslType != nil {
		c.setState(connStateInSASL)
		if err := c.negotiateSASL(ctx); err != nil {
			return err
		}
	}

	c.setState(connStateHdrSent)
	hdr := frames.ProtoHeader{ProtoID: frames.ProtoAMQP, Major: 1}
	b := hdr.Bytes()
	if _, err := c.netConn.Write(b[:]); err != nil {
		return pkgerrors.Wrap(err, "amqp: writing protocol header")
	}

	peer := make([]byte, 8)
	if _, err := readFull(c.reader, peer); err != nil {
		return pkgerrors.Wrap(err, "amqp: reading protocol header")
	}
	peerHdr, err := frames.ParseProtoHeader(peer)
	if err != nil {
		c.setState(connStateDisconnecting)
		c.setState(connStateDisconnected)
		return err
	}
	if peerHdr.Major != 1 || peerHdr.Minor != 0 || peerHdr.Revision != 0 {
		c.setState(connStateDisconnecting)
		c.setState(connStateDisconnected)
		return fmt.Errorf("amqp: Invalid AMQP version: got %d.%d.%d", peerHdr.Major, peerHdr.Minor, peerHdr.Revision)
	}
	c.setState(connStateHdrExch)
	return nil
}

func readFull(r *bufio.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// openHandshake exchanges the open performative (spec.md §4.5 "HDR_EXCH ->
// OPENED").
func (c *Conn) openHandshake(ctx context.Context) error {
	c.setState(connStateOpenSent)
	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     c.hostname,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
	}
	if c.idleTimeout > 0 {
		open.IdleTimeout = encoding.Milliseconds(c.idleTimeout)
	}
	if err := c.writeFrame(0, open); err != nil {
		return err
	}

	fr, err := c.readPerformative()
	if err != nil {
		return err
	}
	po, ok := fr.(*frames.PerformOpen)
	if !ok {
		if pc, ok := fr.(*frames.PerformClose); ok {
			return fmt.Errorf("amqp: connection refused: %v", pc.Error)
		}
		return fmt.Errorf("amqp: expected open, got %T", fr)
	}
	if po.MaxFrameSize >= frames.MinMaxFrameSize {
		c.PeerMaxFrameSize = po.MaxFrameSize
	}
	c.setState(connStateOpened)
	return nil
}

func (c *Conn) readPerformative() (frames.FrameBody, error) {
	for {
		header, err := c.readFrameHeader()
		if err != nil {
			return nil, err
		}
		bodySize := int(header.Size) - frames.HeaderSize
		if bodySize <= 0 {
			continue // heartbeat while waiting for a specific reply
		}
		body := make([]byte, bodySize)
		if _, err := readFull(c.reader, body); err != nil {
			return nil, err
		}
		return frames.ParseBody(buffer.New(body))
	}
}

func (c *Conn) readFrameHeader() (frames.Header, error) {
	raw := make([]byte, frames.HeaderSize)
	if _, err := readFull(c.reader, raw); err != nil {
		return frames.Header{}, err
	}
	buf := buffer.New(raw)
	return frames.ReadHeader(buf)
}

// NewSession begins a new session on the next free channel.
func (c *Conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	c.mu.Lock()
	ch, ok := c.channels.Next()
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("amqp: channel-max exceeded")
	}
	s := newSession(c, uint16(ch), opts)
	c.sessionsByChannel[uint16(ch)] = s
	c.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		c.mu.Lock()
		c.channels.Remove(ch)
		delete(c.sessionsByChannel, uint16(ch))
		if s.remoteChannel != nil {
			delete(c.sessionsByRemoteChannel, *s.remoteChannel)
		}
		c.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Close sends close(error=nil) and waits for the peer's close.
func (c *Conn) Close(ctx context.Context) error {
	if err := c.writeFrame(0, &frames.PerformClose{}); err != nil {
		return err
	}
	c.setState(connStateCloseSent)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) terminate(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.netConn.Close()
	c.setState(connStateDisconnected)
}

// writeFrame synchronously serializes and writes a frame. It is used during
// the handshake, by writeLoop for every queued frame, and for the close
// frames that readLoop and Close write directly.
func (c *Conn) writeFrame(channel uint16, body frames.FrameBody) error {
	return writeFrameTo(c.netConn, channel, body)
}

func writeFrameTo(w interface{ Write([]byte) (int, error) }, channel uint16, body frames.FrameBody) error {
	bodyBuf := buffer.New(nil)
	if body != nil {
		if err := body.Marshal(bodyBuf); err != nil {
			return err
		}
	}
	out := buffer.New(nil)
	frames.WriteHeader(out, uint32(bodyBuf.Len())+frames.HeaderSize, frames.TypeAMQP, channel)
	out.Append(bodyBuf.Bytes())
	_, err := w.Write(out.Bytes())
	return err
}

// txFrame hands fr to the writer goroutine, blocking until accepted.
func (c *Conn) txFrame(channel uint16, fr frames.FrameBody) error {
	select {
	case c.txCh <- txEnvelope{channel: channel, body: fr}:
		return nil
	case <-c.done:
		return c.err
	}
}

// readLoop owns the transport's read side: it decodes frames and dispatches
// them to the connection itself (channel 0, open/close) or to the
// addressed session (spec.md §4.5 "Frame dispatch").
func (c *Conn) readLoop() {
	for {
		header, err := c.readFrameHeader()
		if err != nil {
			c.terminate(pkgerrors.Wrap(err, "amqp: read"))
			return
		}
		c.touchIncoming()

		bodySize := int(header.Size) - frames.HeaderSize
		if bodySize <= 0 {
			continue // heartbeat
		}
		raw := make([]byte, bodySize)
		if _, err := readFull(c.reader, raw); err != nil {
			c.terminate(pkgerrors.Wrap(err, "amqp: read"))
			return
		}
		body, err := frames.ParseBody(buffer.New(raw))
		if err != nil {
			c.terminate(err)
			return
		}

		switch fr := body.(type) {
		case *frames.PerformClose:
			c.setState(connStateCloseRcvd)
			_ = c.writeFrame(0, &frames.PerformClose{})
			c.terminate(nil)
			return
		default:
			c.dispatchSessionFrame(header.Channel, fr)
		}
	}
}

// dispatchSessionFrame routes an inbound non-connection performative to the
// session it addresses. header.Channel is always the *peer's* channel
// number for the session (spec.md §4.6 "Channel mapping"), so frames are
// matched by sessionsByRemoteChannel, not by the channel we ourselves
// chose. The one frame that can't yet be in that table is the peer's begin
// reply itself: it is correlated via its remote-channel field, which names
// the local channel we sent our own begin on, and promotes the session
// into sessionsByRemoteChannel for every following frame.
func (c *Conn) dispatchSessionFrame(channel uint16, fr frames.FrameBody) {
	c.mu.Lock()
	s, ok := c.sessionsByRemoteChannel[channel]
	if !ok {
		if pb, isBegin := fr.(*frames.PerformBegin); isBegin && pb.RemoteChannel != nil {
			if pending, exists := c.sessionsByChannel[*pb.RemoteChannel]; exists {
				ch := channel
				pending.remoteChannel = &ch
				c.sessionsByRemoteChannel[channel] = pending
				s, ok = pending, true
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		debug.Log(context.Background(), 2, "conn: frame on unknown channel", "channel", channel, "type", fmt.Sprintf("%T", fr))
		return
	}
	select {
	case s.rx <- fr:
	case <-s.done:
	}
}

// writeLoop owns the transport's write side so that no two goroutines ever
// interleave bytes mid-frame (spec.md §5 "Transport writes are serialized
// by the reactor").
func (c *Conn) writeLoop() {
	for {
		select {
		case env := <-c.txCh:
			if err := c.writeFrame(env.channel, env.body); err != nil {
				c.terminate(err)
				return
			}
			c.touchOutgoing()
			if env.done != nil {
				close(env.done)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) touchOutgoing() {
	c.activityMu.Lock()
	c.lastOutgoing = time.Now()
	c.activityMu.Unlock()
}

func (c *Conn) touchIncoming() {
	c.activityMu.Lock()
	c.lastIncoming = time.Now()
	c.activityMu.Unlock()
}

// idleSupervisor implements spec.md §4.5's heartbeat policy: tick every
// idleTimeout/8, send a heartbeat if nothing has gone out in idleTimeout/2,
// and terminate the connection if nothing has come in within idleTimeout.
func (c *Conn) idleSupervisor() {
	if c.idleTimeout <= 0 {
		return
	}
	// the peer's open has just been read: start the incoming clock there.
	c.touchIncoming()
	ticker := time.NewTicker(c.idleTimeout / 8)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.activityMu.Lock()
			sinceOut := time.Since(c.lastOutgoing)
			sinceIn := time.Since(c.lastIncoming)
			c.activityMu.Unlock()

			if sinceIn > c.idleTimeout {
				c.terminate(pkgerrors.New("amqp: idle timeout: no frames received from peer"))
				return
			}
			if sinceOut > c.idleTimeout/2 {
				if err := c.txFrame(0, nil); err != nil {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}
