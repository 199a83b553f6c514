// Package mocks provides a net.Conn fake that lets the connection/session/
// link tests drive the wire protocol without a real socket.
package mocks

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// NewConnection creates a new instance of MockConnection.
// Responder is invoked by Write when a frame is received.
// Return a nil slice/nil error to swallow the frame.
// Return a non-nil error to simulate a write error.
func NewConnection(resp func(frames.FrameBody) ([]byte, error)) *MockConnection {
	return &MockConnection{
		resp: resp,
		// during shutdown, connReader can close before connWriter as they
		// both return on Done being closed, so there is some
		// non-determinism here. a buffered channel keeps these writes from
		// blocking shutdown.
		readData:  make(chan []byte, 10),
		readClose: make(chan struct{}),
	}
}

// MockConnection is a mock connection that satisfies the net.Conn interface.
type MockConnection struct {
	resp      func(frames.FrameBody) ([]byte, error)
	readDL    *time.Timer
	readData  chan []byte
	readClose chan struct{}
	closed    bool
}

// NOTE: Read, Write, and Close are all called by separate goroutines.

// Read is invoked by conn's reader goroutine to receive frame data. It
// blocks until Write or Close are called, or the read deadline expires.
func (m *MockConnection) Read(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	var deadline <-chan time.Time
	if m.readDL != nil {
		deadline = m.readDL.C
	}

	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	case <-deadline:
		return 0, errors.New("mock connection read deadline exceeded")
	case rd := <-m.readData:
		return copy(b, rd), nil
	}
}

// Write is invoked by conn's writer goroutine when a frame is sent. Every
// call to Write invokes the responder callback, which must reply with one
// of:
//  1. an encoded frame and nil error
//  2. a non-nil error to simulate a write failure
//  3. a nil slice and nil error, meaning the frame should be ignored
func (m *MockConnection) Write(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	frame, err := decodeFrame(b)
	if err != nil {
		return 0, err
	}
	resp, err := m.resp(frame)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		m.readData <- resp
	}
	return len(b), nil
}

// Close is called when conn's mux unwinds.
func (m *MockConnection) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	close(m.readClose)
	return nil
}

func (m *MockConnection) LocalAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) RemoteAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) SetDeadline(t time.Time) error {
	return errors.New("not used")
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	if m.readDL != nil && !m.readDL.Stop() {
		<-m.readDL.C
	}
	m.readDL = time.NewTimer(time.Until(t))
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	return nil
}

// ProtoID indicates the type of protocol (mirrors frames.ProtoID).
type ProtoID uint8

const (
	ProtoAMQP ProtoID = 0x0
	ProtoTLS  ProtoID = 0x2
	ProtoSASL ProtoID = 0x3
)

// ProtoHeader builds the initial handshake frame. This frame, and
// PerformOpen, are needed before a Dial completes.
func ProtoHeader(id ProtoID) ([]byte, error) {
	return []byte{'A', 'M', 'Q', 'P', byte(id), 1, 0, 0}, nil
}

// PerformOpen builds a PerformOpen frame with the given container ID.
func PerformOpen(containerID string) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, 0, &frames.PerformOpen{ContainerID: containerID})
}

// PerformBegin builds a PerformBegin frame with the given remote channel,
// on channel 0 — the common case where the peer happens to number its own
// channel for the session the same as ours. Use PerformBeginOnChannel to
// simulate a peer with independent channel numbering.
func PerformBegin(remoteChannel uint16) ([]byte, error) {
	return PerformBeginOnChannel(0, remoteChannel)
}

// PerformBeginOnChannel builds a PerformBegin frame carried on the peer's
// own channel (which need not equal remoteChannel, the channel the peer
// read our begin on), exercising the independent per-endpoint channel
// numbering spec.md §4.6 requires.
func PerformBeginOnChannel(peerChannel, remoteChannel uint16) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, peerChannel, &frames.PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 1,
		IncomingWindow: 5000,
		OutgoingWindow: 1000,
		HandleMax:      math.MaxInt16,
	})
}

// ReceiverAttach builds a PerformAttach frame as a sender would send it in
// reply to a receiving link attach, on channel 0. Use
// ReceiverAttachOnChannel to simulate a peer with independent channel and
// handle numbering.
func ReceiverAttach(linkName string, linkHandle uint32, mode encoding.ReceiverSettleMode) ([]byte, error) {
	return ReceiverAttachOnChannel(0, linkName, linkHandle, mode)
}

// ReceiverAttachOnChannel is ReceiverAttach, but carried on peerChannel and
// naming linkHandle as the peer's own handle for the link — which need not
// equal the handle we allocated locally (spec.md §3 "Handle").
func ReceiverAttachOnChannel(peerChannel uint16, linkName string, linkHandle uint32, mode encoding.ReceiverSettleMode) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, peerChannel, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleSender,
		Source: &encoding.Source{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		ReceiverSettleMode: &mode,
		MaxMessageSize:     math.MaxUint32,
	})
}

// PerformTransfer builds a PerformTransfer frame carrying payload as a
// single application-data section, on channel 0. Use
// PerformTransferOnChannel to simulate a peer with independent channel and
// handle numbering.
func PerformTransfer(linkHandle, deliveryID uint32, payload []byte) ([]byte, error) {
	return PerformTransferOnChannel(0, linkHandle, deliveryID, payload)
}

// PerformTransferOnChannel is PerformTransfer, but carried on peerChannel
// and naming linkHandle as the peer's own handle for the link.
func PerformTransferOnChannel(peerChannel uint16, linkHandle, deliveryID uint32, payload []byte) ([]byte, error) {
	format := uint32(0)
	body := buffer.New(nil)
	if err := encoding.Marshal(body, encoding.DescribedType{
		Descriptor: encoding.TypeCodeApplicationData,
		Value:      payload,
	}); err != nil {
		return nil, err
	}
	return encodeFrame(frames.TypeAMQP, peerChannel, &frames.PerformTransfer{
		Handle:        linkHandle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   []byte("tag"),
		MessageFormat: &format,
		Payload:       body.Bytes(),
	})
}

// PerformDisposition builds a PerformDisposition frame settling deliveryID
// with the given delivery state, on channel 0.
func PerformDisposition(deliveryID uint32, state encoding.DeliveryState) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, 0, &frames.PerformDisposition{
		Role:    encoding.RoleSender,
		First:   deliveryID,
		Settled: true,
		State:   state,
	})
}

// AMQPProto is the frame type decodeFrame reports for the protocol
// handshake bytes ("AMQP...").
type AMQPProto struct {
	frames.FrameBody
}

// KeepAlive is the frame type decodeFrame reports for an empty (heartbeat)
// frame.
type KeepAlive struct {
	frames.FrameBody
}

func encodeFrame(t frames.Type, channel uint16, body frames.FrameBody) ([]byte, error) {
	bodyBuf := buffer.New(nil)
	if err := body.Marshal(bodyBuf); err != nil {
		return nil, err
	}
	out := buffer.New(nil)
	frames.WriteHeader(out, uint32(bodyBuf.Len())+frames.HeaderSize, t, channel)
	out.Append(bodyBuf.Bytes())
	return out.Bytes(), nil
}

func decodeFrame(b []byte) (frames.FrameBody, error) {
	if len(b) > 3 && b[0] == 'A' && b[1] == 'M' && b[2] == 'Q' && b[3] == 'P' {
		return &AMQPProto{}, nil
	}
	buf := buffer.New(b)
	header, err := frames.ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	bodySize := int(header.Size) - frames.HeaderSize
	if bodySize <= 0 {
		return &KeepAlive{}, nil
	}
	body, _ := buf.Next(int64(bodySize))
	return frames.ParseBody(buffer.New(body))
}
