package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	r := &Receiver{
		link: link{
			key:     linkKey{name: "test-receiver", role: encoding.RoleReceiver},
			session: &Session{txFrames: make(chan frameEnvelope, 8), done: make(chan struct{})},
		},
		unsettledMessages: make(map[string]struct{}),
	}
	r.Messages = make(chan *Message, 10)
	r.linkCredit = 10

	// drain session-level writes in the background so settlement frames
	// issued by muxReceive don't block the test.
	go func() {
		for range r.session.txFrames {
		}
	}()

	return r
}

func encodedDataPayload(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := buffer.New(nil)
	require.NoError(t, encoding.MarshalComposite(buf, encoding.TypeCodeApplicationData, []interface{}{data}))
	return buf.Bytes()
}

func TestReceiverSingleFrameDelivery(t *testing.T) {
	r := newTestReceiver(t)
	deliveryID := uint32(1)

	fr := &frames.PerformTransfer{
		Handle:      0,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-1"),
		Payload:     encodedDataPayload(t, []byte("hello")),
	}

	require.NoError(t, r.muxReceive(fr))

	select {
	case msg := <-r.Messages:
		require.Equal(t, []byte("hello"), msg.Data[0])
	default:
		t.Fatal("expected a delivered message")
	}
	require.Equal(t, uint32(1), r.deliveryCount)
	require.Equal(t, uint32(9), r.linkCredit)
}

func TestReceiverMultiFrameDelivery(t *testing.T) {
	r := newTestReceiver(t)
	deliveryID := uint32(1)
	payload := encodedDataPayload(t, []byte("hello world"))
	mid := len(payload) / 2

	require.NoError(t, r.muxReceive(&frames.PerformTransfer{
		Handle:      0,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-1"),
		More:        true,
		Payload:     payload[:mid],
	}))
	// nothing delivered yet: the message is still being reassembled.
	require.Len(t, r.Messages, 0)

	require.NoError(t, r.muxReceive(&frames.PerformTransfer{
		Handle:  0,
		Payload: payload[mid:],
	}))

	select {
	case msg := <-r.Messages:
		require.Equal(t, []byte("hello world"), msg.Data[0])
	default:
		t.Fatal("expected a delivered message")
	}
}

func TestReceiverModeSecondLeavesUnsettled(t *testing.T) {
	r := newTestReceiver(t)
	mode := ModeSecond
	r.receiverSettleMode = &mode
	deliveryID := uint32(1)

	require.NoError(t, r.muxReceive(&frames.PerformTransfer{
		Handle:      0,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-1"),
		Payload:     encodedDataPayload(t, []byte("hi")),
	}))

	require.Contains(t, r.unsettledMessages, "tag-1")
	msg := <-r.Messages
	require.False(t, msg.settled)
}
