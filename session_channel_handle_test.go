package amqp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
	"github.com/amqp-proto/go-amqp/internal/mocks"
)

// TestSessionMismatchedChannelAndHandle simulates a peer that, as spec.md
// §4.6/§3 require, numbers its own channel and link handles completely
// independently of ours: the broker's begin reply arrives on channel 7
// (not our local channel 0) and its attach reply names handle 42 (not the
// 0 we allocated). A client that dispatched frames by its own local
// channel/handle numbers instead of the peer's would drop every frame
// after the begin/attach exchange.
func TestSessionMismatchedChannelAndHandle(t *testing.T) {
	const peerChannel = 7
	const peerHandle = 42
	deliveryID := uint32(1)

	responder := func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return protoHeaderResponder()
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			// our local channel is 0; the peer replies on its own
			// channel 7, naming 0 back as remote-channel.
			return mocks.PerformBeginOnChannel(peerChannel, 0)
		case *frames.PerformAttach:
			// our local handle is 0; the peer replies on channel 7 with
			// its own handle 42 for the same link name, then immediately
			// follows with a transfer addressed by that same peer
			// handle — both concatenated into one mock "read", since
			// this fake has no separate channel for unsolicited frames.
			attachReply, err := mocks.ReceiverAttachOnChannel(peerChannel, fr.Name, peerHandle, encoding.ModeFirst)
			if err != nil {
				return nil, err
			}
			transferFrame, err := mocks.PerformTransferOnChannel(peerChannel, peerHandle, deliveryID, []byte("hi"))
			if err != nil {
				return nil, err
			}
			return append(attachReply, transferFrame...), nil
		case *frames.PerformFlow:
			// the receiver grants its initial credit after attaching;
			// swallow it.
			return nil, nil
		case *frames.PerformDisposition:
			// the receiver auto-settles under ModeFirst; swallow its
			// acknowledgement.
			return nil, nil
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	c := dialMockConn(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, sess.remoteChannel)
	require.Equal(t, uint16(peerChannel), *sess.remoteChannel)

	rcv, err := sess.NewReceiver(ctx, "test", nil)
	require.NoError(t, err)

	// The transfer addressed by the peer's handle (42), arriving on the
	// peer's channel (7), must still reach this link.
	select {
	case msg := <-rcv.Messages:
		require.Equal(t, []byte("hi"), msg.Data[0])
	case <-time.After(time.Second):
		t.Fatal("transfer on the peer's own channel/handle was never delivered")
	}
}
