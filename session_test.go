package amqp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
	"github.com/amqp-proto/go-amqp/internal/mocks"
)

func dialMockConn(t *testing.T, responder func(frames.FrameBody) ([]byte, error)) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := newConn(ctx, mocks.NewConnection(responder), "localhost", nil)
	require.NoError(t, err)
	return c
}

func TestSessionNewSender(t *testing.T) {
	var senderHandle uint32
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return protoHeaderResponder()
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			senderHandle = fr.Handle
			return encodeTestFrame(&frames.PerformAttach{
				Name:   fr.Name,
				Handle: 0,
				Role:   encoding.RoleReceiver,
				Target: &encoding.Target{Address: fr.Target.Address},
			})
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	c := dialMockConn(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	snd, err := sess.NewSender(ctx, "queue", nil)
	require.NoError(t, err)
	require.Equal(t, "queue", snd.Address())
	require.Equal(t, uint32(0), senderHandle)
}

func TestSessionNewReceiver(t *testing.T) {
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return protoHeaderResponder()
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, 0, encoding.ModeFirst)
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	c := dialMockConn(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	rcv, err := sess.NewReceiver(ctx, "test", nil)
	require.NoError(t, err)
	require.Equal(t, "test", rcv.Address())
}

func encodeTestFrame(body frames.FrameBody) ([]byte, error) {
	bodyBuf := buffer.New(nil)
	if err := body.Marshal(bodyBuf); err != nil {
		return nil, err
	}
	out := buffer.New(nil)
	frames.WriteHeader(out, uint32(bodyBuf.Len())+frames.HeaderSize, frames.TypeAMQP, 0)
	out.Append(bodyBuf.Bytes())
	return out.Bytes(), nil
}
