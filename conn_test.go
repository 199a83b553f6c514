package amqp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/frames"
	"github.com/amqp-proto/go-amqp/internal/mocks"
)

func protoHeaderResponder() ([]byte, error) {
	return mocks.ProtoHeader(mocks.ProtoAMQP)
}

func TestConnOpenHandshake(t *testing.T) {
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return protoHeaderResponder()
		case *frames.PerformOpen:
			return mocks.PerformOpen("test-container")
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := newConn(ctx, mocks.NewConnection(responder), "localhost", &ConnOptions{ContainerID: "client"})
	require.NoError(t, err)
	require.Equal(t, "OPENED", c.State())
}

func TestConnOpenHandshakeBadHeader(t *testing.T) {
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return []byte{'B', 'A', 'D', '!', 0, 1, 0, 0}, nil
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := newConn(ctx, mocks.NewConnection(responder), "localhost", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid AMQP version")
}

func TestConnNewSession(t *testing.T) {
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return protoHeaderResponder()
		case *frames.PerformOpen:
			return mocks.PerformOpen("test-container")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := newConn(ctx, mocks.NewConnection(responder), "localhost", nil)
	require.NoError(t, err)

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, sess)
}
