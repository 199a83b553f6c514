package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

func TestMessageRoundTripData(t *testing.T) {
	msg := &Message{
		Header: &MessageHeader{Durable: true, Priority: 4},
		Properties: &MessageProperties{
			MessageID:   "id-1",
			To:          "queue",
			ContentType: "application/json",
		},
		ApplicationProperties: map[string]interface{}{"k": int32(1)},
		Data:                  [][]byte{[]byte("hello")},
	}

	buf := buffer.New(nil)
	require.NoError(t, msg.Marshal(buf))

	var out Message
	require.NoError(t, out.Unmarshal(buffer.New(buf.Bytes())))

	require.True(t, out.Header.Durable)
	require.Equal(t, uint8(4), out.Header.Priority)
	require.Equal(t, "id-1", out.Properties.MessageID)
	require.Equal(t, "queue", out.Properties.To)
	require.Equal(t, []byte("hello"), out.Data[0])
	// the decoder widens every signed integer to int64.
	require.Equal(t, int64(1), out.ApplicationProperties["k"])
}

func TestMessageRoundTripValue(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	msg := &Message{
		Properties: &MessageProperties{CreationTime: now},
		Value:      map[string]interface{}{"hello": "world"},
	}

	buf := buffer.New(nil)
	require.NoError(t, msg.Marshal(buf))

	var out Message
	require.NoError(t, out.Unmarshal(buffer.New(buf.Bytes())))

	require.Equal(t, now, out.Properties.CreationTime)
	v, ok := out.Value.(encoding.Map)
	require.True(t, ok)
	require.Len(t, v, 1)
}
