package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

func TestTransactionDeclareRoundTrip(t *testing.T) {
	buf := buffer.New(nil)
	d := &TransactionDeclare{}
	require.NoError(t, d.Marshal(buf))

	var out TransactionDeclare
	require.NoError(t, out.Unmarshal(buffer.New(buf.Bytes())))
	require.Nil(t, out.GlobalID)
}

func TestTransactionDischargeRoundTrip(t *testing.T) {
	buf := buffer.New(nil)
	d := &TransactionDischarge{TxnID: []byte("txn-1"), Fail: true}
	require.NoError(t, d.Marshal(buf))

	var out TransactionDischarge
	require.NoError(t, out.Unmarshal(buffer.New(buf.Bytes())))
	require.Equal(t, []byte("txn-1"), out.TxnID)
	require.True(t, out.Fail)
}

func TestTransactionDeclareAsMessageValue(t *testing.T) {
	msg := &Message{Value: &TransactionDeclare{}}
	buf := buffer.New(nil)
	require.NoError(t, msg.Marshal(buf))

	var out Message
	require.NoError(t, out.Unmarshal(buffer.New(buf.Bytes())))
	require.NotNil(t, out.Value)
}

func TestStateDeclaredDecodesTransactionID(t *testing.T) {
	state := &encoding.StateDeclared{TransactionID: []byte("txn-42")}
	buf := buffer.New(nil)
	require.NoError(t, state.Marshal(buf))

	decoded, err := encoding.DecodeDeliveryState(buffer.New(buf.Bytes()))
	require.NoError(t, err)
	declared, ok := decoded.(*encoding.StateDeclared)
	require.True(t, ok)
	require.Equal(t, []byte("txn-42"), declared.TransactionID)
}
