package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

func TestNewSenderValidation(t *testing.T) {
	sess := &Session{}

	_, err := newSender("target", sess, &SenderOptions{Durability: Durability(99)})
	require.Error(t, err)

	badMode := SenderSettleMode(99)
	_, err = newSender("target", sess, &SenderOptions{SettlementMode: &badMode})
	require.Error(t, err)

	badRSM := ReceiverSettleMode(99)
	_, err = newSender("target", sess, &SenderOptions{RequestedReceiverSettleMode: &badRSM})
	require.Error(t, err)

	_, err = newSender("target", sess, &SenderOptions{Properties: map[string]interface{}{"": 1}})
	require.Error(t, err)
}

func TestNewSenderDefaults(t *testing.T) {
	sess := &Session{}
	s, err := newSender("queue", sess, nil)
	require.NoError(t, err)
	require.Equal(t, "queue", s.Address())
	require.True(t, s.detachOnDispositionError)
}

func TestDetachOnRejectDisp(t *testing.T) {
	s := &Sender{detachOnDispositionError: true}
	require.True(t, s.detachOnRejectDisp())

	second := ModeSecond
	s.receiverSettleMode = &second
	require.False(t, s.detachOnRejectDisp())

	s.detachOnDispositionError = false
	s.receiverSettleMode = nil
	require.False(t, s.detachOnRejectDisp())
}

func TestSenderSettleModeValue(t *testing.T) {
	require.Equal(t, encoding.ModeUnsettled, senderSettleModeValue(nil))
	mixed := ModeMixed
	require.Equal(t, ModeMixed, senderSettleModeValue(&mixed))
}

// TestSenderDispositionFulfillsUnsettled exercises the settlement-correlation
// path directly: a disposition naming a delivery-id must deliver its State
// into the chan registered by send() in Sender.unsettled, not just ack the
// peer.
func TestSenderDispositionFulfillsUnsettled(t *testing.T) {
	s := &Sender{
		link: link{
			key:     linkKey{name: "test-sender", role: encoding.RoleSender},
			session: &Session{txFrames: make(chan frameEnvelope, 8), done: make(chan struct{})},
		},
	}

	go func() {
		for range s.link.session.txFrames {
		}
	}()

	done := make(chan encoding.DeliveryState, 1)
	s.unsettled = map[uint32]chan encoding.DeliveryState{7: done}

	err := s.muxHandleFrame(&frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   7,
		Settled: true,
		State:   &encoding.StateAccepted{},
	})
	require.NoError(t, err)

	select {
	case state := <-done:
		_, ok := state.(*encoding.StateAccepted)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("disposition never fulfilled the unsettled channel")
	}

	s.mu.Lock()
	_, stillPending := s.unsettled[7]
	s.mu.Unlock()
	require.False(t, stillPending)
}

func TestSenderDispositionRangeFulfillsMultiple(t *testing.T) {
	s := &Sender{
		link: link{
			key:     linkKey{name: "test-sender", role: encoding.RoleSender},
			session: &Session{txFrames: make(chan frameEnvelope, 8), done: make(chan struct{})},
		},
	}
	go func() {
		for range s.link.session.txFrames {
		}
	}()

	d1, d2, d3 := make(chan encoding.DeliveryState, 1), make(chan encoding.DeliveryState, 1), make(chan encoding.DeliveryState, 1)
	s.unsettled = map[uint32]chan encoding.DeliveryState{1: d1, 2: d2, 3: d3}

	last := uint32(2)
	require.NoError(t, s.muxHandleFrame(&frames.PerformDisposition{
		Role:  encoding.RoleReceiver,
		First: 1,
		Last:  &last,
		State: &encoding.StateAccepted{},
	}))

	require.Len(t, d1, 1)
	require.Len(t, d2, 1)
	require.Len(t, d3, 0)

	s.mu.Lock()
	_, three := s.unsettled[3]
	s.mu.Unlock()
	require.True(t, three)
}
