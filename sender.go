package amqp

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/debug"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// maxTransferFrameHeader is a conservative upper bound on the fixed-size
// portion of a transfer performative (descriptor + handle + delivery-id +
// delivery-tag + message-format + flags), leaving the rest of the
// connection's max-frame-size for payload (spec.md §4.8 "Multi-frame
// transfers").
const maxTransferFrameHeader = 128

// Sender sends messages on a single AMQP link.
type Sender struct {
	link
	transfers chan frames.PerformTransfer

	// detachOnDispositionError controls whether a rejected delivery tears
	// down the link or is merely surfaced to the caller; some brokers
	// prefer the link stay open across transient rejections.
	detachOnDispositionError bool

	mu              sync.Mutex
	buf             buffer.Buffer
	nextDeliveryTag uint64

	// unsettled maps an in-flight delivery-id to the channel its final
	// disposition should be delivered on (spec.md §4.8 "Settlement
	// correlation").
	unsettled map[uint32]chan encoding.DeliveryState
}

// LinkName is the name of the link used for this Sender.
func (s *Sender) LinkName() string {
	return s.key.name
}

// MaxMessageSize is the maximum size of a single message.
func (s *Sender) MaxMessageSize() uint64 {
	return s.maxMessageSize
}

// Send sends a Message, blocking until it is sent, ctx completes, or an
// error occurs. Send is safe for concurrent use; since only one message is
// in flight on a link at a time, concurrent callers are most useful when
// ReceiverSettleMode is ModeSecond, so additional sends can proceed while
// one waits for its settlement.
func (s *Sender) Send(ctx context.Context, msg *Message, opts *SendOptions) error {
	state, err := s.sendRaw(ctx, msg, opts)
	if err != nil {
		return err
	}
	if state, ok := state.(*encoding.StateRejected); ok {
		if s.detachOnRejectDisp() {
			return &DetachError{RemoteError: state.Error}
		}
		return state.Error
	}
	return nil
}

// sendRaw sends msg and returns the peer's raw DeliveryState, letting
// callers (e.g. TransactionController.Declare) inspect states Send itself
// treats as success, such as *encoding.StateDeclared.
func (s *Sender) sendRaw(ctx context.Context, msg *Message, opts *SendOptions) (encoding.DeliveryState, error) {
	select {
	case <-s.detached:
		return nil, s.err
	default:
	}
	if opts != nil && opts.Settled {
		msg.SendSettled = true
	}
	done, err := s.send(ctx, msg)
	if err != nil {
		return nil, err
	}

	select {
	case state := <-done:
		return state, nil
	case <-s.detached:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send is separated from sendRaw so the mutex is released before blocking
// on the transfer's confirmation.
func (s *Sender) send(ctx context.Context, msg *Message) (chan encoding.DeliveryState, error) {
	const maxDeliveryTagLength = 32
	if len(msg.DeliveryTag) > maxDeliveryTagLength {
		return nil, fmt.Errorf("amqp: delivery tag is over the allowed %v bytes, len: %v", maxDeliveryTagLength, len(msg.DeliveryTag))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return nil, err
	}

	if s.maxMessageSize != 0 && uint64(s.buf.Len()) > s.maxMessageSize {
		return nil, fmt.Errorf("amqp: encoded message size exceeds max of %d", s.maxMessageSize)
	}

	maxPayloadSize := int64(s.session.conn.PeerMaxFrameSize) - maxTransferFrameHeader
	sndSettleMode := s.senderSettleMode
	senderSettled := sndSettleMode != nil && (*sndSettleMode == ModeSettled || (*sndSettleMode == ModeMixed && msg.SendSettled))
	deliveryID := atomic.AddUint32(&s.session.nextDeliveryID, 1)

	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	fr := frames.PerformTransfer{
		Handle:        s.handle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   deliveryTag,
		MessageFormat: &msg.Format,
		More:          s.buf.Len() > 0,
	}

	for fr.More {
		buf, _ := s.buf.Next(maxPayloadSize)
		fr.Payload = append([]byte(nil), buf...)
		fr.More = s.buf.Len() > 0
		if !fr.More {
			fr.Settled = senderSettled
			if !senderSettled {
				fr.Done = make(chan encoding.DeliveryState, 1)
				if s.unsettled == nil {
					s.unsettled = make(map[uint32]chan encoding.DeliveryState)
				}
				s.unsettled[deliveryID] = fr.Done
			}
		}

		select {
		case s.transfers <- fr:
		case <-s.detached:
			return nil, s.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		fr.DeliveryID = nil
		fr.DeliveryTag = nil
		fr.MessageFormat = nil
	}

	return fr.Done, nil
}

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.target == nil {
		return ""
	}
	return s.target.Address
}

// Close closes the Sender and its AMQP link.
func (s *Sender) Close(ctx context.Context) error {
	return s.closeLink(ctx)
}

func newSender(target string, sess *Session, opts *SenderOptions) (*Sender, error) {
	l := &Sender{
		link: link{
			key:     linkKey{name: newLinkName(), role: encoding.RoleSender},
			session: sess,
			target:  &encoding.Target{Address: target},
			source:  new(encoding.Source),
		},
		detachOnDispositionError: true,
	}

	if opts == nil {
		return l, nil
	}

	for _, v := range opts.Capabilities {
		l.source.Capabilities = append(l.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	l.source.Durable = opts.Durability
	if opts.DynamicAddress {
		l.target.Address = ""
		l.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := encoding.ValidateExpiryPolicy(opts.ExpiryPolicy); err != nil {
			return nil, err
		}
		l.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	l.source.Timeout = opts.ExpiryTimeout
	l.detachOnDispositionError = !opts.IgnoreDispositionErrors
	if opts.Name != "" {
		l.key.name = opts.Name
	}
	if opts.Properties != nil {
		l.properties = make(map[encoding.Symbol]interface{}, len(opts.Properties))
		for k, v := range opts.Properties {
			if k == "" {
				return nil, pkgerrors.New("amqp: link property key must not be empty")
			}
			l.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedReceiverSettleMode != nil {
		if rsm := *opts.RequestedReceiverSettleMode; rsm > ModeSecond {
			return nil, fmt.Errorf("amqp: invalid RequestedReceiverSettleMode %d", rsm)
		}
		l.receiverSettleMode = opts.RequestedReceiverSettleMode
	}
	if opts.SettlementMode != nil {
		if ssm := *opts.SettlementMode; ssm > ModeMixed {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", ssm)
		}
		l.senderSettleMode = opts.SettlementMode
	}
	l.source.Address = opts.SourceAddress
	return l, nil
}

func (s *Sender) attach(ctx context.Context, session *Session) error {
	// Sending unsettled with the receiver in ModeSecond needs a settlement
	// round trip this mux doesn't drive from the send path; disallow it.
	if senderSettleModeValue(s.senderSettleMode) != ModeSettled && receiverSettleModeValue(s.receiverSettleMode) == ModeSecond {
		return pkgerrors.New("amqp: sender does not support exactly-once guarantee")
	}

	if err := s.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		if pa.Target == nil {
			pa.Target = new(encoding.Target)
		}
		pa.Target.Dynamic = s.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if s.target == nil {
			s.target = new(encoding.Target)
		}
		if s.dynamicAddr && pa.Target != nil {
			s.target.Address = pa.Target.Address
		}
	}); err != nil {
		return err
	}

	s.transfers = make(chan frames.PerformTransfer)

	go s.mux()

	return nil
}

func (s *Sender) mux() {
	defer s.muxDetach(nil, nil)

Loop:
	for {
		var outgoingTransfers chan frames.PerformTransfer
		if s.linkCredit > 0 {
			debug.Log(context.Background(), logrus.DebugLevel, "sender: credit", "linkCredit", s.linkCredit, "deliveryCount", s.deliveryCount)
			outgoingTransfers = s.transfers
		}

		select {
		case fr := <-s.rx:
			s.err = s.muxHandleFrame(fr)
			if s.err != nil {
				return
			}

		case tr := <-outgoingTransfers:
			for {
				select {
				case s.session.txTransfer <- &tr:
					if !tr.More {
						s.deliveryCount++
						s.linkCredit--
					}
					continue Loop
				case fr := <-s.rx:
					s.err = s.muxHandleFrame(fr)
					if s.err != nil {
						return
					}
				case <-s.close:
					s.err = ErrLinkClosed
					return
				case <-s.session.done:
					s.err = s.session.err
					return
				}
			}

		case <-s.close:
			s.err = ErrLinkClosed
			return
		case <-s.session.done:
			s.err = s.session.err
			return
		}
	}
}

func (s *Sender) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		linkCredit := *fr.LinkCredit - s.deliveryCount
		if fr.DeliveryCount != nil {
			// nil on servers (e.g. ActiveMQ) that haven't processed the
			// attach yet; treat as a delta from our own count.
			linkCredit += *fr.DeliveryCount
		}
		s.linkCredit = linkCredit

		if !fr.Echo {
			return nil
		}

		deliveryCount := s.deliveryCount
		resp := &frames.PerformFlow{
			Handle:        &s.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}
		_ = s.session.txFrame(resp, nil)

	case *frames.PerformDisposition:
		if rj, ok := fr.State.(*encoding.StateRejected); ok && s.detachOnRejectDisp() {
			return &DetachError{RemoteError: rj.Error}
		}

		last := fr.First
		if fr.Last != nil {
			last = *fr.Last
		}
		s.mu.Lock()
		for id := fr.First; id <= last; id++ {
			if done, ok := s.unsettled[id]; ok {
				done <- fr.State
				close(done)
				delete(s.unsettled, id)
			}
		}
		s.mu.Unlock()

		if fr.Settled {
			return nil
		}

		resp := &frames.PerformDisposition{
			Role:    encoding.RoleSender,
			First:   fr.First,
			Last:    fr.Last,
			Settled: true,
		}
		_ = s.session.txFrame(resp, nil)

	default:
		return s.link.muxHandleFrame(fr)
	}

	return nil
}

// detachOnRejectDisp reports whether a rejected delivery should tear down
// the link: only when no explicit receiver settlement round trip (ModeFirst
// or unset) is expected to carry the rejection instead.
func (s *Sender) detachOnRejectDisp() bool {
	return s.detachOnDispositionError && (s.receiverSettleMode == nil || *s.receiverSettleMode == ModeFirst)
}

func senderSettleModeValue(m *SenderSettleMode) SenderSettleMode {
	if m == nil {
		return ModeUnsettled
	}
	return *m
}

func receiverSettleModeValue(m *ReceiverSettleMode) ReceiverSettleMode {
	if m == nil {
		return ModeFirst
	}
	return *m
}
