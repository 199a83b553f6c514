package amqp

import (
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// defaultLinkCredit is the initial credit a Receiver grants its peer when
// ReceiverOptions.Credit is left unset (spec.md §4.9).
const defaultLinkCredit = 1000

// Receiver receives messages on a single AMQP link.
type Receiver struct {
	link

	manualCreditor *manualCreditor

	// unsettledMessages tracks delivery tags awaiting an application
	// disposition when SettlementMode is ModeSecond.
	unsettledMessages map[string]struct{}

	msgBuf *Message // in-progress multi-frame reassembly
}

// LinkName is the name of the link used for this Receiver.
func (r *Receiver) LinkName() string {
	return r.key.name
}

// Address returns the link's source address.
func (r *Receiver) Address() string {
	if r.source == nil {
		return ""
	}
	return r.source.Address
}

// MaxMessageSize is the maximum size of a single message.
func (r *Receiver) MaxMessageSize() uint64 {
	return r.maxMessageSize
}

// Prefetched returns the next message buffered by a prior background
// receive, or nil if none is available. It never blocks.
func (r *Receiver) Prefetched() *Message {
	select {
	case msg := <-r.Messages:
		return msg
	default:
		return nil
	}
}

// Receive blocks until a message arrives, ctx is done, or the link detaches.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-r.Messages:
		return msg, nil
	case <-r.detached:
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IssueCredit requests additional link credit beyond the receiver's initial
// window. It requires ReceiverOptions.ManualCredits.
func (r *Receiver) IssueCredit(credits uint32) error {
	if r.manualCreditor == nil {
		return pkgerrors.New("amqp: IssueCredit requires ReceiverOptions.ManualCredits")
	}
	if err := r.manualCreditor.IssueCredit(credits, &r.link); err != nil {
		return err
	}
	return r.sendFlow(context.Background())
}

// Drain requests the peer stop using outstanding credit and blocks until it
// confirms (spec.md §4.9 "Drain").
func (r *Receiver) Drain(ctx context.Context) error {
	if r.manualCreditor == nil {
		return pkgerrors.New("amqp: Drain requires ReceiverOptions.ManualCredits")
	}
	if err := r.sendFlow(ctx); err != nil {
		return err
	}
	return r.manualCreditor.Drain(ctx, &r.link)
}

// AcceptMessage settles msg as accepted (ModeSecond only; a no-op under
// ModeFirst, where the receiver already auto-accepted).
func (r *Receiver) AcceptMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateAccepted{})
}

// RejectMessage settles msg as rejected with the given error.
func (r *Receiver) RejectMessage(ctx context.Context, msg *Message, e *Error) error {
	return r.settle(ctx, msg, &encoding.StateRejected{Error: e})
}

// ReleaseMessage settles msg as released, asking the peer to redeliver it.
func (r *Receiver) ReleaseMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateReleased{})
}

// ModifyMessage settles msg as modified.
func (r *Receiver) ModifyMessage(ctx context.Context, msg *Message, deliveryFailed, undeliverableHere bool, annotations map[encoding.Symbol]interface{}) error {
	return r.settle(ctx, msg, &encoding.StateModified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	})
}

func (r *Receiver) settle(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	if msg.settled {
		return nil
	}
	delete(r.unsettledMessages, string(msg.DeliveryTag))
	disp := &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   msg.deliveryID,
		Settled: true,
		State:   state,
	}
	return r.session.txFrame(disp, nil)
}

// Close closes the Receiver and its AMQP link.
func (r *Receiver) Close(ctx context.Context) error {
	return r.closeLink(ctx)
}

func newReceiver(source string, sess *Session, opts *ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		link: link{
			key:     linkKey{name: newLinkName(), role: encoding.RoleReceiver},
			session: sess,
			source:  &encoding.Source{Address: source},
			target:  new(encoding.Target),
		},
		unsettledMessages: make(map[string]struct{}),
	}

	credit := uint32(defaultLinkCredit)
	if opts == nil {
		r.Messages = make(chan *Message, credit)
		r.linkCredit = credit
		return r, nil
	}

	for _, v := range opts.Capabilities {
		r.target.Capabilities = append(r.target.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	r.target.Durable = opts.Durability
	if opts.DynamicAddress {
		r.source.Address = ""
		r.dynamicAddr = true
	}
	if opts.ExpiryPolicy != "" {
		if err := encoding.ValidateExpiryPolicy(opts.ExpiryPolicy); err != nil {
			return nil, err
		}
		r.target.ExpiryPolicy = opts.ExpiryPolicy
	}
	r.target.Timeout = opts.ExpiryTimeout
	if opts.Credit != 0 {
		credit = opts.Credit
	}
	if opts.ManualCredits {
		r.manualCreditor = &manualCreditor{}
	}
	r.maxMessageSize = opts.MaxMessageSize
	if opts.Name != "" {
		r.key.name = opts.Name
	}
	if opts.Properties != nil {
		r.properties = make(map[encoding.Symbol]interface{}, len(opts.Properties))
		for k, v := range opts.Properties {
			if k == "" {
				return nil, pkgerrors.New("amqp: link property key must not be empty")
			}
			r.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedSenderSettleMode != nil {
		if ssm := *opts.RequestedSenderSettleMode; ssm > ModeMixed {
			return nil, fmt.Errorf("amqp: invalid RequestedSenderSettleMode %d", ssm)
		}
		r.senderSettleMode = opts.RequestedSenderSettleMode
	}
	if opts.SettlementMode != nil {
		if rsm := *opts.SettlementMode; rsm > ModeSecond {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", rsm)
		}
		r.receiverSettleMode = opts.SettlementMode
	}
	r.target.Address = opts.TargetAddress
	r.Messages = make(chan *Message, credit)
	r.linkCredit = credit
	return r, nil
}

func (r *Receiver) attach(ctx context.Context, session *Session) error {
	if err := r.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleReceiver
		if pa.Source == nil {
			pa.Source = new(encoding.Source)
		}
		pa.Source.Dynamic = r.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if r.source == nil {
			r.source = new(encoding.Source)
		}
		if r.dynamicAddr && pa.Source != nil {
			r.source.Address = pa.Source.Address
		}
	}); err != nil {
		return err
	}

	go r.mux()

	// issue the initial credit window once the mux is running so any
	// immediate flow response is demuxed correctly.
	return r.sendFlow(ctx)
}

func (r *Receiver) sendFlow(ctx context.Context) error {
	deliveryCount := r.deliveryCount
	linkCredit := r.linkCredit
	drain := false
	if r.manualCreditor != nil {
		var credits uint32
		drain, credits = r.manualCreditor.FlowBits()
		linkCredit += credits
		r.linkCredit = linkCredit
	}
	fr := &frames.PerformFlow{
		Handle:         &r.handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		Drain:          drain,
		IncomingWindow: defaultWindow,
		OutgoingWindow: defaultWindow,
	}
	return r.session.txFrame(fr, nil)
}

func (r *Receiver) mux() {
	defer r.muxDetach(nil, nil)

	for {
		select {
		case fr := <-r.rx:
			r.err = r.muxHandleFrame(fr)
			if r.err != nil {
				return
			}
		case <-r.close:
			r.err = ErrLinkClosed
			return
		case <-r.session.done:
			r.err = r.session.err
			return
		}
	}
}

func (r *Receiver) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		if fr.Drain && r.manualCreditor != nil {
			r.manualCreditor.EndDrain()
		}
		if !fr.Echo {
			return nil
		}
		return r.sendFlow(context.Background())

	case *frames.PerformTransfer:
		return r.muxReceive(fr)

	default:
		return r.link.muxHandleFrame(fr)
	}
}

// muxReceive reassembles a (possibly multi-frame) transfer into a Message
// and, once complete, delivers it on Messages and auto-accepts under
// ModeFirst (spec.md §4.8 "Reassembly", §4.9 "Settlement").
func (r *Receiver) muxReceive(fr *frames.PerformTransfer) error {
	if r.msgBuf == nil {
		r.msgBuf = &Message{
			deliveryID:  valUint32(fr.DeliveryID),
			DeliveryTag: fr.DeliveryTag,
			rcvd:        r,
		}
		r.msgBuf.SendSettled = fr.Settled
	}
	if fr.Aborted {
		// spec.md §4.9: an aborted delivery cancels regardless of More —
		// drop the partial buffer silently, deliver nothing, credit
		// nothing.
		r.msgBuf = nil
		return nil
	}

	r.msgBuf.marshalBuf = append(r.msgBuf.marshalBuf, fr.Payload...)

	if fr.More {
		return nil
	}

	msg := r.msgBuf
	r.msgBuf = nil

	if err := msg.Unmarshal(buffer.New(msg.marshalBuf)); err != nil {
		return err
	}
	msg.marshalBuf = nil

	r.deliveryCount++
	if r.linkCredit > 0 {
		r.linkCredit--
	}

	settleNow := r.receiverSettleMode == nil || *r.receiverSettleMode == ModeFirst
	if settleNow && !fr.Settled {
		disp := &frames.PerformDisposition{
			Role:    encoding.RoleReceiver,
			First:   msg.deliveryID,
			Settled: true,
			State:   &encoding.StateAccepted{},
		}
		if err := r.session.txFrame(disp, nil); err != nil {
			return err
		}
		msg.settled = true
	} else {
		r.unsettledMessages[string(msg.DeliveryTag)] = struct{}{}
	}

	select {
	case r.Messages <- msg:
	default:
		// buffer full: caller requested more credit than it is consuming.
		return fmt.Errorf("amqp: receiver message buffer full")
	}

	if r.linkCredit == 0 && r.manualCreditor == nil {
		r.linkCredit = uint32(cap(r.Messages) - len(r.Messages))
		return r.sendFlow(context.Background())
	}
	return nil
}

func valUint32(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}
