package frames

import (
	"fmt"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

// FrameBody is implemented by every performative this module understands,
// plus the SASL performatives. A frame carrying no body (heartbeat) is
// represented by a nil FrameBody (spec.md §3 "Empty AMQP frame = heartbeat").
type FrameBody interface {
	Marshal(wr *buffer.Buffer) error
}

// Frame is a fully decoded AMQP or SASL frame: header, performative body
// (nil for a heartbeat), and for transfer frames, the trailing payload
// bytes that follow the performative (spec.md §4.2).
type Frame struct {
	Type    Type
	Channel uint16
	Body    FrameBody
	Payload []byte
}

// PerformOpen: descriptor 0x10.
type PerformOpen struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  encoding.Milliseconds
	OutgoingLocales []encoding.Symbol
	IncomingLocales []encoding.Symbol
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties   map[encoding.Symbol]interface{}
}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeOpen, []interface{}{
		o.ContainerID,
		nilIfEmptyStr(o.Hostname),
		nilIfDefaultU32(o.MaxFrameSize, DefaultMaxFrameSize),
		nilIfDefaultU16(o.ChannelMax, 65535),
		o.IdleTimeout,
		symbolArray(o.OutgoingLocales),
		symbolArray(o.IncomingLocales),
		symbolArray(o.OfferedCapabilities),
		symbolArray(o.DesiredCapabilities),
		propsOrNil(o.Properties),
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	o.MaxFrameSize = DefaultMaxFrameSize
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(r, encoding.TypeCodeOpen, []interface{}{
		&o.ContainerID, &o.Hostname, &o.MaxFrameSize, &o.ChannelMax, &o.IdleTimeout,
		&o.OutgoingLocales, &o.IncomingLocales, &o.OfferedCapabilities, &o.DesiredCapabilities,
		&o.Properties,
	})
}

func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID:%q, Hostname:%q, MaxFrameSize:%d, ChannelMax:%d, IdleTimeout:%v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

// PerformBegin: descriptor 0x11.
type PerformBegin struct {
	RemoteChannel   *uint16
	NextOutgoingID  uint32
	IncomingWindow  uint32
	OutgoingWindow  uint32
	HandleMax       uint32
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties      map[encoding.Symbol]interface{}
}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeBegin, []interface{}{
		b.RemoteChannel, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow,
		nilIfDefaultU32(b.HandleMax, 4294967295),
		symbolArray(b.OfferedCapabilities), symbolArray(b.DesiredCapabilities),
		propsOrNil(b.Properties),
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(r, encoding.TypeCodeBegin, []interface{}{
		&b.RemoteChannel, &b.NextOutgoingID, &b.IncomingWindow, &b.OutgoingWindow,
		&b.HandleMax, &b.OfferedCapabilities, &b.DesiredCapabilities, &b.Properties,
	})
}

func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{RemoteChannel:%v, NextOutgoingID:%d, IncomingWindow:%d, OutgoingWindow:%d, HandleMax:%d}",
		derefU16(b.RemoteChannel), b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow, b.HandleMax)
}

// PerformAttach: descriptor 0x12.
type PerformAttach struct {
	Name                  string
	Handle                uint32
	Role                  encoding.Role
	SenderSettleMode      *encoding.SenderSettleMode
	ReceiverSettleMode    *encoding.ReceiverSettleMode
	Source                *encoding.Source
	Target                *encoding.Target
	Coordinator           *encoding.Coordinator
	Unsettled             map[string]encoding.DeliveryState
	IncompleteUnsettled   bool
	InitialDeliveryCount  uint32
	MaxMessageSize        uint64
	OfferedCapabilities   []encoding.Symbol
	DesiredCapabilities   []encoding.Symbol
	Properties            map[encoding.Symbol]interface{}
}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	var target interface{}
	if a.Target != nil {
		target = a.Target
	} else if a.Coordinator != nil {
		target = a.Coordinator
	}
	var source interface{}
	if a.Source != nil {
		source = a.Source
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeAttach, []interface{}{
		a.Name, a.Handle, a.Role, a.SenderSettleMode, a.ReceiverSettleMode,
		source, target, nil /* unsettled: not round-tripped across reattach, see DESIGN.md */, a.IncompleteUnsettled,
		a.InitialDeliveryCount, nilIfZeroU64(a.MaxMessageSize),
		symbolArray(a.OfferedCapabilities), symbolArray(a.DesiredCapabilities), propsOrNil(a.Properties),
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	a.Source = new(encoding.Source)
	a.Target = new(encoding.Target)
	return encoding.UnmarshalComposite(r, encoding.TypeCodeAttach, []interface{}{
		&a.Name, &a.Handle, &a.Role, &a.SenderSettleMode, &a.ReceiverSettleMode,
		a.Source, a.Target, nil, &a.IncompleteUnsettled,
		&a.InitialDeliveryCount, &a.MaxMessageSize, &a.OfferedCapabilities, &a.DesiredCapabilities, &a.Properties,
	})
}

func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name:%q, Handle:%d, Role:%s}", a.Name, a.Handle, a.Role)
}

// PerformFlow: descriptor 0x13.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]interface{}
}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeFlow, []interface{}{
		f.NextIncomingID, f.IncomingWindow, f.NextOutgoingID, f.OutgoingWindow,
		f.Handle, f.DeliveryCount, f.LinkCredit, f.Available, f.Drain, f.Echo, propsOrNil(f.Properties),
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeFlow, []interface{}{
		&f.NextIncomingID, &f.IncomingWindow, &f.NextOutgoingID, &f.OutgoingWindow,
		&f.Handle, &f.DeliveryCount, &f.LinkCredit, &f.Available, &f.Drain, &f.Echo, &f.Properties,
	})
}

func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{Handle:%v, DeliveryCount:%v, LinkCredit:%v, IncomingWindow:%d, OutgoingWindow:%d, Drain:%v, Echo:%v}",
		derefU32(f.Handle), derefU32(f.DeliveryCount), derefU32(f.LinkCredit), f.IncomingWindow, f.OutgoingWindow, f.Drain, f.Echo)
}

// PerformTransfer: descriptor 0x14. Done is a local-only completion channel
// (not marshaled) the sender mux uses to resolve Send's promise-equivalent
// once a matching disposition settles the delivery (spec.md §4.8).
type PerformTransfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State              encoding.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool
	Payload            []byte

	Done chan encoding.DeliveryState
}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	var state interface{}
	if t.State != nil {
		state = t.State
	}
	if err := encoding.MarshalComposite(wr, encoding.TypeCodeTransfer, []interface{}{
		t.Handle, t.DeliveryID, t.DeliveryTag, t.MessageFormat, t.Settled, t.More,
		t.ReceiverSettleMode, state, t.Resume, t.Aborted, t.Batchable,
	}); err != nil {
		return err
	}
	wr.Append(t.Payload)
	return nil
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	if err := encoding.UnmarshalComposite(r, encoding.TypeCodeTransfer, []interface{}{
		&t.Handle, &t.DeliveryID, &t.DeliveryTag, &t.MessageFormat, &t.Settled, &t.More,
		&t.ReceiverSettleMode, &t.State, &t.Resume, &t.Aborted, &t.Batchable,
	}); err != nil {
		return err
	}
	t.Payload = append([]byte(nil), r.Bytes()...)
	r.Skip(r.Len())
	return nil
}

func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle:%d, DeliveryID:%v, More:%v, Settled:%v, len(Payload):%d}",
		t.Handle, derefU32(t.DeliveryID), t.More, t.Settled, len(t.Payload))
}

// PerformDisposition: descriptor 0x15.
type PerformDisposition struct {
	Role       encoding.Role
	First      uint32
	Last       *uint32
	Settled    bool
	State      encoding.DeliveryState
	Batchable  bool
}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	var state interface{}
	if d.State != nil {
		state = d.State
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeDisposition, []interface{}{
		d.Role, d.First, d.Last, d.Settled, state, d.Batchable,
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDisposition, []interface{}{
		&d.Role, &d.First, &d.Last, &d.Settled, &d.State, &d.Batchable,
	})
}

func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role:%s, First:%d, Last:%v, Settled:%v}", d.Role, d.First, derefU32(d.Last), d.Settled)
}

// PerformDetach: descriptor 0x16.
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	var errField interface{}
	if d.Error != nil {
		errField = d.Error
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeDetach, []interface{}{d.Handle, d.Closed, errField})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	d.Error = new(encoding.Error)
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDetach, []interface{}{&d.Handle, &d.Closed, d.Error})
}

func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle:%d, Closed:%v}", d.Handle, d.Closed)
}

// PerformEnd: descriptor 0x17.
type PerformEnd struct {
	Error *encoding.Error
}

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	var errField interface{}
	if e.Error != nil {
		errField = e.Error
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeEnd, []interface{}{errField})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	e.Error = new(encoding.Error)
	return encoding.UnmarshalComposite(r, encoding.TypeCodeEnd, []interface{}{e.Error})
}

func (e *PerformEnd) String() string { return fmt.Sprintf("End{Error:%v}", e.Error) }

// PerformClose: descriptor 0x18.
type PerformClose struct {
	Error *encoding.Error
}

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	var errField interface{}
	if c.Error != nil {
		errField = c.Error
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeClose, []interface{}{errField})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	c.Error = new(encoding.Error)
	return encoding.UnmarshalComposite(r, encoding.TypeCodeClose, []interface{}{c.Error})
}

func (c *PerformClose) String() string { return fmt.Sprintf("Close{Error:%v}", c.Error) }

// ParseBody decodes a single performative from a frame's body buffer,
// selecting the concrete type by peeking the composite's descriptor
// (spec.md §3 table). It does not handle the empty body (heartbeat) case;
// callers check for that before calling ParseBody.
func ParseBody(buf *buffer.Buffer) (FrameBody, error) {
	descriptor, err := encoding.PeekDescriptor(buf)
	if err != nil {
		return nil, err
	}

	var body FrameBody
	switch descriptor {
	case encoding.TypeCodeOpen:
		body = new(PerformOpen)
	case encoding.TypeCodeBegin:
		body = new(PerformBegin)
	case encoding.TypeCodeAttach:
		body = new(PerformAttach)
	case encoding.TypeCodeFlow:
		body = new(PerformFlow)
	case encoding.TypeCodeTransfer:
		body = new(PerformTransfer)
	case encoding.TypeCodeDisposition:
		body = new(PerformDisposition)
	case encoding.TypeCodeDetach:
		body = new(PerformDetach)
	case encoding.TypeCodeEnd:
		body = new(PerformEnd)
	case encoding.TypeCodeClose:
		body = new(PerformClose)
	case encoding.TypeCodeSASLMechanisms:
		body = new(SASLMechanisms)
	case encoding.TypeCodeSASLInit:
		body = new(SASLInit)
	case encoding.TypeCodeSASLChallenge:
		body = new(SASLChallenge)
	case encoding.TypeCodeSASLResponse:
		body = new(SASLResponse)
	case encoding.TypeCodeSASLOutcome:
		body = new(SASLOutcome)
	default:
		return nil, fmt.Errorf("frames: unknown performative descriptor %#x", descriptor)
	}

	type unmarshaler interface {
		Unmarshal(r *buffer.Buffer) error
	}
	if err := body.(unmarshaler).Unmarshal(buf); err != nil {
		return nil, err
	}
	return body, nil
}

func nilIfEmptyStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfDefaultU32(v, def uint32) interface{} {
	if v == def {
		return nil
	}
	return v
}

func nilIfDefaultU16(v, def uint16) interface{} {
	if v == def {
		return nil
	}
	return v
}

func nilIfZeroU64(v uint64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func symbolArray(s []encoding.Symbol) interface{} {
	if len(s) == 0 {
		return nil
	}
	a := make(encoding.Array, len(s))
	for i, v := range s {
		a[i] = v
	}
	return a
}

func propsOrNil(m map[encoding.Symbol]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(encoding.Map, 0, len(m))
	for k, v := range m {
		out = append(out, encoding.KeyValue{Key: k, Value: v})
	}
	return out
}

func derefU16(p *uint16) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefU32(p *uint32) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
