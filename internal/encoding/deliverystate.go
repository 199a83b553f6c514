package encoding

import (
	"github.com/amqp-proto/go-amqp/internal/buffer"
)

// DeliveryState is the common interface satisfied by the four settlement
// outcomes spec.md §6 lists (accepted/rejected/released/modified) plus the
// received state used mid-transfer by resuming links.
type DeliveryState interface {
	Marshaler
	Unmarshaler
	isDeliveryState()
}

// StateAccepted: desc 0x24.
type StateAccepted struct{}

func (*StateAccepted) isDeliveryState() {}
func (s *StateAccepted) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateAccepted, nil)
}
func (s *StateAccepted) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateAccepted, nil)
}

// StateRejected: desc 0x25, carries an optional Error.
type StateRejected struct {
	Error *Error
}

func (*StateRejected) isDeliveryState() {}
func (s *StateRejected) Marshal(wr *buffer.Buffer) error {
	var errField interface{}
	if s.Error != nil {
		errField = s.Error
	}
	return MarshalComposite(wr, TypeCodeStateRejected, []interface{}{errField})
}
func (s *StateRejected) Unmarshal(r *buffer.Buffer) error {
	s.Error = new(Error)
	if err := UnmarshalComposite(r, TypeCodeStateRejected, []interface{}{s.Error}); err != nil {
		return err
	}
	return nil
}

// StateReleased: desc 0x26.
type StateReleased struct{}

func (*StateReleased) isDeliveryState() {}
func (s *StateReleased) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReleased, nil)
}
func (s *StateReleased) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateReleased, nil)
}

// StateModified: desc 0x27.
type StateModified struct {
	DeliveryFailed    bool
	UndeliverableHere bool
	MessageAnnotations map[Symbol]interface{}
}

func (*StateModified) isDeliveryState() {}
func (s *StateModified) Marshal(wr *buffer.Buffer) error {
	var annotations interface{}
	if len(s.MessageAnnotations) > 0 {
		m := make(Map, 0, len(s.MessageAnnotations))
		for k, v := range s.MessageAnnotations {
			m = append(m, KeyValue{Key: k, Value: v})
		}
		annotations = m
	}
	return MarshalComposite(wr, TypeCodeStateModified, []interface{}{
		s.DeliveryFailed, s.UndeliverableHere, annotations,
	})
}
func (s *StateModified) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateModified, []interface{}{
		&s.DeliveryFailed, &s.UndeliverableHere, &s.MessageAnnotations,
	})
}

// StateReceived: desc 0x23, used by resuming/partial transfers.
type StateReceived struct {
	SectionNumber uint32
	SectionOffset uint64
}

func (*StateReceived) isDeliveryState() {}
func (s *StateReceived) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReceived, []interface{}{
		s.SectionNumber, s.SectionOffset,
	})
}
func (s *StateReceived) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateReceived, []interface{}{
		&s.SectionNumber, &s.SectionOffset,
	})
}

// StateDeclared: desc 0x33, returned by the transaction coordinator in
// response to a Declare (supplemented feature, see SPEC_FULL.md).
type StateDeclared struct {
	TransactionID []byte
}

func (*StateDeclared) isDeliveryState() {}
func (s *StateDeclared) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeDeclared, []interface{}{s.TransactionID})
}
func (s *StateDeclared) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeDeclared, []interface{}{&s.TransactionID})
}

// DecodeDeliveryState decodes a described-type value known to be one of the
// DeliveryState variants, selecting the concrete Go type by descriptor.
func DecodeDeliveryState(r *buffer.Buffer) (DeliveryState, error) {
	v, _, err := readAny(r, 0)
	if err != nil {
		return nil, err
	}
	return deliveryStateFromValue(v)
}

// deliveryStateFromValue converts an already-decoded DescribedType (as
// produced by readAny/ReadAny) into the concrete DeliveryState it names.
// Shared by DecodeDeliveryState (top-level decode) and assign (decoding a
// DeliveryState nested inside another composite's field list).
func deliveryStateFromValue(v interface{}) (DeliveryState, error) {
	dt, ok := v.(DescribedType)
	if !ok {
		return nil, malformed("expected described delivery-state, got %T", v)
	}

	var state DeliveryState
	switch toUint64(dt.Descriptor) {
	case TypeCodeStateAccepted:
		state = new(StateAccepted)
	case TypeCodeStateRejected:
		state = new(StateRejected)
	case TypeCodeStateReleased:
		state = new(StateReleased)
	case TypeCodeStateModified:
		state = new(StateModified)
	case TypeCodeStateReceived:
		state = new(StateReceived)
	case TypeCodeDeclared:
		state = new(StateDeclared)
	default:
		return nil, malformed("unknown delivery-state descriptor %#x", toUint64(dt.Descriptor))
	}
	if err := assignCompositeFields(dt.Value, deliveryStateFields(state)); err != nil {
		return nil, err
	}
	return state, nil
}

// deliveryStateFields returns the positional field pointers for a freshly
// allocated DeliveryState, used to assign from an already-decoded list
// without re-reading a descriptor (deliveryStateFromValue already consumed
// and validated it).
func deliveryStateFields(state DeliveryState) []interface{} {
	switch s := state.(type) {
	case *StateAccepted:
		return nil
	case *StateRejected:
		s.Error = new(Error)
		return []interface{}{s.Error}
	case *StateReleased:
		return nil
	case *StateModified:
		return []interface{}{&s.DeliveryFailed, &s.UndeliverableHere, &s.MessageAnnotations}
	case *StateReceived:
		return []interface{}{&s.SectionNumber, &s.SectionOffset}
	case *StateDeclared:
		return []interface{}{&s.TransactionID}
	default:
		return nil
	}
}
