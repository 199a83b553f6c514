package amqp

import (
	"fmt"
	"time"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

// MessageHeader carries transport hints that are not part of the message
// itself (durable, priority, ttl, delivery-count, first-acquirer).
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           encoding.Milliseconds
	FirstAcquirer bool
	DeliveryCount uint32
}

func (h *MessageHeader) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, []interface{}{
		h.Durable, h.Priority, h.TTL, h.FirstAcquirer, h.DeliveryCount,
	})
}

func (h *MessageHeader) unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageHeader, []interface{}{
		&h.Durable, &h.Priority, &h.TTL, &h.FirstAcquirer, &h.DeliveryCount,
	})
}

// MessageProperties is the immutable properties section (message-id through
// group-sequence in the AMQP 1.0 spec ordering).
type MessageProperties struct {
	MessageID     interface{}
	UserID        []byte
	To            string
	Subject       string
	ReplyTo       string
	CorrelationID interface{}
	ContentType   string
	ContentEncoding string
	AbsoluteExpiryTime time.Time
	CreationTime       time.Time
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}

func (p *MessageProperties) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageProperties, []interface{}{
		p.MessageID, p.UserID, nilIfEmptyString(p.To), nilIfEmptyString(p.Subject), nilIfEmptyString(p.ReplyTo),
		p.CorrelationID, encoding.Symbol(p.ContentType), encoding.Symbol(p.ContentEncoding),
		p.AbsoluteExpiryTime, p.CreationTime, nilIfEmptyString(p.GroupID), p.GroupSequence, nilIfEmptyString(p.ReplyToGroupID),
	})
}

func (p *MessageProperties) unmarshal(r *buffer.Buffer) error {
	var contentType, contentEncoding encoding.Symbol
	if err := encoding.UnmarshalComposite(r, encoding.TypeCodeMessageProperties, []interface{}{
		&p.MessageID, &p.UserID, &p.To, &p.Subject, &p.ReplyTo, &p.CorrelationID,
		&contentType, &contentEncoding, &p.AbsoluteExpiryTime, &p.CreationTime,
		&p.GroupID, &p.GroupSequence, &p.ReplyToGroupID,
	}); err != nil {
		return err
	}
	p.ContentType = string(contentType)
	p.ContentEncoding = string(contentEncoding)
	return nil
}

func nilIfEmptyString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Message is an AMQP message: the sections of spec.md §3's "Message" type,
// plus bookkeeping (Format, DeliveryTag) the link layer needs to frame it.
type Message struct {
	// Header carries transport hints; nil if the peer sent none.
	Header *MessageHeader
	// DeliveryAnnotations are consumed by the first hop and not forwarded
	// past it; nil if absent.
	DeliveryAnnotations map[encoding.Symbol]interface{}
	// Annotations travel with the message for its whole route; nil if absent.
	Annotations map[encoding.Symbol]interface{}
	// Properties holds message-id, correlation-id, and friends; nil if absent.
	Properties *MessageProperties
	// ApplicationProperties is the user-defined properties map.
	ApplicationProperties map[string]interface{}
	// Data holds the message body when it's one or more opaque binary
	// (amqp-data) sections — the common case for byte-oriented producers.
	Data [][]byte
	// Value holds the message body when it's a single arbitrary amqp-value
	// section (e.g., a decoded map, as in spec.md Scenario B).
	Value interface{}
	// Sequence holds the message body when it's one or more amqp-sequence
	// (list) sections.
	Sequence [][]interface{}
	// Footer carries trailing annotations (e.g., delivery signatures); nil
	// if absent.
	Footer map[encoding.Symbol]interface{}

	// Format is the message-format field on the first transfer of a
	// delivery; 0 for the standard AMQP message encoding.
	Format uint32
	// DeliveryTag, if non-empty, is used verbatim instead of a
	// link-generated tag (spec.md §4.8).
	DeliveryTag []byte
	// SendSettled requests the sender settle this specific delivery when
	// the sender's settlement mode is Mixed.
	SendSettled bool

	// deliveryID and settled record receiver-side bookkeeping needed to
	// issue the correct disposition from Accept/Reject/Release/Modify.
	deliveryID uint32
	settled    bool
	rcvd       *Receiver

	// marshalBuf accumulates transfer payloads while a multi-frame
	// delivery is being reassembled; cleared once Unmarshal succeeds.
	marshalBuf []byte
}

// Marshal encodes m's sections, in spec order, to wr.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.Header != nil {
		if err := m.Header.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		if err := marshalAnnotations(wr, encoding.TypeCodeDeliveryAnnotations, m.DeliveryAnnotations); err != nil {
			return err
		}
	}
	if len(m.Annotations) > 0 {
		if err := marshalAnnotations(wr, encoding.TypeCodeMessageAnnotations, m.Annotations); err != nil {
			return err
		}
	}
	if m.Properties != nil {
		if err := m.Properties.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.ApplicationProperties) > 0 {
		props := make(encoding.Map, 0, len(m.ApplicationProperties))
		for k, v := range m.ApplicationProperties {
			props = append(props, encoding.KeyValue{Key: k, Value: v})
		}
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeApplicationProperties, []interface{}{props}); err != nil {
			return err
		}
	}

	switch {
	case m.Value != nil:
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeAMQPValue, []interface{}{m.Value}); err != nil {
			return err
		}
	case len(m.Sequence) > 0:
		for _, seq := range m.Sequence {
			if err := encoding.MarshalComposite(wr, encoding.TypeCodeAMQPSequence, []interface{}{encoding.List(seq)}); err != nil {
				return err
			}
		}
	default:
		for _, d := range m.Data {
			if err := encoding.MarshalComposite(wr, encoding.TypeCodeApplicationData, []interface{}{d}); err != nil {
				return err
			}
		}
	}

	if len(m.Footer) > 0 {
		return marshalAnnotations(wr, encoding.TypeCodeFooter, m.Footer)
	}
	return nil
}

func marshalAnnotations(wr *buffer.Buffer, descriptor uint64, m map[encoding.Symbol]interface{}) error {
	annotations := make(encoding.Map, 0, len(m))
	for k, v := range m {
		annotations = append(annotations, encoding.KeyValue{Key: k, Value: v})
	}
	return encoding.MarshalComposite(wr, descriptor, []interface{}{annotations})
}

// Unmarshal decodes a complete (fully reassembled) message payload from r.
func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		descriptor, err := encoding.PeekDescriptor(r)
		if err != nil {
			return err
		}
		switch descriptor {
		case encoding.TypeCodeMessageHeader:
			m.Header = new(MessageHeader)
			if err := m.Header.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeDeliveryAnnotations:
			if err := unmarshalAnnotations(r, encoding.TypeCodeDeliveryAnnotations, &m.DeliveryAnnotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageAnnotations:
			if err := unmarshalAnnotations(r, encoding.TypeCodeMessageAnnotations, &m.Annotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageProperties:
			m.Properties = new(MessageProperties)
			if err := m.Properties.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationProperties:
			var props map[string]interface{}
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeApplicationProperties, []interface{}{&props}); err != nil {
				return err
			}
			m.ApplicationProperties = props
		case encoding.TypeCodeApplicationData:
			var data []byte
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeApplicationData, []interface{}{&data}); err != nil {
				return err
			}
			m.Data = append(m.Data, data)
		case encoding.TypeCodeAMQPSequence:
			var list encoding.List
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeAMQPSequence, []interface{}{&list}); err != nil {
				return err
			}
			m.Sequence = append(m.Sequence, []interface{}(list))
		case encoding.TypeCodeAMQPValue:
			var v interface{}
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeAMQPValue, []interface{}{&v}); err != nil {
				return err
			}
			m.Value = v
		case encoding.TypeCodeFooter:
			if err := unmarshalAnnotations(r, encoding.TypeCodeFooter, &m.Footer); err != nil {
				return err
			}
		default:
			return fmt.Errorf("amqp: unknown message section descriptor %#x", descriptor)
		}
	}
	return nil
}

func unmarshalAnnotations(r *buffer.Buffer, descriptor uint64, out *map[encoding.Symbol]interface{}) error {
	var m map[encoding.Symbol]interface{}
	if err := encoding.UnmarshalComposite(r, descriptor, []interface{}{&m}); err != nil {
		return err
	}
	*out = m
	return nil
}
