package encoding

import "github.com/amqp-proto/go-amqp/internal/buffer"

// Source is the attach performative's source terminus (descriptor 0x28).
// Field order matches the AMQP 1.0 source composite exactly, which is what
// gives Marshal/Unmarshal their positional semantics (spec.md §4.1).
type Source struct {
	Address      string
	Durable      Durability
	ExpiryPolicy ExpiryPolicy
	Timeout      uint32 // seconds
	Dynamic      bool
	DynamicNodeProperties map[Symbol]interface{}
	DistributionMode      Symbol
	Filter       map[Symbol]*DescribedType
	DefaultOutcome DeliveryState
	Outcomes     []Symbol
	Capabilities []Symbol
}

func (s *Source) Marshal(wr *buffer.Buffer) error {
	filter, err := marshalFilterValue(s.Filter)
	if err != nil {
		return err
	}
	var defaultOutcome interface{}
	if s.DefaultOutcome != nil {
		defaultOutcome = s.DefaultOutcome
	}
	return MarshalComposite(wr, TypeCodeSource, []interface{}{
		nilIfEmpty(s.Address),
		s.Durable,
		symbolOrNil(s.ExpiryPolicy),
		nilIfZeroU32(s.Timeout),
		s.Dynamic,
		mapOrNil(s.DynamicNodeProperties),
		symbolOrNil(s.DistributionMode),
		filter,
		defaultOutcome,
		symbolArrayOrNil(s.Outcomes),
		symbolArrayOrNil(s.Capabilities),
	})
}

func (s *Source) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeSource, []interface{}{
		&s.Address, &s.Durable, &s.ExpiryPolicy, &s.Timeout, &s.Dynamic,
		&s.DynamicNodeProperties, &s.DistributionMode, &s.Filter, nil,
		&s.Outcomes, &s.Capabilities,
	})
}

// Target is the attach performative's target terminus (descriptor 0x29).
type Target struct {
	Address               string
	Durable               Durability
	ExpiryPolicy          ExpiryPolicy
	Timeout               uint32
	Dynamic               bool
	DynamicNodeProperties map[Symbol]interface{}
	Capabilities          []Symbol
}

func (t *Target) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeTarget, []interface{}{
		nilIfEmpty(t.Address),
		t.Durable,
		symbolOrNil(t.ExpiryPolicy),
		nilIfZeroU32(t.Timeout),
		t.Dynamic,
		mapOrNil(t.DynamicNodeProperties),
		symbolArrayOrNil(t.Capabilities),
	})
}

func (t *Target) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeTarget, []interface{}{
		&t.Address, &t.Durable, &t.ExpiryPolicy, &t.Timeout, &t.Dynamic,
		&t.DynamicNodeProperties, &t.Capabilities,
	})
}

// Coordinator is the transaction coordinator target (supplemented feature,
// descriptor 0x30; see SPEC_FULL.md transaction controller section).
type Coordinator struct {
	Capabilities []Symbol
}

func (c *Coordinator) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeCoordinator, []interface{}{symbolArrayOrNil(c.Capabilities)})
}

func (c *Coordinator) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeCoordinator, []interface{}{&c.Capabilities})
}

func symbolOrNil(s interface{ String() string }) interface{} {
	str := s.String()
	if str == "" {
		return nil
	}
	return Symbol(str)
}

func nilIfZeroU32(v uint32) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func mapOrNil(m map[Symbol]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(Map, 0, len(m))
	for k, v := range m {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	return out
}

func symbolArrayOrNil(s []Symbol) interface{} {
	if len(s) == 0 {
		return nil
	}
	a := make(Array, len(s))
	for i, v := range s {
		a[i] = v
	}
	return a
}

func marshalFilterValue(f map[Symbol]*DescribedType) (interface{}, error) {
	if len(f) == 0 {
		return nil, nil
	}
	m := make(Map, 0, len(f))
	for k, v := range f {
		m = append(m, KeyValue{Key: k, Value: *v})
	}
	return m, nil
}
