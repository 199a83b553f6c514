package encoding

import (
	"fmt"
	"time"

	"github.com/amqp-proto/go-amqp/internal/buffer"
)

// Error is the AMQP error type: a condition symbol plus optional
// description and info map (spec.md §6 "Error type").
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[string]interface{}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil *Error>"
	}
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Condition, e.Description)
	}
	return string(e.Condition)
}

func (e *Error) Marshal(wr *buffer.Buffer) error {
	var info interface{}
	if len(e.Info) > 0 {
		m := make(Map, 0, len(e.Info))
		for k, v := range e.Info {
			m = append(m, KeyValue{Key: k, Value: v})
		}
		info = m
	}
	return MarshalComposite(wr, TypeCodeError, []interface{}{
		Symbol(e.Condition),
		nilIfEmpty(e.Description),
		info,
	})
}

func (e *Error) Unmarshal(r *buffer.Buffer) error {
	fields := []interface{}{&e.Condition, &e.Description, nil}
	if err := UnmarshalComposite(r, TypeCodeError, fields); err != nil {
		return err
	}
	return nil
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// MarshalComposite writes a described-type composite: the 0x00 constructor,
// the ulong descriptor, then a list of fields. Trailing nil fields are
// truncated from the encoded list per spec.md §4.1 "Encoding of structures".
func MarshalComposite(wr *buffer.Buffer, descriptor uint64, fields []interface{}) error {
	last := -1
	for i, f := range fields {
		if f != nil {
			last = i
		}
	}

	wr.AppendByte(byte(typeCodeDescribedType))
	if err := Marshal(wr, descriptor); err != nil {
		return err
	}
	return writeList(wr, List(fields[:last+1]))
}

// UnmarshalComposite reads a described-type composite whose descriptor must
// equal descriptor, assigning decoded list elements into fields in
// positional order (spec.md §4.1 "Compound → structure by positional
// field"). A fields entry may be nil to skip a field the caller doesn't
// care about. Missing trailing fields are simply left untouched by the
// caller (zero value / documented default).
func UnmarshalComposite(r *buffer.Buffer, descriptor uint64, fields []interface{}) error {
	b, err := r.PeekByte()
	if err != nil {
		return err
	}
	if amqpType(b) != typeCodeDescribedType {
		return malformed("expected described type, got constructor %#02x", b)
	}
	r.Skip(1)

	desc, _, err := readAny(r, 0)
	if err != nil {
		return err
	}
	if d := toUint64(desc); d != descriptor {
		return malformed("descriptor mismatch: want %#x got %#x", descriptor, d)
	}

	v, _, err := readAny(r, 0)
	if err != nil {
		return err
	}
	return assignCompositeFields(v, fields)
}

// assignCompositeFields assigns an already-decoded composite body (a List,
// as returned by readAny for any non-empty composite) into fields.
func assignCompositeFields(v interface{}, fields []interface{}) error {
	list, ok := v.(List)
	if !ok {
		return malformed("composite body must be a list, got %T", v)
	}

	for i, f := range fields {
		if i >= len(list) || f == nil {
			continue
		}
		if list[i] == nil {
			continue
		}
		if err := assign(f, list[i]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

// assign copies a decoded value into a pointer target, covering every Go
// type the performative/domain structs use.
func assign(dst interface{}, v interface{}) error {
	switch p := dst.(type) {
	case *interface{}:
		*p = v
		return nil
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		*p = b
		return nil
	case **bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		*p = &b
		return nil
	case *string:
		*p = toStringVal(v)
		return nil
	case *Symbol:
		*p = Symbol(toStringVal(v))
		return nil
	case *[]Symbol:
		*p = toSymbolSlice(v)
		return nil
	case *[]byte:
		b, _ := v.([]byte)
		*p = b
		return nil
	case *uint8:
		*p = uint8(toUint64(v))
		return nil
	case **uint8:
		u := uint8(toUint64(v))
		*p = &u
		return nil
	case *uint16:
		*p = uint16(toUint64(v))
		return nil
	case **uint16:
		u := uint16(toUint64(v))
		*p = &u
		return nil
	case *uint32:
		*p = uint32(toUint64(v))
		return nil
	case **uint32:
		u := uint32(toUint64(v))
		*p = &u
		return nil
	case *uint64:
		*p = toUint64(v)
		return nil
	case **uint64:
		u := toUint64(v)
		*p = &u
		return nil
	case *int32:
		*p = int32(toInt64(v))
		return nil
	case **int32:
		i := int32(toInt64(v))
		*p = &i
		return nil
	case *Milliseconds:
		*p = Milliseconds(int64(toUint64(v)) * 1e6)
		return nil
	case *Role:
		b, _ := v.(bool)
		*p = Role(b)
		return nil
	case *SenderSettleMode:
		*p = SenderSettleMode(toUint64(v))
		return nil
	case **SenderSettleMode:
		m := SenderSettleMode(toUint64(v))
		*p = &m
		return nil
	case *ReceiverSettleMode:
		*p = ReceiverSettleMode(toUint64(v))
		return nil
	case **ReceiverSettleMode:
		m := ReceiverSettleMode(toUint64(v))
		*p = &m
		return nil
	case *Durability:
		*p = Durability(toUint64(v))
		return nil
	case *ExpiryPolicy:
		*p = ExpiryPolicy(toStringVal(v))
		return nil
	case *time.Time:
		t, _ := v.(time.Time)
		*p = t
		return nil
	case *map[string]interface{}:
		*p = toStringMap(v)
		return nil
	case *map[Symbol]interface{}:
		*p = toSymbolMap(v)
		return nil
	case *DeliveryState:
		ds, err := deliveryStateFromValue(v)
		if err != nil {
			return err
		}
		*p = ds
		return nil
	case *Error:
		dt, ok := v.(DescribedType)
		if !ok {
			return fmt.Errorf("expected described error, got %T", v)
		}
		return assignCompositeFields(dt.Value, []interface{}{&p.Condition, &p.Description, &p.Info})
	case Unmarshaler:
		// domain types such as *Source and *Target decode themselves:
		// re-encode the decoded value and hand it to their Unmarshal.
		buf := buffer.New(nil)
		if err := Marshal(buf, v); err != nil {
			return err
		}
		return p.Unmarshal(buf)
	default:
		return fmt.Errorf("assign: unsupported target %T for value %T", dst, v)
	}
}

func toStringVal(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case Symbol:
		return string(s)
	default:
		return ""
	}
}

func toSymbolSlice(v interface{}) []Symbol {
	switch a := v.(type) {
	case Array:
		out := make([]Symbol, 0, len(a))
		for _, e := range a {
			out = append(out, Symbol(toStringVal(e)))
		}
		return out
	case List:
		out := make([]Symbol, 0, len(a))
		for _, e := range a {
			out = append(out, Symbol(toStringVal(e)))
		}
		return out
	case Symbol:
		return []Symbol{a}
	case string:
		return []Symbol{Symbol(a)}
	default:
		return nil
	}
}

func toStringMap(v interface{}) map[string]interface{} {
	m, ok := v.(Map)
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for _, kv := range m {
		out[toStringVal(kv.Key)] = kv.Value
	}
	return out
}

func toSymbolMap(v interface{}) map[Symbol]interface{} {
	m, ok := v.(Map)
	if !ok {
		return nil
	}
	out := make(map[Symbol]interface{}, len(m))
	for _, kv := range m {
		out[Symbol(toStringVal(kv.Key))] = kv.Value
	}
	return out
}
