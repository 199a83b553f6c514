package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/amqp-proto/go-amqp/internal/buffer"
)

// Marshaler is implemented by types that know how to encode their own wire
// form (performatives, domain types such as source/target/error).
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Marshal appends the AMQP wire form of v to wr, choosing the most compact
// sufficient encoding unless v is a ForcedType (spec.md §4.1).
func Marshal(wr *buffer.Buffer, v interface{}) error {
	if v == nil {
		wr.AppendByte(byte(typeCodeNull))
		return nil
	}

	// a nil pointer encodes as null; a pointer that does not marshal itself
	// encodes as the value it points to.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			wr.AppendByte(byte(typeCodeNull))
			return nil
		}
		if _, ok := v.(Marshaler); !ok {
			return Marshal(wr, rv.Elem().Interface())
		}
	}

	if m, ok := v.(Marshaler); ok {
		return m.Marshal(wr)
	}

	if ft, ok := v.(ForcedType); ok {
		return marshalForced(wr, ft)
	}
	if ft, ok := v.(*ForcedType); ok {
		return marshalForced(wr, *ft)
	}

	switch v := v.(type) {
	case bool:
		return writeBool(wr, v)
	case uint8:
		return writeUbyte(wr, v)
	case uint16:
		return writeUshort(wr, v)
	case uint32:
		return writeUint(wr, v)
	case uint64:
		return writeUlong(wr, v)
	case uint:
		return writeUlong(wr, uint64(v))
	case int8:
		return writeByte(wr, v)
	case int16:
		return writeShort(wr, v)
	case int32:
		return writeInt(wr, v)
	case int64:
		return writeLong(wr, v)
	case int:
		return writeLong(wr, int64(v))
	case float32:
		return writeFloat(wr, v)
	case float64:
		return writeDouble(wr, v)
	case string:
		return writeString(wr, v)
	case Symbol:
		return writeSymbol(wr, v)
	case []byte:
		return writeBinary(wr, v)
	case time.Time:
		return writeTimestamp(wr, v)
	case UUID:
		return writeUUID(wr, v)
	case List:
		return writeList(wr, v)
	case []interface{}:
		return writeList(wr, List(v))
	case Map:
		return writeMap(wr, v)
	case Array:
		return writeArray(wr, v)
	case map[Symbol]interface{}:
		kv := make(Map, 0, len(v))
		for k, val := range v {
			kv = append(kv, KeyValue{Key: k, Value: val})
		}
		return writeMap(wr, kv)
	case map[string]interface{}:
		kv := make(Map, 0, len(v))
		for k, val := range v {
			kv = append(kv, KeyValue{Key: k, Value: val})
		}
		return writeMap(wr, kv)
	default:
		return fmt.Errorf("encoding: marshal: unsupported type %T", v)
	}
}

func marshalForced(wr *buffer.Buffer, ft ForcedType) error {
	switch ft.Code {
	case ForceUint:
		return writeUint(wr, toUint32(ft.Value))
	case ForceULong:
		return writeUlong(wr, toUint64(ft.Value))
	case ForceInt:
		return writeInt(wr, toInt32(ft.Value))
	case ForceLong:
		return writeLong(wr, toInt64(ft.Value))
	case ForceUbyte:
		return writeUbyte(wr, uint8(toUint64(ft.Value)))
	case ForceByte:
		return writeByte(wr, int8(toInt64(ft.Value)))
	case ForceUshort:
		return writeUshort(wr, uint16(toUint64(ft.Value)))
	case ForceShort:
		return writeShort(wr, int16(toInt64(ft.Value)))
	case ForceDouble:
		return writeDouble(wr, toFloat64(ft.Value))
	case ForceFloat:
		return writeFloat(wr, float32(toFloat64(ft.Value)))
	case ForceSymbol:
		s, _ := ft.Value.(string)
		return writeSymbol(wr, Symbol(s))
	case ForceString:
		s, _ := ft.Value.(string)
		return writeString(wr, s)
	case ForceTimestamp:
		t, _ := ft.Value.(time.Time)
		return writeTimestamp(wr, t)
	default:
		return fmt.Errorf("encoding: unknown forced type %q", ft.Code)
	}
}

func toUint64(v interface{}) uint64 {
	switch v := v.(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint8:
		return uint64(v)
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

func toUint32(v interface{}) uint32 { return uint32(toUint64(v)) }

func toInt64(v interface{}) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func toInt32(v interface{}) int32 { return int32(toInt64(v)) }

func toFloat64(v interface{}) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}

func writeBool(wr *buffer.Buffer, v bool) error {
	if v {
		wr.AppendByte(byte(typeCodeBoolTrue))
	} else {
		wr.AppendByte(byte(typeCodeBoolFalse))
	}
	return nil
}

func writeUbyte(wr *buffer.Buffer, v uint8) error {
	if v == 0 {
		wr.AppendByte(byte(typeCodeUint0))
		return nil
	}
	wr.AppendByte(byte(typeCodeUbyte))
	wr.AppendByte(v)
	return nil
}

func writeUshort(wr *buffer.Buffer, v uint16) error {
	wr.AppendByte(byte(typeCodeUshort))
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	wr.Append(b[:])
	return nil
}

// writeUint picks the most compact sufficient encoding: uint0, smalluint, or
// the full 4-byte form.
func writeUint(wr *buffer.Buffer, v uint32) error {
	switch {
	case v == 0:
		wr.AppendByte(byte(typeCodeUint0))
	case v <= 255:
		wr.AppendByte(byte(typeCodeSmallUint))
		wr.AppendByte(byte(v))
	default:
		wr.AppendByte(byte(typeCodeUint))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		wr.Append(b[:])
	}
	return nil
}

func writeUlong(wr *buffer.Buffer, v uint64) error {
	switch {
	case v == 0:
		wr.AppendByte(byte(typeCodeUlong0))
	case v <= 255:
		wr.AppendByte(byte(typeCodeSmallUlong))
		wr.AppendByte(byte(v))
	default:
		wr.AppendByte(byte(typeCodeUlong))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		wr.Append(b[:])
	}
	return nil
}

func writeByte(wr *buffer.Buffer, v int8) error {
	wr.AppendByte(byte(typeCodeByte))
	wr.AppendByte(byte(v))
	return nil
}

func writeShort(wr *buffer.Buffer, v int16) error {
	wr.AppendByte(byte(typeCodeShort))
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	wr.Append(b[:])
	return nil
}

// writeInt picks smallint when v fits in a signed byte, else the 4-byte form.
func writeInt(wr *buffer.Buffer, v int32) error {
	if v >= -128 && v <= 127 {
		wr.AppendByte(byte(typeCodeSmallint))
		wr.AppendByte(byte(int8(v)))
		return nil
	}
	wr.AppendByte(byte(typeCodeInt))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	wr.Append(b[:])
	return nil
}

func writeLong(wr *buffer.Buffer, v int64) error {
	if v >= -128 && v <= 127 {
		wr.AppendByte(byte(typeCodeSmalllong))
		wr.AppendByte(byte(int8(v)))
		return nil
	}
	wr.AppendByte(byte(typeCodeLong))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	wr.Append(b[:])
	return nil
}

func writeFloat(wr *buffer.Buffer, v float32) error {
	wr.AppendByte(byte(typeCodeFloat))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	wr.Append(b[:])
	return nil
}

func writeDouble(wr *buffer.Buffer, v float64) error {
	wr.AppendByte(byte(typeCodeDouble))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	wr.Append(b[:])
	return nil
}

func writeChar(wr *buffer.Buffer, v rune) error {
	wr.AppendByte(byte(typeCodeChar))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	wr.Append(b[:])
	return nil
}

func writeTimestamp(wr *buffer.Buffer, v time.Time) error {
	wr.AppendByte(byte(typeCodeTimestamp))
	var b [8]byte
	ms := v.UnixNano() / int64(time.Millisecond)
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	wr.Append(b[:])
	return nil
}

func writeUUID(wr *buffer.Buffer, v UUID) error {
	wr.AppendByte(byte(typeCodeUUID))
	wr.Append(v[:])
	return nil
}

func writeBinary(wr *buffer.Buffer, v []byte) error {
	if len(v) <= 255 {
		wr.AppendByte(byte(typeCodeVbin8))
		wr.AppendByte(byte(len(v)))
	} else {
		wr.AppendByte(byte(typeCodeVbin32))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(v)))
		wr.Append(b[:])
	}
	wr.Append(v)
	return nil
}

func writeString(wr *buffer.Buffer, v string) error {
	if len(v) <= 255 {
		wr.AppendByte(byte(typeCodeStr8))
		wr.AppendByte(byte(len(v)))
	} else {
		wr.AppendByte(byte(typeCodeStr32))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(v)))
		wr.Append(b[:])
	}
	wr.AppendString(v)
	return nil
}

func writeSymbol(wr *buffer.Buffer, v Symbol) error {
	if len(v) <= 255 {
		wr.AppendByte(byte(typeCodeSym8))
		wr.AppendByte(byte(len(v)))
	} else {
		wr.AppendByte(byte(typeCodeSym32))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(v)))
		wr.Append(b[:])
	}
	wr.AppendString(string(v))
	return nil
}

// writeList encodes a compound list: constructor, size, count, then each
// element back to back. Size/count use the 1-byte form unless the encoded
// body would overflow it.
func writeList(wr *buffer.Buffer, v List) error {
	if len(v) == 0 {
		wr.AppendByte(byte(typeCodeList0))
		return nil
	}

	var body buffer.Buffer
	for _, elem := range v {
		if err := Marshal(&body, elem); err != nil {
			return err
		}
	}
	return writeCompoundHeader(wr, typeCodeList8, typeCodeList32, len(v), body.Bytes())
}

// writeMap encodes a compound map: constructor, size, count (2x len(v)),
// then key/value pairs in the order given by v (spec.md's insertion-order
// invariant).
func writeMap(wr *buffer.Buffer, v Map) error {
	var body buffer.Buffer
	for _, kv := range v {
		if err := Marshal(&body, kv.Key); err != nil {
			return err
		}
		if err := Marshal(&body, kv.Value); err != nil {
			return err
		}
	}
	return writeCompoundHeader(wr, typeCodeMap8, typeCodeMap32, len(v)*2, body.Bytes())
}

func writeCompoundHeader(wr *buffer.Buffer, code8, code32 amqpType, count int, body []byte) error {
	// +1 for the count-width byte itself, matching the on-wire "size"
	// field which covers everything after the size field.
	if len(body)+1 <= 255 && count <= 255 {
		wr.AppendByte(byte(code8))
		wr.AppendByte(byte(len(body) + 1))
		wr.AppendByte(byte(count))
	} else {
		wr.AppendByte(byte(code32))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(body)+4))
		wr.Append(b[:])
		binary.BigEndian.PutUint32(b[:], uint32(count))
		wr.Append(b[:])
	}
	wr.Append(body)
	return nil
}

// writeArray encodes a homogeneous array: constructor, size, count, the
// shared element constructor, then each element's body with no per-element
// constructor byte (spec.md §3 "array").
func writeArray(wr *buffer.Buffer, v Array) error {
	if len(v) == 0 {
		return writeCompoundHeader(wr, typeCodeArray8, typeCodeArray32, 0, nil)
	}

	var elemBuf buffer.Buffer
	if err := Marshal(&elemBuf, v[0]); err != nil {
		return err
	}
	elemCode := amqpType(elemBuf.Bytes()[0])

	var body buffer.Buffer
	body.AppendByte(byte(elemCode))
	// re-encode first element's body (without its constructor) plus the rest
	body.Append(elemBuf.Bytes()[1:])
	for _, elem := range v[1:] {
		var eb buffer.Buffer
		if err := Marshal(&eb, elem); err != nil {
			return err
		}
		if amqpType(eb.Bytes()[0]) != elemCode {
			return fmt.Errorf("encoding: array elements must share one constructor, got %#x and %#x", elemCode, eb.Bytes()[0])
		}
		body.Append(eb.Bytes()[1:])
	}
	return writeCompoundHeader(wr, typeCodeArray8, typeCodeArray32, len(v), body.Bytes())
}

// DescribedType is a pair (Descriptor, Value) per spec.md §3. Descriptor is
// either a ulong code or a Symbol name.
type DescribedType struct {
	Descriptor interface{}
	Value      interface{}
}

// Marshal writes the described-type constructor (0x00) followed by the
// descriptor then the value, per spec.md §4.1 "decoder reads two back-to-back
// values".
func (d DescribedType) Marshal(wr *buffer.Buffer) error {
	wr.AppendByte(byte(typeCodeDescribedType))
	if err := Marshal(wr, d.Descriptor); err != nil {
		return err
	}
	return Marshal(wr, d.Value)
}
