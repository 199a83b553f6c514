package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/amqp-proto/go-amqp/internal/buffer"
)

// ErrInsufficient signals that r does not yet contain a complete value;
// callers should retry once more bytes have arrived. It is not a decode
// error (spec.md §4.1 "Insufficient").
var ErrInsufficient = buffer.ErrInsufficient

// MalformedPayloadError corresponds to spec.md §7's MalformedPayload: an
// unknown constructor or a length that overruns the buffer.
type MalformedPayloadError struct {
	Msg string
}

func (e *MalformedPayloadError) Error() string { return "malformed payload: " + e.Msg }

func malformed(format string, args ...interface{}) error {
	return &MalformedPayloadError{Msg: fmt.Sprintf(format, args...)}
}

// Unmarshaler is implemented by types that know how to decode their own
// wire form.
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

// Unmarshal decodes the next value from r into v, where v is a pointer to
// one of the supported Go representations, or an Unmarshaler.
func Unmarshal(r *buffer.Buffer, v interface{}) error {
	if u, ok := v.(Unmarshaler); ok {
		return u.Unmarshal(r)
	}

	val, _, err := ReadAny(r)
	if err != nil {
		return err
	}

	switch p := v.(type) {
	case *interface{}:
		*p = val
		return nil
	case *bool:
		b, ok := val.(bool)
		if !ok && val != nil {
			return malformed("expected bool, got %T", val)
		}
		*p = b
		return nil
	case *string:
		s, _ := val.(string)
		*p = s
		return nil
	case *Symbol:
		switch s := val.(type) {
		case Symbol:
			*p = s
		case string:
			*p = Symbol(s)
		}
		return nil
	case *[]byte:
		b, _ := val.([]byte)
		*p = b
		return nil
	case *uint32:
		*p = uint32(toUint64(val))
		return nil
	case *uint64:
		*p = toUint64(val)
		return nil
	case *uint16:
		*p = uint16(toUint64(val))
		return nil
	case *uint8:
		*p = uint8(toUint64(val))
		return nil
	case *int32:
		*p = int32(toInt64(val))
		return nil
	case *int64:
		*p = toInt64(val)
		return nil
	case *time.Time:
		t, _ := val.(time.Time)
		*p = t
		return nil
	case *UUID:
		u, _ := val.(UUID)
		*p = u
		return nil
	default:
		return fmt.Errorf("encoding: unmarshal: unsupported target %T", v)
	}
}

// ReadAny decodes the next value from r without knowledge of its Go type,
// returning the value and the number of bytes consumed. It is the core of
// the decoder: every typed accessor (ReadString, ReadUint, ...) calls
// through ReadAny or a narrower constructor-aware helper.
//
// ReadAny always reads the constructor byte from r. Array elements that
// share one constructor are decoded by the unexported readAny, whose
// forcedConstructor argument supplies that shared constructor instead.
func ReadAny(r *buffer.Buffer) (interface{}, int, error) {
	return readAny(r, 0)
}

func readAny(r *buffer.Buffer, forcedConstructor amqpType) (interface{}, int, error) {
	start := r.Len()
	code := forcedConstructor
	if code == 0 {
		b, err := r.PeekByte()
		if err != nil {
			return nil, 0, err
		}
		code = amqpType(b)
		if code == typeCodeDescribedType {
			r.Skip(1)
			descriptor, _, err := readAny(r, 0)
			if err != nil {
				return nil, 0, err
			}
			value, _, err := readAny(r, 0)
			if err != nil {
				return nil, 0, err
			}
			return DescribedType{Descriptor: descriptor, Value: value}, start - r.Len(), nil
		}
		r.Skip(1)
	}

	v, err := readValueBody(r, code)
	if err != nil {
		return nil, 0, err
	}
	return v, start - r.Len(), nil
}

func readValueBody(r *buffer.Buffer, code amqpType) (interface{}, error) {
	switch code {
	case typeCodeNull:
		return nil, nil
	case typeCodeBoolTrue:
		return true, nil
	case typeCodeBoolFalse:
		return false, nil
	case typeCodeBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case typeCodeUint0, typeCodeUlong0:
		return uint64(0), nil
	case typeCodeUbyte:
		b, err := r.ReadByte()
		return uint64(b), err
	case typeCodeSmallUint, typeCodeSmallUlong:
		b, err := r.ReadByte()
		return uint64(b), err
	case typeCodeUshort:
		b, err := r.ReadBytes(2)
		if err != nil {
			return nil, err
		}
		return uint64(binary.BigEndian.Uint16(b)), nil
	case typeCodeUint:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	case typeCodeUlong:
		b, err := r.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint64(b), nil
	case typeCodeByte, typeCodeSmallint, typeCodeSmalllong:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(b)), nil
	case typeCodeShort:
		b, err := r.ReadBytes(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case typeCodeInt:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case typeCodeLong:
		b, err := r.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case typeCodeFloat:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case typeCodeDouble:
		b, err := r.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case typeCodeDecimal32:
		return r.ReadBytes(4)
	case typeCodeDecimal64:
		return r.ReadBytes(8)
	case typeCodeDecimal128:
		return r.ReadBytes(16)
	case typeCodeChar:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return rune(binary.BigEndian.Uint32(b)), nil
	case typeCodeTimestamp:
		b, err := r.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		ms := int64(binary.BigEndian.Uint64(b))
		return time.UnixMilli(ms).UTC(), nil
	case typeCodeUUID:
		b, err := r.ReadBytes(16)
		if err != nil {
			return nil, err
		}
		var u UUID
		copy(u[:], b)
		return u, nil
	case typeCodeVbin8, typeCodeStr8, typeCodeSym8:
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		return bodyByCode(code, b), nil
	case typeCodeVbin32, typeCodeStr32, typeCodeSym32:
		nb, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(nb)
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		return bodyByCode(code, b), nil
	case typeCodeList0:
		return List{}, nil
	case typeCodeList8, typeCodeMap8:
		size, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return readCompoundBody(r, code, int(size)-1, int(count))
	case typeCodeList32, typeCodeMap32:
		sb, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(sb)
		cb, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(cb)
		return readCompoundBody(r, code, int(size)-4, int(count))
	case typeCodeArray8:
		size, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return readArrayBody(r, int(size)-1, int(count))
	case typeCodeArray32:
		sb, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(sb)
		cb, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(cb)
		return readArrayBody(r, int(size)-4, int(count))
	default:
		return nil, malformed("unknown constructor %#02x", uint8(code))
	}
}

func bodyByCode(code amqpType, b []byte) interface{} {
	switch code {
	case typeCodeStr8, typeCodeStr32:
		return string(b)
	case typeCodeSym8, typeCodeSym32:
		return Symbol(b)
	default:
		return append([]byte(nil), b...)
	}
}

// readCompoundBody requires the whole body (bodyLen bytes) to already be
// available; if not, it returns ErrInsufficient. The caller has already
// consumed the constructor and the size/count header by then.
func readCompoundBody(r *buffer.Buffer, code amqpType, bodyLen, count int) (interface{}, error) {
	if r.Len() < bodyLen {
		return nil, ErrInsufficient
	}

	if code == typeCodeMap8 || code == typeCodeMap32 {
		m := make(Map, 0, count/2)
		for i := 0; i < count; i += 2 {
			k, _, err := readAny(r, 0)
			if err != nil {
				return nil, err
			}
			v, _, err := readAny(r, 0)
			if err != nil {
				return nil, err
			}
			m = append(m, KeyValue{Key: k, Value: v})
		}
		return m, nil
	}

	l := make(List, 0, count)
	for i := 0; i < count; i++ {
		v, _, err := readAny(r, 0)
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	return l, nil
}

func readArrayBody(r *buffer.Buffer, bodyLen, count int) (interface{}, error) {
	if r.Len() < bodyLen {
		return nil, ErrInsufficient
	}
	if count == 0 {
		if bodyLen > 0 {
			r.Skip(bodyLen)
		}
		return Array{}, nil
	}

	elemCodeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	elemCode := amqpType(elemCodeByte)

	a := make(Array, 0, count)
	for i := 0; i < count; i++ {
		v, _, err := readAny(r, elemCode)
		if err != nil {
			return nil, err
		}
		a = append(a, v)
	}
	return a, nil
}

// ReadString decodes a string or symbol value.
func ReadString(r *buffer.Buffer) (string, error) {
	v, _, err := ReadAny(r)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case Symbol:
		return string(s), nil
	case nil:
		return "", nil
	default:
		return "", malformed("expected string, got %T", v)
	}
}

// ReadUint decodes any unsigned-integer-coded value as a uint32, defaulting
// to 0 for a null.
func ReadUint(r *buffer.Buffer) (uint32, error) {
	v, _, err := ReadAny(r)
	if err != nil {
		return 0, err
	}
	return uint32(toUint64(v)), nil
}

// PeekIsNull reports whether the next value is the null constructor, without
// consuming it. Used to implement "missing non-trailing field uses null"
// (spec.md §4.1).
func PeekIsNull(r *buffer.Buffer) bool {
	b, err := r.PeekByte()
	if err != nil {
		return false
	}
	return amqpType(b) == typeCodeNull
}

// TryReadNull consumes a null marker if present, reporting whether it did.
func TryReadNull(r *buffer.Buffer) bool {
	if !PeekIsNull(r) {
		return false
	}
	r.Skip(1)
	return true
}

// PeekDescriptor returns the descriptor code of the described type at r's
// current read position without consuming any bytes, so callers can decide
// which concrete FrameBody to allocate before calling its Unmarshal method.
func PeekDescriptor(r *buffer.Buffer) (uint64, error) {
	tmp := buffer.New(append([]byte(nil), r.Bytes()...))
	c, err := tmp.PeekByte()
	if err != nil {
		return 0, err
	}
	if amqpType(c) != typeCodeDescribedType {
		return 0, malformed("expected described type, got constructor %#02x", c)
	}
	tmp.Skip(1)
	desc, _, err := readAny(tmp, 0)
	if err != nil {
		return 0, err
	}
	return toUint64(desc), nil
}

// ErrNotImplemented corresponds to spec.md §7's NotImplemented.
var ErrNotImplemented = errors.New("encoding: not implemented")
