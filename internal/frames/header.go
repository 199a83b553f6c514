// Package frames implements the AMQP/SASL frame header and the
// performative bodies described types carry (spec.md §4.2, §3 table).
package frames

import (
	"encoding/binary"
	"fmt"

	"github.com/amqp-proto/go-amqp/internal/buffer"
)

// Type identifies the frame's protocol layer.
type Type uint8

const (
	TypeAMQP Type = 0x00
	TypeSASL Type = 0x01
)

// Size constraints from spec.md §4.2.
const (
	HeaderSize         = 8
	MinMaxFrameSize    = 512
	DefaultMaxFrameSize = 4294967295
)

// Header is the 8-byte frame header common to AMQP and SASL frames.
type Header struct {
	// Size is the total frame size, including this header.
	Size uint32
	// DataOffset is the header length in 4-byte words (>=2).
	DataOffset uint8
	Type       Type
	// Channel carries the session channel for AMQP frames; zero/ignored
	// for SASL frames.
	Channel uint16
}

// ReadHeader decodes a Header from the first HeaderSize bytes of r without
// consuming the extended header or body; it returns buffer.ErrInsufficient
// if fewer than HeaderSize bytes are buffered.
func ReadHeader(r *buffer.Buffer) (Header, error) {
	b, err := r.Peek(HeaderSize)
	if err != nil {
		return Header{}, err
	}
	h := Header{
		Size:       binary.BigEndian.Uint32(b[0:4]),
		DataOffset: b[4],
		Type:       Type(b[5]),
		Channel:    binary.BigEndian.Uint16(b[6:8]),
	}
	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("frames: malformed header: size %d smaller than header", h.Size)
	}
	if h.DataOffset < 2 {
		return Header{}, fmt.Errorf("frames: malformed header: data offset %d smaller than 2", h.DataOffset)
	}
	r.Skip(HeaderSize)
	return h, nil
}

// WriteHeader appends an 8-byte frame header to wr. dataOffset is always 2
// (no extended header) per spec.md §4.2 "write" contract.
func WriteHeader(wr *buffer.Buffer, size uint32, typ Type, channel uint16) {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[0:4], size)
	b[4] = 2
	b[5] = byte(typ)
	binary.BigEndian.PutUint16(b[6:8], channel)
	wr.Append(b[:])
}

// ProtoID identifies which protocol a protocol header advertises.
type ProtoID uint8

const (
	ProtoAMQP ProtoID = 0x0
	ProtoTLS  ProtoID = 0x2
	ProtoSASL ProtoID = 0x3
)

// ProtoHeader is the 8-byte "AMQP"+id+major+minor+revision preamble
// exchanged before any framing (spec.md §6 "Wire").
type ProtoHeader struct {
	ProtoID  ProtoID
	Major    uint8
	Minor    uint8
	Revision uint8
}

var protoHeaderMagic = [4]byte{'A', 'M', 'Q', 'P'}

// Bytes encodes the 8-byte protocol header.
func (p ProtoHeader) Bytes() [8]byte {
	var b [8]byte
	copy(b[:4], protoHeaderMagic[:])
	b[4] = byte(p.ProtoID)
	b[5] = p.Major
	b[6] = p.Minor
	b[7] = p.Revision
	return b
}

// ParseProtoHeader validates and decodes an 8-byte protocol header.
func ParseProtoHeader(b []byte) (ProtoHeader, error) {
	if len(b) < 8 {
		return ProtoHeader{}, buffer.ErrInsufficient
	}
	if string(b[:4]) != "AMQP" {
		return ProtoHeader{}, fmt.Errorf("frames: Invalid AMQP version: bad magic %q", b[:4])
	}
	return ProtoHeader{
		ProtoID:  ProtoID(b[4]),
		Major:    b[5],
		Minor:    b[6],
		Revision: b[7],
	}, nil
}
