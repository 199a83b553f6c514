// Package encoding implements the AMQP 1.0 self-describing type system: the
// primitive/variable/compound/array wire categories, described types, and
// the domain types (source, target, error, delivery states) built on top of
// them.
package encoding

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// amqpType is the constructor byte (or its high nibble for variable/compound
// categories) identifying a value's wire encoding.
type amqpType uint8

// Type codes, see the AMQP 1.0 primitive type table (core-types-v1.0).
const (
	typeCodeNull amqpType = 0x40

	typeCodeBool      amqpType = 0x56
	typeCodeBoolTrue  amqpType = 0x41
	typeCodeBoolFalse amqpType = 0x42

	typeCodeUbyte      amqpType = 0x50
	typeCodeUshort     amqpType = 0x60
	typeCodeUint       amqpType = 0x70
	typeCodeSmallUint  amqpType = 0x52
	typeCodeUint0      amqpType = 0x43
	typeCodeUlong      amqpType = 0x80
	typeCodeSmallUlong amqpType = 0x53
	typeCodeUlong0     amqpType = 0x44

	typeCodeByte      amqpType = 0x51
	typeCodeShort     amqpType = 0x61
	typeCodeInt       amqpType = 0x71
	typeCodeSmallint  amqpType = 0x54
	typeCodeLong      amqpType = 0x81
	typeCodeSmalllong amqpType = 0x55

	typeCodeFloat      amqpType = 0x72
	typeCodeDouble     amqpType = 0x82
	typeCodeDecimal32  amqpType = 0x74
	typeCodeDecimal64  amqpType = 0x84
	typeCodeDecimal128 amqpType = 0x94

	typeCodeChar      amqpType = 0x73
	typeCodeTimestamp amqpType = 0x83
	typeCodeUUID      amqpType = 0x98

	typeCodeVbin8  amqpType = 0xa0
	typeCodeVbin32 amqpType = 0xb0
	typeCodeStr8   amqpType = 0xa1
	typeCodeStr32  amqpType = 0xb1
	typeCodeSym8   amqpType = 0xa3
	typeCodeSym32  amqpType = 0xb3

	typeCodeList0   amqpType = 0x45
	typeCodeList8   amqpType = 0xc0
	typeCodeList32  amqpType = 0xd0
	typeCodeMap8    amqpType = 0xc1
	typeCodeMap32   amqpType = 0xd1
	typeCodeArray8  amqpType = 0xe0
	typeCodeArray32 amqpType = 0xf0

	typeCodeDescribedType amqpType = 0x00
)

// Known performative/domain-type descriptor codes (used for promotion of a
// decoded described type into a concrete Go struct). Declared here (rather
// than in package frames) because both the generic codec and the frame
// layer need them, and to avoid an import cycle, package frames imports
// package encoding, not the reverse.
const (
	TypeCodeOpen        uint64 = 0x10
	TypeCodeBegin       uint64 = 0x11
	TypeCodeAttach      uint64 = 0x12
	TypeCodeFlow        uint64 = 0x13
	TypeCodeTransfer    uint64 = 0x14
	TypeCodeDisposition uint64 = 0x15
	TypeCodeDetach      uint64 = 0x16
	TypeCodeEnd         uint64 = 0x17
	TypeCodeClose       uint64 = 0x18

	TypeCodeSource uint64 = 0x28
	TypeCodeTarget uint64 = 0x29
	TypeCodeError  uint64 = 0x1d

	TypeCodeMessageHeader         uint64 = 0x70
	TypeCodeDeliveryAnnotations   uint64 = 0x71
	TypeCodeMessageAnnotations    uint64 = 0x72
	TypeCodeMessageProperties     uint64 = 0x73
	TypeCodeApplicationProperties uint64 = 0x74
	TypeCodeApplicationData       uint64 = 0x75
	TypeCodeAMQPSequence          uint64 = 0x76
	TypeCodeAMQPValue             uint64 = 0x77
	TypeCodeFooter                uint64 = 0x78

	TypeCodeStateReceived uint64 = 0x23
	TypeCodeStateAccepted uint64 = 0x24
	TypeCodeStateRejected uint64 = 0x25
	TypeCodeStateReleased uint64 = 0x26
	TypeCodeStateModified uint64 = 0x27

	TypeCodeSASLMechanisms uint64 = 0x40
	TypeCodeSASLInit       uint64 = 0x41
	TypeCodeSASLChallenge  uint64 = 0x42
	TypeCodeSASLResponse   uint64 = 0x43
	TypeCodeSASLOutcome    uint64 = 0x44

	TypeCodeCoordinator uint64 = 0x30
	TypeCodeDeclare     uint64 = 0x31
	TypeCodeDischarge   uint64 = 0x32
	TypeCodeDeclared    uint64 = 0x33
	TypeCodeTransactionalState uint64 = 0x34
)

// Symbol is an ASCII string used in the AMQP type system for names/keys.
type Symbol string

// Milliseconds is a duration encoded on the wire as a uint32 count of
// milliseconds (used for idle-timeout and similar fields).
type Milliseconds time.Duration

// UUID is a 16-byte RFC 4122 UUID. NewUUID generates one backed by
// github.com/google/uuid rather than a hand-rolled crypto/rand fill.
type UUID [16]byte

// NewUUID returns a new random (v4) UUID.
func NewUUID() UUID {
	return UUID(uuid.New())
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func (s Symbol) String() string { return string(s) }

// Role identifies the sender/receiver of a link endpoint, as carried by the
// boolean `role` field of attach/flow/transfer/disposition.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (rl Role) String() string {
	if rl {
		return "receiver"
	}
	return "sender"
}

// SenderSettleMode per §3 Invariants / attach performative.
type SenderSettleMode uint8

const (
	ModeUnsettled SenderSettleMode = 0
	ModeSettled   SenderSettleMode = 1
	ModeMixed     SenderSettleMode = 2
)

func (m SenderSettleMode) String() string {
	switch m {
	case ModeUnsettled:
		return "unsettled"
	case ModeSettled:
		return "settled"
	case ModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("SenderSettleMode(%d)", uint8(m))
	}
}

// ReceiverSettleMode per attach performative; resolves spec.md's open
// question on first/second symmetry (both are fully implemented by
// receiver.go, see SPEC_FULL.md).
type ReceiverSettleMode uint8

const (
	ModeFirst  ReceiverSettleMode = 0
	ModeSecond ReceiverSettleMode = 1
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ModeFirst:
		return "first"
	case ModeSecond:
		return "second"
	default:
		return fmt.Sprintf("ReceiverSettleMode(%d)", uint8(m))
	}
}

// Durability of a source/target terminus.
type Durability uint32

const (
	DurabilityNone         Durability = 0
	DurabilityConfiguration Durability = 1
	DurabilityUnsettledState Durability = 2
)

// ExpiryPolicy of a source/target terminus.
type ExpiryPolicy Symbol

func (e ExpiryPolicy) String() string { return string(e) }

const (
	ExpiryLinkDetach    ExpiryPolicy = "link-detach"
	ExpirySessionEnd    ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever         ExpiryPolicy = "never"
)

// ValidateExpiryPolicy rejects any value not in the four defined policies.
func ValidateExpiryPolicy(e ExpiryPolicy) error {
	switch e {
	case ExpiryLinkDetach, ExpirySessionEnd, ExpiryConnectionClose, ExpiryNever, "":
		return nil
	default:
		return fmt.Errorf("unknown expiry-policy %q", string(e))
	}
}

// ErrCond is an AMQP defined error condition symbol.
type ErrCond string

// KeyValue is one entry of an AMQP map Value, preserving wire order (spec.md
// §4.1 "Maps preserve insertion order of keys as delivered on the wire").
// Native Go maps cannot make that guarantee, so the generic Value
// representation of an AMQP map uses this ordered-pair slice instead of
// map[interface{}]interface{}.
type KeyValue struct {
	Key   interface{}
	Value interface{}
}

// Map is the generic Value representation of an AMQP map.
type Map []KeyValue

// Get returns the value for key, and whether it was present.
func (m Map) Get(key interface{}) (interface{}, bool) {
	for _, kv := range m {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// List is the generic Value representation of an AMQP list: an ordered,
// possibly heterogeneous sequence of values.
type List []interface{}

// Array is the generic Value representation of an AMQP array: an ordered
// sequence of values that share one wire constructor. Unlike the teacher's
// one-Go-type-per-element-type family (arrayInt32, arrayUint64, ...), this
// module keeps a single Array type and lets Marshal inspect the element
// type of Array[0] to pick the shared constructor; this is a deliberate
// simplification noted in DESIGN.md.
type Array []interface{}

// ForcedType pairs a logical value with an explicit wire constructor,
// implementing spec.md §4.1's "forced-type hints": Marshal honors Code
// instead of inferring the most-compact encoding for Value.
type ForcedType struct {
	Code  string // one of the Force* constants below
	Value interface{}
}

// Force* name the constructors ForcedType.Code may request.
const (
	ForceUint      = "uint"
	ForceULong     = "ulong"
	ForceInt       = "int"
	ForceLong      = "long"
	ForceUbyte     = "ubyte"
	ForceByte      = "byte"
	ForceUshort    = "ushort"
	ForceShort     = "short"
	ForceDouble    = "double"
	ForceFloat     = "float"
	ForceSymbol    = "symbol"
	ForceString    = "string"
	ForceTimestamp = "timestamp"
)
