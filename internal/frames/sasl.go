package frames

import (
	"fmt"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

// SASLCode is the outcome code carried by sasl-outcome (spec.md §4.4).
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

func (c SASLCode) String() string {
	switch c {
	case SASLCodeOK:
		return "ok"
	case SASLCodeAuth:
		return "auth"
	case SASLCodeSys:
		return "sys"
	case SASLCodeSysPerm:
		return "sys-perm"
	case SASLCodeSysTemp:
		return "sys-temp"
	default:
		return fmt.Sprintf("SASLCode(%d)", uint8(c))
	}
}

// SASLMechanisms: descriptor 0x40, server -> client.
type SASLMechanisms struct {
	Mechanisms []encoding.Symbol
}

func (s *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLMechanisms, []interface{}{
		symbolArray(s.Mechanisms),
	})
}

func (s *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLMechanisms, []interface{}{
		&s.Mechanisms,
	})
}

func (s *SASLMechanisms) String() string { return fmt.Sprintf("SASLMechanisms{%v}", s.Mechanisms) }

// SASLInit: descriptor 0x41, client -> server.
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (s *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLInit, []interface{}{
		s.Mechanism, s.InitialResponse, nilIfEmptyStr(s.Hostname),
	})
}

func (s *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLInit, []interface{}{
		&s.Mechanism, &s.InitialResponse, &s.Hostname,
	})
}

func (s *SASLInit) String() string {
	return fmt.Sprintf("SASLInit{Mechanism:%s, Hostname:%q}", s.Mechanism, s.Hostname)
}

// SASLChallenge: descriptor 0x42, server -> client.
type SASLChallenge struct {
	Challenge []byte
}

func (s *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLChallenge, []interface{}{s.Challenge})
}

func (s *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLChallenge, []interface{}{&s.Challenge})
}

func (s *SASLChallenge) String() string { return "SASLChallenge{}" }

// SASLResponse: descriptor 0x43, client -> server.
type SASLResponse struct {
	Response []byte
}

func (s *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLResponse, []interface{}{s.Response})
}

func (s *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLResponse, []interface{}{&s.Response})
}

func (s *SASLResponse) String() string { return "SASLResponse{}" }

// SASLOutcome: descriptor 0x44, server -> client, ends the SASL tunnel.
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (s *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLOutcome, []interface{}{
		uint8(s.Code), s.AdditionalData,
	})
}

func (s *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	var code uint8
	if err := encoding.UnmarshalComposite(r, encoding.TypeCodeSASLOutcome, []interface{}{
		&code, &s.AdditionalData,
	}); err != nil {
		return err
	}
	s.Code = SASLCode(code)
	return nil
}

func (s *SASLOutcome) String() string { return fmt.Sprintf("SASLOutcome{Code:%s}", s.Code) }
