package amqp

import (
	"bufio"
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// SASLType negotiates a single SASL mechanism during the connection's
// IN_SASL state (spec.md §4.4). ConnSASLPlain and ConnSASLAnonymous build
// the two mechanisms this client supports.
type SASLType func(mechanisms []encoding.Symbol) (encoding.Symbol, []byte, error)

// ConnSASLPlain selects the PLAIN mechanism (RFC 4616): the initial
// response is "\x00" + username + "\x00" + password.
func ConnSASLPlain(username, password string) SASLType {
	return func(mechanisms []encoding.Symbol) (encoding.Symbol, []byte, error) {
		if !hasMechanism(mechanisms, "PLAIN") {
			return "", nil, fmt.Errorf("amqp: server does not support the PLAIN SASL mechanism")
		}
		resp := make([]byte, 0, len(username)+len(password)+2)
		resp = append(resp, 0)
		resp = append(resp, username...)
		resp = append(resp, 0)
		resp = append(resp, password...)
		return "PLAIN", resp, nil
	}
}

// ConnSASLAnonymous selects the ANONYMOUS mechanism (RFC 4505); the initial
// response is an opaque trace token, here left empty.
func ConnSASLAnonymous() SASLType {
	return func(mechanisms []encoding.Symbol) (encoding.Symbol, []byte, error) {
		if !hasMechanism(mechanisms, "ANONYMOUS") {
			return "", nil, fmt.Errorf("amqp: server does not support the ANONYMOUS SASL mechanism")
		}
		return "ANONYMOUS", nil, nil
	}
}

func hasMechanism(mechanisms []encoding.Symbol, want encoding.Symbol) bool {
	for _, m := range mechanisms {
		if m == want {
			return true
		}
	}
	return false
}

// negotiateSASL drives the SASL tunnel (spec.md §4.4): read the protocol
// header, exchange it, read sasl-mechanisms, pick one via c.saslType, send
// sasl-init, then loop challenge/response until an outcome arrives.
func (c *Conn) negotiateSASL(ctx context.Context) error {
	saslHdr := frames.ProtoHeader{ProtoID: frames.ProtoSASL, Major: 1}
	b := saslHdr.Bytes()
	if _, err := c.netConn.Write(b[:]); err != nil {
		return pkgerrors.Wrap(err, "amqp: writing SASL protocol header")
	}

	peer := make([]byte, 8)
	if _, err := readFull(c.reader, peer); err != nil {
		return pkgerrors.Wrap(err, "amqp: reading SASL protocol header")
	}
	if _, err := frames.ParseProtoHeader(peer); err != nil {
		return err
	}

	for {
		fr, err := c.readSASLFrame(c.reader)
		if err != nil {
			return err
		}

		switch f := fr.(type) {
		case *frames.SASLMechanisms:
			mech, initResp, err := c.saslType(f.Mechanisms)
			if err != nil {
				return err
			}
			init := &frames.SASLInit{Mechanism: mech, InitialResponse: initResp, Hostname: c.hostname}
			if err := c.writeSASLFrame(init); err != nil {
				return err
			}

		case *frames.SASLChallenge:
			// This client's mechanisms are single round-trip; an empty
			// response lets multi-step servers finish on their own terms.
			if err := c.writeSASLFrame(&frames.SASLResponse{}); err != nil {
				return err
			}

		case *frames.SASLOutcome:
			if f.Code != frames.SASLCodeOK {
				return fmt.Errorf("amqp: SASL negotiation failed: %v", f.Code)
			}
			return nil

		default:
			return fmt.Errorf("amqp: unexpected frame during SASL negotiation: %T", fr)
		}
	}
}

func (c *Conn) readSASLFrame(r *bufio.Reader) (frames.FrameBody, error) {
	raw := make([]byte, frames.HeaderSize)
	if _, err := readFull(r, raw); err != nil {
		return nil, err
	}
	header, err := frames.ReadHeader(buffer.New(raw))
	if err != nil {
		return nil, err
	}
	bodySize := int(header.Size) - frames.HeaderSize
	body := make([]byte, bodySize)
	if _, err := readFull(r, body); err != nil {
		return nil, err
	}
	return frames.ParseBody(buffer.New(body))
}

func (c *Conn) writeSASLFrame(body frames.FrameBody) error {
	bodyBuf := buffer.New(nil)
	if err := body.Marshal(bodyBuf); err != nil {
		return err
	}
	out := buffer.New(nil)
	frames.WriteHeader(out, uint32(bodyBuf.Len())+frames.HeaderSize, frames.TypeSASL, 0)
	out.Append(bodyBuf.Bytes())
	_, err := c.netConn.Write(out.Bytes())
	return err
}
