package encoding

import "github.com/amqp-proto/go-amqp/internal/buffer"

// Marshal implementations for the small value types used positionally
// inside composite fields (spec.md §3 performative tables): these let
// Marshal's generic dispatch (via the Marshaler interface) treat them the
// same as any other field without a type-switch case per enum.

func (rl Role) Marshal(wr *buffer.Buffer) error {
	return writeBool(wr, bool(rl))
}

func (rl *Role) Unmarshal(r *buffer.Buffer) error {
	v, _, err := readAny(r, 0)
	if err != nil {
		return err
	}
	b, _ := v.(bool)
	*rl = Role(b)
	return nil
}

func (m SenderSettleMode) Marshal(wr *buffer.Buffer) error {
	return writeUbyte(wr, uint8(m))
}

func (m ReceiverSettleMode) Marshal(wr *buffer.Buffer) error {
	return writeUbyte(wr, uint8(m))
}

func (d Durability) Marshal(wr *buffer.Buffer) error {
	return writeUint(wr, uint32(d))
}

func (ms Milliseconds) Marshal(wr *buffer.Buffer) error {
	return writeUint(wr, uint32(ms/1e6))
}

func (ms *Milliseconds) Unmarshal(r *buffer.Buffer) error {
	v, err := ReadUint(r)
	if err != nil {
		return err
	}
	*ms = Milliseconds(int64(v) * 1e6)
	return nil
}
