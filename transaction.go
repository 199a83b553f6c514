package amqp

import (
	"github.com/amqp-proto/go-amqp/internal/buffer"
	"github.com/amqp-proto/go-amqp/internal/encoding"
)

// TransactionDeclare requests a new transaction from the coordinator. It is
// sent as the Value of a Message posted to a TransactionController's
// internal sender (supplemented feature, grounded on
// _examples/Azure-amqp/transaction_controller.go and the AMQP 1.0
// transactions extension, descriptor 0x31).
type TransactionDeclare struct {
	// GlobalID identifies a transaction shared across more than one
	// container. Most clients leave this nil and let the coordinator
	// allocate a local transaction-id instead.
	GlobalID interface{}
}

func (t *TransactionDeclare) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDeclare, []interface{}{t.GlobalID})
}

func (t *TransactionDeclare) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDeclare, []interface{}{&t.GlobalID})
}

// TransactionDischarge ends the transaction identified by TxnID, either
// committing (Fail == false) or rolling back (Fail == true) the work done
// under it (descriptor 0x32).
type TransactionDischarge struct {
	TxnID []byte
	Fail  bool
}

func (t *TransactionDischarge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDischarge, []interface{}{t.TxnID, t.Fail})
}

func (t *TransactionDischarge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDischarge, []interface{}{&t.TxnID, &t.Fail})
}
