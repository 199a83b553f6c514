package amqp

import (
	"context"
	"fmt"

	"github.com/amqp-proto/go-amqp/internal/encoding"
	"github.com/amqp-proto/go-amqp/internal/frames"
)

// TransactionControllerOptions configures a TransactionController.
type TransactionControllerOptions struct {
	// Capabilities advertised to the coordinator, e.g. "amqp:local-transactions".
	Capabilities []string
}

// TransactionController attaches to a session's transaction coordinator and
// declares/discharges transactions over it (supplemented feature, grounded
// on _examples/Azure-amqp/transaction_controller.go; AMQP 1.0 transactions
// extension).
type TransactionController struct {
	sender *Sender
}

// NewTransactionController attaches a link to the session's transaction
// coordinator, sending a Coordinator target instead of the usual address
// target carried by a regular Sender.
func NewTransactionController(ctx context.Context, sess *Session, opts *TransactionControllerOptions) (*TransactionController, error) {
	coordinator := new(encoding.Coordinator)
	if opts != nil {
		for _, c := range opts.Capabilities {
			coordinator.Capabilities = append(coordinator.Capabilities, encoding.Symbol(c))
		}
	}

	s := &Sender{
		link: link{
			key:    linkKey{name: newLinkName(), role: encoding.RoleSender},
			source: new(encoding.Source),
		},
		detachOnDispositionError: true,
	}

	if err := s.attachLink(ctx, sess, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		pa.Target = nil
		pa.Coordinator = coordinator
	}, nil); err != nil {
		return nil, err
	}

	s.transfers = make(chan frames.PerformTransfer)
	go s.mux()

	return &TransactionController{sender: s}, nil
}

// DeclareOptions configures a Declare call. Reserved for future coordinator
// capabilities; currently empty.
type DeclareOptions struct{}

// Declare starts a new transaction and returns its transaction-id, to be
// passed as TransactionDischarge.TxnID to end it.
func (tc *TransactionController) Declare(ctx context.Context, declare TransactionDeclare, opts *DeclareOptions) ([]byte, error) {
	state, err := tc.sender.sendRaw(ctx, &Message{Value: &declare}, nil)
	if err != nil {
		return nil, err
	}
	declared, ok := state.(*encoding.StateDeclared)
	if !ok {
		return nil, fmt.Errorf("amqp: invalid response when declaring transaction (not *StateDeclared, was %T)", state)
	}
	return declared.TransactionID, nil
}

// DischargeOptions configures a Discharge call. Reserved for future
// coordinator capabilities; currently empty.
type DischargeOptions struct{}

// Discharge ends the transaction described by discharge, committing it if
// discharge.Fail is false or rolling it back otherwise.
func (tc *TransactionController) Discharge(ctx context.Context, discharge TransactionDischarge, opts *DischargeOptions) error {
	return tc.sender.Send(ctx, &Message{Value: &discharge}, nil)
}

// Close detaches the coordinator link.
func (tc *TransactionController) Close(ctx context.Context) error {
	return tc.sender.Close(ctx)
}
