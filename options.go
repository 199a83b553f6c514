package amqp

import "github.com/amqp-proto/go-amqp/internal/encoding"

// SenderSettleMode and ReceiverSettleMode mirror the wire enums (spec.md
// §3 attach performative) so callers configuring links don't import the
// internal/encoding package directly.
type (
	SenderSettleMode   = encoding.SenderSettleMode
	ReceiverSettleMode = encoding.ReceiverSettleMode
	Durability         = encoding.Durability
	ExpiryPolicy       = encoding.ExpiryPolicy
)

const (
	ModeUnsettled = encoding.ModeUnsettled
	ModeSettled   = encoding.ModeSettled
	ModeMixed     = encoding.ModeMixed

	ModeFirst  = encoding.ModeFirst
	ModeSecond = encoding.ModeSecond

	DurabilityNone             = encoding.DurabilityNone
	DurabilityConfiguration    = encoding.DurabilityConfiguration
	DurabilityUnsettledState   = encoding.DurabilityUnsettledState

	ExpiryLinkDetach  = encoding.ExpiryLinkDetach
	ExpirySessionEnd  = encoding.ExpirySessionEnd
	ExpiryConnectionClose = encoding.ExpiryConnectionClose
	ExpiryNever       = encoding.ExpiryNever
)

// ReattachPolicy describes the backoff for reattaching a link. Sender and
// receiver options accept one, but links are not reattached automatically:
// after a detach a link stays detached and the policy is not applied.
type ReattachPolicy struct {
	// Retries caps the number of reattach attempts; 0 means use the
	// package default (3).
	Retries int
	// Forever, if true, ignores Retries and keeps retrying with the
	// backoff series capped at MaxInterval.
	Forever bool
	// MinInterval is the base delay multiplied into the backoff series;
	// 0 means use the package default (300ms).
	MinInterval int64 // milliseconds
	// MaxInterval caps the backoff delay; 0 means use the package default
	// (1 minute).
	MaxInterval int64 // milliseconds
}

// SenderOptions configures Session.NewSender.
type SenderOptions struct {
	Capabilities                []string
	Durability                  Durability
	DynamicAddress              bool
	ExpiryPolicy                ExpiryPolicy
	ExpiryTimeout               uint32
	IgnoreDispositionErrors     bool
	Name                        string
	Properties                  map[string]interface{}
	RequestedReceiverSettleMode *ReceiverSettleMode
	SettlementMode              *SenderSettleMode
	SourceAddress               string
	Reattach                    *ReattachPolicy
}

// ReceiverOptions configures Session.NewReceiver.
type ReceiverOptions struct {
	Capabilities                []string
	Credit                      uint32
	Durability                  Durability
	DynamicAddress              bool
	ExpiryPolicy                ExpiryPolicy
	ExpiryTimeout               uint32
	ManualCredits                bool
	MaxMessageSize              uint64
	Name                        string
	Properties                  map[string]interface{}
	RequestedSenderSettleMode   *SenderSettleMode
	SettlementMode              *ReceiverSettleMode
	TargetAddress               string
	Reattach                    *ReattachPolicy
}

// SendOptions configures an individual Sender.Send call.
type SendOptions struct {
	// Settled, when the sender's settlement mode is Mixed, marks this
	// specific delivery pre-settled.
	Settled bool
}
