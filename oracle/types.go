package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"alkahest/contracts"
)

var (
	// ErrUnknownMode is returned for an ArbitrationMode outside the enumeration.
	ErrUnknownMode = errors.New("oracle: unknown arbitration mode")
	// ErrTimeoutRequired is returned when a listening mode has no timeout.
	// Use NoTimeout to listen until the context is cancelled.
	ErrTimeoutRequired = errors.New("oracle: listening mode requires a timeout")
	// ErrAbstain lets a Decider decline to decide a request.
	ErrAbstain = errors.New("oracle: decider abstained")
	// ErrAttestationNotFound reports a fulfillment UID unknown to EAS.
	ErrAttestationNotFound = contracts.ErrEmptyAttestation
	// ErrArbitrationNotFound is returned by WaitForArbitration when no decision
	// appears before the deadline.
	ErrArbitrationNotFound = errors.New("oracle: arbitration not found")
	// ErrNotConfigured is returned when an operation needs a collaborator the
	// Oracle was built without.
	ErrNotConfigured = errors.New("oracle: collaborator not configured")
	// ErrSubscriptionClosed is returned when the event stream ends on its own.
	ErrSubscriptionClosed = errors.New("oracle: subscription closed")
)

// NoTimeout listens until the caller cancels the context.
const NoTimeout time.Duration = -1

// RequestEvent is one ArbitrationRequested log addressed to the oracle.
type RequestEvent struct {
	FulfillmentUID common.Hash
	Oracle         common.Address
	Demand         []byte
	BlockNumber    uint64
	LogIndex       uint
	TxHash         common.Hash
}

func (e RequestEvent) key() eventKey {
	return eventKey{tx: e.TxHash, index: e.LogIndex}
}

type eventKey struct {
	tx    common.Hash
	index uint
}

type decisionKey struct {
	uid    common.Hash
	oracle common.Address
}

// Phase tells whether a decision came from history or from the live stream.
type Phase string

const (
	PhasePast   Phase = "past"
	PhaseListen Phase = "listen"
)

// Decision is one entry of the decision log.
type Decision struct {
	FulfillmentUID common.Hash
	Oracle         common.Address
	Demand         []byte
	Decision       bool
	// TxHash is zero when submission failed or was disabled.
	TxHash      common.Hash
	Submitted   bool
	Err         error
	BlockNumber uint64
	Phase       Phase
	Attestation contracts.Attestation
}

// SkipReason classifies why a request produced no decision.
type SkipReason string

const (
	SkipAlreadyArbitrated  SkipReason = "already_arbitrated"
	SkipAttestationMissing SkipReason = "attestation_not_found"
	SkipInactive           SkipReason = "inactive_attestation"
	SkipAbstained          SkipReason = "abstained"
	SkipDeciderError       SkipReason = "decider_error"
)

// Skip records a request the run did not decide.
type Skip struct {
	Event  RequestEvent
	Reason SkipReason
	Err    error
}

// Result is the ordered decision log of one run. When a run returns an error
// the Result holds what was accumulated before the failure.
type Result struct {
	RunID              string
	Decisions          []Decision
	Skipped            []Skip
	SubmissionFailures int
}

// Options configures ArbitrateMany.
type Options struct {
	Mode ArbitrationMode
	// FromBlock is the first block scanned for past requests.
	FromBlock uint64
	// Timeout is the idle window of the listening phase. It restarts after
	// each received request. NoTimeout waits for cancellation.
	Timeout time.Duration
	// DryRun produces decisions without submitting them.
	DryRun bool
	// RunID labels the run in logs and the Result. Empty generates one.
	RunID string
}

// Validate checks the options for a run.
func (o Options) Validate() error {
	if err := o.Mode.Validate(); err != nil {
		return err
	}
	if o.Mode.Listens() && o.Timeout == 0 {
		return ErrTimeoutRequired
	}
	if o.Timeout < 0 && o.Timeout != NoTimeout {
		return fmt.Errorf("oracle: invalid timeout %s", o.Timeout)
	}
	return nil
}
