package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alkahest/chain"
	"alkahest/contracts"
	"alkahest/observability"
)

const (
	defaultConcurrency   = 4
	defaultSubmitTimeout = 2 * time.Minute
	defaultWaitTimeout   = 5 * time.Minute
)

// Metrics exposes the Prometheus collectors the engine records into.
type Metrics = observability.OracleMetrics

// Oracle arbitrates requests addressed to one oracle address.
type Oracle struct {
	address common.Address

	source    EventSource
	fetcher   AttestationFetcher
	index     ArbitrationIndex
	submitter Submitter
	requester Requester
	watcher   ArbitrationWatcher

	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	now           func() time.Time
	concurrency   int
	submitTimeout time.Duration
	waitTimeout   time.Duration
}

// Option customises an Oracle.
type Option func(*Oracle)

// WithEventSource supplies the arbitration request source.
func WithEventSource(s EventSource) Option {
	return func(o *Oracle) { o.source = s }
}

// WithAttestations supplies the attestation resolver.
func WithAttestations(f AttestationFetcher) Option {
	return func(o *Oracle) { o.fetcher = f }
}

// WithArbitrationIndex supplies the already-arbitrated lookup.
func WithArbitrationIndex(idx ArbitrationIndex) Option {
	return func(o *Oracle) { o.index = idx }
}

// WithSubmitter supplies the arbitrate transaction sender.
func WithSubmitter(s Submitter) Option {
	return func(o *Oracle) { o.submitter = s }
}

// WithRequester supplies the requestArbitration transaction sender.
func WithRequester(r Requester) Option {
	return func(o *Oracle) { o.requester = r }
}

// WithWatcher supplies the ArbitrationMade reader used by WaitForArbitration.
func WithWatcher(w ArbitrationWatcher) Option {
	return func(o *Oracle) { o.watcher = w }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(o *Oracle) { o.metrics = m }
}

// WithClock sets the function used to judge attestation expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *Oracle) { o.now = clock }
}

// WithConcurrency bounds concurrent lookups while preparing past requests.
func WithConcurrency(n int) Option {
	return func(o *Oracle) { o.concurrency = n }
}

// WithSubmitTimeout bounds the work done for one received request once it
// has started, independent of caller cancellation.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.submitTimeout = d }
}

// WithWaitTimeout bounds WaitForArbitration when the context has no deadline.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.waitTimeout = d }
}

// New constructs an Oracle acting as address.
func New(address common.Address, opts ...Option) *Oracle {
	o := &Oracle{
		address:       address,
		logger:        slog.Default(),
		metrics:       observability.Oracle(),
		tracer:        otel.Tracer("alkahest/oracle"),
		now:           time.Now,
		concurrency:   defaultConcurrency,
		submitTimeout: defaultSubmitTimeout,
		waitTimeout:   defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	if o.submitTimeout <= 0 {
		o.submitTimeout = defaultSubmitTimeout
	}
	if o.waitTimeout <= 0 {
		o.waitTimeout = defaultWaitTimeout
	}
	return o
}

// NewFromChain wires every collaborator to one arbiter deployment and EAS.
// Options are applied after the chain-backed defaults.
func NewFromChain(address common.Address, arbiter *chain.Arbiter, eas *chain.AttestationReader, opts ...Option) *Oracle {
	source := NewChainSource(arbiter)
	base := []Option{
		WithEventSource(source),
		WithWatcher(source),
		WithAttestations(eas),
		WithArbitrationIndex(arbiter),
		WithSubmitter(arbiter),
		WithRequester(arbiter),
	}
	return New(address, append(base, opts...)...)
}

// Address returns the oracle identity.
func (o *Oracle) Address() common.Address { return o.address }

// Arbitrate submits a single decision directly.
func (o *Oracle) Arbitrate(ctx context.Context, obligation common.Hash, demand []byte, decision bool) (common.Hash, error) {
	if o.submitter == nil {
		return common.Hash{}, fmt.Errorf("%w: submitter", ErrNotConfigured)
	}
	ctx, span := o.tracer.Start(ctx, "oracle.arbitrate", trace.WithAttributes(
		attribute.String("obligation", obligation.Hex()),
		attribute.Bool("decision", decision),
	))
	defer span.End()
	hash, err := o.submitter.Arbitrate(ctx, obligation, demand, decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordSubmissionFailure()
		return common.Hash{}, fmt.Errorf("arbitrate %s: %w", obligation.Hex(), err)
	}
	o.logger.Info("arbitration submitted", "uid", obligation.Hex(), "decision", decision, "tx_hash", hash.Hex())
	return hash, nil
}

// RequestArbitration asks oracle to arbitrate obligation against demand.
func (o *Oracle) RequestArbitration(ctx context.Context, obligation common.Hash, oracle common.Address, demand []byte) (common.Hash, error) {
	if o.requester == nil {
		return common.Hash{}, fmt.Errorf("%w: requester", ErrNotConfigured)
	}
	hash, err := o.requester.RequestArbitration(ctx, obligation, oracle, demand)
	if err != nil {
		return common.Hash{}, fmt.Errorf("request arbitration %s: %w", obligation.Hex(), err)
	}
	o.logger.Info("arbitration requested", "uid", obligation.Hex(), "oracle", oracle.Hex(), "tx_hash", hash.Hex())
	return hash, nil
}

// GetEscrowAttestation resolves the escrow a fulfillment refers to.
func (o *Oracle) GetEscrowAttestation(ctx context.Context, fulfillment contracts.Attestation) (contracts.Attestation, error) {
	if o.fetcher == nil {
		return contracts.Attestation{}, fmt.Errorf("%w: attestations", ErrNotConfigured)
	}
	if fulfillment.RefUID == (common.Hash{}) {
		return contracts.Attestation{}, fmt.Errorf("fulfillment %s has no escrow reference", fulfillment.UID.Hex())
	}
	escrow, err := o.fetcher.GetAttestation(ctx, fulfillment.RefUID)
	if err != nil {
		return contracts.Attestation{}, fmt.Errorf("escrow of %s: %w", fulfillment.UID.Hex(), err)
	}
	return escrow, nil
}

// GetEscrowAndDemand resolves the escrow and decodes its trusted-oracle demand.
func (o *Oracle) GetEscrowAndDemand(ctx context.Context, fulfillment contracts.Attestation) (contracts.Attestation, contracts.TrustedOracleDemand, error) {
	return EscrowAndDemand[contracts.TrustedOracleDemand](ctx, o, fulfillment, contracts.DemandCodec{})
}

// EscrowAndDemand resolves the escrow of fulfillment and decodes the demand
// its arbiter holds with codec.
func EscrowAndDemand[D any](ctx context.Context, o *Oracle, fulfillment contracts.Attestation, codec contracts.Codec[D]) (contracts.Attestation, D, error) {
	var zero D
	escrow, err := o.GetEscrowAttestation(ctx, fulfillment)
	if err != nil {
		return contracts.Attestation{}, zero, err
	}
	prefix, err := contracts.DecodeArbiterDemand(escrow.Data)
	if err != nil {
		return escrow, zero, err
	}
	demand, err := codec.Decode(prefix.Demand)
	if err != nil {
		return escrow, zero, fmt.Errorf("decode escrow demand: %w", err)
	}
	return escrow, demand, nil
}
