package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"alkahest/contracts"
)

// ArbitrateMany runs decider over the requests selected by opts.Mode and
// submits each decision. Past requests are decided first without invoking
// callback; in listening modes every later decision is passed to callback
// after submission. Listening ends when opts.Timeout elapses without a new
// request or when ctx is cancelled, and both end the run without error.
// Cancellation while past requests are still being decided returns ctx.Err()
// with the decisions made so far, in every mode.
func (o *Oracle) ArbitrateMany(ctx context.Context, decider Decider, callback Callback, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if decider == nil {
		return Result{}, fmt.Errorf("oracle: decider required")
	}
	if err := o.checkCollaborators(opts); err != nil {
		return Result{}, err
	}

	r := &run{
		oracle:   o,
		decider:  decider,
		callback: callback,
		opts:     opts,
		seen:     make(map[eventKey]struct{}),
		decided:  make(map[decisionKey]struct{}),
	}
	r.result.RunID = opts.RunID
	if r.result.RunID == "" {
		r.result.RunID = uuid.NewString()
	}
	r.logger = o.logger.With("run_id", r.result.RunID, "mode", opts.Mode.String(), "oracle", o.address.Hex())

	ctx, span := o.tracer.Start(ctx, "oracle.arbitrate_many", trace.WithAttributes(
		attribute.String("run_id", r.result.RunID),
		attribute.String("mode", opts.Mode.String()),
		attribute.Int64("from_block", int64(opts.FromBlock)),
	))
	defer span.End()
	started := time.Now()
	defer func() { o.metrics.ObserveRun(opts.Mode.String(), time.Since(started)) }()

	err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("arbitration run failed", "error", err, "decisions", len(r.result.Decisions))
		return r.result, err
	}
	r.logger.Info("arbitration run complete",
		"decisions", len(r.result.Decisions),
		"skipped", len(r.result.Skipped),
		"submission_failures", r.result.SubmissionFailures)
	return r.result, nil
}

// ListenAndArbitrate runs ArbitrateMany on the calling goroutine. It exists
// for callers that want the blocking entry point by name.
func (o *Oracle) ListenAndArbitrate(ctx context.Context, decider Decider, callback Callback, opts Options) (Result, error) {
	return o.ArbitrateMany(ctx, decider, callback, opts)
}

func (o *Oracle) checkCollaborators(opts Options) error {
	if o.source == nil {
		return fmt.Errorf("%w: event source", ErrNotConfigured)
	}
	if o.fetcher == nil {
		return fmt.Errorf("%w: attestations", ErrNotConfigured)
	}
	if opts.Mode.SkipsArbitrated() && o.index == nil {
		return fmt.Errorf("%w: arbitration index", ErrNotConfigured)
	}
	if !opts.DryRun && o.submitter == nil {
		return fmt.Errorf("%w: submitter", ErrNotConfigured)
	}
	return nil
}

type run struct {
	oracle   *Oracle
	decider  Decider
	callback Callback
	opts     Options
	logger   *slog.Logger

	result  Result
	seen    map[eventKey]struct{}
	decided map[decisionKey]struct{}
}

func (r *run) execute(ctx context.Context) error {
	o := r.oracle
	var stream Stream[RequestEvent]
	if r.opts.Mode.Listens() {
		// Subscribe before scanning history so nothing mined in between is lost.
		sub, err := o.source.Subscribe(ctx, o.address)
		if err != nil {
			return fmt.Errorf("subscribe requests: %w", err)
		}
		defer sub.Unsubscribe()
		stream = sub
	}
	if r.opts.Mode.IncludesPast() {
		if err := r.past(ctx); err != nil {
			return err
		}
	}
	if stream != nil {
		return r.listen(ctx, stream)
	}
	return nil
}

// prepared is the lookup state of one past request.
type prepared struct {
	arbitrated  bool
	attestation contracts.Attestation
	missing     error
}

func (r *run) past(ctx context.Context) error {
	o := r.oracle
	events, err := o.source.FetchPast(ctx, o.address, r.opts.FromBlock)
	if err != nil {
		return fmt.Errorf("fetch past requests: %w", err)
	}
	for _, event := range events {
		r.seen[event.key()] = struct{}{}
	}
	r.logger.Debug("past requests fetched", "count", len(events), "from_block", r.opts.FromBlock)

	lookups, err := r.prefetch(ctx, events)
	if err != nil {
		return err
	}
	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		state := lookups[i]
		if state.arbitrated {
			r.skip(event, SkipAlreadyArbitrated, nil)
			continue
		}
		if state.missing != nil {
			r.skip(event, SkipAttestationMissing, state.missing)
			continue
		}
		decision, ok := r.decide(ctx, event, state.attestation)
		if !ok {
			continue
		}
		decision.Phase = PhasePast
		r.commit(ctx, &decision)
	}
	return nil
}

// prefetch runs the arbitrated checks and attestation lookups concurrently
// and returns them in event order.
func (r *run) prefetch(ctx context.Context, events []RequestEvent) ([]prepared, error) {
	o := r.oracle
	out := make([]prepared, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := range events {
		i, event := i, events[i]
		g.Go(func() error {
			if r.opts.Mode.SkipsArbitrated() {
				done, err := o.index.IsArbitrated(gctx, event.FulfillmentUID, event.Oracle)
				if err != nil {
					return fmt.Errorf("arbitrated check %s: %w", event.FulfillmentUID.Hex(), err)
				}
				if done {
					out[i].arbitrated = true
					return nil
				}
			}
			att, err := o.fetcher.GetAttestation(gctx, event.FulfillmentUID)
			switch {
			case errors.Is(err, ErrAttestationNotFound):
				out[i].missing = err
			case err != nil:
				return fmt.Errorf("fetch attestation %s: %w", event.FulfillmentUID.Hex(), err)
			default:
				out[i].attestation = att
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *run) listen(ctx context.Context, stream Stream[RequestEvent]) error {
	o := r.oracle
	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	if r.opts.Timeout > 0 {
		timer = time.NewTimer(r.opts.Timeout)
		defer timer.Stop()
		expiry = timer.C
	}
	errs := stream.Err()
	for {
		if ctx.Err() != nil {
			r.logger.Info("listening stopped", "reason", "cancelled")
			return nil
		}
		select {
		case <-ctx.Done():
			r.logger.Info("listening stopped", "reason", "cancelled")
			return nil
		case <-expiry:
			r.logger.Info("listening stopped", "reason", "idle timeout", "timeout", r.opts.Timeout)
			return nil
		case err, ok := <-errs:
			if !ok || err == nil {
				errs = nil
				continue
			}
			return fmt.Errorf("request subscription: %w", err)
		case event, ok := <-stream.Events():
			if !ok {
				return ErrSubscriptionClosed
			}
			o.metrics.RecordListenEvent()
			if _, dup := r.seen[event.key()]; dup {
				continue
			}
			r.seen[event.key()] = struct{}{}
			if err := r.handleLive(ctx, event); err != nil {
				return err
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.opts.Timeout)
			}
		}
	}
}

// handleLive processes one received request to completion even if the caller
// cancels meanwhile.
func (r *run) handleLive(ctx context.Context, event RequestEvent) error {
	o := r.oracle
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.submitTimeout)
	defer cancel()

	if r.opts.Mode.SkipsArbitrated() {
		if _, done := r.decided[decisionKey{uid: event.FulfillmentUID, oracle: event.Oracle}]; done {
			r.skip(event, SkipAlreadyArbitrated, nil)
			return nil
		}
		done, err := o.index.IsArbitrated(work, event.FulfillmentUID, event.Oracle)
		if err != nil {
			return fmt.Errorf("arbitrated check %s: %w", event.FulfillmentUID.Hex(), err)
		}
		if done {
			r.skip(event, SkipAlreadyArbitrated, nil)
			return nil
		}
	}
	att, err := o.fetcher.GetAttestation(work, event.FulfillmentUID)
	if errors.Is(err, ErrAttestationNotFound) {
		r.skip(event, SkipAttestationMissing, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch attestation %s: %w", event.FulfillmentUID.Hex(), err)
	}
	decision, ok := r.decide(work, event, att)
	if !ok {
		return nil
	}
	decision.Phase = PhaseListen
	r.commit(work, &decision)
	if r.callback != nil {
		r.callback.OnDecision(work, decision)
	}
	return nil
}

// decide applies the activity filter, the duplicate guard and the decider.
func (r *run) decide(ctx context.Context, event RequestEvent, att contracts.Attestation) (Decision, bool) {
	o := r.oracle
	key := decisionKey{uid: event.FulfillmentUID, oracle: event.Oracle}
	if r.opts.Mode.SkipsArbitrated() {
		if _, done := r.decided[key]; done {
			r.skip(event, SkipAlreadyArbitrated, nil)
			return Decision{}, false
		}
	}
	if !att.IsActive(o.now()) {
		r.skip(event, SkipInactive, nil)
		return Decision{}, false
	}

	ctx, span := o.tracer.Start(ctx, "oracle.evaluate", trace.WithAttributes(
		attribute.String("uid", event.FulfillmentUID.Hex()),
	))
	verdict, err := safeDecide(ctx, r.decider, Request{Attestation: att, Demand: event.Demand, Event: event})
	span.End()
	if errors.Is(err, ErrAbstain) {
		r.skip(event, SkipAbstained, nil)
		return Decision{}, false
	}
	if err != nil {
		r.skip(event, SkipDeciderError, err)
		return Decision{}, false
	}
	return Decision{
		FulfillmentUID: event.FulfillmentUID,
		Oracle:         event.Oracle,
		Demand:         event.Demand,
		Decision:       verdict,
		BlockNumber:    event.BlockNumber,
		Attestation:    att,
	}, true
}

// commit submits the decision unless the run is a dry run, then appends it.
// A submission that has started is not interrupted by caller cancellation.
func (r *run) commit(ctx context.Context, d *Decision) {
	o := r.oracle
	r.decided[decisionKey{uid: d.FulfillmentUID, oracle: d.Oracle}] = struct{}{}
	if !r.opts.DryRun {
		subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.submitTimeout)
		subCtx, span := o.tracer.Start(subCtx, "oracle.submit", trace.WithAttributes(
			attribute.String("uid", d.FulfillmentUID.Hex()),
			attribute.Bool("decision", d.Decision),
		))
		hash, err := o.submitter.Arbitrate(subCtx, d.FulfillmentUID, d.Demand, d.Decision)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		cancel()
		if err != nil {
			d.Err = err
			r.result.SubmissionFailures++
			o.metrics.RecordSubmissionFailure()
			r.logger.Error("arbitration submission failed", "uid", d.FulfillmentUID.Hex(), "decision", d.Decision, "error", err)
		} else {
			d.TxHash = hash
			d.Submitted = true
			r.logger.Info("arbitration submitted", "uid", d.FulfillmentUID.Hex(), "decision", d.Decision, "tx_hash", hash.Hex(), "phase", string(d.Phase))
		}
	}
	o.metrics.RecordDecision(string(d.Phase), d.Decision)
	r.result.Decisions = append(r.result.Decisions, *d)
}

func (r *run) skip(event RequestEvent, reason SkipReason, err error) {
	r.result.Skipped = append(r.result.Skipped, Skip{Event: event, Reason: reason, Err: err})
	r.oracle.metrics.RecordSkip(string(reason))
	attrs := []any{"uid", event.FulfillmentUID.Hex(), "block", event.BlockNumber, "reason", string(reason)}
	if err != nil {
		r.logger.Warn("arbitration request skipped", append(attrs, "error", err)...)
		return
	}
	r.logger.Debug("arbitration request skipped", attrs...)
}
