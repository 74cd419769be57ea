package oracle

import (
	"context"
	"fmt"

	"alkahest/contracts"
)

// Request is what a Decider sees for one arbitration request.
type Request struct {
	Attestation contracts.Attestation
	Demand      []byte
	Event       RequestEvent
}

// Decider judges a fulfillment against its demand. Returning ErrAbstain skips
// the request; any other error is recorded as a failed evaluation.
type Decider interface {
	Decide(ctx context.Context, req Request) (bool, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (bool, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// TypedDecider decodes the fulfillment data and the demand before handing
// them to fn.
func TypedDecider[O, D any](obligation contracts.Codec[O], demand contracts.Codec[D], fn func(ctx context.Context, obligation O, demand D) (bool, error)) Decider {
	return DeciderFunc(func(ctx context.Context, req Request) (bool, error) {
		o, err := obligation.Decode(req.Attestation.Data)
		if err != nil {
			return false, fmt.Errorf("decode obligation: %w", err)
		}
		d, err := demand.Decode(req.Demand)
		if err != nil {
			return false, fmt.Errorf("decode demand: %w", err)
		}
		return fn(ctx, o, d)
	})
}

// Callback observes decisions produced while listening.
type Callback interface {
	OnDecision(ctx context.Context, d Decision)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, d Decision)

// OnDecision calls f.
func (f CallbackFunc) OnDecision(ctx context.Context, d Decision) {
	f(ctx, d)
}

func safeDecide(ctx context.Context, decider Decider, req Request) (decision bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decider panic: %v", r)
		}
	}()
	return decider.Decide(ctx, req)
}
