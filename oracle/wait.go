package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"alkahest/contracts"
)

// WaitForArbitration returns the decision record for q, which is the first
// matching ArbitrationMade event with its decision key, obligation, oracle and
// verdict. It searches history from q.FromBlock first, then waits for a new
// event until ctx ends or the configured wait timeout elapses, whichever comes
// first. On expiry it returns ErrArbitrationNotFound.
func (o *Oracle) WaitForArbitration(ctx context.Context, q ArbitrationQuery) (contracts.ArbitrationMade, error) {
	if o.watcher == nil {
		return contracts.ArbitrationMade{}, fmt.Errorf("%w: watcher", ErrNotConfigured)
	}
	if q.Obligation == (common.Hash{}) {
		return contracts.ArbitrationMade{}, fmt.Errorf("oracle: obligation required")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.waitTimeout)
		defer cancel()
	}

	// Subscribe first so a decision mined during the history scan is seen.
	stream, err := o.watcher.WatchArbitrations(ctx, q)
	if err != nil {
		return contracts.ArbitrationMade{}, fmt.Errorf("watch arbitrations: %w", err)
	}
	defer stream.Unsubscribe()

	found, err := o.watcher.FindArbitrations(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return contracts.ArbitrationMade{}, fmt.Errorf("%w: %v", ErrArbitrationNotFound, ctx.Err())
		}
		return contracts.ArbitrationMade{}, fmt.Errorf("find arbitrations: %w", err)
	}
	if len(found) > 0 {
		return found[0], nil
	}

	errs := stream.Err()
	for {
		select {
		case <-ctx.Done():
			return contracts.ArbitrationMade{}, fmt.Errorf("%w: %v", ErrArbitrationNotFound, ctx.Err())
		case err, ok := <-errs:
			if !ok || err == nil {
				errs = nil
				continue
			}
			return contracts.ArbitrationMade{}, fmt.Errorf("arbitration subscription: %w", err)
		case event, ok := <-stream.Events():
			if !ok {
				return contracts.ArbitrationMade{}, ErrSubscriptionClosed
			}
			return event, nil
		}
	}
}
