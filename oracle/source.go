package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"alkahest/chain"
	"alkahest/contracts"
	"alkahest/observability"
)

// Stream delivers values produced after it was opened.
type Stream[T any] interface {
	Events() <-chan T
	// Err yields a terminal error. A closed channel means the stream ended.
	Err() <-chan error
	Unsubscribe()
}

// EventSource enumerates ArbitrationRequested events addressed to an oracle.
type EventSource interface {
	// FetchPast returns requests from fromBlock through the head at call
	// time in (block, log index) order. Any query failure fails the call.
	FetchPast(ctx context.Context, oracle common.Address, fromBlock uint64) ([]RequestEvent, error)
	// Subscribe streams requests mined after the call.
	Subscribe(ctx context.Context, oracle common.Address) (Stream[RequestEvent], error)
}

// AttestationFetcher resolves attestations by UID.
type AttestationFetcher interface {
	GetAttestation(ctx context.Context, uid common.Hash) (contracts.Attestation, error)
}

// ArbitrationIndex answers whether an oracle already decided an obligation.
type ArbitrationIndex interface {
	IsArbitrated(ctx context.Context, obligation common.Hash, oracle common.Address) (bool, error)
}

// Submitter commits a decision on-chain and returns the accepted tx hash.
type Submitter interface {
	Arbitrate(ctx context.Context, obligation common.Hash, demand []byte, decision bool) (common.Hash, error)
}

// Requester asks an oracle to arbitrate an obligation.
type Requester interface {
	RequestArbitration(ctx context.Context, obligation common.Hash, oracle common.Address, demand []byte) (common.Hash, error)
}

// ArbitrationQuery selects ArbitrationMade events. Zero Oracle and nil Demand
// leave those fields unconstrained.
type ArbitrationQuery struct {
	Obligation common.Hash
	Oracle     common.Address
	Demand     []byte
	FromBlock  uint64
}

// ArbitrationWatcher finds and streams ArbitrationMade events.
type ArbitrationWatcher interface {
	FindArbitrations(ctx context.Context, q ArbitrationQuery) ([]contracts.ArbitrationMade, error)
	WatchArbitrations(ctx context.Context, q ArbitrationQuery) (Stream[contracts.ArbitrationMade], error)
}

// ChainSource reads arbitration events from a TrustedOracleArbiter deployment.
type ChainSource struct {
	arbiter *chain.Arbiter
}

var (
	_ EventSource        = (*ChainSource)(nil)
	_ ArbitrationWatcher = (*ChainSource)(nil)
)

// NewChainSource wraps arbiter.
func NewChainSource(arbiter *chain.Arbiter) *ChainSource {
	return &ChainSource{arbiter: arbiter}
}

// FetchPast implements EventSource.
func (s *ChainSource) FetchPast(ctx context.Context, oracle common.Address, fromBlock uint64) ([]RequestEvent, error) {
	if s == nil || s.arbiter == nil {
		return nil, ErrNotConfigured
	}
	logs := s.arbiter.Logs()
	head, err := logs.Head(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := logs.FetchLogs(ctx, s.arbiter.RequestFilter(oracle), fromBlock, head)
	if err != nil {
		return nil, err
	}
	events := make([]RequestEvent, 0, len(raw))
	for _, log := range raw {
		event, err := parseRequest(log)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Subscribe implements EventSource.
func (s *ChainSource) Subscribe(ctx context.Context, oracle common.Address) (Stream[RequestEvent], error) {
	if s == nil || s.arbiter == nil {
		return nil, ErrNotConfigured
	}
	sub, err := s.arbiter.Logs().Subscribe(ctx, s.arbiter.RequestFilter(oracle))
	if err != nil {
		return nil, err
	}
	return newLogStream(sub, parseRequest), nil
}

// FindArbitrations implements ArbitrationWatcher.
func (s *ChainSource) FindArbitrations(ctx context.Context, q ArbitrationQuery) ([]contracts.ArbitrationMade, error) {
	if s == nil || s.arbiter == nil {
		return nil, ErrNotConfigured
	}
	return s.arbiter.FindDecisions(ctx, q.decisionKey(), q.Obligation, q.Oracle, q.FromBlock)
}

// WatchArbitrations implements ArbitrationWatcher.
func (s *ChainSource) WatchArbitrations(ctx context.Context, q ArbitrationQuery) (Stream[contracts.ArbitrationMade], error) {
	if s == nil || s.arbiter == nil {
		return nil, ErrNotConfigured
	}
	filter := s.arbiter.DecisionFilter(q.decisionKey(), q.Obligation, q.Oracle)
	sub, err := s.arbiter.Logs().Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	return newLogStream(sub, parseMade), nil
}

func (q ArbitrationQuery) decisionKey() common.Hash {
	if q.Demand == nil {
		return common.Hash{}
	}
	return contracts.DecisionKey(q.Obligation, q.Demand)
}

func parseRequest(log types.Log) (RequestEvent, error) {
	event, err := contracts.ParseArbitrationRequested(log)
	if err != nil {
		observability.Events().RecordInvalid("ArbitrationRequested")
		return RequestEvent{}, err
	}
	observability.Events().RecordDecoded("ArbitrationRequested")
	return RequestEvent{
		FulfillmentUID: event.Obligation,
		Oracle:         event.Oracle,
		Demand:         event.Demand,
		BlockNumber:    log.BlockNumber,
		LogIndex:       log.Index,
		TxHash:         log.TxHash,
	}, nil
}

func parseMade(log types.Log) (contracts.ArbitrationMade, error) {
	event, err := contracts.ParseArbitrationMade(log)
	if err != nil {
		observability.Events().RecordInvalid("ArbitrationMade")
		return event, err
	}
	observability.Events().RecordDecoded("ArbitrationMade")
	return event, nil
}

// logStream decodes a raw log subscription into typed events.
type logStream[T any] struct {
	sub    *chain.LogSubscription
	events chan T
	errs   chan error
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newLogStream[T any](sub *chain.LogSubscription, parse func(types.Log) (T, error)) *logStream[T] {
	s := &logStream[T]{
		sub:    sub,
		events: make(chan T, 16),
		errs:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(parse)
	return s
}

func (s *logStream[T]) run(parse func(types.Log) (T, error)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case err := <-s.sub.Err():
			s.errs <- err
			return
		case log := <-s.sub.Logs():
			event, err := parse(log)
			if err != nil {
				s.errs <- fmt.Errorf("decode log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
				return
			}
			select {
			case s.events <- event:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *logStream[T]) Events() <-chan T  { return s.events }
func (s *logStream[T]) Err() <-chan error { return s.errs }

func (s *logStream[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.sub.Unsubscribe()
		<-s.done
	})
}
