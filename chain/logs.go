package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// DefaultChunkSize bounds the block span of a single eth_getLogs call.
	DefaultChunkSize uint64 = 10_000
	// DefaultPollInterval is the cadence of the polling subscription fallback.
	DefaultPollInterval = time.Second
)

// LogFilter narrows a log query to one contract and a topic pattern.
type LogFilter struct {
	Address common.Address
	Topics  [][]common.Hash
}

// LogSource reads contract logs in bounded chunks and streams new ones.
type LogSource struct {
	backend      Backend
	chunkSize    uint64
	pollInterval time.Duration
}

// LogSourceOption customises a LogSource.
type LogSourceOption func(*LogSource)

// WithChunkSize overrides the block span of a single log query.
func WithChunkSize(size uint64) LogSourceOption {
	return func(s *LogSource) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithPollInterval overrides the polling cadence used when the transport has
// no subscription support.
func WithPollInterval(interval time.Duration) LogSourceOption {
	return func(s *LogSource) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// NewLogSource constructs a log source over backend.
func NewLogSource(backend Backend, opts ...LogSourceOption) *LogSource {
	src := &LogSource{backend: backend, chunkSize: DefaultChunkSize, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

// Head returns the latest block number.
func (s *LogSource) Head(ctx context.Context) (uint64, error) {
	if s == nil || s.backend == nil {
		return 0, fmt.Errorf("log source not initialised")
	}
	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	return head, nil
}

// FetchLogs returns every log matching filter in [from, to], ordered by block
// then log index, deduplicated and without removed logs. A failing chunk fails
// the whole query.
func (s *LogSource) FetchLogs(ctx context.Context, filter LogFilter, from, to uint64) ([]types.Log, error) {
	if s == nil || s.backend == nil {
		return nil, fmt.Errorf("log source not initialised")
	}
	if from > to {
		return nil, nil
	}
	var out []types.Log
	for start := from; start <= to; {
		end := to
		if span := s.chunkSize - 1; to-start > span {
			end = start + span
		}
		logs, err := s.backend.FilterLogs(ctx, s.query(filter, start, end))
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}
		out = append(out, logs...)
		if end == to {
			break
		}
		start = end + 1
	}
	return normalise(out), nil
}

func (s *LogSource) query(filter LogFilter, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{filter.Address},
		Topics:    filter.Topics,
	}
}

type logKey struct {
	tx    common.Hash
	index uint
}

func normalise(logs []types.Log) []types.Log {
	seen := make(map[logKey]struct{}, len(logs))
	out := logs[:0]
	for _, log := range logs {
		if log.Removed {
			continue
		}
		key := logKey{tx: log.TxHash, index: log.Index}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, log)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// LogSubscription delivers logs produced after it was opened.
type LogSubscription struct {
	logs   chan types.Log
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
}

// Logs returns the channel of new logs.
func (s *LogSubscription) Logs() <-chan types.Log { return s.logs }

// Err returns a channel that yields at most one terminal error.
func (s *LogSubscription) Err() <-chan error { return s.errs }

// Unsubscribe stops delivery and waits for the feeder goroutine to exit.
func (s *LogSubscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Subscribe streams logs matching filter that are mined after the call. It
// uses eth_subscribe when the transport supports notifications and falls back
// to polling eth_getLogs otherwise.
func (s *LogSource) Subscribe(ctx context.Context, filter LogFilter) (*LogSubscription, error) {
	if s == nil || s.backend == nil {
		return nil, fmt.Errorf("log source not initialised")
	}
	subCtx, cancel := context.WithCancel(ctx)
	out := &LogSubscription{
		logs:   make(chan types.Log, 64),
		errs:   make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	raw := make(chan types.Log, 64)
	sub, err := s.backend.SubscribeFilterLogs(subCtx, ethereum.FilterQuery{
		Addresses: []common.Address{filter.Address},
		Topics:    filter.Topics,
	}, raw)
	switch {
	case err == nil:
		go s.forward(subCtx, sub, raw, out)
		return out, nil
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		head, err := s.Head(subCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		go s.poll(subCtx, filter, head+1, out)
		return out, nil
	default:
		cancel()
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
}

func (s *LogSource) forward(ctx context.Context, sub ethereum.Subscription, raw <-chan types.Log, out *LogSubscription) {
	defer close(out.done)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				out.errs <- fmt.Errorf("log subscription: %w", err)
			}
			return
		case log := <-raw:
			if log.Removed {
				continue
			}
			select {
			case out.logs <- log:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *LogSource) poll(ctx context.Context, filter LogFilter, next uint64, out *LogSubscription) {
	defer close(out.done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := s.backend.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out.errs <- fmt.Errorf("poll head: %w", err)
			return
		}
		if head < next {
			continue
		}
		logs, err := s.FetchLogs(ctx, filter, next, head)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out.errs <- err
			return
		}
		for _, log := range logs {
			select {
			case out.logs <- log:
			case <-ctx.Done():
				return
			}
		}
		next = head + 1
	}
}
