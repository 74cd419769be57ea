package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// fakeBackend is an in-memory node: a log store, a head counter, canned call
// results and a record of sent transactions.
type fakeBackend struct {
	mu sync.Mutex

	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	failAt  map[uint64]error

	calls      map[common.Address][]byte
	callErr    error
	sent       []*types.Transaction
	chainID    *big.Int
	subscribe  bool
	subscriber chan<- types.Log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failAt:  make(map[uint64]error),
		calls:   make(map[common.Address][]byte),
		chainID: big.NewInt(31337),
	}
}

func (b *fakeBackend) setHead(head uint64) {
	b.mu.Lock()
	b.head = head
	b.mu.Unlock()
}

func (b *fakeBackend) addLog(log types.Log) {
	b.mu.Lock()
	b.logs = append(b.logs, log)
	sub := b.subscriber
	b.mu.Unlock()
	if sub != nil {
		sub <- log
	}
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if err, ok := b.failAt[from]; ok {
		return nil, err
	}
	var out []types.Log
	for _, log := range b.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !matches(q, log) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func matches(q ethereum.FilterQuery, log types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == log.Address {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	for i, options := range q.Topics {
		if len(options) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		hit := false
		for _, topic := range options {
			if topic == log.Topics[i] {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

type fakeSubscription struct {
	errs chan error
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe()      { s.once.Do(func() { close(s.errs) }) }
func (s *fakeSubscription) Err() <-chan error { return s.errs }

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if !b.subscribe {
		return nil, rpc.ErrNotificationsUnsupported
	}
	b.mu.Lock()
	b.subscriber = ch
	b.mu.Unlock()
	return &fakeSubscription{errs: make(chan error)}, nil
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	if call.To == nil {
		return nil, errors.New("call without target")
	}
	return b.calls[*call.To], nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(int64(b.head)), BaseFee: big.NewInt(1)}, nil
}

func (b *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}
