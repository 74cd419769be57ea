package oracle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"alkahest/chain"
	"alkahest/contracts"
)

var arbiterAddress = common.HexToAddress("0x00000000000000000000000000000000000000a1")

// logBackend serves logs over HTTP semantics: no subscriptions, so the log
// source polls. Methods not overridden are never reached by ChainSource.
type logBackend struct {
	chain.Backend

	mu   sync.Mutex
	head uint64
	logs []types.Log
}

func (b *logBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *logBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Log
	for _, log := range b.logs {
		if log.BlockNumber < q.FromBlock.Uint64() || log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && log.Topics[0] != q.Topics[0][0] {
			continue
		}
		if len(q.Topics) > 2 && len(q.Topics[2]) > 0 && log.Topics[2] != q.Topics[2][0] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (b *logBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (b *logBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *logBackend) add(t *testing.T, block uint64, uid common.Hash, oracle common.Address) {
	t.Helper()
	log, err := contracts.MakeArbitrationRequestedLog(arbiterAddress, uid, oracle, []byte("demand"))
	require.NoError(t, err)
	log.BlockNumber = block
	log.TxHash = common.BigToHash(new(big.Int).SetUint64(block))
	b.mu.Lock()
	b.logs = append(b.logs, log)
	if block > b.head {
		b.head = block
	}
	b.mu.Unlock()
}

func TestChainSourceFetchPast(t *testing.T) {
	backend := &logBackend{}
	backend.add(t, 3, common.HexToHash("0x01"), testOracle)
	backend.add(t, 4, common.HexToHash("0x02"), common.HexToAddress("0xbeef"))
	backend.add(t, 9, common.HexToHash("0x03"), testOracle)

	source := NewChainSource(chain.NewArbiter(arbiterAddress, chain.NewLogSource(backend), nil))
	events, err := source.FetchPast(context.Background(), testOracle, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, common.HexToHash("0x01"), events[0].FulfillmentUID)
	require.Equal(t, uint64(9), events[1].BlockNumber)
	require.Equal(t, []byte("demand"), events[1].Demand)

	events, err = source.FetchPast(context.Background(), testOracle, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestChainSourceSubscribePolls(t *testing.T) {
	backend := &logBackend{head: 10}
	backend.add(t, 10, common.HexToHash("0x01"), testOracle)
	logs := chain.NewLogSource(backend, chain.WithPollInterval(5*time.Millisecond))
	source := NewChainSource(chain.NewArbiter(arbiterAddress, logs, nil))

	stream, err := source.Subscribe(context.Background(), testOracle)
	require.NoError(t, err)
	defer stream.Unsubscribe()

	backend.add(t, 11, common.HexToHash("0x02"), testOracle)
	select {
	case event := <-stream.Events():
		require.Equal(t, common.HexToHash("0x02"), event.FulfillmentUID)
	case err := <-stream.Err():
		t.Fatalf("stream error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}
