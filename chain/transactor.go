package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"
)

// Transactor signs and broadcasts contract calls from one account. Sends are
// serialised so nonces are assigned in submission order.
type Transactor struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	limiter *rate.Limiter

	mu sync.Mutex
}

// TransactorOption customises a Transactor.
type TransactorOption func(*Transactor)

// WithRateLimit caps the number of transactions per second. Zero disables
// the limit.
func WithRateLimit(perSecond float64, burst int) TransactorOption {
	return func(t *Transactor) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewTransactor binds key to backend. chainID must match the node.
func NewTransactor(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...TransactorOption) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("signer key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	t := &Transactor{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// From returns the signing address.
func (t *Transactor) From() common.Address {
	if t == nil {
		return common.Address{}
	}
	return t.from
}

// Send submits calldata to contract and returns once the node accepted the
// transaction.
func (t *Transactor) Send(ctx context.Context, contract common.Address, contractABI abi.ABI, calldata []byte) (common.Hash, error) {
	if t == nil || t.backend == nil {
		return common.Hash{}, fmt.Errorf("transactor not initialised")
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("rate limit: %w", err)
		}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(t.key, t.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	t.mu.Lock()
	defer t.mu.Unlock()

	bound := bind.NewBoundContract(contract, contractABI, t.backend, t.backend, t.backend)
	tx, err := bound.RawTransact(opts, calldata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return tx.Hash(), nil
}
