package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the Ethereum RPC surface the oracle needs: contract
// calls and transactions, log queries and subscriptions, and the chain head.
type Backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an Ethereum node. http(s) endpoints do not support log
// subscriptions; LogSource falls back to polling for them.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	client, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(trimmed), err)
	}
	return ethclient.NewClient(client), nil
}

// redact strips credentials and query strings that providers embed in RPC URLs.
func redact(endpoint string) string {
	if idx := strings.Index(endpoint, "://"); idx >= 0 {
		scheme, rest := endpoint[:idx+3], endpoint[idx+3:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		if q := strings.IndexAny(rest, "?/"); q >= 0 {
			rest = rest[:q]
		}
		return scheme + rest
	}
	return endpoint
}
