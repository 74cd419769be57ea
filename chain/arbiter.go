package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"alkahest/contracts"
)

// Arbiter talks to a TrustedOracleArbiter deployment: it queries the
// arbitration events and sends arbitrate/requestArbitration transactions.
type Arbiter struct {
	address    common.Address
	logs       *LogSource
	transactor *Transactor
}

// NewArbiter wires an arbiter client. transactor may be nil for read-only use.
func NewArbiter(address common.Address, logs *LogSource, transactor *Transactor) *Arbiter {
	return &Arbiter{address: address, logs: logs, transactor: transactor}
}

// Address returns the arbiter contract address.
func (a *Arbiter) Address() common.Address { return a.address }

// Logs exposes the underlying log source.
func (a *Arbiter) Logs() *LogSource { return a.logs }

// RequestFilter matches ArbitrationRequested events addressed to oracle.
func (a *Arbiter) RequestFilter(oracle common.Address) LogFilter {
	return LogFilter{
		Address: a.address,
		Topics: [][]common.Hash{
			{contracts.ArbitrationRequestedTopic()},
			nil,
			{contracts.AddressTopic(oracle)},
		},
	}
}

// DecisionFilter matches ArbitrationMade events for obligation. A zero
// decisionKey or oracle leaves that topic unconstrained.
func (a *Arbiter) DecisionFilter(decisionKey, obligation common.Hash, oracle common.Address) LogFilter {
	topics := [][]common.Hash{{contracts.ArbitrationMadeTopic()}, nil, {obligation}, nil}
	if decisionKey != (common.Hash{}) {
		topics[1] = []common.Hash{decisionKey}
	}
	if oracle != (common.Address{}) {
		topics[3] = []common.Hash{contracts.AddressTopic(oracle)}
	}
	return LogFilter{Address: a.address, Topics: topics}
}

// FindDecisions returns every ArbitrationMade log matching the filter from
// fromBlock through the current head.
func (a *Arbiter) FindDecisions(ctx context.Context, decisionKey, obligation common.Hash, oracle common.Address, fromBlock uint64) ([]contracts.ArbitrationMade, error) {
	if a == nil || a.logs == nil {
		return nil, fmt.Errorf("arbiter not initialised")
	}
	head, err := a.logs.Head(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := a.logs.FetchLogs(ctx, a.DecisionFilter(decisionKey, obligation, oracle), fromBlock, head)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.ArbitrationMade, 0, len(logs))
	for _, log := range logs {
		event, err := contracts.ParseArbitrationMade(log)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// IsArbitrated reports whether oracle has already recorded a decision for
// obligation on-chain.
func (a *Arbiter) IsArbitrated(ctx context.Context, obligation common.Hash, oracle common.Address) (bool, error) {
	decisions, err := a.FindDecisions(ctx, common.Hash{}, obligation, oracle, 0)
	if err != nil {
		return false, fmt.Errorf("arbitrated check %s: %w", obligation.Hex(), err)
	}
	return len(decisions) > 0, nil
}

// Arbitrate sends arbitrate(obligation, demand, decision).
func (a *Arbiter) Arbitrate(ctx context.Context, obligation common.Hash, demand []byte, decision bool) (common.Hash, error) {
	if a == nil || a.transactor == nil {
		return common.Hash{}, fmt.Errorf("arbiter has no transactor")
	}
	calldata, err := contracts.PackArbitrate(obligation, demand, decision)
	if err != nil {
		return common.Hash{}, err
	}
	return a.transactor.Send(ctx, a.address, contracts.ArbiterABI(), calldata)
}

// RequestArbitration sends requestArbitration(obligation, oracle, demand).
func (a *Arbiter) RequestArbitration(ctx context.Context, obligation common.Hash, oracle common.Address, demand []byte) (common.Hash, error) {
	if a == nil || a.transactor == nil {
		return common.Hash{}, fmt.Errorf("arbiter has no transactor")
	}
	calldata, err := contracts.PackRequestArbitration(obligation, oracle, demand)
	if err != nil {
		return common.Hash{}, err
	}
	return a.transactor.Send(ctx, a.address, contracts.ArbiterABI(), calldata)
}
