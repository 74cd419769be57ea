package contracts

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnexpectedLog is returned when a log does not carry the expected topic layout.
var ErrUnexpectedLog = errors.New("contracts: unexpected log")

// ArbitrationRequested is the decoded TrustedOracleArbiter.ArbitrationRequested event.
type ArbitrationRequested struct {
	Obligation common.Hash
	Oracle     common.Address
	Demand     []byte
	Raw        types.Log
}

// ArbitrationMade is the decoded TrustedOracleArbiter.ArbitrationMade event.
type ArbitrationMade struct {
	DecisionKey common.Hash
	Obligation  common.Hash
	Oracle      common.Address
	Decision    bool
	Raw         types.Log
}

// ArbitrationRequestedTopic returns the event signature hash.
func ArbitrationRequestedTopic() common.Hash {
	mustLoad()
	return arbiterABI.Events["ArbitrationRequested"].ID
}

// ArbitrationMadeTopic returns the event signature hash.
func ArbitrationMadeTopic() common.Hash {
	mustLoad()
	return arbiterABI.Events["ArbitrationMade"].ID
}

// ParseArbitrationRequested decodes an ArbitrationRequested log.
func ParseArbitrationRequested(log types.Log) (ArbitrationRequested, error) {
	if err := loadABIs(); err != nil {
		return ArbitrationRequested{}, err
	}
	event := arbiterABI.Events["ArbitrationRequested"]
	if len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return ArbitrationRequested{}, fmt.Errorf("%w: want ArbitrationRequested in tx %s index %d", ErrUnexpectedLog, log.TxHash.Hex(), log.Index)
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return ArbitrationRequested{}, fmt.Errorf("unpack ArbitrationRequested: %w", err)
	}
	demand, ok := values[0].([]byte)
	if !ok {
		return ArbitrationRequested{}, fmt.Errorf("%w: demand is %T", ErrUnexpectedLog, values[0])
	}
	return ArbitrationRequested{
		Obligation: log.Topics[1],
		Oracle:     common.BytesToAddress(log.Topics[2].Bytes()),
		Demand:     demand,
		Raw:        log,
	}, nil
}

// ParseArbitrationMade decodes an ArbitrationMade log.
func ParseArbitrationMade(log types.Log) (ArbitrationMade, error) {
	if err := loadABIs(); err != nil {
		return ArbitrationMade{}, err
	}
	event := arbiterABI.Events["ArbitrationMade"]
	if len(log.Topics) != 4 || log.Topics[0] != event.ID {
		return ArbitrationMade{}, fmt.Errorf("%w: want ArbitrationMade in tx %s index %d", ErrUnexpectedLog, log.TxHash.Hex(), log.Index)
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return ArbitrationMade{}, fmt.Errorf("unpack ArbitrationMade: %w", err)
	}
	decision, ok := values[0].(bool)
	if !ok {
		return ArbitrationMade{}, fmt.Errorf("%w: decision is %T", ErrUnexpectedLog, values[0])
	}
	return ArbitrationMade{
		DecisionKey: log.Topics[1],
		Obligation:  log.Topics[2],
		Oracle:      common.BytesToAddress(log.Topics[3].Bytes()),
		Decision:    decision,
		Raw:         log,
	}, nil
}

// PackArbitrate returns calldata for arbitrate(obligation, demand, decision).
func PackArbitrate(obligation common.Hash, demand []byte, decision bool) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	if demand == nil {
		demand = []byte{}
	}
	return arbiterABI.Pack("arbitrate", obligation, demand, decision)
}

// PackRequestArbitration returns calldata for requestArbitration(obligation, oracle, demand).
func PackRequestArbitration(obligation common.Hash, oracle common.Address, demand []byte) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	if demand == nil {
		demand = []byte{}
	}
	return arbiterABI.Pack("requestArbitration", obligation, oracle, demand)
}

// AddressTopic left-pads an address into a topic filter value.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// MakeArbitrationRequestedLog builds the log a node would emit for
// requestArbitration. It exists for tests and local simulations.
func MakeArbitrationRequestedLog(arbiter common.Address, obligation common.Hash, oracle common.Address, demand []byte) (types.Log, error) {
	if err := loadABIs(); err != nil {
		return types.Log{}, err
	}
	if demand == nil {
		demand = []byte{}
	}
	event := arbiterABI.Events["ArbitrationRequested"]
	data, err := event.Inputs.NonIndexed().Pack(demand)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: arbiter,
		Topics:  []common.Hash{event.ID, obligation, AddressTopic(oracle)},
		Data:    data,
	}, nil
}

// MakeArbitrationMadeLog builds the log a node would emit for arbitrate.
func MakeArbitrationMadeLog(arbiter common.Address, obligation common.Hash, oracle common.Address, demand []byte, decision bool) (types.Log, error) {
	if err := loadABIs(); err != nil {
		return types.Log{}, err
	}
	event := arbiterABI.Events["ArbitrationMade"]
	data, err := event.Inputs.NonIndexed().Pack(decision)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: arbiter,
		Topics:  []common.Hash{event.ID, DecisionKey(obligation, demand), obligation, AddressTopic(oracle)},
		Data:    data,
	}, nil
}
