package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Codec converts between a typed value and its ABI encoding.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// TrustedOracleDemand is TrustedOracleArbiter.DemandData: the oracle an escrow
// trusts and the opaque payload that oracle is asked to judge.
type TrustedOracleDemand struct {
	Oracle common.Address
	Data   []byte
}

type demandTuple struct {
	Oracle common.Address
	Data   []byte
}

// ArbiterDemand is the common prefix of escrow obligation data: the arbiter
// contract and the demand handed to it.
type ArbiterDemand struct {
	Arbiter common.Address
	Demand  []byte
}

type arbiterDemandTuple struct {
	Oracle common.Address
	Demand []byte
}

// StringObligationData is the payload of a StringObligation fulfillment.
type StringObligationData struct {
	Item string
}

type stringObligationTuple struct {
	Item string
}

// EncodeDemand ABI-encodes d as a single DemandData struct.
func EncodeDemand(d TrustedOracleDemand) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	data := d.Data
	if data == nil {
		data = []byte{}
	}
	return arbiterABI.Methods["decodeDemandData"].Outputs.Pack(demandTuple{Oracle: d.Oracle, Data: data})
}

// DecodeDemand parses a DemandData struct.
func DecodeDemand(raw []byte) (TrustedOracleDemand, error) {
	if err := loadABIs(); err != nil {
		return TrustedOracleDemand{}, err
	}
	values, err := arbiterABI.Methods["decodeDemandData"].Outputs.Unpack(raw)
	if err != nil {
		return TrustedOracleDemand{}, fmt.Errorf("decode demand: %w", err)
	}
	if len(values) != 1 {
		return TrustedOracleDemand{}, fmt.Errorf("decode demand: expected 1 value, got %d", len(values))
	}
	tuple := *abi.ConvertType(values[0], new(demandTuple)).(*demandTuple)
	return TrustedOracleDemand{Oracle: tuple.Oracle, Data: tuple.Data}, nil
}

// DecodeArbiterDemand reads the (arbiter, demand) prefix from escrow
// attestation data.
func DecodeArbiterDemand(raw []byte) (ArbiterDemand, error) {
	if err := loadABIs(); err != nil {
		return ArbiterDemand{}, err
	}
	values, err := codecs.Methods["arbiterDemand"].Outputs.Unpack(raw)
	if err != nil {
		return ArbiterDemand{}, fmt.Errorf("decode arbiter demand: %w", err)
	}
	if len(values) != 1 {
		return ArbiterDemand{}, fmt.Errorf("decode arbiter demand: expected 1 value, got %d", len(values))
	}
	tuple := *abi.ConvertType(values[0], new(arbiterDemandTuple)).(*arbiterDemandTuple)
	return ArbiterDemand{Arbiter: tuple.Oracle, Demand: tuple.Demand}, nil
}

// EncodeArbiterDemand is the inverse of DecodeArbiterDemand.
func EncodeArbiterDemand(d ArbiterDemand) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	demand := d.Demand
	if demand == nil {
		demand = []byte{}
	}
	return codecs.Methods["arbiterDemand"].Outputs.Pack(arbiterDemandTuple{Oracle: d.Arbiter, Demand: demand})
}

// EncodeStringObligation ABI-encodes a StringObligation payload.
func EncodeStringObligation(d StringObligationData) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	return codecs.Methods["stringObligation"].Outputs.Pack(stringObligationTuple{Item: d.Item})
}

// DecodeStringObligation parses a StringObligation payload.
func DecodeStringObligation(raw []byte) (StringObligationData, error) {
	if err := loadABIs(); err != nil {
		return StringObligationData{}, err
	}
	values, err := codecs.Methods["stringObligation"].Outputs.Unpack(raw)
	if err != nil {
		return StringObligationData{}, fmt.Errorf("decode string obligation: %w", err)
	}
	if len(values) != 1 {
		return StringObligationData{}, fmt.Errorf("decode string obligation: expected 1 value, got %d", len(values))
	}
	tuple := *abi.ConvertType(values[0], new(stringObligationTuple)).(*stringObligationTuple)
	return StringObligationData{Item: tuple.Item}, nil
}

// DecisionKey is the key the arbiter stores decisions under:
// keccak256(obligation || demand).
func DecisionKey(obligation common.Hash, demand []byte) common.Hash {
	return crypto.Keccak256Hash(obligation.Bytes(), demand)
}

// DemandCodec adapts EncodeDemand/DecodeDemand to Codec.
type DemandCodec struct{}

func (DemandCodec) Encode(d TrustedOracleDemand) ([]byte, error)   { return EncodeDemand(d) }
func (DemandCodec) Decode(raw []byte) (TrustedOracleDemand, error) { return DecodeDemand(raw) }

// StringObligationCodec adapts the StringObligation helpers to Codec.
type StringObligationCodec struct{}

func (StringObligationCodec) Encode(d StringObligationData) ([]byte, error) {
	return EncodeStringObligation(d)
}
func (StringObligationCodec) Decode(raw []byte) (StringObligationData, error) {
	return DecodeStringObligation(raw)
}

// RawCodec passes bytes through untouched.
type RawCodec struct{}

func (RawCodec) Encode(b []byte) ([]byte, error) { return b, nil }
func (RawCodec) Decode(b []byte) ([]byte, error) { return b, nil }
