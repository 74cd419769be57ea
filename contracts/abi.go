package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TrustedOracleArbiterABI covers the arbiter surface used by oracles: the
// arbitrate/requestArbitration entry points, the two events, and the
// demand decoder.
const TrustedOracleArbiterABI = `[
  {"type":"function","name":"arbitrate","stateMutability":"nonpayable",
   "inputs":[{"name":"obligation","type":"bytes32"},{"name":"demand","type":"bytes"},{"name":"decision","type":"bool"}],
   "outputs":[]},
  {"type":"function","name":"requestArbitration","stateMutability":"nonpayable",
   "inputs":[{"name":"_obligation","type":"bytes32"},{"name":"oracle","type":"address"},{"name":"demand","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"decodeDemandData","stateMutability":"pure",
   "inputs":[{"name":"data","type":"bytes"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct TrustedOracleArbiter.DemandData",
     "components":[{"name":"oracle","type":"address"},{"name":"data","type":"bytes"}]}]},
  {"type":"event","name":"ArbitrationRequested","anonymous":false,
   "inputs":[{"name":"obligation","type":"bytes32","indexed":true},{"name":"oracle","type":"address","indexed":true},{"name":"demand","type":"bytes","indexed":false}]},
  {"type":"event","name":"ArbitrationMade","anonymous":false,
   "inputs":[{"name":"decisionKey","type":"bytes32","indexed":true},{"name":"obligation","type":"bytes32","indexed":true},{"name":"oracle","type":"address","indexed":true},{"name":"decision","type":"bool","indexed":false}]}
]`

// EASABI is the read side of the Ethereum Attestation Service used to resolve
// fulfillment and escrow attestations.
const EASABI = `[
  {"type":"function","name":"getAttestation","stateMutability":"view",
   "inputs":[{"name":"uid","type":"bytes32"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct Attestation",
     "components":[
       {"name":"uid","type":"bytes32"},
       {"name":"schema","type":"bytes32"},
       {"name":"time","type":"uint64"},
       {"name":"expirationTime","type":"uint64"},
       {"name":"revocationTime","type":"uint64"},
       {"name":"refUID","type":"bytes32"},
       {"name":"recipient","type":"address"},
       {"name":"attester","type":"address"},
       {"name":"revocable","type":"bool"},
       {"name":"data","type":"bytes"}]}]}
]`

// codecABI holds struct layouts that only appear as abi.decode targets inside
// the contracts. They are modelled as pure decoder functions so the tuple
// encoding matches a single struct parameter.
const codecABI = `[
  {"type":"function","name":"arbiterDemand","stateMutability":"pure","inputs":[],
   "outputs":[{"name":"","type":"tuple","components":[{"name":"oracle","type":"address"},{"name":"demand","type":"bytes"}]}]},
  {"type":"function","name":"stringObligation","stateMutability":"pure","inputs":[],
   "outputs":[{"name":"","type":"tuple","components":[{"name":"item","type":"string"}]}]}
]`

var (
	parseOnce   sync.Once
	arbiterABI  abi.ABI
	easABI      abi.ABI
	codecs      abi.ABI
	errParseABI error
)

func loadABIs() error {
	parseOnce.Do(func() {
		var err error
		if arbiterABI, err = abi.JSON(strings.NewReader(TrustedOracleArbiterABI)); err != nil {
			errParseABI = err
			return
		}
		if easABI, err = abi.JSON(strings.NewReader(EASABI)); err != nil {
			errParseABI = err
			return
		}
		if codecs, err = abi.JSON(strings.NewReader(codecABI)); err != nil {
			errParseABI = err
		}
	})
	return errParseABI
}

// ArbiterABI returns the parsed TrustedOracleArbiter ABI.
func ArbiterABI() abi.ABI {
	mustLoad()
	return arbiterABI
}

// AttestationServiceABI returns the parsed EAS ABI.
func AttestationServiceABI() abi.ABI {
	mustLoad()
	return easABI
}

func mustLoad() {
	if err := loadABIs(); err != nil {
		panic("contracts: invalid embedded abi: " + err.Error())
	}
}
