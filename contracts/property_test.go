package contracts

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDemandCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("DecodeDemand inverts EncodeDemand", prop.ForAll(
		func(addr []byte, data []byte) bool {
			in := TrustedOracleDemand{Oracle: common.BytesToAddress(addr), Data: data}
			encoded, err := EncodeDemand(in)
			if err != nil {
				return false
			}
			out, err := DecodeDemand(encoded)
			if err != nil {
				return false
			}
			return out.Oracle == in.Oracle && bytes.Equal(out.Data, data)
		},
		gen.SliceOfN(common.AddressLength, gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("escrow data wraps any demand unchanged", prop.ForAll(
		func(addr []byte, demand []byte) bool {
			encoded, err := EncodeArbiterDemand(ArbiterDemand{Arbiter: common.BytesToAddress(addr), Demand: demand})
			if err != nil {
				return false
			}
			out, err := DecodeArbiterDemand(encoded)
			return err == nil && bytes.Equal(out.Demand, demand) && out.Arbiter == common.BytesToAddress(addr)
		},
		gen.SliceOfN(common.AddressLength, gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("StringObligation round-trips", prop.ForAll(
		func(item string) bool {
			encoded, err := EncodeStringObligation(StringObligationData{Item: item})
			if err != nil {
				return false
			}
			out, err := DecodeStringObligation(encoded)
			return err == nil && out.Item == item
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestDecisionKeyProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("DecisionKey separates demands for one obligation", prop.ForAll(
		func(uid []byte, a []byte, b []byte) bool {
			obligation := common.BytesToHash(uid)
			if bytes.Equal(a, b) {
				return DecisionKey(obligation, a) == DecisionKey(obligation, b)
			}
			return DecisionKey(obligation, a) != DecisionKey(obligation, b)
		},
		gen.SliceOfN(common.HashLength, gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
