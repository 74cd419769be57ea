package contracts

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestDemandRoundTrip(t *testing.T) {
	oracle := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cases := map[string][]byte{
		"empty": {},
		"short": []byte("hello oracle"),
		"large": bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 4096),
	}
	for name, payload := range cases {
		payload := payload
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeDemand(TrustedOracleDemand{Oracle: oracle, Data: payload})
			require.NoError(t, err)

			decoded, err := DecodeDemand(encoded)
			require.NoError(t, err)
			require.Equal(t, oracle, decoded.Oracle)
			require.Equal(t, payload, decoded.Data)
		})
	}
}

func TestDecodeDemandRejectsGarbage(t *testing.T) {
	_, err := DecodeDemand([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestArbiterDemandCarriesInnerDemand(t *testing.T) {
	oracle := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	arbiter := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	inner, err := EncodeDemand(TrustedOracleDemand{Oracle: oracle, Data: []byte("sealed-bid")})
	require.NoError(t, err)

	escrowData, err := EncodeArbiterDemand(ArbiterDemand{Arbiter: arbiter, Demand: inner})
	require.NoError(t, err)

	prefix, err := DecodeArbiterDemand(escrowData)
	require.NoError(t, err)
	require.Equal(t, arbiter, prefix.Arbiter)

	demand, err := DecodeDemand(prefix.Demand)
	require.NoError(t, err)
	require.Equal(t, oracle, demand.Oracle)
	require.Equal(t, []byte("sealed-bid"), demand.Data)
}

func TestStringObligationCodec(t *testing.T) {
	var codec Codec[StringObligationData] = StringObligationCodec{}
	raw, err := codec.Encode(StringObligationData{Item: "good"})
	require.NoError(t, err)
	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "good", decoded.Item)
}

func TestDecisionKeyMatchesKeccakOfConcatenation(t *testing.T) {
	uid := common.HexToHash("0x01")
	demand := []byte{0x0a, 0x0b}
	want := crypto.Keccak256Hash(append(uid.Bytes(), demand...))
	require.Equal(t, want, DecisionKey(uid, demand))
	require.NotEqual(t, want, DecisionKey(uid, []byte{0x0a}))
}
