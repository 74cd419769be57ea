package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"alkahest/contracts"
)

func TestWaitForArbitrationFindsHistoricalDecision(t *testing.T) {
	chain := newFakeChain()
	uid := common.HexToHash("0x01")
	_, err := chain.Arbitrate(context.Background(), uid, []byte("d"), true)
	require.NoError(t, err)

	got, err := newTestOracle(chain).WaitForArbitration(context.Background(), ArbitrationQuery{Obligation: uid, Demand: []byte("d")})
	require.NoError(t, err)
	require.True(t, got.Decision)
	require.Equal(t, contracts.DecisionKey(uid, []byte("d")), got.DecisionKey)
}

func TestWaitForArbitrationWaitsForNewDecision(t *testing.T) {
	chain := newFakeChain()
	uid := common.HexToHash("0x02")
	go func() {
		for {
			chain.mu.Lock()
			ready := len(chain.madeStreams) > 0
			chain.mu.Unlock()
			if ready {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		_, _ = chain.Arbitrate(context.Background(), uid, nil, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := newTestOracle(chain).WaitForArbitration(ctx, ArbitrationQuery{Obligation: uid, Oracle: testOracle})
	require.NoError(t, err)
	require.Equal(t, uid, got.Obligation)
	require.False(t, got.Decision)
}

func TestWaitForArbitrationTimesOut(t *testing.T) {
	chain := newFakeChain()
	o := newTestOracle(chain, WithWaitTimeout(20*time.Millisecond))
	_, err := o.WaitForArbitration(context.Background(), ArbitrationQuery{Obligation: common.HexToHash("0x03")})
	require.ErrorIs(t, err, ErrArbitrationNotFound)

	_, err = o.WaitForArbitration(context.Background(), ArbitrationQuery{})
	require.Error(t, err)
}

func TestGetEscrowAndDemand(t *testing.T) {
	chain := newFakeChain()
	inner, err := contracts.EncodeDemand(contracts.TrustedOracleDemand{Oracle: testOracle, Data: []byte("rules")})
	require.NoError(t, err)
	escrowData, err := contracts.EncodeArbiterDemand(contracts.ArbiterDemand{Arbiter: common.HexToAddress("0xa1"), Demand: inner})
	require.NoError(t, err)
	chain.attestations[testEscrow] = contracts.Attestation{UID: testEscrow, Data: escrowData}
	fulfillment := contracts.Attestation{UID: common.HexToHash("0x05"), RefUID: testEscrow}

	o := newTestOracle(chain)
	escrow, demand, err := o.GetEscrowAndDemand(context.Background(), fulfillment)
	require.NoError(t, err)
	require.Equal(t, testEscrow, escrow.UID)
	require.Equal(t, testOracle, demand.Oracle)
	require.Equal(t, []byte("rules"), demand.Data)

	_, err = o.GetEscrowAttestation(context.Background(), contracts.Attestation{UID: common.HexToHash("0x06")})
	require.Error(t, err)

	_, err = o.GetEscrowAttestation(context.Background(), contracts.Attestation{RefUID: common.HexToHash("0x07")})
	require.ErrorIs(t, err, ErrAttestationNotFound)
}

func TestDirectArbitrateAndRequest(t *testing.T) {
	chain := newFakeChain()
	o := newTestOracle(chain)
	uid := common.HexToHash("0x08")

	hash, err := o.Arbitrate(context.Background(), uid, []byte("d"), true)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)
	require.Len(t, chain.submissions(), 1)

	hash, err = o.RequestArbitration(context.Background(), uid, testOracle, []byte("d"))
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)

	chain.submitErr = errBoom
	_, err = o.Arbitrate(context.Background(), uid, nil, false)
	require.ErrorIs(t, err, errBoom)

	_, err = New(testOracle).Arbitrate(context.Background(), uid, nil, true)
	require.ErrorIs(t, err, ErrNotConfigured)
}
