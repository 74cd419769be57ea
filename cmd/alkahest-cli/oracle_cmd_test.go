package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"alkahest/contracts"
	"alkahest/oracle"
)

var (
	testUID    = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000abc")
	testOracle = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type stubSession struct {
	arbitrated  []bool
	requested   []common.Address
	lastQuery   oracle.ArbitrationQuery
	lastOptions oracle.Options
	made        contracts.ArbitrationMade
	result      oracle.Result
	err         error
	closed      bool
}

func (s *stubSession) Address() common.Address { return testOracle }

func (s *stubSession) Arbitrate(_ context.Context, _ common.Hash, _ []byte, decision bool) (common.Hash, error) {
	s.arbitrated = append(s.arbitrated, decision)
	return common.HexToHash("0xf00d"), s.err
}

func (s *stubSession) RequestArbitration(_ context.Context, _ common.Hash, oracle common.Address, _ []byte) (common.Hash, error) {
	s.requested = append(s.requested, oracle)
	return common.HexToHash("0xbeef"), s.err
}

func (s *stubSession) WaitForArbitration(_ context.Context, q oracle.ArbitrationQuery) (contracts.ArbitrationMade, error) {
	s.lastQuery = q
	return s.made, s.err
}

func (s *stubSession) GetEscrowAndDemand(context.Context, contracts.Attestation) (contracts.Attestation, contracts.TrustedOracleDemand, error) {
	return contracts.Attestation{UID: common.HexToHash("0xe5c0")}, contracts.TrustedOracleDemand{Oracle: testOracle, Data: []byte("sealed-bid")}, s.err
}

func (s *stubSession) ArbitrateMany(ctx context.Context, decider oracle.Decider, cb oracle.Callback, opts oracle.Options) (oracle.Result, error) {
	s.lastOptions = opts
	for _, d := range s.result.Decisions {
		if d.Phase == oracle.PhaseListen {
			cb.OnDecision(ctx, d)
		}
	}
	return s.result, s.err
}

func (s *stubSession) GetAttestation(_ context.Context, uid common.Hash) (contracts.Attestation, error) {
	return contracts.Attestation{UID: uid, RefUID: common.HexToHash("0xe5c0")}, nil
}

func (s *stubSession) Close() { s.closed = true }

type openCall struct {
	needSigner bool
	readAs     common.Address
}

func withStubSession(t *testing.T, stub *stubSession) *[]openCall {
	t.Helper()
	calls := &[]openCall{}
	original := openSession
	openSession = func(_ context.Context, _ profile, needSigner bool, readAs common.Address) (oracleSession, error) {
		*calls = append(*calls, openCall{needSigner: needSigner, readAs: readAs})
		return stub, nil
	}
	t.Cleanup(func() { openSession = original })
	original2 := userHomeDir
	userHomeDir = func() (string, error) { return t.TempDir(), nil }
	t.Cleanup(func() { userHomeDir = original2 })
	return calls
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndUnknownCommands(t *testing.T) {
	code, _, stderr := execute()
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: alkahest-cli")

	code, _, stderr = execute("oracle")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Subcommands:")

	code, _, stderr = execute("oracle", "frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown oracle subcommand: frobnicate")

	code, stdout, _ := execute("help")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "oracle")
}

func TestEncodeDecodeDemand(t *testing.T) {
	code, stdout, stderr := execute("oracle", "encode-demand", "--oracle", testOracle.Hex(), "--data", "0xc0ffee")
	require.Equal(t, 0, code, stderr)
	encoded := strings.TrimSpace(stdout)

	code, stdout, stderr = execute("oracle", "decode-demand", "--demand", encoded)
	require.Equal(t, 0, code, stderr)
	var decoded demandJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	require.Equal(t, testOracle.Hex(), decoded.Oracle)
	require.Equal(t, hexutil.Bytes{0xc0, 0xff, 0xee}, decoded.Data)

	raw, err := hexutil.Decode(encoded)
	require.NoError(t, err)
	wrapped, err := contracts.EncodeArbiterDemand(contracts.ArbiterDemand{Arbiter: common.HexToAddress("0x01"), Demand: raw})
	require.NoError(t, err)
	code, stdout, stderr = execute("oracle", "decode-demand", "--escrow", "--demand", hexutil.Encode(wrapped))
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, testOracle.Hex())

	code, _, stderr = execute("oracle", "decode-demand", "--demand", "0x1234")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error:")

	code, _, stderr = execute("oracle", "encode-demand", "--data", "0x00")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--oracle is required")
}

func TestArbitrateValidatesFlagsBeforeDialing(t *testing.T) {
	calls := withStubSession(t, &stubSession{})
	cases := map[string][]string{
		"missing obligation": {"--demand", "0x", "--decision", "true"},
		"short obligation":   {"--obligation", "0x1234", "--decision", "true"},
		"bad decision":       {"--obligation", testUID.Hex(), "--decision", "maybe"},
		"bad demand":         {"--obligation", testUID.Hex(), "--demand", "0xzz", "--decision", "true"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := execute(append([]string{"oracle", "arbitrate"}, args...)...)
			require.Equal(t, 1, code)
			require.Contains(t, stderr, "Error:")
		})
	}
	require.Empty(t, *calls)
}

func TestArbitrateAndRequest(t *testing.T) {
	stub := &stubSession{}
	calls := withStubSession(t, stub)

	code, stdout, stderr := execute("oracle", "arbitrate", "--obligation", testUID.Hex(), "--demand", "0x01", "--decision", "false")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, common.HexToHash("0xf00d").Hex(), strings.TrimSpace(stdout))
	require.Equal(t, []bool{false}, stub.arbitrated)
	require.True(t, stub.closed)

	code, stdout, stderr = execute("oracle", "request", "--obligation", testUID.Hex(), "--oracle", testOracle.Hex(), "--demand", "0x")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, common.HexToHash("0xbeef").Hex(), strings.TrimSpace(stdout))
	require.Equal(t, []common.Address{testOracle}, stub.requested)
	require.Len(t, *calls, 2)
	require.True(t, (*calls)[0].needSigner)

	stub.err = errors.New("insufficient funds")
	code, _, stderr = execute("oracle", "arbitrate", "--obligation", testUID.Hex(), "--decision", "true")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "insufficient funds")
}

func TestWaitPrintsDecision(t *testing.T) {
	stub := &stubSession{made: contracts.ArbitrationMade{
		DecisionKey: common.HexToHash("0x0d"),
		Obligation:  testUID,
		Oracle:      testOracle,
		Decision:    true,
		Raw:         types.Log{BlockNumber: 88, TxHash: common.HexToHash("0x7a")},
	}}
	calls := withStubSession(t, stub)

	code, stdout, stderr := execute("oracle", "wait", "--obligation", testUID.Hex(), "--oracle", testOracle.Hex(), "--demand", "0xab", "--from-block", "5")
	require.Equal(t, 0, code, stderr)
	var out arbitrationJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.True(t, out.Decision)
	require.Equal(t, uint64(88), out.BlockNumber)
	require.Equal(t, []byte{0xab}, stub.lastQuery.Demand)
	require.Equal(t, uint64(5), stub.lastQuery.FromBlock)
	require.False(t, (*calls)[0].needSigner)

	_, _, _ = execute("oracle", "wait", "--obligation", testUID.Hex())
	require.Nil(t, stub.lastQuery.Demand)
}

func TestEscrowPrintsEscrowAndDemand(t *testing.T) {
	withStubSession(t, &stubSession{})
	code, stdout, stderr := execute("oracle", "escrow", "--fulfillment", testUID.Hex())
	require.Equal(t, 0, code, stderr)
	var out escrowJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, common.HexToHash("0xe5c0").Hex(), out.Escrow.UID)
	require.Equal(t, testOracle.Hex(), out.Demand.Oracle)
}

func TestRunDryRunWithoutSigner(t *testing.T) {
	stub := &stubSession{result: oracle.Result{
		RunID: "run-1",
		Decisions: []oracle.Decision{
			{FulfillmentUID: testUID, Decision: true, Phase: oracle.PhasePast, BlockNumber: 3},
			{FulfillmentUID: common.HexToHash("0x02"), Phase: oracle.PhaseListen, BlockNumber: 9},
		},
	}}
	calls := withStubSession(t, stub)

	code, stdout, stderr := execute("oracle", "run", "--approve", "good, ok", "--dry-run", "--oracle", testOracle.Hex(), "--mode", "past", "--from-block", "2")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, oracle.Past, stub.lastOptions.Mode)
	require.True(t, stub.lastOptions.DryRun)
	require.Equal(t, uint64(2), stub.lastOptions.FromBlock)
	require.Equal(t, openCall{needSigner: false, readAs: testOracle}, (*calls)[0])
	require.Equal(t, 2, strings.Count(stdout, "fulfillment_uid"))
	require.Contains(t, stderr, "run run-1: 2 decisions")

	code, _, stderr = execute("oracle", "run", "--approve", "good", "--timeout", "0s")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "timeout")

	code, _, stderr = execute("oracle", "run")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--approve")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
RPCURL = "https://rpc.example.org"
Network = "base-sepolia"
PrivateKey = "0x01"
`), 0o600))

	p, err := loadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", p.RPCURL)
	require.Equal(t, contracts.BaseSepolia.EAS.Hex(), p.EAS)
	require.Equal(t, uint64(84532), p.ChainID)
	require.Equal(t, defaultPassEnv, p.KeystorePassEnv)
	require.NoError(t, p.validate(true))

	t.Setenv(envRPCURL, "wss://override.example.org")
	t.Setenv(envPrivateKey, "0x02")
	p, err = loadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "wss://override.example.org", p.RPCURL)
	require.Equal(t, "0x02", p.PrivateKey)

	_, err = loadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	original := userHomeDir
	userHomeDir = func() (string, error) { return t.TempDir(), nil }
	defer func() { userHomeDir = original }()
	_, err = loadProfile("")
	require.NoError(t, err)
	require.Error(t, profile{}.validate(false))
	require.ErrorContains(t, profile{RPCURL: "x", EAS: contracts.BaseSepolia.EAS.Hex(), TrustedOracleArbiter: contracts.BaseSepolia.TrustedOracleArbiter.Hex()}.validate(true), "signer required")
}
