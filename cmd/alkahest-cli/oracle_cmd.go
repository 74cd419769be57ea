package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"alkahest/contracts"
	"alkahest/oracle"
	"alkahest/services/oracled"
)

func runOracleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, oracleUsage())
		return 1
	}
	switch args[0] {
	case "arbitrate":
		return runOracleArbitrate(args[1:], stdout, stderr)
	case "request":
		return runOracleRequest(args[1:], stdout, stderr)
	case "wait":
		return runOracleWait(args[1:], stdout, stderr)
	case "escrow":
		return runOracleEscrow(args[1:], stdout, stderr)
	case "encode-demand":
		return runEncodeDemand(args[1:], stdout, stderr)
	case "decode-demand":
		return runDecodeDemand(args[1:], stdout, stderr)
	case "run":
		return runOracleRun(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown oracle subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, oracleUsage())
		return 1
	}
}

func oracleUsage() string {
	return `Usage: alkahest-cli oracle <subcommand> [flags]

Subcommands:
  arbitrate      --obligation UID --demand HEX --decision true|false
  request        --obligation UID --oracle ADDR --demand HEX
  wait           --obligation UID [--oracle ADDR] [--demand HEX] [--from-block N] [--timeout 5m]
  escrow         --fulfillment UID
  encode-demand  --oracle ADDR [--data HEX]
  decode-demand  --demand HEX [--escrow]
  run            --approve ITEM[,ITEM] [--mode all_unarbitrated] [--from-block N] [--timeout 1m] [--dry-run --oracle ADDR]`
}

func newOracleFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, oracleUsage())
	}
	return fs
}

func printOracleError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func parseHash(flagName, raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Hash{}, fmt.Errorf("--%s is required", flagName)
	}
	decoded, err := hexutil.Decode(ensure0x(trimmed))
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("--%s must be a 32-byte hex string", flagName)
	}
	return common.BytesToHash(decoded), nil
}

func parseAddress(flagName, raw string, required bool) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return common.Address{}, fmt.Errorf("--%s is required", flagName)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address", flagName)
	}
	return common.HexToAddress(trimmed), nil
}

func parseBytes(flagName, raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0x" {
		return []byte{}, nil
	}
	decoded, err := hexutil.Decode(ensure0x(trimmed))
	if err != nil {
		return nil, fmt.Errorf("--%s must be hex: %v", flagName, err)
	}
	return decoded, nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openFor(ctx context.Context, configPath string, needSigner bool, readAs common.Address) (oracleSession, error) {
	p, err := loadProfile(configPath)
	if err != nil {
		return nil, err
	}
	return openSession(ctx, p, needSigner, readAs)
}

func runOracleArbitrate(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle arbitrate", stderr)
	var configPath, obligationRaw, demandRaw, decisionRaw string
	fs.StringVar(&configPath, "config", "", "profile path")
	fs.StringVar(&obligationRaw, "obligation", "", "fulfillment attestation uid")
	fs.StringVar(&demandRaw, "demand", "", "demand bytes exactly as requested")
	fs.StringVar(&decisionRaw, "decision", "", "true to approve, false to reject")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	obligation, err := parseHash("obligation", obligationRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	demand, err := parseBytes("demand", demandRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	decision, err := strconv.ParseBool(strings.TrimSpace(decisionRaw))
	if err != nil {
		return printOracleError(stderr, "--decision must be true or false")
	}

	ctx, cancel := signalContext()
	defer cancel()
	session, err := openFor(ctx, configPath, true, common.Address{})
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	defer session.Close()

	tx, err := session.Arbitrate(ctx, obligation, demand, decision)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, tx.Hex())
	return 0
}

func runOracleRequest(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle request", stderr)
	var configPath, obligationRaw, oracleRaw, demandRaw string
	fs.StringVar(&configPath, "config", "", "profile path")
	fs.StringVar(&obligationRaw, "obligation", "", "fulfillment attestation uid")
	fs.StringVar(&oracleRaw, "oracle", "", "oracle asked to arbitrate")
	fs.StringVar(&demandRaw, "demand", "", "demand bytes")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	obligation, err := parseHash("obligation", obligationRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	target, err := parseAddress("oracle", oracleRaw, true)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	demand, err := parseBytes("demand", demandRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}

	ctx, cancel := signalContext()
	defer cancel()
	session, err := openFor(ctx, configPath, true, common.Address{})
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	defer session.Close()

	tx, err := session.RequestArbitration(ctx, obligation, target, demand)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, tx.Hex())
	return 0
}

type arbitrationJSON struct {
	DecisionKey string `json:"decision_key"`
	Obligation  string `json:"obligation"`
	Oracle      string `json:"oracle"`
	Decision    bool   `json:"decision"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}

func runOracleWait(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle wait", stderr)
	var configPath, obligationRaw, oracleRaw, demandRaw string
	var fromBlock uint64
	var timeout time.Duration
	fs.StringVar(&configPath, "config", "", "profile path")
	fs.StringVar(&obligationRaw, "obligation", "", "fulfillment attestation uid")
	fs.StringVar(&oracleRaw, "oracle", "", "only decisions by this oracle")
	fs.StringVar(&demandRaw, "demand", "", "only decisions for this demand")
	fs.Uint64Var(&fromBlock, "from-block", 0, "first block searched")
	fs.DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	obligation, err := parseHash("obligation", obligationRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	target, err := parseAddress("oracle", oracleRaw, false)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	query := oracle.ArbitrationQuery{Obligation: obligation, Oracle: target, FromBlock: fromBlock}
	if strings.TrimSpace(demandRaw) != "" {
		if query.Demand, err = parseBytes("demand", demandRaw); err != nil {
			return printOracleError(stderr, err.Error())
		}
	}
	if timeout <= 0 {
		return printOracleError(stderr, "--timeout must be positive")
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	session, err := openFor(ctx, configPath, false, common.Address{})
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	defer session.Close()

	made, err := session.WaitForArbitration(ctx, query)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	return printJSON(stdout, arbitrationJSON{
		DecisionKey: made.DecisionKey.Hex(),
		Obligation:  made.Obligation.Hex(),
		Oracle:      made.Oracle.Hex(),
		Decision:    made.Decision,
		BlockNumber: made.Raw.BlockNumber,
		TxHash:      made.Raw.TxHash.Hex(),
	})
}

type escrowJSON struct {
	Escrow struct {
		UID            string        `json:"uid"`
		Schema         string        `json:"schema"`
		Attester       string        `json:"attester"`
		Recipient      string        `json:"recipient"`
		ExpirationTime uint64        `json:"expiration_time"`
		RevocationTime uint64        `json:"revocation_time"`
		Data           hexutil.Bytes `json:"data"`
	} `json:"escrow"`
	Demand demandJSON `json:"demand"`
}

type demandJSON struct {
	Oracle string        `json:"oracle"`
	Data   hexutil.Bytes `json:"data"`
}

func runOracleEscrow(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle escrow", stderr)
	var configPath, fulfillmentRaw string
	fs.StringVar(&configPath, "config", "", "profile path")
	fs.StringVar(&fulfillmentRaw, "fulfillment", "", "fulfillment attestation uid")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	uid, err := parseHash("fulfillment", fulfillmentRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}

	ctx, cancel := signalContext()
	defer cancel()
	session, err := openFor(ctx, configPath, false, common.Address{})
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	defer session.Close()

	fulfillment, err := session.GetAttestation(ctx, uid)
	if err != nil {
		return printOracleError(stderr, fmt.Sprintf("fetch fulfillment: %v", err))
	}
	escrow, demand, err := session.GetEscrowAndDemand(ctx, fulfillment)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	var out escrowJSON
	out.Escrow.UID = escrow.UID.Hex()
	out.Escrow.Schema = escrow.Schema.Hex()
	out.Escrow.Attester = escrow.Attester.Hex()
	out.Escrow.Recipient = escrow.Recipient.Hex()
	out.Escrow.ExpirationTime = escrow.ExpirationTime
	out.Escrow.RevocationTime = escrow.RevocationTime
	out.Escrow.Data = escrow.Data
	out.Demand = demandJSON{Oracle: demand.Oracle.Hex(), Data: demand.Data}
	return printJSON(stdout, out)
}

func runEncodeDemand(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle encode-demand", stderr)
	var oracleRaw, dataRaw string
	fs.StringVar(&oracleRaw, "oracle", "", "oracle address")
	fs.StringVar(&dataRaw, "data", "", "opaque demand data")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	target, err := parseAddress("oracle", oracleRaw, true)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	data, err := parseBytes("data", dataRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	encoded, err := contracts.EncodeDemand(contracts.TrustedOracleDemand{Oracle: target, Data: data})
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, hexutil.Encode(encoded))
	return 0
}

func runDecodeDemand(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle decode-demand", stderr)
	var demandRaw string
	var escrow bool
	fs.StringVar(&demandRaw, "demand", "", "encoded demand")
	fs.BoolVar(&escrow, "escrow", false, "input is escrow data wrapping the demand")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(demandRaw) == "" {
		return printOracleError(stderr, "--demand is required")
	}
	raw, err := parseBytes("demand", demandRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	if escrow {
		wrapped, err := contracts.DecodeArbiterDemand(raw)
		if err != nil {
			return printOracleError(stderr, err.Error())
		}
		raw = wrapped.Demand
	}
	demand, err := contracts.DecodeDemand(raw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	return printJSON(stdout, demandJSON{Oracle: demand.Oracle.Hex(), Data: demand.Data})
}

type decisionJSON struct {
	FulfillmentUID string `json:"fulfillment_uid"`
	Decision       bool   `json:"decision"`
	Phase          string `json:"phase"`
	BlockNumber    uint64 `json:"block_number"`
	Submitted      bool   `json:"submitted"`
	TxHash         string `json:"tx_hash,omitempty"`
	Error          string `json:"error,omitempty"`
}

func toDecisionJSON(d oracle.Decision) decisionJSON {
	out := decisionJSON{
		FulfillmentUID: d.FulfillmentUID.Hex(),
		Decision:       d.Decision,
		Phase:          string(d.Phase),
		BlockNumber:    d.BlockNumber,
		Submitted:      d.Submitted,
	}
	if d.Submitted {
		out.TxHash = d.TxHash.Hex()
	}
	if d.Err != nil {
		out.Error = d.Err.Error()
	}
	return out
}

func runOracleRun(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle run", stderr)
	var configPath, modeRaw, approveRaw, oracleRaw string
	var fromBlock uint64
	var timeout time.Duration
	var dryRun bool
	fs.StringVar(&configPath, "config", "", "profile path")
	fs.StringVar(&modeRaw, "mode", oracle.AllUnarbitrated.String(), "arbitration mode")
	fs.StringVar(&approveRaw, "approve", "", "comma separated StringObligation items to approve")
	fs.StringVar(&oracleRaw, "oracle", "", "oracle to act as in --dry-run without a signer")
	fs.Uint64Var(&fromBlock, "from-block", 0, "first block scanned for past requests")
	fs.DurationVar(&timeout, "timeout", time.Minute, "idle listening window")
	fs.BoolVar(&dryRun, "dry-run", false, "decide without submitting")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	mode, err := oracle.ParseArbitrationMode(modeRaw)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	var approve []string
	for _, item := range strings.Split(approveRaw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			approve = append(approve, item)
		}
	}
	if len(approve) == 0 {
		return printOracleError(stderr, "--approve must list at least one item")
	}
	readAs, err := parseAddress("oracle", oracleRaw, false)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	needSigner := !dryRun || readAs == (common.Address{})
	opts := oracle.Options{Mode: mode, FromBlock: fromBlock, Timeout: timeout, DryRun: dryRun}
	if err := opts.Validate(); err != nil {
		return printOracleError(stderr, err.Error())
	}

	ctx, cancel := signalContext()
	defer cancel()
	session, err := openFor(ctx, configPath, needSigner, readAs)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	defer session.Close()

	enc := json.NewEncoder(stdout)
	callback := oracle.CallbackFunc(func(_ context.Context, d oracle.Decision) {
		_ = enc.Encode(toDecisionJSON(d))
	})
	result, err := session.ArbitrateMany(ctx, oracled.StringMatchDecider(approve), callback, opts)
	for _, d := range result.Decisions {
		if d.Phase == oracle.PhasePast {
			_ = enc.Encode(toDecisionJSON(d))
		}
	}
	fmt.Fprintf(stderr, "run %s: %d decisions, %d skipped, %d submission failures\n",
		result.RunID, len(result.Decisions), len(result.Skipped), result.SubmissionFailures)
	if err != nil {
		return printOracleError(stderr, err.Error())
	}
	return 0
}
