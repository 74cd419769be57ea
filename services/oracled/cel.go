package oracled

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"alkahest/contracts"
	"alkahest/oracle"
)

const celCostLimit = 10000

// CELDecider evaluates a boolean CEL expression per request. Available
// variables: item (StringObligation item, empty when the fulfillment is not
// one), obligation and demand (raw bytes), attester, recipient, time and
// block_number.
type CELDecider struct {
	expr string
	prg  cel.Program
}

// NewCELDecider compiles expr once.
func NewCELDecider(expr string) (*CELDecider, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cel expression required")
	}
	env, err := cel.NewEnv(
		cel.Variable("item", cel.StringType),
		cel.Variable("obligation", cel.BytesType),
		cel.Variable("demand", cel.BytesType),
		cel.Variable("attester", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("time", cel.IntType),
		cel.Variable("block_number", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &CELDecider{expr: expr, prg: prg}, nil
}

// Decide implements oracle.Decider.
func (d *CELDecider) Decide(ctx context.Context, req oracle.Request) (bool, error) {
	var item string
	if decoded, err := contracts.DecodeStringObligation(req.Attestation.Data); err == nil {
		item = decoded.Item
	}
	out, _, err := d.prg.ContextEval(ctx, map[string]any{
		"item":         item,
		"obligation":   req.Attestation.Data,
		"demand":       req.Demand,
		"attester":     strings.ToLower(req.Attestation.Attester.Hex()),
		"recipient":    strings.ToLower(req.Attestation.Recipient.Hex()),
		"time":         int64(req.Attestation.Time),
		"block_number": int64(req.Event.BlockNumber),
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return a bool", d.expr)
	}
	return verdict, nil
}
