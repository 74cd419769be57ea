package oracled

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"alkahest/contracts"
	"alkahest/oracle"
)

const maxVerdictBytes = 64 << 10

// NewDecider builds the decider selected by cfg.
func NewDecider(cfg DeciderConfig) (oracle.Decider, error) {
	switch cfg.Type {
	case deciderWebhook:
		return NewWebhookDecider(cfg.URL, cfg.Secret, cfg.Timeout.Duration, cfg.RatePerSecond), nil
	case deciderStringMatch:
		return StringMatchDecider(cfg.Approve), nil
	case deciderCEL:
		d, err := NewCELDecider(cfg.Expression)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported decider type %q", cfg.Type)
	}
}

// StringMatchDecider approves StringObligation fulfillments whose item is in
// approve, compared case-insensitively.
func StringMatchDecider(approve []string) oracle.Decider {
	allowed := make(map[string]struct{}, len(approve))
	for _, item := range approve {
		allowed[strings.ToLower(strings.TrimSpace(item))] = struct{}{}
	}
	return oracle.TypedDecider[contracts.StringObligationData, []byte](
		contracts.StringObligationCodec{},
		contracts.RawCodec{},
		func(_ context.Context, obligation contracts.StringObligationData, _ []byte) (bool, error) {
			_, ok := allowed[strings.ToLower(strings.TrimSpace(obligation.Item))]
			return ok, nil
		},
	)
}

// WebhookDecider delegates decisions to an HTTP endpoint.
type WebhookDecider struct {
	url     string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

type verdictRequest struct {
	FulfillmentUID string          `json:"fulfillment_uid"`
	Oracle         string          `json:"oracle"`
	Demand         hexutil.Bytes   `json:"demand"`
	BlockNumber    uint64          `json:"block_number"`
	Attestation    attestationJSON `json:"attestation"`
}

type attestationJSON struct {
	UID            string        `json:"uid"`
	Schema         string        `json:"schema"`
	Time           uint64        `json:"time"`
	ExpirationTime uint64        `json:"expiration_time"`
	RevocationTime uint64        `json:"revocation_time"`
	RefUID         string        `json:"ref_uid"`
	Recipient      string        `json:"recipient"`
	Attester       string        `json:"attester"`
	Revocable      bool          `json:"revocable"`
	Data           hexutil.Bytes `json:"data"`
}

type verdictResponse struct {
	Decision *bool `json:"decision"`
}

// NewWebhookDecider posts each request to url as canonical (RFC 8785) JSON. A
// positive ratePerSecond caps outbound calls. When secret is set the body is
// signed with HMAC-SHA256.
func NewWebhookDecider(url, secret string, timeout time.Duration, ratePerSecond float64) *WebhookDecider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &WebhookDecider{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if ratePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return d
}

// Decide implements oracle.Decider. A null decision in the response abstains.
func (d *WebhookDecider) Decide(ctx context.Context, req oracle.Request) (bool, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	att := req.Attestation
	payload, err := json.Marshal(verdictRequest{
		FulfillmentUID: req.Event.FulfillmentUID.Hex(),
		Oracle:         req.Event.Oracle.Hex(),
		Demand:         req.Demand,
		BlockNumber:    req.Event.BlockNumber,
		Attestation: attestationJSON{
			UID:            att.UID.Hex(),
			Schema:         att.Schema.Hex(),
			Time:           att.Time,
			ExpirationTime: att.ExpirationTime,
			RevocationTime: att.RevocationTime,
			RefUID:         att.RefUID.Hex(),
			Recipient:      att.Recipient.Hex(),
			Attester:       att.Attester.Hex(),
			Revocable:      att.Revocable,
			Data:           att.Data,
		},
	})
	if err != nil {
		return false, fmt.Errorf("encode verdict request: %w", err)
	}
	// Receivers verify the signature over the canonical form.
	if payload, err = jcs.Transform(payload); err != nil {
		return false, fmt.Errorf("canonicalise verdict request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		httpReq.Header.Set("X-Oracle-Signature", signPayload(d.secret, payload))
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("call decider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("decider returned %s", resp.Status)
	}
	var verdict verdictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxVerdictBytes)).Decode(&verdict); err != nil {
		return false, fmt.Errorf("decode verdict: %w", err)
	}
	if verdict.Decision == nil {
		return false, oracle.ErrAbstain
	}
	return *verdict.Decision, nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
