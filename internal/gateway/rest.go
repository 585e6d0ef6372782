package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"quanttrade/internal/types"
)

// HMACAuth signs REST requests with an API-key/secret pair, generalized
// from the teacher's Auth.L2Headers (HMAC-SHA256 over
// timestamp+method+path+body). The teacher's L1 EIP-712 wallet-signing
// path (deriving L2 credentials from an on-chain wallet) has no analog
// for a generic exchange and is dropped; callers provision an API key and
// secret directly, the way most centralized-exchange REST APIs expect.
type HMACAuth struct {
	APIKey string
	Secret string // base64-encoded, any of the standard alphabets
}

// Headers computes the signed header set for one request.
func (a HMACAuth) Headers(method, path, body string) (map[string]string, error) {
	secretBytes, err := decodeSecret(a.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-API-KEY":   a.APIKey,
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}, nil
}

func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var last error
	for _, dec := range decoders {
		if b, err := dec.DecodeString(secret); err == nil {
			return b, nil
		} else {
			last = err
		}
	}
	return nil, last
}

// RESTConfig parameterizes a RESTGateway.
type RESTConfig struct {
	BaseURL string
	Auth    HMACAuth
	DryRun  bool // mutating methods return fake success without any HTTP call
	Timeout time.Duration
}

// wireOrder is the wire-format body for a submit request. Field names
// are deliberately generic (not tied to any one exchange's schema) since
// the wire protocol itself is out of scope per spec §6.1.
type wireOrder struct {
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Quantity string  `json:"quantity"`
	Price    *string `json:"price,omitempty"`
}

type wireSubmitResponse struct {
	ExchangeID string `json:"exchange_id"`
	Rejected   bool   `json:"rejected"`
	Reason     string `json:"reason"`
}

type wireSnapshot struct {
	ExchangeID     string `json:"exchange_id"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filled_quantity"`
	AvgFillPrice   string `json:"avg_fill_price"`
	RejectReason   string `json:"reject_reason"`
}

// RESTGateway is a Gateway implementation over plain HTTP, adapted from
// the teacher's internal/exchange.Client: a resty client configured for
// automatic retry on 5xx, per-category token-bucket rate limiting, and a
// dry-run mode for paper trading that returns synthetic success without
// any network call.
type RESTGateway struct {
	http   *resty.Client
	auth   HMACAuth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewRESTGateway builds a RESTGateway from cfg.
func NewRESTGateway(cfg RESTConfig, rl *RateLimiter, logger *slog.Logger) *RESTGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if rl == nil {
		rl = NewRateLimiter()
	}

	return &RESTGateway{
		http:   httpClient,
		auth:   cfg.Auth,
		rl:     rl,
		dryRun: cfg.DryRun,
		logger: logger.With("component", "gateway.rest"),
	}
}

var _ Gateway = (*RESTGateway)(nil)

func (g *RESTGateway) signedHeaders(method, path string, body []byte) (map[string]string, error) {
	return g.auth.Headers(method, path, string(body))
}

// Submit places a new order.
func (g *RESTGateway) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if g.dryRun {
		id := fmt.Sprintf("dry-run-%s", req.ClientID)
		g.logger.Info("DRY-RUN: would submit order", "client_id", req.ClientID, "exchange_id", id)
		return id, nil
	}
	if err := g.rl.Submit.Wait(ctx); err != nil {
		return "", &Error{Category: Transient, Op: "submit", Err: err}
	}

	wire := wireOrder{
		ClientID: req.ClientID,
		Symbol:   req.Symbol.String(),
		Side:     string(req.Side),
		Type:     string(req.Type),
		Quantity: req.Quantity.String(),
	}
	if req.Price != nil {
		p := req.Price.String()
		wire.Price = &p
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return "", &Error{Category: Permanent, Op: "submit", Err: err}
	}
	headers, err := g.signedHeaders(http.MethodPost, "/orders", body)
	if err != nil {
		return "", &Error{Category: Permanent, Op: "submit", Err: err}
	}

	var result wireSubmitResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return "", &Error{Category: Transient, Op: "submit", Err: err}
	}
	if resp.StatusCode() >= 500 {
		return "", &Error{Category: Transient, Op: "submit", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if resp.StatusCode() >= 400 || result.Rejected {
		reason := result.Reason
		if reason == "" {
			reason = resp.String()
		}
		return "", &Error{Category: Permanent, Op: "submit", Err: fmt.Errorf("rejected: %s", reason)}
	}

	return result.ExchangeID, nil
}

// Cancel requests cancellation of a previously submitted order.
func (g *RESTGateway) Cancel(ctx context.Context, exchangeID string) error {
	if g.dryRun {
		g.logger.Info("DRY-RUN: would cancel order", "exchange_id", exchangeID)
		return nil
	}
	if err := g.rl.Cancel.Wait(ctx); err != nil {
		return &Error{Category: Transient, Op: "cancel", Err: err}
	}

	path := fmt.Sprintf("/orders/%s", exchangeID)
	headers, err := g.signedHeaders(http.MethodDelete, path, nil)
	if err != nil {
		return &Error{Category: Permanent, Op: "cancel", Err: err}
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return &Error{Category: Transient, Op: "cancel", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusConflict {
		return &Error{Category: Permanent, Op: "cancel", Err: fmt.Errorf("already terminal at exchange: status %d", resp.StatusCode())}
	}
	if resp.StatusCode() >= 500 {
		return &Error{Category: Transient, Op: "cancel", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if resp.StatusCode() >= 400 {
		return &Error{Category: Permanent, Op: "cancel", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	return nil
}

// Query fetches the exchange's current view of one order.
func (g *RESTGateway) Query(ctx context.Context, exchangeID string) (OrderSnapshot, error) {
	if err := g.rl.Query.Wait(ctx); err != nil {
		return OrderSnapshot{}, &Error{Category: Transient, Op: "query", Err: err}
	}

	path := fmt.Sprintf("/orders/%s", exchangeID)
	headers, err := g.signedHeaders(http.MethodGet, path, nil)
	if err != nil {
		return OrderSnapshot{}, &Error{Category: Permanent, Op: "query", Err: err}
	}

	var wire wireSnapshot
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&wire).
		Get(path)
	if err != nil {
		return OrderSnapshot{}, &Error{Category: Transient, Op: "query", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return OrderSnapshot{ExchangeID: exchangeID, Status: RemoteNotFound}, nil
	}
	if resp.StatusCode() >= 500 {
		return OrderSnapshot{}, &Error{Category: Transient, Op: "query", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if resp.StatusCode() >= 400 {
		return OrderSnapshot{}, &Error{Category: Permanent, Op: "query", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}

	return parseSnapshot(wire)
}

// StreamOrderUpdates has no push-channel implementation for a bare REST
// gateway; returning a nil channel tells the Order Manager to fall back
// to polling reconciliation entirely, per spec §6.1.
func (g *RESTGateway) StreamOrderUpdates(ctx context.Context) (<-chan OrderSnapshot, error) {
	return nil, nil
}

func parseSnapshot(w wireSnapshot) (OrderSnapshot, error) {
	snap := OrderSnapshot{
		ExchangeID:   w.ExchangeID,
		Status:       RemoteStatus(w.Status),
		RejectReason: w.RejectReason,
	}
	if w.FilledQuantity != "" {
		q, err := types.NewQuantityFromString(w.FilledQuantity)
		if err != nil {
			return OrderSnapshot{}, fmt.Errorf("parse filled_quantity %q: %w", w.FilledQuantity, err)
		}
		snap.FilledQuantity = q
	}
	if w.AvgFillPrice != "" {
		p, err := types.NewPriceFromString(w.AvgFillPrice)
		if err != nil {
			return OrderSnapshot{}, fmt.Errorf("parse avg_fill_price %q: %w", w.AvgFillPrice, err)
		}
		snap.AvgFillPrice = &p
	}
	return snap, nil
}
