// Package carrier is the HTTP client of the delivery carrier: token issue,
// consignment creation and status polling.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	tracerName     = "github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
}

// ConsignmentRequest asks the carrier to pick up one order from a branch.
type ConsignmentRequest struct {
	CarrierStoreID   string          `json:"store_id"`
	MerchantOrderID  string          `json:"merchant_order_id"`
	RecipientName    string          `json:"recipient_name"`
	RecipientPhone   string          `json:"recipient_phone"`
	RecipientAddress string          `json:"recipient_address"`
	RecipientCity    string          `json:"recipient_city,omitempty"`
	RecipientArea    string          `json:"recipient_area,omitempty"`
	ItemQuantity     int             `json:"item_quantity"`
	AmountToCollect  decimal.Decimal `json:"amount_to_collect"`
	Instruction      string          `json:"special_instruction,omitempty"`
}

type Consignment struct {
	ConsignmentID   string `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
}

// APIError is a non-2xx answer from the carrier.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier: status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether repeating the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsPermanent reports whether err is a carrier rejection that retrying will not fix.
func IsPermanent(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Permanent()
}

type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	tokens TokenCache
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New builds a client. tokens is required; pass NewMemoryTokenCache() when
// nothing durable is available.
func New(cfg Config, tokens TokenCache, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		base:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) tokenKey() string { return "carrier:" + c.cfg.ClientID }

func (c *Client) CreateConsignment(ctx context.Context, req ConsignmentRequest) (_ Consignment, err error) {
	ctx, span := c.tracer.Start(ctx, "carrier.create_consignment",
		trace.WithAttributes(attribute.String("carrier.merchant_order_id", req.MerchantOrderID)))
	defer func() { endSpan(span, err) }()

	var out struct {
		Data Consignment `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, []string{"orders"}, req, &out); err != nil {
		return Consignment{}, err
	}
	if out.Data.ConsignmentID == "" {
		return Consignment{}, errors.New("carrier: create consignment: empty consignment id")
	}
	span.SetAttributes(attribute.String("carrier.consignment_id", out.Data.ConsignmentID))
	return out.Data, nil
}

// ConsignmentStatus returns the carrier's raw status string for a consignment.
func (c *Client) ConsignmentStatus(ctx context.Context, consignmentID string) (_ string, err error) {
	ctx, span := c.tracer.Start(ctx, "carrier.consignment_status",
		trace.WithAttributes(attribute.String("carrier.consignment_id", consignmentID)))
	defer func() { endSpan(span, err) }()

	var out struct {
		Data Consignment `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, []string{"orders", consignmentID, "info"}, nil, &out); err != nil {
		return "", err
	}
	return out.Data.OrderStatus, nil
}

// do sends an authorised request. A 401 drops the cached token and the
// request is sent once more with a fresh one.
func (c *Client) do(ctx context.Context, method string, path []string, body, out any) error {
	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, path, tok.AccessToken, body, out)
		var ae *APIError
		if attempt == 0 && errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized {
			c.log.Info("carrier token rejected, issuing a new one")
			if err := c.tokens.Invalidate(ctx, c.tokenKey()); err != nil {
				c.log.Warn("invalidate carrier token", zap.Error(err))
			}
			continue
		}
		return err
	}
}

func (c *Client) token(ctx context.Context) (Token, error) {
	key := c.tokenKey()
	tok, ok, err := c.tokens.Get(ctx, key)
	if err != nil {
		c.log.Warn("read carrier token cache", zap.Error(err))
	}
	if ok && tok.Valid(c.now()) {
		return tok, nil
	}

	var issued struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	req := map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"username":      c.cfg.Username,
		"password":      c.cfg.Password,
		"grant_type":    "password",
	}
	if err := c.send(ctx, http.MethodPost, []string{"issue-token"}, "", req, &issued); err != nil {
		return Token{}, fmt.Errorf("carrier: issue token: %w", err)
	}
	if issued.AccessToken == "" {
		return Token{}, errors.New("carrier: issue token: empty access token")
	}
	tok = Token{AccessToken: issued.AccessToken, ExpiresAt: c.now().Add(time.Duration(issued.ExpiresIn) * time.Second)}
	if err := c.tokens.Set(ctx, key, tok); err != nil {
		c.log.Warn("store carrier token", zap.Error(err))
	}
	return tok, nil
}

func (c *Client) send(ctx context.Context, method string, path []string, accessToken string, body, out any) error {
	endpoint, err := url.JoinPath(c.base, path...)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: drain(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("carrier: decode %s: %w", endpoint, err)
	}
	return nil
}

func drain(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(b))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
