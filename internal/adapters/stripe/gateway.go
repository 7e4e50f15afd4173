package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/pos-payments/internal/domain"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
	"github.com/kevin07696/pos-payments/pkg/observability"
	"github.com/kevin07696/pos-payments/pkg/resilience"
)

// Config holds Stripe API configuration
type Config struct {
	BaseURL   string // e.g. https://api.stripe.com/v1
	SecretKey string
	Timeout   time.Duration
}

// Gateway implements ports.ProviderGateway against the Stripe REST API.
// Requests are form-encoded; the local transaction id is sent as the
// Idempotency-Key header so network-level retries never double-charge.
type Gateway struct {
	config     Config
	httpClient ports.HTTPClient
	backoff    resilience.BackoffStrategy
	maxRetries int
	logger     ports.Logger
}

// NewGateway creates a new Stripe gateway adapter
func NewGateway(config Config, httpClient ports.HTTPClient, logger ports.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Gateway{
		config:     config,
		httpClient: httpClient,
		backoff:    resilience.DefaultExponentialBackoff(),
		maxRetries: 2,
		logger:     logger,
	}
}

// intentResponse is the subset of the Stripe payment intent object the
// engine cares about
type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Charges      struct {
		Data []struct {
			PaymentMethodDetails struct {
				Card struct {
					Brand string `json:"brand"`
				} `json:"card"`
			} `json:"payment_method_details"`
		} `json:"data"`
	} `json:"charges"`
}

type refundResponse struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

type connectionTokenResponse struct {
	Secret string `json:"secret"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent opens a payment intent tied to a local transaction
func (g *Gateway) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.Intent, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", toMinorUnits(req.Amount)))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[transaction_id]", req.TransactionID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("metadata[payment_id]", req.PaymentID)
	if req.Tip.IsPositive() {
		form.Set("metadata[tip]", fmt.Sprintf("%d", toMinorUnits(req.Tip)))
	}
	if req.Surcharge.IsPositive() {
		form.Set("metadata[surcharge]", fmt.Sprintf("%d", toMinorUnits(req.Surcharge)))
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	if req.CaptureManual {
		form.Set("capture_method", "manual")
	}
	if req.PaymentMethod != "" {
		form.Set("payment_method", req.PaymentMethod)
	}
	if req.ConfirmNow {
		form.Set("confirm", "true")
	}

	raw, err := g.makeRequest(ctx, "create_intent", http.MethodPost, "/payment_intents", form, req.TransactionID)
	if err != nil {
		return nil, err
	}
	return parseIntent(raw)
}

// GetIntent fetches the current provider-side state of an intent
func (g *Gateway) GetIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	raw, err := g.makeRequest(ctx, "get_intent", http.MethodGet, "/payment_intents/"+intentID, nil, "")
	if err != nil {
		return nil, err
	}
	return parseIntent(raw)
}

// CaptureIntent captures a manually-captured intent
func (g *Gateway) CaptureIntent(ctx context.Context, intentID string, transactionID string) (*ports.Intent, error) {
	raw, err := g.makeRequest(ctx, "capture_intent", http.MethodPost,
		"/payment_intents/"+intentID+"/capture", url.Values{}, transactionID+"-capture")
	if err != nil {
		return nil, err
	}
	return parseIntent(raw)
}

// CancelIntent cancels an intent that has not been captured
func (g *Gateway) CancelIntent(ctx context.Context, intentID string, transactionID string) (*ports.Intent, error) {
	raw, err := g.makeRequest(ctx, "cancel_intent", http.MethodPost,
		"/payment_intents/"+intentID+"/cancel", url.Values{}, transactionID+"-cancel")
	if err != nil {
		return nil, err
	}
	return parseIntent(raw)
}

// RefundIntent refunds part or all of a captured intent
func (g *Gateway) RefundIntent(ctx context.Context, intentID string, amount decimal.Decimal, reason, transactionID string) (*ports.Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", fmt.Sprintf("%d", toMinorUnits(amount)))
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	idempotencyKey := fmt.Sprintf("%s-refund-%d", transactionID, toMinorUnits(amount))
	raw, err := g.makeRequest(ctx, "refund_intent", http.MethodPost, "/refunds", form, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var resp refundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal refund response: %w", err)
	}
	return &ports.Refund{
		ID:          resp.ID,
		IntentID:    resp.PaymentIntent,
		Amount:      fromMinorUnits(resp.Amount),
		Status:      resp.Status,
		RawResponse: raw,
	}, nil
}

// CreateConnectionToken mints a token for a card terminal
func (g *Gateway) CreateConnectionToken(ctx context.Context) (string, error) {
	raw, err := g.makeRequest(ctx, "connection_token", http.MethodPost, "/terminal/connection_tokens", url.Values{}, "")
	if err != nil {
		return "", err
	}
	var resp connectionTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unmarshal connection token: %w", err)
	}
	return resp.Secret, nil
}

// makeRequest performs one API call, retrying transient failures with
// exponential backoff. Retries are safe because every mutating call
// carries an idempotency key.
func (g *Gateway) makeRequest(ctx context.Context, operation, method, endpoint string, form url.Values, idempotencyKey string) ([]byte, error) {
	start := time.Now()
	raw, err := g.makeRequestWithRetry(ctx, method, endpoint, form, idempotencyKey)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordProviderRequest(operation, outcome, time.Since(start).Seconds())
	return raw, err
}

func (g *Gateway) makeRequestWithRetry(ctx context.Context, method, endpoint string, form url.Values, idempotencyKey string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.WrapError(domain.ErrorCodeProviderTimeout, "provider call canceled", ctx.Err())
			case <-time.After(g.backoff.NextDelay(attempt - 1)):
			}
		}

		raw, retryable, err := g.doRequest(ctx, method, endpoint, form, idempotencyKey)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		g.logger.Warn("provider request failed, retrying",
			ports.String("endpoint", endpoint),
			ports.Int("attempt", attempt),
			ports.Err(err))
	}
	return nil, lastErr
}

func (g *Gateway) doRequest(ctx context.Context, method, endpoint string, form url.Values, idempotencyKey string) (raw []byte, retryable bool, err error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+endpoint, body)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.config.SecretKey)
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, domain.WrapError(domain.ErrorCodeProviderError, "provider request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err = io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, true, domain.NewDomainError(domain.ErrorCodeProviderError, "provider server error").
			WithDetail("status", httpResp.StatusCode)
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, true, domain.NewDomainError(domain.ErrorCodeProviderError, "provider rate limited")
	case httpResp.StatusCode >= 400:
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Error.Type == "card_error" {
			return nil, false, domain.NewDomainError(domain.ErrorCodeProviderDeclined, apiErr.Error.Message).
				WithDetail("decline_code", apiErr.Error.Code)
		}
		return nil, false, domain.NewDomainError(domain.ErrorCodeProviderError, "provider rejected request").
			WithDetail("status", httpResp.StatusCode).
			WithDetail("body", string(raw))
	}

	return raw, false, nil
}

// parseIntent converts a raw intent payload to the port type
func parseIntent(raw []byte) (*ports.Intent, error) {
	var resp intentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal intent response: %w", err)
	}

	intent := &ports.Intent{
		ID:           resp.ID,
		ClientSecret: resp.ClientSecret,
		Status:       ports.IntentStatus(resp.Status),
		Amount:       fromMinorUnits(resp.Amount),
		RawResponse:  raw,
	}
	if len(resp.Charges.Data) > 0 {
		intent.CardBrand = resp.Charges.Data[0].PaymentMethodDetails.Card.Brand
	}
	return intent, nil
}

// toMinorUnits converts a decimal amount to provider minor units (cents)
func toMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// fromMinorUnits converts provider minor units back to a decimal amount
func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
