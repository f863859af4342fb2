package grateful

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gratefulhq/store-gateway/internal/obs"
)

// FailureKind categorises why a Grateful API call failed. Callers treat all
// kinds as fatal to the attempt, never to the order.
type FailureKind string

const (
	// KindTransport covers network and timeout failures.
	KindTransport FailureKind = "transport"
	// KindHTTPStatus covers non-200 responses.
	KindHTTPStatus FailureKind = "http_status"
	// KindMalformed covers unparseable bodies or missing required fields.
	KindMalformed FailureKind = "malformed"
)

// ErrNotConfigured is returned when no API key is configured; the call is
// not attempted.
var ErrNotConfigured = errors.New("grateful: api key not configured")

// APIError describes a failed Grateful API call.
type APIError struct {
	Kind       FailureKind
	Operation  string
	HTTPStatus int
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grateful: %s: %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("grateful: %s: %s (http %d)", e.Operation, e.Kind, e.HTTPStatus)
}

// Unwrap allows errors.Is/As to inspect the underlying cause.
func (e *APIError) Unwrap() error { return e.Err }

// CreateRequest is the payment-creation payload sent to the processor.
type CreateRequest struct {
	FiatAmount          float64 `json:"fiatAmount"`
	FiatCurrency        string  `json:"fiatCurrency"`
	ExternalReferenceID string  `json:"externalReferenceId"`
	CallbackURL         string  `json:"callbackUrl"`
}

// Session is the processor's answer to a successful payment creation.
// URL is the hosted checkout page the shopper is redirected to.
type Session struct {
	ID  string
	URL string
}

// StatusResult is the processor's answer to a status query. Fields retains
// processor-specific extras alongside the status itself.
type StatusResult struct {
	Status string
	Fields map[string]any
}

// Client issues HTTP calls to the Grateful payment processor. It owns
// request/response shaping and low-level transport error handling; it never
// mutates order state.
type Client struct {
	BaseURL       string
	APIKey        string
	HTTPClient    *http.Client
	CreateTimeout time.Duration
	StatusTimeout time.Duration
}

// NewClient constructs a client with an instrumented transport.
func NewClient(baseURL, apiKey string, createTimeout, statusTimeout time.Duration) *Client {
	if createTimeout <= 0 {
		createTimeout = 30 * time.Second
	}
	if statusTimeout <= 0 {
		statusTimeout = 15 * time.Second
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		APIKey:        strings.TrimSpace(apiKey),
		HTTPClient:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		CreateTimeout: createTimeout,
		StatusTimeout: statusTimeout,
	}
}

// CreatePayment opens a payment session with the processor. The response
// must carry the hosted checkout URL; anything else is a malformed response.
func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (Session, error) {
	if c.APIKey == "" {
		return Session{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("grateful.Client").Start(ctx, "Client.CreatePayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.external_reference_id", req.ExternalReferenceID))

	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("grateful: encode create request: %w", err)
	}

	data, apiErr := c.do(ctx, "create_payment", http.MethodPost, "/api/payments/new", body, c.CreateTimeout)
	if apiErr != nil {
		span.RecordError(apiErr)
		return Session{}, apiErr
	}

	fields, apiErr := decodeFields("create_payment", data)
	if apiErr != nil {
		span.RecordError(apiErr)
		return Session{}, apiErr
	}
	url, _ := fields["url"].(string)
	if strings.TrimSpace(url) == "" {
		err := &APIError{Kind: KindMalformed, Operation: "create_payment", Err: errors.New("response missing url field")}
		span.RecordError(err)
		return Session{}, err
	}
	id, _ := fields["id"].(string)
	return Session{ID: id, URL: url}, nil
}

// PaymentStatus fetches the processor's current view of a payment. The
// shorter timeout keeps the user-facing return path responsive.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (StatusResult, error) {
	if c.APIKey == "" {
		return StatusResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(paymentID) == "" {
		return StatusResult{}, &APIError{Kind: KindMalformed, Operation: "payment_status", Err: errors.New("payment id is required")}
	}
	ctx, span := otel.Tracer("grateful.Client").Start(ctx, "Client.PaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	data, apiErr := c.do(ctx, "payment_status", http.MethodGet, "/api/payments/"+paymentID+"/status", nil, c.StatusTimeout)
	if apiErr != nil {
		span.RecordError(apiErr)
		return StatusResult{}, apiErr
	}

	fields, apiErr := decodeFields("payment_status", data)
	if apiErr != nil {
		span.RecordError(apiErr)
		return StatusResult{}, apiErr
	}
	status, _ := fields["status"].(string)
	if strings.TrimSpace(status) == "" {
		err := &APIError{Kind: KindMalformed, Operation: "payment_status", Err: errors.New("response missing status field")}
		span.RecordError(err)
		return StatusResult{}, err
	}
	return StatusResult{Status: status, Fields: fields}, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body []byte, timeout time.Duration) ([]byte, *APIError) {
	start := time.Now()
	result := "error"
	defer func() {
		if obs.RemoteCallDuration != nil {
			obs.RemoteCallDuration.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Operation: operation, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Operation: operation, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Kind: KindHTTPStatus, Operation: operation, HTTPStatus: resp.StatusCode}
	}
	result = "success"
	return data, nil
}

func decodeFields(operation string, data []byte) (map[string]any, *APIError) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &APIError{Kind: KindMalformed, Operation: operation, Err: err}
	}
	return fields, nil
}
