// Package railclient holds the JSON-over-HTTP clients for the external rail
// services: the native ledger, the payment verifier and the SPV service.
package railclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fundverse/backend/internal/rails/equity"
	"github.com/fundverse/backend/internal/rails/native"
	"github.com/fundverse/backend/internal/rails/traditional"
)

// StatusError is a non-2xx response from a rail service.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newClient(baseURL, token string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: req.URL.String(), Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s returned invalid JSON: %w", method, path, err)
	}
	return nil
}

// NativeLedger talks to the native-ledger transfer service.
type NativeLedger struct{ c client }

func NewNativeLedger(baseURL, token string, timeout time.Duration) *NativeLedger {
	return &NativeLedger{c: newClient(baseURL, token, timeout)}
}

var _ native.LedgerClient = (*NativeLedger)(nil)

func (l *NativeLedger) InitiateTransfer(ctx context.Context, req native.TransferRequest) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	if err := l.c.do(ctx, http.MethodPost, "/transfers", req, &out); err != nil {
		return "", err
	}
	if out.Reference == "" {
		return "", fmt.Errorf("ledger returned an empty transfer reference")
	}
	return out.Reference, nil
}

func (l *NativeLedger) TransferStatus(ctx context.Context, ref string) (native.TransferStatus, error) {
	var out native.TransferStatus
	err := l.c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(ref), nil, &out)
	return out, err
}

// PaymentVerifier talks to the traditional-payment verification service.
type PaymentVerifier struct{ c client }

func NewPaymentVerifier(baseURL, token string, timeout time.Duration) *PaymentVerifier {
	return &PaymentVerifier{c: newClient(baseURL, token, timeout)}
}

var _ traditional.Verifier = (*PaymentVerifier)(nil)

func (v *PaymentVerifier) Initiate(ctx context.Context, req traditional.PaymentRequest) (string, error) {
	var out struct {
		PaymentID string `json:"payment_id"`
	}
	if err := v.c.do(ctx, http.MethodPost, "/payments", req, &out); err != nil {
		return "", err
	}
	return out.PaymentID, nil
}

func (v *PaymentVerifier) Verify(ctx context.Context, paymentID string) (traditional.Verification, error) {
	var out traditional.Verification
	err := v.c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/verification", nil, &out)
	return out, err
}

// SPVService talks to the equity/SPV investment service.
type SPVService struct{ c client }

func NewSPVService(baseURL, token string, timeout time.Duration) *SPVService {
	return &SPVService{c: newClient(baseURL, token, timeout)}
}

var _ equity.InvestmentService = (*SPVService)(nil)

func (s *SPVService) Deal(ctx context.Context, dealID string) (equity.Deal, error) {
	var out equity.Deal
	err := s.c.do(ctx, http.MethodGet, "/deals/"+url.PathEscape(dealID), nil, &out)
	return out, err
}

func (s *SPVService) Invest(ctx context.Context, req equity.InvestmentRequest) (string, error) {
	var out struct {
		InvestmentID string `json:"investment_id"`
	}
	if err := s.c.do(ctx, http.MethodPost, "/investments", req, &out); err != nil {
		return "", err
	}
	if out.InvestmentID == "" {
		return "", fmt.Errorf("spv returned an empty investment id")
	}
	return out.InvestmentID, nil
}

func (s *SPVService) Status(ctx context.Context, investmentID string) (equity.InvestmentStatus, error) {
	var out equity.InvestmentStatus
	err := s.c.do(ctx, http.MethodGet, "/investments/"+url.PathEscape(investmentID), nil, &out)
	return out, err
}
