package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPClient talks to the payment gateway's REST API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a gateway client. baseURL has no trailing slash.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type holdStateResponse struct {
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type captureRequest struct {
	Amount int64 `json:"amount"`
}

type captureResponse struct {
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *HTTPClient) RetrieveHold(ctx context.Context, intentID string) (HoldState, error) {
	var out holdStateResponse
	err := c.do(ctx, http.MethodGet, "/v1/holds/"+intentID, nil, "", &out)
	if err != nil {
		return HoldState{}, fmt.Errorf("gateway: retrieve hold %s: %w", intentID, err)
	}
	return HoldState{
		Status:   HoldStatus(out.Status),
		Amount:   out.Amount,
		Currency: out.Currency,
	}, nil
}

func (c *HTTPClient) Capture(ctx context.Context, intentID string, amount int64, idempotencyKey string) (CaptureResult, error) {
	var out captureResponse
	err := c.do(ctx, http.MethodPost, "/v1/holds/"+intentID+"/capture", captureRequest{Amount: amount}, idempotencyKey, &out)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("gateway: capture hold %s: %w", intentID, err)
	}
	return CaptureResult{Status: HoldStatus(out.Status)}, nil
}

func (c *HTTPClient) CancelPayment(ctx context.Context, paymentID string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/cancel", nil, "", nil); err != nil {
		return fmt.Errorf("gateway: cancel payment %s: %w", paymentID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s (code %s, http %d)", apiErr.Error.Message, apiErr.Error.Code, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
