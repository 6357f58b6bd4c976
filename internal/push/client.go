package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var (
	ErrGatewayStatus     = errors.New("gateway returned non-2xx status")
	ErrMalformedResponse = errors.New("gateway returned non-JSON body")
)

// Gateway sends one batch of messages.
type Gateway interface {
	Send(ctx context.Context, msgs []Message) (Response, error)
}

// Response is what came back from one gateway call. It is populated as far
// as possible even when Send returns an error.
type Response struct {
	StatusCode int
	Receipts   []Receipt
	Errors     []GatewayError
	Raw        string // truncated body, kept only when it could not be decoded
}

// GatewayError is a request-level error entry from the gateway.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is the HTTP client for the Expo push endpoint.
type Client struct {
	httpClient  *http.Client
	url         string
	accessToken string
	logger      *slog.Logger
}

// NewClient creates a gateway client. accessToken may be empty.
func NewClient(url, accessToken string, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultGatewayURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		// Per-call deadlines come from the dispatcher's context; this is a
		// backstop for callers that pass context.Background().
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		url:         url,
		accessToken: accessToken,
		logger:      logger,
	}
}

// Send posts msgs as a JSON array.
func (c *Client) Send(ctx context.Context, msgs []Message) (Response, error) {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return Response{}, fmt.Errorf("encode messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post to gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("read gateway body: %w", err)
	}

	out, decodeErr := decodeResponse(body)
	out.StatusCode = resp.StatusCode
	c.logger.Debug("gateway call", "messages", len(msgs), "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr != nil {
			out.Raw = truncate(body, rawBodyLimit)
		}
		return out, fmt.Errorf("%w: %d", ErrGatewayStatus, resp.StatusCode)
	}
	if decodeErr != nil {
		out.Raw = truncate(body, rawBodyLimit)
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	return out, nil
}

// decodeResponse accepts a bare receipt, a bare array of receipts, or either
// of those wrapped in {"data": ...} next to an optional "errors" array.
func decodeResponse(body []byte) (Response, error) {
	var out Response
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return out, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out.Receipts); err != nil {
			return out, err
		}
		return out, nil
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GatewayError  `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return out, err
	}
	out.Errors = envelope.Errors

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		// Not an envelope: maybe a single bare receipt.
		var single Receipt
		if err := json.Unmarshal(trimmed, &single); err == nil && single.Status != "" {
			out.Receipts = []Receipt{single}
		}
		return out, nil
	}

	if data[0] == '[' {
		if err := json.Unmarshal(data, &out.Receipts); err != nil {
			return out, err
		}
		return out, nil
	}
	var single Receipt
	if err := json.Unmarshal(data, &single); err != nil {
		return out, err
	}
	out.Receipts = []Receipt{single}
	return out, nil
}
