package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is a raw upstream HTTP failure, carried back to the plugin's
// MapError for translation into the uniform shape.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}

// maxErrorBody bounds how much of an upstream error body is retained.
const maxErrorBody = 64 * 1024

// PostJSON performs a JSON POST against an upstream API. For buffered calls
// opts.Timeout bounds the whole exchange. For streaming calls no timeout is
// applied beyond ctx itself: the inbound request's cancellation propagates
// through ctx, and the returned Stream is owned by the caller.
func PostJSON(ctx context.Context, opts Options, url string, headers map[string]string, body interface{}, stream bool) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream payload: %w", err)
	}

	cancel := func() {}
	if !stream && opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer func() {
		if !stream {
			cancel()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := opts.Client().Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: errBody}
	}

	if stream {
		return &Result{Stream: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &Result{JSON: raw, ContentType: resp.Header.Get("Content-Type")}, nil
}

// MapHTTPError is the shared status-code translation used by the bundled
// plugins. Provider-specific plugins wrap it to add their own error parsing.
func MapHTTPError(err error) *UpstreamError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := upstreamMessage(apiErr.Body)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return &UpstreamError{Status: http.StatusBadGateway, Code: "UPSTREAM_AUTH_FAILED", Message: msg, Retryable: false}
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &UpstreamError{Status: http.StatusTooManyRequests, Code: "UPSTREAM_RATE_LIMITED", Message: msg, Retryable: true}
		case apiErr.StatusCode >= 500:
			return &UpstreamError{Status: http.StatusBadGateway, Code: "UPSTREAM_UNAVAILABLE", Message: msg, Retryable: true}
		case apiErr.StatusCode >= 400:
			return &UpstreamError{Status: http.StatusBadRequest, Code: "UPSTREAM_REJECTED", Message: msg, Retryable: false}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Status: http.StatusGatewayTimeout, Code: "UPSTREAM_TIMEOUT", Message: "upstream call timed out", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &UpstreamError{Status: 499, Code: "CLIENT_CLOSED_REQUEST", Message: "caller disconnected", Retryable: false}
	}
	return &UpstreamError{Status: http.StatusBadGateway, Code: "UPSTREAM_ERROR", Message: errMessage(err), Retryable: true}
}

// upstreamMessage pulls a human-readable message out of a provider error
// body, falling back to the raw (truncated) body.
func upstreamMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return truncate(body, 200)
}

func errMessage(err error) string {
	if err == nil {
		return "unknown upstream failure"
	}
	return err.Error()
}
