package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

// apiClient issues JSON requests to a peer and maps failures into the error
// taxonomy: network errors and undecodable responses become transport
// failures, errorResponse bodies become their sentinel errors.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(endpoint string, timeout time.Duration) *apiClient {
	base := strings.TrimRight(endpoint, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", study.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", study.ErrTransport, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var er errorResponse
		if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
			return fmt.Errorf("%w: %s %s: status %d", study.ErrTransport, method, path, resp.StatusCode)
		}
		return decodeRemoteError(resp.StatusCode, er)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", study.ErrTransport, err)
	}
	return nil
}
