package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// UserAgent is sent with every outgoing backend request.
const UserAgent = "byoiap/1.0"

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 30 * time.Second

// NewHTTPClient returns an HTTP client with the given timeout, falling back to
// DefaultTimeout when zero.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Do sends req and returns the response when it carries a 2xx status. The
// caller must close the body. Any other outcome is reported as a transport
// error attributed to backendName.
func Do(client *http.Client, backendName string, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewTransportError(backendName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, NewStatusError(backendName, resp)
	}
	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON body into result.
func GetJSON(ctx context.Context, client *http.Client, backendName, reqURL string, header http.Header, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return NewValidationError("invalid request url: " + err.Error())
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := Do(client, backendName, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return NewProtocolError(backendName, "failed to decode response", err)
	}
	return nil
}
