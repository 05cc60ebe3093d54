package types

import (
	"fmt"
	"net/http"
	"time"
)

// HTTPClientInterface abstracts the HTTP client used by the bundle fetchers
// so responses can be mocked in tests.
type HTTPClientInterface interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPClient is a concrete implementation of HTTPClientInterface backed
// by a real http.Client.
type RealHTTPClient struct {
	Client *http.Client
}

// NewRealHTTPClient creates a new RealHTTPClient with a default timeout.
func NewRealHTTPClient() *RealHTTPClient {
	return &RealHTTPClient{
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Do sends an HTTP request using the underlying http.Client and returns the response.
func (c *RealHTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}
	return resp, nil
}
