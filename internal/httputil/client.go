package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and pooled transport.
// A single shared client per collaborator keeps connection reuse effective for
// the gateway polling loops and webhook deliveries.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
