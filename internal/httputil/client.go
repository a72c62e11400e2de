package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and transport
// settings tuned for repeated calls to the same hosts (Cobre API, order
// sync callbacks).
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
