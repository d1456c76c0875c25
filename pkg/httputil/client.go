// Package httputil provides the shared outbound HTTP client setup.
package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const userAgent = "chatbridge/1.0"

// NewDefaultRestyClient returns a resty client with the service's timeout and
// user agent. Retries are left to the caller.
func NewDefaultRestyClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json")
}
