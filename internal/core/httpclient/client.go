// Package httpclient configures the HTTP client used to call OGC services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the client for GetCapabilities/GetFeature calls. timeout bounds a whole
// request including the body read; zero leaves it unbounded for large paginated downloads.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// gzip handling is done by the executor so mislabelled bodies can be detected
		DisableCompression: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
