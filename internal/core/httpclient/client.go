// Package httpclient configures the HTTP client used to call a zonal
// statistics server.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound returns a client sized for conns concurrent requests to a
// single host. timeout <= 0 means 30s.
func NewOutbound(timeout time.Duration, conns int) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if conns <= 0 {
		conns = 128
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          2 * conns,
		MaxIdleConnsPerHost:   conns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
