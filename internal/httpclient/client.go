// Package httpclient builds the HTTP client shared by the legacy file fetcher
// and the storage uploader. The legacy store is not under our control, so every
// phase of a request gets an explicit bound.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole request including streaming the body.
	DefaultTimeout = 10 * time.Minute

	defaultConnectTimeout        = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultKeepAlive             = 30 * time.Second

	defaultUserAgent = "fs-converter"
)

// Config holds configuration for creating an HTTP client.
type Config struct {
	// Timeout is the overall limit for one request, body included.
	Timeout time.Duration

	// ConnectTimeout limits TCP dialing.
	ConnectTimeout time.Duration

	// ResponseHeaderTimeout limits the wait for response headers after the
	// request has been written.
	ResponseHeaderTimeout time.Duration

	// UserAgent is added to requests that do not set one.
	UserAgent string
}

// New creates an *http.Client from cfg, filling zero values with defaults.
func New(cfg Config) *http.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
