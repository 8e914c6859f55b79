// Package proxy forwards gated feature routes to the stable backend.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/horsemanagement/stablegate/internal/platform/httpx"
)

// Proxy reverse-proxies requests to one backend base URL.
type Proxy struct {
	backend   *url.URL
	transport http.RoundTripper
	logger    *slog.Logger
}

// New parses backendURL and builds a Proxy. timeout bounds the wait for
// upstream response headers.
func New(backendURL string, timeout time.Duration, logger *slog.Logger) (*Proxy, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy: backend url %q must be absolute", backendURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &Proxy{backend: u, transport: transport, logger: logger}, nil
}

// For returns a handler forwarding to upstreamPath on the backend. The
// chi wildcard of the matched route is appended to upstreamPath, so a route
// mounted at /api/horses/* maps /api/horses/12/notes to /horses/12/notes.
func (p *Proxy) For(upstreamPath string) http.Handler {
	rp := &httputil.ReverseProxy{
		Transport: p.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(p.backend)
			pr.SetXForwarded()
			pr.Out.URL.Path = joinPath(p.backend.Path, upstreamPath, chi.URLParam(pr.In, "*"))
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Header.Del("Cookie")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Error("proxy upstream error",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("upstream", upstreamPath),
				slog.Any("error", err))
			httpx.RespondError(w, errors.Join(httpx.ErrUpstream, err))
		},
	}
	return rp
}

func joinPath(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(part)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}
