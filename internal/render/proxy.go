// Package render forwards page requests to the renderer that produces the
// web application's HTML.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"
)

// Proxy is the catch-all handler of the router. Every request no other route
// claims is forwarded unchanged, path included, to the renderer.
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewProxy forwards to rawURL, e.g. "http://localhost:3000".
func NewProxy(rawURL string, timeout time.Duration, logger *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("render: parsing renderer url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("render: renderer url needs a scheme and host")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	p := &Proxy{target: target, logger: logger}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			if pr.Out.Header.Get("X-Request-Id") == "" {
				id := chimiddleware.GetReqID(pr.In.Context())
				if id == "" {
					id = xid.New().String()
				}
				pr.Out.Header.Set("X-Request-Id", id)
			}
		},
		Transport:    transport,
		ErrorHandler: p.renderError,
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

func (p *Proxy) renderError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.ErrorContext(r.Context(), "renderer request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("renderer", p.target.Host),
		slog.String("error", err.Error()),
	)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte("page temporarily unavailable\n"))
}
