package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"frameproxy/internal/metrics"
	"frameproxy/internal/middleware"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("upstream"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	m := metrics.New()

	proxy := newTestProxyHandler(cfg)
	health := NewHealthHandler(cfg, nil, "test")

	e := echo.New()
	e.Use(middleware.CORS())
	RegisterRoutes(e, cfg, proxy, health, m)

	site := url.QueryEscape(upstream.URL + "/")
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{"GET /_proxy/status", http.MethodGet, "/_proxy/status", http.StatusOK, `"version":"test"`},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK, "frameproxy_"},
		{"GET / without site", http.MethodGet, "/", http.StatusBadRequest, usageMessage},
		{"GET /?site=", http.MethodGet, "/?site=" + site, http.StatusOK, "upstream"},
		{"POST /?site=", http.MethodPost, "/?site=" + site, http.StatusOK, "upstream"},
		{"DELETE /?site=", http.MethodDelete, "/?site=" + site, http.StatusOK, "upstream"},
		{"GET /proxy/<url>", http.MethodGet, "/proxy/" + url.PathEscape(upstream.URL+"/"), http.StatusOK, "upstream"},
		{"GET unknown path without referer", http.MethodGet, "/some/asset.js", http.StatusBadRequest, usageMessage},
		{"OPTIONS answered locally", http.MethodOptions, "/?site=" + site, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}

func TestRegisterRoutes_RefererFallback(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("served " + r.URL.Path))
	}))
	defer upstream.Close()

	cfg := testConfig()
	e := echo.New()
	RegisterRoutes(e, cfg, newTestProxyHandler(cfg), NewHealthHandler(cfg, nil, "test"), nil)

	// The second host is what a front proxy presents after rewriting Host;
	// the Referer still names the public URL.
	for _, host := range []string{"proxy.test", "10.0.0.5:3000"} {
		t.Run(host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/static/app.js", http.NoBody)
			req.Host = host
			req.Header.Set("Referer", testProxyBase+"/?site="+url.QueryEscape(upstream.URL+"/page"))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
			}
			if rec.Body.String() != "served /static/app.js" {
				t.Errorf("body = %q, want %q", rec.Body.String(), "served /static/app.js")
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Path = "/metrics"

	e := echo.New()
	RegisterRoutes(e, cfg, newTestProxyHandler(cfg), NewHealthHandler(cfg, nil, "test"), metrics.New())

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// With metrics off the path falls through to the proxy, which finds no target.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
