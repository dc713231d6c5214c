package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"frameproxy/internal/client"
	"frameproxy/internal/config"
	"frameproxy/internal/model"
	"frameproxy/internal/ruleset"
	"frameproxy/internal/siteurl"
)

const proxyBase = "https://proxy.test"

func testContext(target *model.Target) *model.RewriteContext {
	return &model.RewriteContext{
		BaseURL:      target.BaseURL(),
		ProxyBaseURL: proxyBase,
		Document:     target.URL(),
	}
}

func mustTarget(t *testing.T, raw string) *model.Target {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return model.NewTarget(u)
}

func newTestService(t *testing.T, rules *ruleset.RuleSet) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:     10,
			IdleConnections:    10,
			InsecureSkipVerify: true,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProxyService(client.NewUpstreamClient(cfg, logger, nil), rules, logger)
}

func TestBuildRequestHeaders(t *testing.T) {
	s := &ProxyService{}
	target := mustTarget(t, "https://example.com/page")
	src := http.Header{
		"Accept":            {"text/html"},
		"Accept-Encoding":   {"gzip, deflate, br, zstd"},
		"Cookie":            {"a=b"},
		"Authorization":     {"Bearer token"},
		"Connection":        {"keep-alive, X-Hop"},
		"X-Hop":             {"1"},
		"Keep-Alive":        {"timeout=5"},
		"Upgrade":           {"h2c"},
		"X-Forwarded-For":   {"1.2.3.4"},
		"X-Forwarded-Proto": {"https"},
		"X-Forwarded-Host":  {"proxy.test"},
		"Forwarded":         {"for=1.2.3.4"},
		"X-Real-Ip":         {"1.2.3.4"},
		"Via":               {"1.1 edge"},
		"X-Custom":          {"kept"},
	}

	dst := s.buildRequestHeaders(src, target, testContext(target))

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Cookie forwarded", "Cookie", 1},
		{"Authorization forwarded", "Authorization", 1},
		{"custom header forwarded", "X-Custom", 1},
		{"Connection stripped", "Connection", 0},
		{"Connection-listed header stripped", "X-Hop", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
		{"Upgrade stripped", "Upgrade", 0},
		{"X-Forwarded-For stripped", "X-Forwarded-For", 0},
		{"X-Forwarded-Proto stripped", "X-Forwarded-Proto", 0},
		{"X-Forwarded-Host stripped", "X-Forwarded-Host", 0},
		{"Forwarded stripped", "Forwarded", 0},
		{"X-Real-Ip stripped", "X-Real-Ip", 0},
		{"Via stripped", "Via", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	if v := dst.Get("Host"); v != "example.com" {
		t.Errorf("Host = %q, want example.com", v)
	}
	if v := dst.Get("Accept-Encoding"); v != "gzip, deflate" {
		t.Errorf("Accept-Encoding = %q, want %q", v, "gzip, deflate")
	}
	if v := src.Get("X-Forwarded-For"); v == "" {
		t.Error("source headers were modified")
	}
}

func TestBuildRequestHeaders_RefererAndOrigin(t *testing.T) {
	s := &ProxyService{}
	target := mustTarget(t, "https://example.com/page")
	rc := testContext(target)

	tests := []struct {
		name        string
		referer     string
		origin      string
		wantReferer string
		wantOrigin  string
	}{
		{
			name:        "proxied referer decoded",
			referer:     siteurl.Encode(proxyBase, "https://example.com/docs?a=1"),
			wantReferer: "https://example.com/docs?a=1",
		},
		{
			name:        "path-form referer decoded",
			referer:     proxyBase + "/proxy/" + url.PathEscape("https://example.com/x"),
			wantReferer: "https://example.com/x",
		},
		{
			name:        "proxy path referer mapped to target",
			referer:     proxyBase + "/_next/static/a.js",
			wantReferer: "https://example.com/_next/static/a.js",
		},
		{
			name:        "foreign referer kept",
			referer:     "https://elsewhere.test/",
			wantReferer: "https://elsewhere.test/",
		},
		{
			name:       "proxy origin replaced",
			origin:     proxyBase,
			wantOrigin: "https://example.com",
		},
		{
			name:       "foreign origin kept",
			origin:     "https://elsewhere.test",
			wantOrigin: "https://elsewhere.test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := http.Header{}
			if tt.referer != "" {
				src.Set("Referer", tt.referer)
			}
			if tt.origin != "" {
				src.Set("Origin", tt.origin)
			}
			dst := s.buildRequestHeaders(src, target, rc)
			if got := dst.Get("Referer"); got != tt.wantReferer {
				t.Errorf("Referer = %q, want %q", got, tt.wantReferer)
			}
			if got := dst.Get("Origin"); got != tt.wantOrigin {
				t.Errorf("Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"text/html"},
		"Content-Length":    {"42"},
		"Content-Encoding":  {"gzip"},
		"Transfer-Encoding": {"chunked"},
		"Connection":        {"close"},
		"Set-Cookie":        {"session=abc"},
		"X-Frame-Options":   {"DENY"},
	}

	dst := filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type forwarded", "Content-Type", 1},
		{"Content-Length forwarded", "Content-Length", 1},
		{"Content-Encoding forwarded", "Content-Encoding", 1},
		{"Set-Cookie forwarded", "Set-Cookie", 1},
		{"X-Frame-Options left for the emitter", "X-Frame-Options", 1},
		{"Transfer-Encoding stripped (hop-by-hop)", "Transfer-Encoding", 0},
		{"Connection stripped (hop-by-hop)", "Connection", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "127.0.0.1" {
			t.Errorf("Host = %q, want 127.0.0.1", r.Host)
		}
		if v := r.Header.Get("X-Forwarded-For"); v != "" {
			t.Errorf("X-Forwarded-For = %q, want stripped", v)
		}
		if v := r.Header.Get("Accept-Encoding"); v != "gzip, deflate" {
			t.Errorf("Accept-Encoding = %q, want gzip, deflate", v)
		}
		if r.URL.RawQuery != "q=cve&page=2" {
			t.Errorf("query = %q, want q=cve&page=2", r.URL.RawQuery)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("body = %q, want payload", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, nil)
	target := mustTarget(t, upstream.URL+"/search?q=cve&page=2")

	pr := &model.ProxyRequest{
		Ctx:           context.Background(),
		Method:        http.MethodPost,
		Header:        http.Header{"X-Forwarded-For": {"10.0.0.1"}},
		Body:          io.NopCloser(strings.NewReader("payload")),
		ContentLength: 7,
	}

	resp, err := svc.Forward(pr, target, testContext(target))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"result":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"result":"ok"}`)
	}
}

func TestForward_AppliesRulesetHeaders(t *testing.T) {
	dir := t.TempDir()
	rules := "- domain: 127.0.0.1\n  paths: [/news]\n  headers:\n    user-agent: RuleBot/1.0\n    cookie: consent=yes\n"
	if err := os.WriteFile(filepath.Join(dir, "rules.yml"), []byte(rules), 0o600); err != nil {
		t.Fatal(err)
	}
	rs, err := ruleset.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(chan http.Header, 2)
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	svc := newTestService(t, rs)
	for _, tc := range []struct {
		path   string
		wantUA string
	}{
		{"/news/today", "RuleBot/1.0"},
		{"/sports", "Go-Test/1"},
	} {
		target := mustTarget(t, upstream.URL+tc.path)
		pr := &model.ProxyRequest{
			Ctx:    context.Background(),
			Method: http.MethodGet,
			Header: http.Header{"User-Agent": {"Go-Test/1"}},
		}
		resp, err := svc.Forward(pr, target, testContext(target))
		if err != nil {
			t.Fatalf("Forward(%s) error = %v", tc.path, err)
		}
		_ = resp.Body.Close()

		h := <-seen
		if got := h.Get("User-Agent"); got != tc.wantUA {
			t.Errorf("%s: User-Agent = %q, want %q", tc.path, got, tc.wantUA)
		}
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	svc := newTestService(t, nil)
	target := mustTarget(t, "https://127.0.0.1:1/")

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Header: http.Header{},
	}

	_, err := svc.Forward(pr, target, testContext(target))
	var ue *model.UpstreamUnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("Forward() error = %v, want UpstreamUnreachableError", err)
	}
}
