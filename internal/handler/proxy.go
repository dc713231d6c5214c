package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"frameproxy/internal/config"
	"frameproxy/internal/content"
	"frameproxy/internal/model"
	"frameproxy/internal/service"
	"frameproxy/internal/target"
)

// TargetKey is the echo.Context key holding the resolved target URL.
const TargetKey = "proxy_target"

const usageMessage = "Missing ?site= parameter. Usage: /?site=https://example.com"

// strippedResponseHeaders would stop the page being framed or read cross-origin.
// Access-Control-* values are owned by the CORS middleware.
var strippedResponseHeaders = map[string]bool{
	"X-Frame-Options":                     true,
	"Content-Security-Policy":             true,
	"Content-Security-Policy-Report-Only": true,
	"Access-Control-Allow-Origin":         true,
	"Access-Control-Allow-Methods":        true,
	"Access-Control-Allow-Headers":        true,
	"Access-Control-Allow-Credentials":    true,
}

// ProxyHandler resolves the target of each request, forwards it and emits
// the processed upstream response.
type ProxyHandler struct {
	service   *service.ProxyService
	pipeline  *content.Pipeline
	opts      target.Options
	publicURL string
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(cfg *config.Config, svc *service.ProxyService, pipeline *content.Pipeline, logger *slog.Logger) *ProxyHandler {
	opts := target.Options{RefererFallback: cfg.Rewrite.RefererFallbackEnabled()}
	if u, err := url.Parse(cfg.Server.PublicURL); err == nil {
		opts.PublicHost = u.Host
	}
	return &ProxyHandler{
		service:   svc,
		pipeline:  pipeline,
		opts:      opts,
		publicURL: strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to its target and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	t, err := target.Resolve(req, h.opts)
	if err != nil {
		return h.mapError(c, err)
	}
	c.Set(TargetKey, t.String())

	rc := &model.RewriteContext{
		BaseURL:      t.BaseURL(),
		ProxyBaseURL: h.proxyBase(c),
		Document:     t.URL(),
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr, t, rc)
	if err != nil {
		return h.mapError(c, err)
	}

	out, err := h.pipeline.Process(resp, rc)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = out.Body.Close() }()

	h.emit(c, out)
	return nil
}

// emit writes status, headers and body exactly once. Once the status is
// sent a failed copy can only be logged; the client sees a truncated body.
func (h *ProxyHandler) emit(c echo.Context, resp *model.ProxyResponse) {
	header := c.Response().Header()
	for key, vals := range resp.Header {
		if strippedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range vals {
			header.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if resp.Header.Get("Content-Length") == "" {
		// Send headers now so the server cannot add a length of its own.
		c.Response().Flush()
	}

	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", &model.StreamTransferError{Err: err},
			"target", c.Get(TargetKey),
		)
	}
}

// proxyBase returns the scheme and host clients use to reach this proxy.
func (h *ProxyHandler) proxyBase(c echo.Context) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	return c.Scheme() + "://" + c.Request().Host
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, model.ErrMissingTarget) {
		h.logger.Debug("request without target", "path", c.Request().URL.Path)
		return c.String(http.StatusBadRequest, usageMessage)
	}

	var invalid *model.InvalidTargetError
	if errors.As(err, &invalid) {
		h.logger.Warn("invalid target", "raw", invalid.Raw, "err", err)
		return c.String(http.StatusBadRequest, "Invalid target URL: "+invalid.Raw)
	}

	h.logger.Error("proxy error",
		"err", err,
		"target", c.Get(TargetKey),
	)
	return c.String(http.StatusInternalServerError, "Proxy error: "+err.Error())
}
