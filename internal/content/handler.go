package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"frameproxy/internal/codec"
	"frameproxy/internal/metrics"
	"frameproxy/internal/model"
	"frameproxy/internal/rewrite"
	"frameproxy/internal/ruleset"
)

// Fallback reasons reported when textual content is streamed unmodified.
const (
	fallbackEncoding = "unsupported_encoding"
	fallbackTooLarge = "too_large"
)

// Handler produces the response sent to the client from an upstream response.
// The returned response owns the body; resp must not be used afterwards.
// The returned strategy is the metrics label of what was actually done, which
// is passthrough whenever a rewrite had to fall back.
type Handler interface {
	Handle(resp *model.ProxyResponse, kind model.ContentKind, rc *model.RewriteContext) (*model.ProxyResponse, string, error)
}

// PassthroughHandler streams the upstream body unchanged, keeping its
// Content-Encoding and Content-Length.
type PassthroughHandler struct{}

// Handle returns resp as-is.
func (PassthroughHandler) Handle(resp *model.ProxyResponse, _ model.ContentKind, _ *model.RewriteContext) (*model.ProxyResponse, string, error) {
	return resp, metrics.StrategyPassthrough, nil
}

// RewriteHandler buffers a textual body, reverses its content-coding and
// rewrites the references in it. Bodies it cannot safely rewrite (unknown
// coding, over the size limit) are streamed unmodified instead.
type RewriteHandler struct {
	engine  *rewrite.Engine
	rules   *ruleset.RuleSet
	maxBody int64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRewriteHandler creates a RewriteHandler. rules and m may be nil.
func NewRewriteHandler(engine *rewrite.Engine, rules *ruleset.RuleSet, maxBody int64, logger *slog.Logger, m *metrics.Metrics) *RewriteHandler {
	return &RewriteHandler{
		engine:  engine,
		rules:   rules,
		maxBody: maxBody,
		logger:  logger.With("component", "rewrite_handler"),
		metrics: m,
	}
}

// Handle implements Handler.
func (h *RewriteHandler) Handle(resp *model.ProxyResponse, kind model.ContentKind, rc *model.RewriteContext) (*model.ProxyResponse, string, error) {
	encoding := resp.Header.Get("Content-Encoding")
	if !codec.Supported(encoding) {
		h.fallback(fallbackEncoding, "encoding", encoding)
		return resp, metrics.StrategyPassthrough, nil
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && h.maxBody > 0 && n > h.maxBody {
		h.fallback(fallbackTooLarge, "content_length", n)
		return resp, metrics.StrategyPassthrough, nil
	}

	raw, err := h.read(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, "", &model.StreamTransferError{Err: err}
	}
	if h.maxBody > 0 && int64(len(raw)) > h.maxBody {
		h.fallback(fallbackTooLarge, "read", len(raw))
		return withPrefix(resp, raw), metrics.StrategyPassthrough, nil
	}
	resp.Body.Close()

	if len(raw) == 0 {
		// HEAD, 204 and 304 carry no body to decode.
		resp.Body = http.NoBody
		return resp, metrics.StrategyPassthrough, nil
	}

	decoded, err := codec.Decode(raw, encoding, h.maxBody)
	if errors.Is(err, codec.ErrTooLarge) {
		h.fallback(fallbackTooLarge, "decoded", h.maxBody)
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return resp, metrics.StrategyPassthrough, nil
	}
	if err != nil {
		return nil, "", &model.DecodeError{Encoding: encoding, Err: err}
	}

	out := h.engine.Rewrite(decoded, kind, rc)
	if rule := h.rules.Match(rc.Document.Hostname(), rc.Document.EscapedPath()); rule.HasBodyRules(kind) {
		applied, err := rule.ApplyBody(out, kind)
		if err != nil {
			h.logger.Warn("ruleset not applied", "target", rc.Document.String(), "error", err)
		} else {
			out = applied
		}
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(out)),
	}, metrics.StrategyRewrite, nil
}

// read buffers at most maxBody+1 bytes so oversized bodies are detected
// without reading them in full.
func (h *RewriteHandler) read(body io.Reader) ([]byte, error) {
	if h.maxBody > 0 {
		body = io.LimitReader(body, h.maxBody+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("buffer textual body: %w", err)
	}
	return b, nil
}

func (h *RewriteHandler) fallback(reason string, args ...any) {
	h.logger.Debug("streaming textual body unmodified", append([]any{"reason", reason}, args...)...)
	if h.metrics != nil {
		h.metrics.RewriteFallbacks.WithLabelValues(reason).Inc()
	}
}

// prefixedBody re-streams an already-read prefix followed by the rest of the body.
type prefixedBody struct {
	io.Reader
	io.Closer
}

func withPrefix(resp *model.ProxyResponse, prefix []byte) *model.ProxyResponse {
	resp.Body = prefixedBody{
		Reader: io.MultiReader(bytes.NewReader(prefix), resp.Body),
		Closer: resp.Body,
	}
	return resp
}
