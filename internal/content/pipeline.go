package content

import (
	"log/slog"

	"frameproxy/internal/config"
	"frameproxy/internal/metrics"
	"frameproxy/internal/model"
	"frameproxy/internal/rewrite"
	"frameproxy/internal/ruleset"
)

// Pipeline rewrites redirect locations and dispatches each response body to
// the Handler chosen by Classify.
type Pipeline struct {
	passthrough Handler
	rewrite     Handler
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewPipeline creates a Pipeline. The metrics parameter is optional.
func NewPipeline(cfg *config.Config, engine *rewrite.Engine, rules *ruleset.RuleSet, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		passthrough: PassthroughHandler{},
		rewrite:     NewRewriteHandler(engine, rules, cfg.Rewrite.MaxBodyBytes, logger, m),
		logger:      logger.With("component", "content_pipeline"),
		metrics:     m,
	}
}

// Process returns the response to emit for resp. Redirect locations are
// rewritten for every content kind. On error the upstream body is closed.
func (p *Pipeline) Process(resp *model.ProxyResponse, rc *model.RewriteContext) (*model.ProxyResponse, error) {
	if rewrite.IsRedirect(resp.StatusCode) {
		if loc := resp.Header.Get("Location"); loc != "" {
			proxied := rewrite.Location(loc, rc)
			resp.Header.Set("Location", proxied)
			p.logger.Debug("redirect rewritten", "status", resp.StatusCode, "from", loc, "to", proxied)
		}
	}

	kind := Classify(resp.Header.Get("Content-Type"))
	h := p.handlerFor(kind)
	out, strategy, err := h.Handle(resp, kind, rc)
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ContentHandled.WithLabelValues(strategy, kind.String()).Inc()
	}
	return out, nil
}

func (p *Pipeline) handlerFor(kind model.ContentKind) Handler {
	if kind.Textual() {
		return p.rewrite
	}
	return p.passthrough
}
