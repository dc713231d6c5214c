// Package ruleset loads optional per-domain rules from YAML files.
//
// A rule matches a target host (exactly or as a parent domain) and, when
// paths are listed, a path prefix. Matching rules add request headers on
// forward, apply regex replacements to rewritten textual bodies and inject
// HTML fragments at CSS selectors.
package ruleset

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"frameproxy/internal/config"
	"frameproxy/internal/model"
)

// Regex is a single match/replace pair applied to response bodies.
type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// Injection inserts HTML at every element matched by Position.
type Injection struct {
	Position string `yaml:"position"`
	Append   string `yaml:"append,omitempty"`
	Prepend  string `yaml:"prepend,omitempty"`
	Replace  string `yaml:"replace,omitempty"`

	matcher cascadia.Selector
}

// Headers are set on the outbound request when non-empty.
type Headers struct {
	UserAgent string `yaml:"user-agent,omitempty"`
	Referer   string `yaml:"referer,omitempty"`
	Cookie    string `yaml:"cookie,omitempty"`
}

// Rule is one entry of a ruleset file.
type Rule struct {
	Domain     string      `yaml:"domain,omitempty"`
	Domains    []string    `yaml:"domains,omitempty"`
	Paths      []string    `yaml:"paths,omitempty"`
	Headers    Headers     `yaml:"headers,omitempty"`
	RegexRules []Regex     `yaml:"regexRules,omitempty"`
	Injections []Injection `yaml:"injections,omitempty"`

	compiled []*regexp.Regexp
}

// RuleSet is an ordered list of rules; the first match wins.
type RuleSet struct {
	rules []*Rule
}

// New loads the rulesets named in the rewrite configuration. An empty
// setting yields an empty RuleSet.
func New(cfg *config.Config, logger *slog.Logger) (*RuleSet, error) {
	logger = logger.With("component", "ruleset")
	if strings.TrimSpace(cfg.Rewrite.Ruleset) == "" {
		logger.Debug("no ruleset configured")
		return &RuleSet{}, nil
	}
	rs, err := Load(cfg.Rewrite.Ruleset)
	if err != nil {
		return nil, err
	}
	logger.Info("ruleset loaded", "rules", rs.Count(), "domains", rs.DomainCount())
	return rs, nil
}

// Load reads every .yml/.yaml file under each ';'-separated path.
func Load(paths string) (*RuleSet, error) {
	rs := &RuleSet{}
	var errs []error
	for _, root := range strings.Split(paths, ";") {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			rules, err := Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			rs.rules = append(rs.rules, rules...)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("ruleset %s: %w", root, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rs, nil
}

// Parse decodes a YAML list of rules and compiles their expressions.
func Parse(data []byte) ([]*Rule, error) {
	var rules []*Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d: empty", i)
		}
		if len(r.domains()) == 0 {
			return nil, fmt.Errorf("rule %d: no domain", i)
		}
		for _, rx := range r.RegexRules {
			re, err := regexp.Compile(rx.Match)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): regex %q: %w", i, r.domains()[0], rx.Match, err)
			}
			r.compiled = append(r.compiled, re)
		}
		for j := range r.Injections {
			inj := &r.Injections[j]
			if inj.Position == "" {
				return nil, fmt.Errorf("rule %d (%s): injection without position", i, r.domains()[0])
			}
			sel, err := cascadia.Compile(inj.Position)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): selector %q: %w", i, r.domains()[0], inj.Position, err)
			}
			inj.matcher = sel
		}
	}
	return rules, nil
}

// Match returns the first rule for host and path, or nil.
func (rs *RuleSet) Match(host, path string) *Rule {
	if rs == nil {
		return nil
	}
	host = strings.ToLower(host)
	for _, r := range rs.rules {
		if r.matches(host, path) {
			return r
		}
	}
	return nil
}

// Count returns the number of rules.
func (rs *RuleSet) Count() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// DomainCount returns the number of domains named across all rules.
func (rs *RuleSet) DomainCount() int {
	n := 0
	for _, r := range rs.rulesOrNil() {
		n += len(r.domains())
	}
	return n
}

func (rs *RuleSet) rulesOrNil() []*Rule {
	if rs == nil {
		return nil
	}
	return rs.rules
}

func (r *Rule) domains() []string {
	if r.Domain == "" {
		return r.Domains
	}
	return append([]string{r.Domain}, r.Domains...)
}

func (r *Rule) matches(host, path string) bool {
	for _, d := range r.domains() {
		d = strings.ToLower(d)
		if host != d && !strings.HasSuffix(host, "."+d) {
			continue
		}
		if len(r.Paths) == 0 {
			return true
		}
		for _, p := range r.Paths {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
	}
	return false
}

// ApplyHeaders sets the rule's request headers on h.
func (r *Rule) ApplyHeaders(h http.Header) {
	if r == nil {
		return
	}
	if r.Headers.UserAgent != "" {
		h.Set("User-Agent", r.Headers.UserAgent)
	}
	if r.Headers.Referer != "" {
		if r.Headers.Referer == "none" {
			h.Del("Referer")
		} else {
			h.Set("Referer", r.Headers.Referer)
		}
	}
	if r.Headers.Cookie != "" {
		h.Set("Cookie", r.Headers.Cookie)
	}
}

// HasBodyRules reports whether ApplyBody can change a document of kind.
func (r *Rule) HasBodyRules(kind model.ContentKind) bool {
	if r == nil {
		return false
	}
	return len(r.compiled) > 0 || (kind == model.KindHTML && len(r.Injections) > 0)
}

// ApplyBody runs the regex rules over body and, for HTML, the injections.
func (r *Rule) ApplyBody(body []byte, kind model.ContentKind) ([]byte, error) {
	if !r.HasBodyRules(kind) {
		return body, nil
	}
	for i, re := range r.compiled {
		body = re.ReplaceAll(body, []byte(r.RegexRules[i].Replace))
	}
	if kind != model.KindHTML || len(r.Injections) == 0 {
		return body, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ruleset: parse html: %w", err)
	}
	for _, inj := range r.Injections {
		sel := doc.FindMatcher(inj.matcher)
		if inj.Replace != "" {
			sel.ReplaceWithHtml(inj.Replace)
			continue
		}
		if inj.Append != "" {
			sel.AppendHtml(inj.Append)
		}
		if inj.Prepend != "" {
			sel.PrependHtml(inj.Prepend)
		}
	}
	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("ruleset: render html: %w", err)
	}
	return []byte(out), nil
}
