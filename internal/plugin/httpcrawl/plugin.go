// Package httpcrawl implements plugin.Plugin for crawling the open web:
// Colly for the fast path, chromedp promotion for SPA shells, a
// per-host token bucket for politeness, and a committer.Committer for
// delivering fetched documents downstream.
package httpcrawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/committer"
	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/metrics"
	"github.com/crawlcore/crawlcore/internal/plugin"
)

// Config controls every dial the specialization exposes.
type Config struct {
	AllowedDomains  []string
	UserAgent       string
	RespectRobots   bool
	MaxDepth        int
	Timeout         time.Duration
	HeadlessEnabled bool
	Headless        HeadlessConfig
	RateLimit       RateLimiterConfig
	DetectorMinHTML int
}

// Plugin is the httpcrawl specialization of plugin.Plugin.
type Plugin struct {
	plugin.BasePlugin

	cfg       Config
	fetcher   *Fetcher
	headless  HeadlessFetcher
	detector  *Detector
	limiter   *RateLimiter
	committer committer.Committer
	logger    *zap.Logger
}

// New constructs a Plugin. dest receives every successfully imported
// document; pass committer.Noop{} to discard output.
func New(cfg Config, dest committer.Committer, logger *zap.Logger) (*Plugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dest == nil {
		dest = committer.Noop{}
	}

	var headless HeadlessFetcher = NoopHeadlessFetcher{}
	if cfg.HeadlessEnabled {
		hf, err := NewChromedpFetcher(cfg.Headless)
		if err != nil {
			return nil, fmt.Errorf("httpcrawl: init headless fetcher: %w", err)
		}
		headless = hf
	}

	return &Plugin{
		cfg: cfg,
		fetcher: NewFetcher(FetcherConfig{
			UserAgent:      cfg.UserAgent,
			AllowedDomains: cfg.AllowedDomains,
			Timeout:        cfg.Timeout,
		}),
		headless:  headless,
		detector:  NewDetector(cfg.DetectorMinHTML),
		limiter:   NewRateLimiter(cfg.RateLimit),
		committer: dest,
		logger:    logger,
	}, nil
}

// Close releases the headless fetcher's allocator, if one was started.
func (p *Plugin) Close() { p.headless.Close() }

// QueuePipeline rejects references whose depth exceeds MaxDepth or
// whose host is not in AllowedDomains.
func (p *Plugin) QueuePipeline(_ context.Context, rec *crawlstore.Record, _ crawlstore.Store) error {
	if p.cfg.MaxDepth > 0 && rec.Depth > p.cfg.MaxDepth {
		return fmt.Errorf("httpcrawl: depth %d exceeds max depth %d", rec.Depth, p.cfg.MaxDepth)
	}
	if len(p.cfg.AllowedDomains) > 0 && !p.hostAllowed(rec.Reference) {
		return fmt.Errorf("httpcrawl: host not in allowed domains: %s", rec.Reference)
	}
	return nil
}

func (p *Plugin) hostAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range p.cfg.AllowedDomains {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

// ImporterPipeline fetches rec.Reference, promotes to headless rendering
// when the detector flags the fast-path body as an unrendered shell, and
// returns the page's outbound links as embedded references.
func (p *Plugin) ImporterPipeline(ctx context.Context, pctx *plugin.ImportContext) (*plugin.ImportResponse, error) {
	if err := p.limiter.Wait(ctx, pctx.Reference); err != nil {
		return nil, fmt.Errorf("httpcrawl: rate limit wait: %w", err)
	}

	req := FetchRequest{URL: pctx.Reference, RespectRobots: p.cfg.RespectRobots}
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("httpcrawl: fetch %s: %w", pctx.Reference, err)
	}

	if p.cfg.HeadlessEnabled && p.detector.ShouldPromote(resp) {
		if headlessResp, herr := p.headless.Fetch(ctx, req); herr == nil {
			resp = headlessResp
		} else {
			p.logger.Warn("headless promotion failed, keeping fast-path response",
				zap.String("reference", pctx.Reference), zap.Error(herr))
		}
	}

	metrics.ObserveFetch(pctx.Reference, statusBucket(resp.StatusCode), len(resp.Body))

	if resp.StatusCode == 404 {
		pctx.Record.State = crawlstore.StateNotFound
		return &plugin.ImportResponse{Rejected: true, RejectionCause: "not found"}, nil
	}
	if resp.StatusCode >= 400 {
		pctx.Record.State = crawlstore.StateBadStatus
		return &plugin.ImportResponse{Rejected: true, RejectionCause: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}

	pctx.Record.State = crawlstore.StateNew
	if pctx.Document != nil {
		if _, werr := pctx.Document.Stream().Write(resp.Body); werr != nil {
			p.logger.Warn("failed to buffer fetched body",
				zap.String("reference", pctx.Reference), zap.Error(werr))
		}
		pctx.Document.Metadata["http.status_code"] = resp.StatusCode
		pctx.Document.Metadata["http.used_headless"] = resp.UsedHeadless
	}

	return &plugin.ImportResponse{EmbeddedReferences: discoveredReferences(resp.Links)}, nil
}

// discoveredReferences wraps bare outbound links as EmbeddedReferences
// with no nested Response: a link is only discovered here, not fetched,
// so the processor queues it for its own independent pass instead of
// finalizing it as an already-successful import.
func discoveredReferences(links []string) []plugin.EmbeddedReference {
	refs := make([]plugin.EmbeddedReference, len(links))
	for i, link := range links {
		refs[i] = plugin.EmbeddedReference{Reference: link}
	}
	return refs
}

func statusBucket(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "ok"
	case code >= 300 && code < 400:
		return "redirect"
	case code >= 400 && code < 500:
		return "client_error"
	case code >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}

// CommitterPipeline hands off the document's buffered content and
// metadata to the configured Committer.
func (p *Plugin) CommitterPipeline(ctx context.Context, cctx *plugin.CommitContext) error {
	if cctx.Document == nil {
		return nil
	}
	content := cctx.Document.Stream().Bytes()
	if err := p.committer.Upsert(ctx, cctx.Reference, cctx.Document.Metadata, content); err != nil {
		return fmt.Errorf("httpcrawl: commit %s: %w", cctx.Reference, err)
	}
	return nil
}

// WrapDocument returns doc unmodified; no specialization-specific
// decoration is needed.
func (p *Plugin) WrapDocument(_ *crawlstore.Record, doc *document.Document) *document.Document {
	return doc
}

// CreateEmbeddedCrawlData builds a child record one depth below parent.
func (p *Plugin) CreateEmbeddedCrawlData(childRef string, parent *crawlstore.Record) *crawlstore.Record {
	root := parent.ParentRootReference
	if root == "" {
		root = parent.Reference
	}
	return &crawlstore.Record{
		Reference:           childRef,
		ParentRootReference: root,
		Depth:               parent.Depth + 1,
		Stage:               crawlstore.StageQueued,
	}
}
