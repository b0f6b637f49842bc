// Package extractor pulls item records out of bibliocommons-style catalog
// search pages. The search response is server-rendered HTML with the full
// result state embedded as JSON in a script node; extraction is fetch,
// select, decode.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RecordBaseURL is the catalog origin used to compose canonical record
	// URLs, e.g. https://wccls.bibliocommons.com.
	RecordBaseURL string
}

// Bibliocommons implements catalog.Extractor against a bibliocommons search
// endpoint using a Colly collector. An optional Renderer covers catalogs
// that only embed the state script after client-side rendering, and an
// optional Archiver keeps raw payloads for parse post-mortems.
type Bibliocommons struct {
	cfg           Config
	baseCollector *colly.Collector
	renderer      Renderer
	archiver      catalog.Archiver
	clock         catalog.Clock
	logger        *zap.Logger
}

// Renderer produces fully rendered HTML for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Option customizes a Bibliocommons extractor.
type Option func(*Bibliocommons)

// WithRenderer installs a headless fallback renderer.
func WithRenderer(r Renderer) Option {
	return func(b *Bibliocommons) { b.renderer = r }
}

// WithArchiver archives each fetched payload before parsing.
func WithArchiver(a catalog.Archiver, clock catalog.Clock) Option {
	return func(b *Bibliocommons) {
		b.archiver = a
		b.clock = clock
	}
}

// New builds a Bibliocommons extractor.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Bibliocommons {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // first-party catalog endpoint, not a crawl
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}

	b := &Bibliocommons{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Extract fetches the search URL and decodes the embedded result state into
// raw records. Fetch errors, a missing state script, and an undecodable
// payload all wrap catalog.ErrExtractionFailed so the cycle aborts cleanly.
func (b *Bibliocommons) Extract(ctx context.Context, search catalog.SearchConfig) ([]catalog.RawRecord, error) {
	body, err := b.fetch(ctx, search.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", catalog.ErrExtractionFailed, search.Category, err)
	}
	b.archive(ctx, search, body)

	script, err := embeddedState(body, search.ScriptSelector)
	if err != nil && b.renderer != nil {
		b.logger.Info("state script absent from static page, rendering",
			zap.String("category", string(search.Category)))
		rendered, renderErr := b.renderer.Render(ctx, search.URL)
		if renderErr != nil {
			return nil, fmt.Errorf("%w: render %s: %w", catalog.ErrExtractionFailed, search.Category, renderErr)
		}
		script, err = embeddedState(rendered, search.ScriptSelector)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", catalog.ErrExtractionFailed, search.Category, err)
	}

	records, err := decodeRecords(script, b.cfg.RecordBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s state: %w", catalog.ErrExtractionFailed, search.Category, err)
	}
	b.logger.Debug("records extracted",
		zap.String("category", string(search.Category)),
		zap.Int("count", len(records)))
	return records, nil
}

func (b *Bibliocommons) fetch(ctx context.Context, url string) ([]byte, error) {
	collector := b.baseCollector.Clone()

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit: %w", err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("response: %w", fetchErr)
	}
	if status >= 400 {
		return nil, fmt.Errorf("upstream status %d", status)
	}
	return body, nil
}

func (b *Bibliocommons) archive(ctx context.Context, search catalog.SearchConfig, body []byte) {
	if b.archiver == nil {
		return
	}
	now := time.Now().UTC()
	if b.clock != nil {
		now = b.clock.Now()
	}
	path := fmt.Sprintf("searches/%s/%s.html",
		strings.ReplaceAll(string(search.Category), " ", "-"),
		now.Format("20060102T150405Z"))
	if _, err := b.archiver.Archive(ctx, path, "text/html; charset=utf-8", body); err != nil {
		b.logger.Warn("payload archive failed", zap.Error(err))
	}
}

// embeddedState returns the text of the state script node.
func embeddedState(body []byte, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	script := strings.TrimSpace(doc.Find(selector).Text())
	if script == "" {
		return "", fmt.Errorf("state script %q not found", selector)
	}
	return script, nil
}

// isoState mirrors the slice of the embedded JSON this service consumes.
type isoState struct {
	Entities struct {
		Bibs map[string]struct {
			ID        string `json:"id"`
			BriefInfo struct {
				Title           string `json:"title"`
				Subtitle        string `json:"subtitle"`
				PublicationDate string `json:"publicationDate"`
				Format          string `json:"format"`
				Edition         string `json:"edition"`
				Description     string `json:"description"`
				Jacket          struct {
					Large string `json:"large"`
				} `json:"jacket"`
			} `json:"briefInfo"`
		} `json:"bibs"`
	} `json:"entities"`
}

func decodeRecords(script, recordBaseURL string) ([]catalog.RawRecord, error) {
	var state isoState
	if err := json.Unmarshal([]byte(script), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	records := make([]catalog.RawRecord, 0, len(state.Entities.Bibs))
	for key, bib := range state.Entities.Bibs {
		id := bib.ID
		if id == "" {
			id = key
		}
		records = append(records, catalog.RawRecord{
			ID:              id,
			Title:           bib.BriefInfo.Title,
			Subtitle:        bib.BriefInfo.Subtitle,
			PublicationYear: bib.BriefInfo.PublicationDate,
			Format:          bib.BriefInfo.Format,
			Edition:         bib.BriefInfo.Edition,
			Description:     bib.BriefInfo.Description,
			ImageURL:        bib.BriefInfo.Jacket.Large,
			URL:             fmt.Sprintf("%s/v2/record/%s", strings.TrimRight(recordBaseURL, "/"), id),
		})
	}
	// Map iteration order is random; keep cycles deterministic.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
