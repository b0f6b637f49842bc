// Package prober queries the catalog gateway for per-branch copy status.
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

// Config controls the gateway client.
type Config struct {
	// URLTemplate composes the availability endpoint; the item id replaces
	// the %s verb. Example:
	// https://gateway.bibliocommons.com/v2/libraries/wccls/bibs/%s/availability?locale=en-US
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration
}

// Gateway implements catalog.AvailabilityProber over the bibliocommons
// gateway JSON API.
type Gateway struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Gateway prober.
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if !strings.Contains(cfg.URLTemplate, "%s") {
		return nil, fmt.Errorf("availability url template must contain %%s")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// gatewayResponse mirrors the slice of the availability payload consumed
// here.
type gatewayResponse struct {
	Entities struct {
		BibItems map[string]struct {
			Availability struct {
				Status string `json:"status"`
			} `json:"availability"`
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
			Collection string `json:"collection"`
			CallNumber string `json:"callNumber"`
		} `json:"bibItems"`
	} `json:"entities"`
}

// Copies fetches and decodes the copy list for one item.
func (g *Gateway) Copies(ctx context.Context, itemID string) ([]catalog.Copy, error) {
	url := fmt.Sprintf(g.cfg.URLTemplate, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch availability for %s: %w", itemID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Warn("close availability response", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability for %s: status %d", itemID, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read availability for %s: %w", itemID, err)
	}

	var payload gatewayResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode availability for %s: %w", itemID, err)
	}

	copies := make([]catalog.Copy, 0, len(payload.Entities.BibItems))
	for _, bi := range payload.Entities.BibItems {
		copies = append(copies, catalog.Copy{
			Branch:     bi.Branch.Name,
			Status:     bi.Availability.Status,
			Collection: bi.Collection,
			CallNumber: bi.CallNumber,
		})
	}
	return copies, nil
}
