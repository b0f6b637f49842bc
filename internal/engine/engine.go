// Package engine drives sync cycles: extract upstream records, reconcile
// them into the catalog store, and decide which debounced notifications to
// fire.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/store"
	"shelfwatch/internal/telemetry"
)

// Config carries the policy knobs for sync cycles.
type Config struct {
	// FreshnessWindow is the maximum age before an item unseen upstream is
	// purged.
	FreshnessWindow time.Duration
	// NotifyCooldown is the minimum interval between repeat alerts for the
	// same item/branch pair.
	NotifyCooldown time.Duration
	// CollectionSuffix keeps only copies whose collection name carries the
	// suffix (the walk-in shelves that cannot be held remotely). Empty
	// disables the filter.
	CollectionSuffix string
	// ExcludedCallPrefixes drops copies whose call number starts with any
	// of the prefixes.
	ExcludedCallPrefixes []string
	// Locations is the static branch table; copies at unlisted branches
	// never alert.
	Locations []catalog.Location
	// Searches binds each category to its upstream search.
	Searches map[catalog.Category]catalog.SearchConfig
}

// Engine runs sync cycles against one catalog store. Whole cycles are
// serialized: the document's load-mutate-persist sequence must never
// interleave, and purge/prune cross category partitions.
type Engine struct {
	store     *store.Store
	extractor catalog.Extractor
	prober    catalog.AvailabilityProber
	notifier  catalog.Notifier
	clock     catalog.Clock
	cfg       Config
	logger    *zap.Logger
	sem       chan struct{}
}

// New builds an Engine.
func New(
	st *store.Store,
	extractor catalog.Extractor,
	prober catalog.AvailabilityProber,
	notifier catalog.Notifier,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     st,
		extractor: extractor,
		prober:    prober,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		sem:       make(chan struct{}, 1),
	}
}

// RunCycle performs one full sweep for the category and returns the alert
// batch that fired. An extraction failure aborts before any store mutation.
// A concurrent caller waits for the in-flight cycle; when its context
// expires first it gets catalog.ErrBusy.
func (e *Engine) RunCycle(ctx context.Context, category catalog.Category) ([]catalog.Alert, error) {
	search, ok := e.cfg.Searches[category]
	if !ok {
		return nil, fmt.Errorf("no search configured for category %q", category)
	}

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	start := e.clock.Now()
	alerts, err := e.runLocked(ctx, category, search)
	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.ObserveCycle(string(category), status, time.Since(start))
	if err != nil {
		return nil, err
	}
	telemetry.ObserveAlerts(string(category), len(alerts))
	for cat, count := range e.store.Counts() {
		telemetry.SetCatalogSize(string(cat), count)
	}
	return alerts, nil
}

func (e *Engine) runLocked(ctx context.Context, category catalog.Category, search catalog.SearchConfig) ([]catalog.Alert, error) {
	logger := e.logger.With(zap.String("category", string(category)))
	logger.Info("sync cycle started")

	records, err := e.extractor.Extract(ctx, search)
	if err != nil {
		logger.Error("extraction failed", zap.Error(err))
		return nil, err
	}

	now := e.clock.Now()
	merged, err := e.store.Merge(category, records, now)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", category, err)
	}
	logger.Debug("records merged",
		zap.Int("inserted", merged.Inserted),
		zap.Int("updated", merged.Updated),
		zap.Int("unchanged", merged.Unchanged))

	purged, err := e.store.PurgeStale(now, e.cfg.FreshnessWindow)
	if err != nil {
		return nil, fmt.Errorf("purge stale: %w", err)
	}
	if purged > 0 {
		logger.Info("stale items purged", zap.Int("count", purged))
	}

	var alerts []catalog.Alert
	switch category {
	case catalog.CategoryAvailableNow:
		if _, err := e.store.PruneAvailability(now, e.cfg.NotifyCooldown); err != nil {
			return nil, fmt.Errorf("prune availability: %w", err)
		}
		alerts, err = e.availableNowAlerts(ctx, now, logger)
		if err != nil {
			return nil, err
		}
	case catalog.CategoryOnOrder:
		alerts, err = e.onOrderAlerts(now, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}

	if len(alerts) == 0 {
		logger.Info("no new titles")
		return alerts, nil
	}

	message := composeMessage(category, alerts)
	logger.Info("sending notification", zap.Int("alerts", len(alerts)))
	// The stamps above already persisted; a delivery failure is logged and
	// never rolls them back. An alert counts as sent once queued.
	if err := e.notifier.Send(ctx, message); err != nil {
		telemetry.ObserveDeliveryFailure()
		logger.Error("notification delivery failed", zap.Error(err))
	}
	return alerts, nil
}

// availableNowAlerts probes wishlist-matched items and records debounced
// branch notices. A prober failure skips that item only; the cycle goes on.
func (e *Engine) availableNowAlerts(ctx context.Context, now time.Time, logger *zap.Logger) ([]catalog.Alert, error) {
	phrases := e.store.Wishlist()
	if len(phrases) == 0 {
		return nil, nil
	}

	var alerts []catalog.Alert
	for _, item := range e.store.ItemsByCategory(catalog.CategoryAvailableNow) {
		if !item.MatchesAny(phrases) {
			continue
		}
		copies, err := e.prober.Copies(ctx, item.ID)
		if err != nil {
			logger.Error("availability probe failed",
				zap.String("item_id", item.ID),
				zap.String("title", item.Title),
				zap.Error(err))
			continue
		}
		for _, cp := range copies {
			if !e.loanable(cp) {
				continue
			}
			loc, ok := e.locationByName(cp.Branch)
			if !ok {
				continue
			}
			fired, err := e.store.RecordBranchNotice(item.ID, loc, now, e.cfg.NotifyCooldown)
			if err != nil {
				return nil, fmt.Errorf("record branch notice: %w", err)
			}
			if !fired {
				continue
			}
			stamped, err := e.store.Item(item.ID)
			if err != nil {
				return nil, fmt.Errorf("reload item: %w", err)
			}
			logger.Debug("newly available",
				zap.String("title", item.Title),
				zap.String("branch", loc.Name))
			alerts = append(alerts, catalog.Alert{Item: stamped, Branch: loc.Name})
		}
	}
	return alerts, nil
}

// onOrderAlerts stamps the one-time notify date on unnotified on-order
// items. The stamp is monotonic, so each item alerts at most once for its
// lifetime in the store.
func (e *Engine) onOrderAlerts(now time.Time, logger *zap.Logger) ([]catalog.Alert, error) {
	var alerts []catalog.Alert
	for _, item := range e.store.ItemsByCategory(catalog.CategoryOnOrder) {
		if item.NotifiedAt != 0 {
			continue
		}
		stamped, err := e.store.MarkNotified(item.ID, now)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("mark notified: %w", err)
		}
		if !stamped {
			continue
		}
		reloaded, err := e.store.Item(item.ID)
		if err != nil {
			return nil, fmt.Errorf("reload item: %w", err)
		}
		logger.Debug("newly on order", zap.String("title", item.Title))
		alerts = append(alerts, catalog.Alert{Item: reloaded})
	}
	return alerts, nil
}

// loanable reports whether the copy can actually be picked up: on the shelf,
// in a qualifying collection, and not an excluded format.
func (e *Engine) loanable(cp catalog.Copy) bool {
	if cp.Status != "AVAILABLE" {
		return false
	}
	if e.cfg.CollectionSuffix != "" && !strings.HasSuffix(cp.Collection, e.cfg.CollectionSuffix) {
		return false
	}
	for _, prefix := range e.cfg.ExcludedCallPrefixes {
		if prefix != "" && strings.HasPrefix(cp.CallNumber, prefix) {
			return false
		}
	}
	return true
}

func (e *Engine) locationByName(branch string) (catalog.Location, bool) {
	for _, loc := range e.cfg.Locations {
		if loc.Name == branch {
			return loc, true
		}
	}
	return catalog.Location{}, false
}

func composeMessage(category catalog.Category, alerts []catalog.Alert) string {
	blocks := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if a.Branch != "" {
			blocks = append(blocks, fmt.Sprintf("%s\n%s\n%s", a.Item.Title, a.Branch, a.Item.URL))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("%s\n%s", a.Item.Title, a.Item.URL))
	}
	return fmt.Sprintf("%s alert!!!\n%s", category, strings.Join(blocks, "\n\n"))
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", catalog.ErrBusy, ctx.Err())
	}
}

func (e *Engine) release() {
	<-e.sem
}
