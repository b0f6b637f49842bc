// Package store owns the persisted catalog document: library items, the
// wish list, and user credentials, all in one flat JSON file. Every mutating
// operation writes through to disk immediately; the write is atomic
// (temp file + rename) so a concurrent reader never observes a partial
// document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

// ErrNotFound indicates the requested item id is not in the document.
var ErrNotFound = errors.New("not found")

// Document is the on-disk shape. It predates this implementation; the field
// names must not change.
type Document struct {
	LibraryItems  []catalog.LibraryItem `json:"libraryItems"`
	WishListItems []string              `json:"wishListItems"`
	Users         []catalog.User        `json:"users,omitempty"`
}

// MergeResult reports what one merge pass did.
type MergeResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Store guards the catalog document. All methods are safe for concurrent
// use; the load-mutate-persist sequence of a whole sync cycle is serialized
// one level up, in the engine.
type Store struct {
	mu     sync.RWMutex
	path   string
	doc    Document
	logger *zap.Logger
}

// Open reads the document at path, creating dir and an empty document when
// the file is absent. A present-but-unreadable file is treated as
// ErrStoreUnavailable: logged, backed up out of the way, and replaced by an
// empty document rather than crashing the process.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{path: path, logger: logger}
	doc, err := load(path)
	if err != nil {
		if !errors.Is(err, catalog.ErrStoreUnavailable) {
			return nil, err
		}
		logger.Warn("catalog document unreadable, starting empty", zap.Error(err))
		if backupErr := backupCorrupt(path); backupErr != nil {
			logger.Warn("could not back up corrupt document", zap.Error(backupErr))
		}
		doc = emptyDocument()
		s.doc = doc
		if persistErr := s.persistLocked(); persistErr != nil {
			return nil, persistErr
		}
		return s, nil
	}
	s.doc = doc
	if !fileExists(path) {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return Document{}, fmt.Errorf("%w: read %s: %w", catalog.ErrStoreUnavailable, path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode %s: %w", catalog.ErrStoreUnavailable, path, err)
	}
	if doc.LibraryItems == nil {
		doc.LibraryItems = []catalog.LibraryItem{}
	}
	if doc.WishListItems == nil {
		doc.WishListItems = []string{}
	}
	return doc, nil
}

func emptyDocument() Document {
	return Document{LibraryItems: []catalog.LibraryItem{}, WishListItems: []string{}}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func backupCorrupt(path string) error {
	if !fileExists(path) {
		return nil
	}
	if err := os.Rename(path, path+".corrupt"); err != nil {
		return fmt.Errorf("rename corrupt document: %w", err)
	}
	return nil
}

// Path returns the document location on disk.
func (s *Store) Path() string {
	return s.path
}

// Merge folds extracted records into the document. Existing ids get their
// descriptive fields overwritten and updateDate refreshed, preserving
// availability notices and the on-order notify stamp; unknown ids are
// inserted. Items of the category absent from records are left alone; only
// the freshness purge removes items.
func (s *Store) Merge(category catalog.Category, records []catalog.RawRecord, now time.Time) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res MergeResult
	ts := now.Unix()
	byID := make(map[string]int, len(s.doc.LibraryItems))
	for i, it := range s.doc.LibraryItems {
		byID[it.ID] = i
	}

	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		idx, ok := byID[rec.ID]
		if !ok {
			s.doc.LibraryItems = append(s.doc.LibraryItems, catalog.LibraryItem{
				ID:              rec.ID,
				Category:        category,
				Title:           rec.Title,
				Subtitle:        rec.Subtitle,
				PublicationYear: rec.PublicationYear,
				Format:          rec.Format,
				Edition:         rec.Edition,
				Description:     rec.Description,
				ImageURL:        rec.ImageURL,
				URL:             rec.URL,
				CreatedAt:       ts,
				UpdatedAt:       ts,
			})
			byID[rec.ID] = len(s.doc.LibraryItems) - 1
			res.Inserted++
			continue
		}
		item := &s.doc.LibraryItems[idx]
		changed := item.Category != category ||
			item.Title != rec.Title ||
			item.Subtitle != rec.Subtitle ||
			item.PublicationYear != rec.PublicationYear ||
			item.Format != rec.Format ||
			item.Edition != rec.Edition ||
			item.Description != rec.Description ||
			item.ImageURL != rec.ImageURL ||
			item.URL != rec.URL
		item.Category = category
		item.Title = rec.Title
		item.Subtitle = rec.Subtitle
		item.PublicationYear = rec.PublicationYear
		item.Format = rec.Format
		item.Edition = rec.Edition
		item.Description = rec.Description
		item.ImageURL = rec.ImageURL
		item.URL = rec.URL
		item.UpdatedAt = ts
		if changed {
			res.Updated++
		} else {
			res.Unchanged++
		}
	}

	if err := s.persistLocked(); err != nil {
		return MergeResult{}, err
	}
	return res, nil
}

// PurgeStale removes every item, in any category, not refreshed within
// window. This is the only way items leave the document.
func (s *Store) PurgeStale(now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window).Unix()
	kept := s.doc.LibraryItems[:0]
	purged := 0
	for _, it := range s.doc.LibraryItems {
		if it.UpdatedAt < cutoff {
			purged++
			continue
		}
		kept = append(kept, it)
	}
	s.doc.LibraryItems = kept
	if purged == 0 {
		return 0, nil
	}
	return purged, s.persistLocked()
}

// PruneAvailability drops branch notices older than cooldown from
// available-now items, so a branch that went quiet can alert again later and
// the maps stay bounded.
func (s *Store) PruneAvailability(now time.Time, cooldown time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-cooldown).Unix()
	pruned := 0
	for i := range s.doc.LibraryItems {
		it := &s.doc.LibraryItems[i]
		if it.Category != catalog.CategoryAvailableNow || len(it.Availability) == 0 {
			continue
		}
		for code, notice := range it.Availability {
			if notice.NotifiedAt < cutoff {
				delete(it.Availability, code)
				pruned++
			}
		}
		if len(it.Availability) == 0 {
			it.Availability = nil
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, s.persistLocked()
}

// RecordBranchNotice stamps a fresh availability notice for the branch on
// the item unless one newer than cooldown already exists. It reports whether
// an alert should fire.
func (s *Store) RecordBranchNotice(itemID string, loc catalog.Location, now time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(itemID)
	if idx < 0 {
		return false, fmt.Errorf("record branch notice %s: %w", itemID, ErrNotFound)
	}
	item := &s.doc.LibraryItems[idx]
	key := loc.Key()
	if notice, ok := item.Availability[key]; ok {
		if notice.NotifiedAt >= now.Add(-cooldown).Unix() {
			return false, nil
		}
	}
	if item.Availability == nil {
		item.Availability = make(map[string]catalog.BranchNotice)
	}
	item.Availability[key] = catalog.BranchNotice{NotifiedAt: now.Unix(), Location: loc.Name}
	return true, s.persistLocked()
}

// MarkNotified stamps the one-time on-order notify date. The stamp is
// monotonic: once set it is never refreshed or cleared, so each on-order
// item alerts at most once in its lifetime. Reports whether the stamp was
// applied now.
func (s *Store) MarkNotified(itemID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(itemID)
	if idx < 0 {
		return false, fmt.Errorf("mark notified %s: %w", itemID, ErrNotFound)
	}
	item := &s.doc.LibraryItems[idx]
	if item.NotifiedAt != 0 {
		return false, nil
	}
	item.NotifiedAt = now.Unix()
	return true, s.persistLocked()
}

// ItemsByCategory returns copies of all items in the category.
func (s *Store) ItemsByCategory(category catalog.Category) []catalog.LibraryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []catalog.LibraryItem
	for _, it := range s.doc.LibraryItems {
		if it.Category == category {
			out = append(out, cloneItem(it))
		}
	}
	return out
}

// Item returns a copy of one item by id.
func (s *Store) Item(itemID string) (catalog.LibraryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfLocked(itemID)
	if idx < 0 {
		return catalog.LibraryItem{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return cloneItem(s.doc.LibraryItems[idx]), nil
}

// Counts returns the number of items per category, for gauges.
func (s *Store) Counts() map[catalog.Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[catalog.Category]int, 2)
	for _, it := range s.doc.LibraryItems {
		counts[it.Category]++
	}
	return counts
}

// Wishlist returns a copy of the current wish list phrases.
func (s *Store) Wishlist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.doc.WishListItems))
	copy(out, s.doc.WishListItems)
	return out
}

// AddWishlistEntry appends a phrase. Duplicates are tolerated; they are
// harmless for substring matching.
func (s *Store) AddWishlistEntry(phrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.WishListItems = append(s.doc.WishListItems, phrase)
	return s.persistLocked()
}

// RemoveWishlistEntry deletes the first case-insensitive exact match of
// phrase. When absent it returns a WishlistNotFoundError carrying the
// current entries.
func (s *Store) RemoveWishlistEntry(phrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.doc.WishListItems {
		if strings.EqualFold(entry, phrase) {
			s.doc.WishListItems = append(s.doc.WishListItems[:i], s.doc.WishListItems[i+1:]...)
			return s.persistLocked()
		}
	}
	entries := make([]string, len(s.doc.WishListItems))
	copy(entries, s.doc.WishListItems)
	return &catalog.WishlistNotFoundError{Phrase: phrase, Entries: entries}
}

// Authenticate looks up a credential pair and returns the matching user id.
func (s *Store) Authenticate(username, password string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.doc.Users {
		if u.Username == username && u.Password == password {
			return u.ID, true
		}
	}
	return "", false
}

func (s *Store) indexOfLocked(itemID string) int {
	for i, it := range s.doc.LibraryItems {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func cloneItem(it catalog.LibraryItem) catalog.LibraryItem {
	cp := it
	if it.Availability != nil {
		cp.Availability = make(map[string]catalog.BranchNotice, len(it.Availability))
		for k, v := range it.Availability {
			cp.Availability[k] = v
		}
	}
	return cp
}

// persistLocked writes the document atomically. Callers hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog document: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".db-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace catalog document: %w", err)
	}
	return nil
}
