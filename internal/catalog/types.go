// Package catalog defines core types shared across subsystems.
package catalog

import (
	"fmt"
	"strings"
)

// Category partitions library items by how they were discovered upstream.
type Category string

// Category values persisted in the catalog document.
const (
	CategoryAvailableNow Category = "available now"
	CategoryOnOrder      Category = "on order"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryAvailableNow || c == CategoryOnOrder
}

// RawRecord is one item as extracted from an upstream search response.
type RawRecord struct {
	ID              string
	Title           string
	Subtitle        string
	PublicationYear string
	Format          string
	Edition         string
	Description     string
	ImageURL        string
	URL             string
}

// BranchNotice records that an availability alert fired for one branch.
// Timestamps are epoch seconds to stay compatible with the historical
// document format.
type BranchNotice struct {
	NotifiedAt int64  `json:"notifyDate"`
	Location   string `json:"location"`
}

// LibraryItem is one persisted catalog entry. JSON keys match the flat
// document this service has always written, so an existing db.json loads
// unchanged.
type LibraryItem struct {
	ID              string                  `json:"id"`
	Category        Category                `json:"type"`
	Title           string                  `json:"title"`
	Subtitle        string                  `json:"subtitle,omitempty"`
	PublicationYear string                  `json:"publicationYear,omitempty"`
	Format          string                  `json:"format,omitempty"`
	Edition         string                  `json:"edition,omitempty"`
	Description     string                  `json:"description,omitempty"`
	ImageURL        string                  `json:"image,omitempty"`
	URL             string                  `json:"url"`
	CreatedAt       int64                   `json:"createDate"`
	UpdatedAt       int64                   `json:"updateDate"`
	NotifiedAt      int64                   `json:"notifyDate,omitempty"`
	Availability    map[string]BranchNotice `json:"availability,omitempty"`
}

// MatchesAny reports whether the item title contains any of the phrases,
// case-insensitively.
func (it LibraryItem) MatchesAny(phrases []string) bool {
	title := strings.ToLower(it.Title)
	for _, p := range phrases {
		if p != "" && strings.Contains(title, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Copy is one physical copy of an item as reported by the availability
// gateway.
type Copy struct {
	Branch     string
	Status     string
	Collection string
	CallNumber string
}

// Location maps an upstream branch code to its display name. Configuration
// data, not persisted state.
type Location struct {
	Code int    `mapstructure:"code" json:"code"`
	Name string `mapstructure:"name" json:"name"`
}

// Key returns the branch code as used for availability map keys.
func (l Location) Key() string {
	return fmt.Sprintf("%d", l.Code)
}

// Alert is one item/branch pair queued for notification during a cycle.
// Branch is empty for on-order alerts.
type Alert struct {
	Item   LibraryItem `json:"item"`
	Branch string      `json:"branch,omitempty"`
}

// User is one credential pair held in the catalog document. Lookup only;
// account management is out of scope.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}
