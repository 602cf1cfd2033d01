// Package viewstate defines the display configuration for archive
// listing pages: active filters, sort order, grouping mode, and the
// program-ID search prefix. The server is the source of truth; states
// are persisted per browser session so reloads and previous/next
// navigation keep the user's configuration.
package viewstate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidViewState marks a protocol-level error: an unknown filter
// dimension, sort key, or group mode. These are bugs in the client or
// caller and are always surfaced, never ignored.
var ErrInvalidViewState = errors.New("invalid view state")

// SortKey orders a listing.
type SortKey string

const (
	SortAscending  SortKey = "ascending"  // file root, A→Z
	SortDescending SortKey = "descending" // file root, Z→A
	SortRecent     SortKey = "recent"     // start time, newest first
	SortOldest     SortKey = "oldest"     // start time, oldest first
)

// GroupMode selects the listing granularity.
type GroupMode string

const (
	GroupByExposure GroupMode = "exposure" // one row per group root
	GroupByFile     GroupMode = "file"     // one row per file root
)

// Filter dimension names. This set is closed and shared with the
// client; both sides must agree on it exactly.
const (
	DimDetector = "detector"
	DimProposal = "proposal"
	DimLook     = "look"
	DimExpType  = "exp_type"
)

// Dimensions is the closed set of filter dimension names.
var Dimensions = []string{DimDetector, DimProposal, DimLook, DimExpType}

// Look filter labels. The look dimension is boolean underneath; this is
// the single place the UI labels map to booleans, so the mapping cannot
// drift between call sites.
const (
	LookViewed = "Viewed"
	LookNew    = "New"
)

// ViewState is a user's current display configuration for one listing.
type ViewState struct {
	Filters      map[string]string `json:"filters"`
	SortKey      SortKey           `json:"sort_key"`
	GroupMode    GroupMode         `json:"group_mode"`
	SearchPrefix string            `json:"search_prefix"`
}

// Default returns the initial view state for a fresh session: no
// filters, newest exposures first, grouped by exposure.
func Default() ViewState {
	return ViewState{
		Filters:   map[string]string{},
		SortKey:   SortRecent,
		GroupMode: GroupByExposure,
	}
}

// Validate checks the state against the closed dimension, sort, and
// group-mode sets.
func (v ViewState) Validate() error {
	switch v.SortKey {
	case SortAscending, SortDescending, SortRecent, SortOldest:
	default:
		return fmt.Errorf("viewstate: sort key %q: %w", v.SortKey, ErrInvalidViewState)
	}
	switch v.GroupMode {
	case GroupByExposure, GroupByFile:
	default:
		return fmt.Errorf("viewstate: group mode %q: %w", v.GroupMode, ErrInvalidViewState)
	}
	for dim, value := range v.Filters {
		if !knownDimension(dim) {
			return fmt.Errorf("viewstate: filter dimension %q: %w", dim, ErrInvalidViewState)
		}
		if dim == DimLook && !IsAll(dim, value) {
			if _, err := LookToBool(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllValue returns the sentinel meaning "no restriction" for a
// dimension, e.g. "All Detectors".
func AllValue(dim string) string {
	words := strings.Fields(strings.ReplaceAll(dim, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "All " + strings.Join(words, " ") + "s"
}

// IsAll reports whether value leaves the dimension unrestricted. An
// absent or empty value is equivalent to the sentinel.
func IsAll(dim, value string) bool {
	return value == "" || value == AllValue(dim)
}

// LookToBool maps a look filter label to the underlying viewed flag.
func LookToBool(label string) (bool, error) {
	switch label {
	case LookViewed:
		return true, nil
	case LookNew:
		return false, nil
	}
	return false, fmt.Errorf("viewstate: look value %q: %w", label, ErrInvalidViewState)
}

// BoolToLook maps a viewed flag to its UI label.
func BoolToLook(viewed bool) string {
	if viewed {
		return LookViewed
	}
	return LookNew
}

func knownDimension(dim string) bool {
	for _, d := range Dimensions {
		if d == dim {
			return true
		}
	}
	return false
}
