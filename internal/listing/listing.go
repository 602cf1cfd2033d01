// Package listing applies a view state — filters, sort order, grouping
// mode, and program search — to collections of archive rows, producing
// deterministic orderings with live counts. Determinism matters: the
// client paginates over this order, so ties must always break the same
// way.
package listing

import (
	"fmt"
	"sort"
	"time"

	"github.com/obsarchive/quicklook/internal/filename"
	"github.com/obsarchive/quicklook/internal/viewstate"
)

// Row is one file root in a listing: the parsed record plus the
// index-backed display fields.
type Row struct {
	Record        filename.Record
	StartTime     time.Time
	Viewed        bool
	ExpType       string
	Suffixes      []string
	ThumbnailPath string
}

// FileRoot returns the row's file root, the identity the UI keys on.
func (r Row) FileRoot() string { return r.Record.FileRoot() }

// Result is the outcome of applying a view state to a row set. Count is
// the number of rows shown; Total is the unfiltered total at the same
// granularity, so the UI can render "Showing X / Y". Dropdowns holds
// the candidate values per filter dimension drawn from the full
// unfiltered set, not just the shown rows.
type Result struct {
	Rows      []Row
	Count     int
	Total     int
	Dropdowns map[string][]string
}

// Apply filters, sorts, and groups rows according to the view state.
// An unknown filter dimension or sort key is a protocol error
// (viewstate.ErrInvalidViewState), never silently ignored.
func Apply(rows []Row, vs viewstate.ViewState) (Result, error) {
	if err := vs.Validate(); err != nil {
		return Result{}, fmt.Errorf("listing: %w", err)
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sortRows(sorted, vs.SortKey)

	result := Result{Dropdowns: dropdowns(rows)}

	switch vs.GroupMode {
	case viewstate.GroupByFile:
		result.Total = len(sorted)
		for _, row := range sorted {
			if passes(row, vs) {
				result.Rows = append(result.Rows, row)
			}
		}
	case viewstate.GroupByExposure:
		// The filter is evaluated per underlying file row; a group is
		// shown if any member passes, represented by its first passing
		// member in sort order. This keeps exposures visible when their
		// first-listed file fails a filter but a sibling passes.
		allRoots := make(map[string]bool)
		shown := make(map[string]bool)
		for _, row := range sorted {
			allRoots[row.Record.GroupRoot] = true
			if shown[row.Record.GroupRoot] || !passes(row, vs) {
				continue
			}
			shown[row.Record.GroupRoot] = true
			result.Rows = append(result.Rows, row)
		}
		result.Total = len(allRoots)
	}

	result.Count = len(result.Rows)
	if result.Rows == nil {
		result.Rows = []Row{}
	}
	return result, nil
}

// Paginate returns the given page (1-based) of rows. Out-of-range pages
// yield an empty slice, never an error: the UI renders its explicit
// "no data found" state.
func Paginate(rows []Row, page, perPage int) []Row {
	if page < 1 || perPage < 1 {
		return []Row{}
	}
	start := (page - 1) * perPage
	if start >= len(rows) {
		return []Row{}
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// passes evaluates every active filter dimension (ANDed) plus the
// search prefix against one file row.
func passes(row Row, vs viewstate.ViewState) bool {
	for dim, value := range vs.Filters {
		if viewstate.IsAll(dim, value) {
			continue
		}
		switch dim {
		case viewstate.DimDetector:
			if row.Record.Detector != value {
				return false
			}
		case viewstate.DimProposal:
			if row.Record.ProgramID != value {
				return false
			}
		case viewstate.DimExpType:
			if row.ExpType != value {
				return false
			}
		case viewstate.DimLook:
			// Validate() has vetted the label; the centralized mapping
			// keeps label/boolean agreement in one place.
			viewed, err := viewstate.LookToBool(value)
			if err != nil || row.Viewed != viewed {
				return false
			}
		}
	}
	return row.Record.ProgramMatches(vs.SearchPrefix)
}

// sortRows orders rows by the sort key. Every key breaks ties by
// ascending file root, so the order is a strict total order.
func sortRows(rows []Row, key viewstate.SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch key {
		case viewstate.SortAscending:
			return a.FileRoot() < b.FileRoot()
		case viewstate.SortDescending:
			return a.FileRoot() > b.FileRoot()
		case viewstate.SortRecent:
			if !a.StartTime.Equal(b.StartTime) {
				return a.StartTime.After(b.StartTime)
			}
		case viewstate.SortOldest:
			if !a.StartTime.Equal(b.StartTime) {
				return a.StartTime.Before(b.StartTime)
			}
		}
		return a.FileRoot() < b.FileRoot()
	})
}

// dropdowns collects the candidate filter values observed in the full
// unfiltered row set, sorted for stable rendering.
func dropdowns(rows []Row) map[string][]string {
	detectors := make(map[string]bool)
	proposals := make(map[string]bool)
	expTypes := make(map[string]bool)
	looks := make(map[string]bool)

	for _, row := range rows {
		detectors[row.Record.Detector] = true
		proposals[row.Record.ProgramID] = true
		if row.ExpType != "" {
			expTypes[row.ExpType] = true
		}
		looks[viewstate.BoolToLook(row.Viewed)] = true
	}

	return map[string][]string{
		viewstate.DimDetector: sortedKeys(detectors),
		viewstate.DimProposal: sortedKeys(proposals),
		viewstate.DimExpType:  sortedKeys(expTypes),
		viewstate.DimLook:     sortedKeys(looks),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
