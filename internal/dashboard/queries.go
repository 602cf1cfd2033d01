package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/obsarchive/quicklook/internal/exposure"
	"github.com/obsarchive/quicklook/internal/filename"
	"github.com/obsarchive/quicklook/internal/listing"
	"github.com/obsarchive/quicklook/internal/models"
	"github.com/obsarchive/quicklook/internal/viewstate"
	"gorm.io/gorm"
)

// RowPayload is one listing row as the JSON API presents it. Members
// and Inconsistent describe the row's exposure group, so the client can
// switch grouping modes without another fetch.
type RowPayload struct {
	FileRoot     string    `json:"file_root"`
	GroupRoot    string    `json:"group_root"`
	ProgramID    string    `json:"program_id"`
	Observation  string    `json:"observation"`
	Visit        string    `json:"visit"`
	Detector     string    `json:"detector"`
	ExpType      string    `json:"exp_type,omitempty"`
	StartTime    time.Time `json:"start_time"`
	Viewed       bool      `json:"viewed"`
	Suffixes     []string  `json:"suffixes"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Members      int       `json:"members,omitempty"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
}

// Payload is the full archive listing response: one snapshot of every
// row in scope, counts for the saved view state, dropdown candidates,
// and the state itself. The client applies filters, sort, grouping, and
// search over the snapshot; the displayed set only changes on the next
// navigation.
type Payload struct {
	Instrument string              `json:"instrument"`
	Proposal   string              `json:"proposal,omitempty"`
	Rows       []RowPayload        `json:"rows"`
	Count      int                 `json:"count"`
	Total      int                 `json:"total"`
	Dropdowns  map[string][]string `json:"dropdowns"`
	ViewState  viewstate.ViewState `json:"view_state"`
}

// ListingPayload loads the indexed rows for an instrument (optionally
// scoped to one proposal) and shapes the API response: the full
// snapshot in ascending file-root order, with the view state applied
// server-side only for the Count/Total the page header first renders.
func ListingPayload(db *gorm.DB, instrument, proposal string, vs viewstate.ViewState) (*Payload, error) {
	rows, err := loadRows(db, instrument, proposal)
	if err != nil {
		return nil, err
	}

	result, err := listing.Apply(rows, vs)
	if err != nil {
		return nil, err
	}

	// Annotate every row with its exposure group's size and consistency
	// flag; the client groups by exposure without another fetch.
	files := make([]exposure.File, len(rows))
	for i, row := range rows {
		files[i] = exposure.File{Record: row.Record, StartTime: row.StartTime}
	}
	built := exposure.Build(files)
	groups := make(map[string]exposure.Group, len(built))
	for _, g := range built {
		groups[g.GroupRoot] = g
	}

	payload := &Payload{
		Instrument: instrument,
		Proposal:   proposal,
		Rows:       make([]RowPayload, len(rows)),
		Count:      result.Count,
		Total:      result.Total,
		Dropdowns:  result.Dropdowns,
		ViewState:  vs,
	}
	for i, row := range rows {
		payload.Rows[i] = RowPayload{
			FileRoot:    row.FileRoot(),
			GroupRoot:   row.Record.GroupRoot,
			ProgramID:   row.Record.ProgramID,
			Observation: row.Record.Observation,
			Visit:       row.Record.Visit,
			Detector:    row.Record.Detector,
			ExpType:     row.ExpType,
			StartTime:   row.StartTime,
			Viewed:      row.Viewed,
			Suffixes:    row.Suffixes,
			Thumbnail:   row.ThumbnailPath,
		}
		if g, ok := groups[row.Record.GroupRoot]; ok {
			payload.Rows[i].Members = len(g.Members)
			payload.Rows[i].Inconsistent = g.Inconsistent
		}
	}
	return payload, nil
}

// loadRows pulls the observation index for one instrument into listing
// rows. An indexed file root that no longer parses is skipped rather
// than failing the page; the index row predates a grammar change and
// re-ingest will reconcile it.
func loadRows(db *gorm.DB, instrument, proposal string) ([]listing.Row, error) {
	q := db.Where("instrument = ?", instrument)
	if proposal != "" {
		q = q.Where("program_id = ?", padProgram(proposal))
	}

	var observations []models.Observation
	if err := q.Order("file_root ASC").Find(&observations).Error; err != nil {
		return nil, fmt.Errorf("dashboard: load %s rows: %w", instrument, err)
	}

	rows := make([]listing.Row, 0, len(observations))
	for _, obs := range observations {
		rec, err := filename.ParseRoot(obs.FileRoot)
		if err != nil {
			continue
		}
		var suffixes []string
		if obs.Suffixes != "" {
			if err := json.Unmarshal([]byte(obs.Suffixes), &suffixes); err != nil {
				suffixes = nil // corrupt stored JSON reads as no suffixes
			}
		}
		rows = append(rows, listing.Row{
			Record:        rec,
			StartTime:     obs.StartTime,
			Viewed:        obs.Viewed,
			ExpType:       obs.ExpType,
			Suffixes:      suffixes,
			ThumbnailPath: obs.ThumbnailPath,
		})
	}
	return rows, nil
}

// padProgram zero-pads a numeric proposal ID to the stored five-digit
// form, so /archive/nirspec/756 and /archive/nirspec/00756 are the same
// page.
func padProgram(p string) string {
	if len(p) >= 5 {
		return p
	}
	return fmt.Sprintf("%05s", p)
}

// InstrumentRow summarizes one instrument for the index page.
type InstrumentRow struct {
	Name   string
	Total  int64
	Viewed int64
	Latest time.Time
}

// InstrumentSummary returns per-instrument index counts, in the fixed
// instrument order.
func InstrumentSummary(db *gorm.DB) []InstrumentRow {
	if db == nil {
		return []InstrumentRow{}
	}
	rows := make([]InstrumentRow, 0, len(filename.Instruments))
	for _, inst := range filename.Instruments {
		row := InstrumentRow{Name: inst}
		db.Model(&models.Observation{}).Where("instrument = ?", inst).Count(&row.Total)
		db.Model(&models.Observation{}).Where("instrument = ? AND viewed = ?", inst, true).Count(&row.Viewed)
		var latest models.Observation
		if err := db.Where("instrument = ?", inst).Order("start_time DESC").First(&latest).Error; err == nil {
			row.Latest = latest.StartTime
		}
		rows = append(rows, row)
	}
	return rows
}

// TaskRow holds one task record for the monitor page.
type TaskRow struct {
	UUID      string
	Name      string
	Status    string
	ClaimedBy string
	Error     string
	CreatedAt time.Time
	Finished  string
}

// RecentTaskRows returns the most recent tasks, newest first.
func RecentTaskRows(db *gorm.DB, limit int) []TaskRow {
	if db == nil {
		return []TaskRow{}
	}
	var recs []models.TaskRecord
	db.Order("created_at DESC, id DESC").Limit(limit).Find(&recs)

	rows := make([]TaskRow, len(recs))
	for i, rec := range recs {
		rows[i] = TaskRow{
			UUID:      rec.UUID,
			Name:      rec.Name,
			Status:    rec.Status,
			ClaimedBy: rec.ClaimedBy,
			Error:     rec.Error,
			CreatedAt: rec.CreatedAt,
		}
		if rec.FinishedAt != nil {
			rows[i].Finished = TimeAgo(*rec.FinishedAt)
		}
	}
	return rows
}

// LockRow holds one held lock for the monitor page.
type LockRow struct {
	Key      string
	Owner    string
	Acquired time.Time
	Expired  bool
}

// ActiveLocks returns every lock row, expired ones flagged.
func ActiveLocks(db *gorm.DB) []LockRow {
	if db == nil {
		return []LockRow{}
	}
	var recs []models.LockRecord
	db.Order("lock_key ASC").Find(&recs)

	now := time.Now()
	rows := make([]LockRow, len(recs))
	for i, rec := range recs {
		rows[i] = LockRow{
			Key:      rec.Key,
			Owner:    rec.Owner,
			Acquired: rec.AcquiredAt,
			Expired:  rec.Expired(now),
		}
	}
	return rows
}

// TimeAgo formats a timestamp as a short relative age like "5m ago".
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours())/24)
}
