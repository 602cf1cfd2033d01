package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/obsarchive/quicklook/internal/models"
	"github.com/obsarchive/quicklook/internal/viewstate"
)

func TestPadProgram(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"756", "00756"},
		{"00756", "00756"},
		{"1", "00001"},
		{"123456", "123456"},
	}
	for _, tt := range tests {
		if got := padProgram(tt.in); got != tt.want {
			t.Errorf("padProgram(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		name string
		when time.Time
		want string
	}{
		{"zero", time.Time{}, "—"},
		{"minutes", time.Now().Add(-5 * time.Minute), "5m ago"},
		{"hours", time.Now().Add(-3 * time.Hour), "3h ago"},
		{"days", time.Now().Add(-48 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TimeAgo(tt.when); got != tt.want {
				t.Errorf("TimeAgo = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaries_NilDB(t *testing.T) {
	if rows := InstrumentSummary(nil); len(rows) != 0 {
		t.Errorf("InstrumentSummary(nil) = %v, want empty", rows)
	}
	if rows := RecentTaskRows(nil, 10); len(rows) != 0 {
		t.Errorf("RecentTaskRows(nil) = %v, want empty", rows)
	}
	if rows := ActiveLocks(nil); len(rows) != 0 {
		t.Errorf("ActiveLocks(nil) = %v, want empty", rows)
	}
}

func TestLoadRows(t *testing.T) {
	gdb := testDB(t)
	seedObservations(t, gdb)

	rows, err := loadRows(gdb, "nirspec", "")
	if err != nil {
		t.Fatalf("loadRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Record.Instrument != "nirspec" {
			t.Errorf("row %s instrument = %q", row.FileRoot(), row.Record.Instrument)
		}
	}

	scoped, err := loadRows(gdb, "nirspec", "756")
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Errorf("proposal-scoped rows = %d, want 2", len(scoped))
	}
	if len(scoped) > 0 && len(scoped[0].Suffixes) == 0 {
		t.Error("suffix list should round-trip from the index")
	}
}

func TestListingPayload_LookFilter(t *testing.T) {
	gdb := testDB(t)
	seedObservations(t, gdb)

	vs := viewstate.Default()
	vs.GroupMode = viewstate.GroupByFile
	vs.Filters[viewstate.DimLook] = viewstate.LookViewed

	payload, err := ListingPayload(gdb, "nirspec", "", vs)
	if err != nil {
		t.Fatalf("ListingPayload() error = %v", err)
	}
	// Counts reflect the saved state; the row snapshot stays complete so
	// the page can widen or change filters without another fetch.
	if payload.Count != 1 || payload.Total != 3 {
		t.Errorf("Count/Total = %d/%d, want 1/3", payload.Count, payload.Total)
	}
	if len(payload.Rows) != 3 {
		t.Errorf("snapshot rows = %d, want all 3 regardless of filter", len(payload.Rows))
	}
	viewed := 0
	for _, row := range payload.Rows {
		if row.Viewed {
			viewed++
			if row.Detector != "nrs2" {
				t.Errorf("viewed row = %s, want the nrs2 file", row.FileRoot)
			}
		}
	}
	if viewed != 1 {
		t.Errorf("viewed rows in snapshot = %d, want 1", viewed)
	}
}

func TestLoadRows_CorruptSuffixes(t *testing.T) {
	gdb := testDB(t)
	obs := models.Observation{
		FileRoot: "jw00756001001_02101_00001_nrs1", GroupRoot: "jw00756001001_02101_00001",
		Instrument: "nirspec", ProgramID: "00756", Detector: "nrs1",
		Suffixes: `{not json`,
	}
	if err := gdb.Create(&obs).Error; err != nil {
		t.Fatal(err)
	}

	rows, err := loadRows(gdb, "nirspec", "")
	if err != nil {
		t.Fatalf("loadRows() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if len(rows[0].Suffixes) != 0 {
		t.Errorf("suffixes = %v, want none for corrupt stored JSON", rows[0].Suffixes)
	}
}

func TestListingPayload_InvalidState(t *testing.T) {
	gdb := testDB(t)
	seedObservations(t, gdb)

	vs := viewstate.Default()
	vs.SortKey = "shuffled"

	_, err := ListingPayload(gdb, "nirspec", "", vs)
	if err == nil {
		t.Fatal("expected error for unknown sort key")
	}
	if !strings.Contains(err.Error(), "shuffled") {
		t.Errorf("error = %q, want to name the bad key", err)
	}
}
