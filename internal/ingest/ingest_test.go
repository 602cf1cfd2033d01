package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectSQLite(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func writeArchive(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScan_IndexesParseableFiles(t *testing.T) {
	gdb := testDB(t)
	root := t.TempDir()
	writeArchive(t, root,
		"jw00756/jw00756001001_02101_00001_nrs1_uncal.fits",
		"jw00756/jw00756001001_02101_00001_nrs1_rate.fits",
		"jw00756/jw00756001001_02101_00001_nrs2_rate.fits",
		"jw01022/jw01022003002_04101_00002_mirimage_cal.fits",
		"jw01022/notes.txt",
		"jw01022/badname.fits",
	)

	stats, err := NewScanner(gdb, root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if stats.FilesSeen != 5 {
		t.Errorf("FilesSeen = %d, want 5", stats.FilesSeen)
	}
	if stats.Indexed != 3 {
		t.Errorf("Indexed = %d, want 3", stats.Indexed)
	}
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}

	var obs models.Observation
	if err := gdb.Where("file_root = ?", "jw00756001001_02101_00001_nrs1").First(&obs).Error; err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if obs.Instrument != "nirspec" || obs.ProgramID != "00756" || obs.Detector != "nrs1" {
		t.Errorf("observation = %+v", obs)
	}

	var suffixes []string
	if err := json.Unmarshal([]byte(obs.Suffixes), &suffixes); err != nil {
		t.Fatalf("unmarshal suffixes: %v", err)
	}
	if len(suffixes) != 2 || suffixes[0] != "rate" || suffixes[1] != "uncal" {
		t.Errorf("suffixes = %v, want sorted [rate uncal]", suffixes)
	}
}

func TestScan_RescanPreservesViewed(t *testing.T) {
	gdb := testDB(t)
	root := t.TempDir()
	writeArchive(t, root, "jw00756001001_02101_00001_nrs1_rate.fits")

	scanner := NewScanner(gdb, root)
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	res := gdb.Model(&models.Observation{}).
		Where("file_root = ?", "jw00756001001_02101_00001_nrs1").
		Update("viewed", true)
	if res.Error != nil || res.RowsAffected != 1 {
		t.Fatalf("mark viewed: err=%v rows=%d", res.Error, res.RowsAffected)
	}

	writeArchive(t, root, "jw00756001001_02101_00001_nrs1_cal.fits")
	stats, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if stats.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1", stats.Indexed)
	}

	var obs models.Observation
	if err := gdb.Where("file_root = ?", "jw00756001001_02101_00001_nrs1").First(&obs).Error; err != nil {
		t.Fatal(err)
	}
	if !obs.Viewed {
		t.Error("rescan must not reset the viewed flag")
	}
	var suffixes []string
	if err := json.Unmarshal([]byte(obs.Suffixes), &suffixes); err != nil {
		t.Fatal(err)
	}
	if len(suffixes) != 2 {
		t.Errorf("suffixes = %v, want both cal and rate after rescan", suffixes)
	}

	var count int64
	gdb.Model(&models.Observation{}).Count(&count)
	if count != 1 {
		t.Errorf("row count = %d, want 1 (upsert, not duplicate)", count)
	}
}

func TestScan_EarliestModTimeWins(t *testing.T) {
	gdb := testDB(t)
	root := t.TempDir()
	writeArchive(t, root,
		"jw00756001001_02101_00001_nrs1_uncal.fits",
		"jw00756001001_02101_00001_nrs1_rate.fits",
	)

	early := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, "jw00756001001_02101_00001_nrs1_uncal.fits"), early, early); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(filepath.Join(root, "jw00756001001_02101_00001_nrs1_rate.fits"), late, late); err != nil {
		t.Fatal(err)
	}

	if _, err := NewScanner(gdb, root).Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	var obs models.Observation
	if err := gdb.First(&obs).Error; err != nil {
		t.Fatal(err)
	}
	if !obs.StartTime.Equal(early) {
		t.Errorf("StartTime = %v, want earliest mtime %v", obs.StartTime, early)
	}
}

func TestScan_PicksUpThumbnail(t *testing.T) {
	gdb := testDB(t)
	root := t.TempDir()
	writeArchive(t, root, "jw00756001001_02101_00001_nrs1_rate.fits")
	thumb := filepath.Join(root, "jw00756001001_02101_00001_nrs1.thumb")
	if err := os.WriteFile(thumb, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewScanner(gdb, root).Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	var obs models.Observation
	if err := gdb.First(&obs).Error; err != nil {
		t.Fatal(err)
	}
	if obs.ThumbnailPath != thumb {
		t.Errorf("ThumbnailPath = %q, want %q", obs.ThumbnailPath, thumb)
	}
}

func TestScan_MissingRoot(t *testing.T) {
	gdb := testDB(t)
	_, err := NewScanner(gdb, filepath.Join(t.TempDir(), "absent")).Scan(context.Background())
	if err == nil {
		t.Fatal("expected error for missing archive root")
	}
}

func TestScan_Cancelled(t *testing.T) {
	gdb := testDB(t)
	root := t.TempDir()
	writeArchive(t, root, "jw00756001001_02101_00001_nrs1_rate.fits")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(gdb, root).Scan(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
