// Package ingest walks the archive filesystem and indexes observation
// files into the database. A scan is an upsert: re-running it refreshes
// metadata for known file roots and never loses the viewed flag.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/obsarchive/quicklook/internal/filename"
	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stats summarizes one archive scan.
type Stats struct {
	FilesSeen int // .fits files encountered
	Indexed   int // distinct file roots upserted
	Malformed int // filenames that failed to parse
	Skipped   int // non-.fits files ignored
}

// Scanner indexes an archive directory tree into Observation rows.
type Scanner struct {
	db   *gorm.DB
	root string
}

// NewScanner returns a Scanner over the archive rooted at root.
func NewScanner(db *gorm.DB, root string) *Scanner {
	return &Scanner{db: db, root: root}
}

// fileGroup accumulates the suffix variants observed for one file root.
type fileGroup struct {
	rec       filename.Record
	suffixes  []string
	startTime time.Time
	thumbnail string
}

// Scan walks the archive root and upserts one Observation row per file
// root. Malformed filenames are counted and logged, never fatal; a scan
// of a partially corrupt archive still indexes everything parseable.
func (s *Scanner) Scan(ctx context.Context) (Stats, error) {
	var stats Stats
	groups := make(map[string]*fileGroup)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".fits") {
			stats.Skipped++
			return nil
		}
		stats.FilesSeen++

		rec, perr := filename.Parse(name)
		if perr != nil {
			stats.Malformed++
			log.Printf("ingest: skipping %s: %v", name, perr)
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return fmt.Errorf("ingest: stat %s: %w", path, ierr)
		}

		root := rec.FileRoot()
		g, ok := groups[root]
		if !ok {
			g = &fileGroup{rec: rec, startTime: info.ModTime()}
			groups[root] = g
		}
		g.suffixes = append(g.suffixes, rec.Suffix)
		if info.ModTime().Before(g.startTime) {
			g.startTime = info.ModTime()
		}
		if g.thumbnail == "" {
			if thumb := thumbnailFor(path, root); thumb != "" {
				g.thumbnail = thumb
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("ingest: walk %s: %w", s.root, err)
	}

	// Deterministic upsert order keeps scan logs and tests stable.
	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if err := s.upsert(root, groups[root]); err != nil {
			return stats, err
		}
		stats.Indexed++
	}
	return stats, nil
}

// upsert writes one Observation row, refreshing metadata on conflict.
// The viewed flag is deliberately excluded from the update set.
func (s *Scanner) upsert(root string, g *fileGroup) error {
	sort.Strings(g.suffixes)
	dedup := g.suffixes[:0]
	for i, suf := range g.suffixes {
		if i == 0 || suf != g.suffixes[i-1] {
			dedup = append(dedup, suf)
		}
	}
	suffixes, err := json.Marshal(dedup)
	if err != nil {
		return fmt.Errorf("ingest: marshal suffixes for %s: %w", root, err)
	}

	obs := models.Observation{
		FileRoot:      root,
		GroupRoot:     g.rec.GroupRoot,
		Instrument:    g.rec.Instrument,
		ProgramID:     g.rec.ProgramID,
		ObsNum:        g.rec.Observation,
		Visit:         g.rec.Visit,
		Detector:      g.rec.Detector,
		StartTime:     g.startTime,
		Suffixes:      string(suffixes),
		ThumbnailPath: g.thumbnail,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_root"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"group_root", "instrument", "program_id", "obs_num", "visit",
			"detector", "start_time", "suffixes", "thumbnail_path", "updated_at",
		}),
	}).Create(&obs).Error
	if err != nil {
		return fmt.Errorf("ingest: upsert %s: %w", root, err)
	}
	return nil
}

// thumbnailFor returns the path of a sibling "<root>.thumb" file, or ""
// when the observation has no pre-rendered thumbnail.
func thumbnailFor(fitsPath, root string) string {
	thumb := filepath.Join(filepath.Dir(fitsPath), root+".thumb")
	if _, err := os.Stat(thumb); err != nil {
		return ""
	}
	return thumb
}
