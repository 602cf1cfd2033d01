// Package exposure clusters parsed observation files into exposure
// groups. A group is the set of files sharing one group root — the same
// exposure seen through different detectors and processing stages.
// Groups are a transient view computed fresh per query, never persisted
// and never mutated incrementally.
package exposure

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/obsarchive/quicklook/internal/filename"
)

// File is one observation file plus the metadata the grouping view
// needs from the archive index.
type File struct {
	Record    filename.Record
	StartTime time.Time
}

// Group is the set of all files sharing one group root, deduplicated by
// (detector, suffix). Representative metadata is taken from the first
// member; it must be physically identical across members.
type Group struct {
	GroupRoot   string
	Members     []File
	ProgramID   string
	Observation string
	Visit       string
	StartTime   time.Time

	// Inconsistent is set when members disagree on metadata that should
	// be invariant across the group. The group is still shown; hiding it
	// would be worse for an operator than showing it flagged.
	Inconsistent bool
}

// ConsistencyError reports divergent exposure metadata within a group.
type ConsistencyError struct {
	GroupRoot string
	Field     string
	Want, Got string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("exposure: group %s: %s mismatch: %q vs %q", e.GroupRoot, e.Field, e.Want, e.Got)
}

// Build partitions files into groups keyed by group root.
//
// Duplicate (detector, suffix) pairs within a group — reprocessed files —
// are resolved last-write-wins by input order. Output is ordered by
// ascending group root, so repeated calls over the same input produce
// identical membership and ordering.
func Build(files []File) []Group {
	byRoot := make(map[string]*Group)
	order := make(map[string]map[string]int) // root -> detector_suffix -> member index

	for _, f := range files {
		root := f.Record.GroupRoot
		g, ok := byRoot[root]
		if !ok {
			g = &Group{
				GroupRoot:   root,
				ProgramID:   f.Record.ProgramID,
				Observation: f.Record.Observation,
				Visit:       f.Record.Visit,
				StartTime:   f.StartTime,
			}
			byRoot[root] = g
			order[root] = make(map[string]int)
		}

		if err := checkConsistent(g, f); err != nil {
			log.Printf("exposure: %v", err)
			g.Inconsistent = true
		}

		key := f.Record.Detector + "_" + f.Record.Suffix
		if i, seen := order[root][key]; seen {
			g.Members[i] = f
			continue
		}
		order[root][key] = len(g.Members)
		g.Members = append(g.Members, f)
	}

	roots := make([]string, 0, len(byRoot))
	for root := range byRoot {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	groups := make([]Group, 0, len(roots))
	for _, root := range roots {
		groups = append(groups, *byRoot[root])
	}
	return groups
}

// checkConsistent compares a new member's invariant metadata against the
// group's representative values.
func checkConsistent(g *Group, f File) error {
	if f.Record.ProgramID != g.ProgramID {
		return &ConsistencyError{GroupRoot: g.GroupRoot, Field: "program", Want: g.ProgramID, Got: f.Record.ProgramID}
	}
	if f.Record.Observation != g.Observation {
		return &ConsistencyError{GroupRoot: g.GroupRoot, Field: "observation", Want: g.Observation, Got: f.Record.Observation}
	}
	if f.Record.Visit != g.Visit {
		return &ConsistencyError{GroupRoot: g.GroupRoot, Field: "visit", Want: g.Visit, Got: f.Record.Visit}
	}
	if !f.StartTime.IsZero() && !g.StartTime.IsZero() && !f.StartTime.Equal(g.StartTime) {
		return &ConsistencyError{
			GroupRoot: g.GroupRoot, Field: "start time",
			Want: g.StartTime.Format(time.RFC3339), Got: f.StartTime.Format(time.RFC3339),
		}
	}
	return nil
}
