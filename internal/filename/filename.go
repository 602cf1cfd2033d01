// Package filename decodes structured observation filenames into typed
// records. The naming grammar is a fixed-width positional convention
// (jw<PPPPP><OOO><VVV>_<GGSAA>_<EEEEE>_<detector>_<suffix>), so parsing
// is slicing at documented character offsets, not pattern matching.
//
// The grammar is an external contract shared with the data producers;
// any change to it requires lockstep updates on both sides.
package filename

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedName is returned when a filename does not follow the
// fixed naming grammar. It is never coerced into a best-guess parse.
var ErrMalformedName = errors.New("filename does not follow naming convention")

// ErrUnknownDetector is returned when the detector token maps to no
// known instrument. It wraps ErrMalformedName.
var ErrUnknownDetector = fmt.Errorf("unknown detector token: %w", ErrMalformedName)

// Field offsets within a filename, counted from the start of the string.
// The literal "jw" prefix occupies [0:2).
const (
	offProgram     = 2  // 5 digits
	offObservation = 7  // 3 digits
	offVisit       = 10 // 3 digits
	offSep1        = 13 // '_'
	offVisitGroup  = 14 // 2 digits
	offParallelSeq = 16 // 1 digit
	offActivity    = 17 // 2 alphanumerics
	offSep2        = 19 // '_'
	offExposure    = 20 // 5 digits
	offTail        = 25 // optional "-seg<NNN>", then "_<detector>_<suffix>"
)

const segPrefix = "-seg"

// Record holds the parsed identity of one observation file. It is
// immutable once constructed; the filename string remains the durable
// identity and a Record is always a derived view of it.
type Record struct {
	ProgramID   string // 5 digits, zero-padded
	Observation string // 3 digits
	Visit       string // 3 digits
	VisitGroup  string // 2 digits
	ParallelSeq string // 1 digit
	Activity    string // 2 alphanumerics
	ExposureID  string // 5 digits
	Segment     string // 3 digits, empty when the exposure is unsegmented
	Detector    string
	Suffix      string
	Instrument  string // derived from Detector; empty only in lenient mode
	GroupRoot   string // filename with detector and suffix removed
}

// Parse decodes a filename (with or without the .fits extension) into a
// Record. It returns ErrMalformedName when the string does not match
// the fixed positional grammar.
func Parse(name string) (Record, error) {
	return parse(name, false, false)
}

// ParseLenient is Parse for cross-instrument listings: an unrecognized
// detector token leaves Instrument empty instead of failing, so each
// record carries its own detector rather than an inferred instrument.
// Grammar violations still fail.
func ParseLenient(name string) (Record, error) {
	return parse(name, true, false)
}

// ParseRoot decodes a file root — a filename without its processing
// suffix, the form the archive index stores. The returned record has an
// empty Suffix; FileRoot() round-trips (ParseRoot(r.FileRoot()) == r
// minus the suffix).
func ParseRoot(root string) (Record, error) {
	return parse(root, false, true)
}

func parse(name string, lenient, rootOnly bool) (Record, error) {
	base := strings.TrimSuffix(name, ".fits")

	if !strings.HasPrefix(base, "jw") || len(base) < offTail {
		return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
	}
	if base[offSep1] != '_' || base[offSep2] != '_' {
		return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
	}

	rec := Record{
		ProgramID:   base[offProgram:offObservation],
		Observation: base[offObservation:offVisit],
		Visit:       base[offVisit:offSep1],
		VisitGroup:  base[offVisitGroup:offParallelSeq],
		ParallelSeq: base[offParallelSeq:offActivity],
		Activity:    base[offActivity:offSep2],
		ExposureID:  base[offExposure:offTail],
	}
	for _, f := range []string{rec.ProgramID, rec.Observation, rec.Visit, rec.VisitGroup, rec.ParallelSeq, rec.ExposureID} {
		if !allDigits(f) {
			return Record{}, fmt.Errorf("filename: parse %q: non-numeric field %q: %w", name, f, ErrMalformedName)
		}
	}
	if !allAlnum(rec.Activity) {
		return Record{}, fmt.Errorf("filename: parse %q: bad activity %q: %w", name, rec.Activity, ErrMalformedName)
	}

	// Optional segment tag sits between the exposure field and the
	// detector. It is part of the group root.
	rootEnd := offTail
	rest := base[offTail:]
	if strings.HasPrefix(rest, segPrefix) {
		segEnd := offTail + len(segPrefix) + 3
		if len(base) < segEnd || !allDigits(base[offTail+len(segPrefix):segEnd]) {
			return Record{}, fmt.Errorf("filename: parse %q: bad segment: %w", name, ErrMalformedName)
		}
		rec.Segment = base[offTail+len(segPrefix) : segEnd]
		rootEnd = segEnd
		rest = base[rootEnd:]
	}

	// The remainder is exactly "_<detector>_<suffix>" (or just
	// "_<detector>" for a file root). The detector and suffix are removed
	// at their known positions, so a detector-like substring elsewhere in
	// the name is never stripped.
	if len(rest) == 0 || rest[0] != '_' {
		return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
	}
	if rootOnly {
		det := rest[1:]
		if !allWord(det) {
			return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
		}
		rec.Detector = det
	} else {
		det, suf, ok := strings.Cut(rest[1:], "_")
		if !ok || det == "" || suf == "" {
			return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
		}
		// Compound suffixes like "stacked_uncal" keep their inner underscore.
		if !allWord(det) || !allWord(strings.ReplaceAll(suf, "_", "")) {
			return Record{}, fmt.Errorf("filename: parse %q: %w", name, ErrMalformedName)
		}
		rec.Detector = det
		rec.Suffix = suf
	}
	rec.GroupRoot = base[:rootEnd]

	inst, ok := instrumentForDetector(rec.Detector)
	if !ok && !lenient {
		return Record{}, fmt.Errorf("filename: parse %q: detector %q: %w", name, rec.Detector, ErrUnknownDetector)
	}
	rec.Instrument = inst

	return rec, nil
}

// Filename reconstructs the filename this record was parsed from
// (without extension). Parse(r.Filename()) yields an identical record.
func (r Record) Filename() string {
	return r.GroupRoot + "_" + r.Detector + "_" + r.Suffix
}

// FileRoot is the filename without the processing suffix, the unit the
// archive pages key thumbnails and viewed-flags on.
func (r Record) FileRoot() string {
	return r.GroupRoot + "_" + r.Detector
}

// ProgramMatches reports whether prefix matches the record's program ID,
// tried both against the zero-padded form and against the numeric
// value's decimal form, so "756" and "00756" both match program "00756".
func (r Record) ProgramMatches(prefix string) bool {
	if prefix == "" {
		return true
	}
	if strings.HasPrefix(r.ProgramID, prefix) {
		return true
	}
	n, err := strconv.Atoi(r.ProgramID)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strconv.Itoa(n), prefix)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func allAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// allWord accepts the detector/suffix token alphabet: lowercase
// alphanumerics plus '-' (e.g. "gs-acq1", "stacked-cal" style tokens).
func allWord(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && c != '-' {
			return false
		}
	}
	return true
}
