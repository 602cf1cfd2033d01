package filename

import "sort"

// Instruments is the closed set of instrument names, sorted.
var Instruments = []string{"fgs", "miri", "nircam", "niriss", "nirspec"}

// detectorInstruments maps the three-letter detector shorthand to the
// instrument it belongs to. This table is closed: a detector token whose
// prefix is absent here is an error, never a silent "unknown".
var detectorInstruments = map[string]string{
	"gui": "fgs",
	"mir": "miri",
	"nis": "niriss",
	"nrc": "nircam",
	"nrs": "nirspec",
}

// instrumentForDetector resolves a detector token (e.g. "nrs1",
// "nrca5", "guider2") to its instrument via the shorthand table.
func instrumentForDetector(detector string) (string, bool) {
	if len(detector) < 3 {
		return "", false
	}
	inst, ok := detectorInstruments[detector[:3]]
	return inst, ok
}

// KnownInstrument reports whether name is one of the closed instrument set.
func KnownInstrument(name string) bool {
	i := sort.SearchStrings(Instruments, name)
	return i < len(Instruments) && Instruments[i] == name
}

// GenericSuffixes lists the processing-stage suffixes common to all
// instruments, in pipeline order.
var GenericSuffixes = []string{
	"uncal", "rate", "rateints", "cal", "calints", "i2d", "s2d", "s3d",
	"x1d", "x1dints", "trapsfilled",
}
