package diag

import (
	"time"

	"github.com/google/pprof/profile"
)

// PageStateCounts is a snapshot of how many frames sit in each page-list
// state (spec §3's Frame.state enumeration), keyed by state name.
type PageStateCounts map[string]int64

// Census serializes a PageStateCounts snapshot as a pprof profile.Profile
// with one sample type per page state, so the live frame population can be
// inspected with `go tool pprof` the way a heap profile would be, the
// concrete use this module gives biscuit's otherwise call-site-less
// google/pprof dependency.
func Census(counts PageStateCounts, pagefileOccupied, pagefileTotal int64) *profile.Profile {
	p := &profile.Profile{
		TimeNanos:     time.Now().UnixNano(),
		DurationNanos: 0,
	}
	sampleValue := make([]int64, 0, len(counts)+1)
	for state, n := range counts {
		p.SampleType = append(p.SampleType, &profile.ValueType{Type: state, Unit: "pages"})
		sampleValue = append(sampleValue, n)
	}
	p.SampleType = append(p.SampleType, &profile.ValueType{Type: "pagefile_occupied", Unit: "pages"})
	sampleValue = append(sampleValue, pagefileOccupied)
	p.PeriodType = &profile.ValueType{Type: "pagefile_total", Unit: "pages"}
	p.Period = pagefileTotal

	root := &profile.Location{ID: 1}
	p.Location = []*profile.Location{root}
	p.Function = []*profile.Function{{ID: 1, Name: "system.census"}}
	root.Line = []profile.Line{{Function: p.Function[0]}}

	p.Sample = []*profile.Sample{{
		Value:    sampleValue,
		Location: []*profile.Location{root},
	}}
	p.Comments = []string{
		"uvm page-state census",
	}
	return p
}
