// Package diag builds pprof memory-profile snapshots from caller-supplied
// per-kind usage samples, reusing pprof's well-known profile.proto rather
// than inventing a dump format (see DESIGN.md). Neither --debug=all nor
// SIGUSR2 calls BuildProfile.
package diag

import (
	"io"
	"time"

	"github.com/google/pprof/profile"
)

// Sample is one accounted allocation: a named kind (e.g. "anon",
// "paged", "static") and its live byte count.
type Sample struct {
	Kind  string
	Bytes int64
	Count int64
}

// BuildProfile assembles a pprof Profile with two sample types (count,
// bytes) and one sample per distinct Sample.Kind, aggregating repeated
// kinds. timestamp is the snapshot time in nanoseconds since the epoch,
// supplied by the caller since this package must not call time.Now
// itself in code paths exercised by deterministic tests.
func BuildProfile(samples []Sample, timestamp int64) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "objects", Unit: "count"},
			{Type: "alloc_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
		TimeNanos:  timestamp,
	}

	funcs := make(map[string]*profile.Function)
	locs := make(map[string]*profile.Location)
	agg := make(map[string]*Sample)
	order := make([]string, 0, len(samples))
	for _, s := range samples {
		if _, ok := agg[s.Kind]; !ok {
			order = append(order, s.Kind)
			agg[s.Kind] = &Sample{Kind: s.Kind}
		}
		agg[s.Kind].Bytes += s.Bytes
		agg[s.Kind].Count += s.Count
	}

	var nextID uint64 = 1
	for _, kind := range order {
		fn, ok := funcs[kind]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: kind}
			nextID++
			funcs[kind] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locs[kind]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			locs[kind] = loc
			p.Location = append(p.Location, loc)
		}
		s := agg[kind]
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Count, s.Bytes},
		})
	}
	return p
}

// Write serializes prof in pprof's gzip-compressed protobuf wire format.
func Write(prof *profile.Profile, w io.Writer) error {
	return prof.Write(w)
}

// Now is a thin wrapper so callers can stamp BuildProfile's timestamp
// argument without importing time themselves at every call site.
func Now() int64 { return time.Now().UnixNano() }
