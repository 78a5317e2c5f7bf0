// Package report collects anomaly records and renders them for people and
// for other tools.
package report

import (
	"slices"
	"sync"

	"github.com/semihalev/dnswatch/classifier"
	"github.com/semihalev/dnswatch/event"
)

// Stats are the counters of one run.
type Stats struct {
	// Units read from the source.
	Units uint64
	// Events parsed and correlated.
	Events uint64
	// Ignored units are not DNS observations, such as log lines without
	// the response marker.
	Ignored uint64
	// Skipped units failed to parse.
	Skipped       uint64
	SkippedByKind map[event.ErrorKind]uint64

	Transactions uint64
	Anomalies    uint64

	// Stopped is set when the run was cancelled before the end of input.
	Stopped bool
}

// Summary counts recorded anomalies.
type Summary struct {
	Total      int
	ByKind     map[classifier.Kind]int
	BySeverity map[classifier.Severity]int
}

// Sink accumulates anomalies. Records are never changed or dropped once
// added. It is safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	records []classifier.Anomaly
	color   bool
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Record adds a.
func (s *Sink) Record(a classifier.Anomaly) {
	a.Evidence = slices.Clone(a.Evidence)

	s.mu.Lock()
	s.records = append(s.records, a)
	s.mu.Unlock()
}

// Anomalies returns the records in the order they were added.
func (s *Sink) Anomalies() []classifier.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]classifier.Anomaly, len(s.records))
	for i, a := range s.records {
		a.Evidence = slices.Clone(a.Evidence)
		out[i] = a
	}

	return out
}

// Len returns the number of records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Summary counts the records by kind and by severity.
func (s *Sink) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Total:      len(s.records),
		ByKind:     make(map[classifier.Kind]int),
		BySeverity: make(map[classifier.Severity]int),
	}

	for _, a := range s.records {
		sum.ByKind[a.Kind]++
		sum.BySeverity[a.Severity]++
	}

	return sum
}

// Colorize turns terminal colors in Render on or off.
func (s *Sink) Colorize(enabled bool) {
	s.mu.Lock()
	s.color = enabled
	s.mu.Unlock()
}

// grouped returns the records with conflicting responses first, then by
// severity, keeping record order within a group.
func (s *Sink) grouped() []classifier.Anomaly {
	out := s.Anomalies()

	slices.SortStableFunc(out, func(a, b classifier.Anomaly) int {
		if ga, gb := group(a.Kind), group(b.Kind); ga != gb {
			return ga - gb
		}
		return int(b.Severity) - int(a.Severity)
	})

	return out
}

func group(k classifier.Kind) int {
	if k == classifier.ConflictingResponses {
		return 0
	}
	return 1
}
