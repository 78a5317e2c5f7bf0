package report

import (
	"encoding/json"
	"io"
	"net/netip"
	"time"

	"github.com/semihalev/dnswatch/classifier"
	"gopkg.in/yaml.v3"
)

type evidenceDoc struct {
	Answer    string    `json:"answer" yaml:"answer"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Count     int       `json:"count" yaml:"count"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
	Trusted   bool      `json:"trusted,omitempty" yaml:"trusted,omitempty"`
}

type anomalyDoc struct {
	Index     int           `json:"index" yaml:"index"`
	Kind      string        `json:"kind" yaml:"kind"`
	Key       string        `json:"key" yaml:"key"`
	Name      string        `json:"name" yaml:"name"`
	ID        *uint16       `json:"id,omitempty" yaml:"id,omitempty"`
	Severity  string        `json:"severity" yaml:"severity"`
	Count     int           `json:"count" yaml:"count"`
	IPs       []string      `json:"ips,omitempty" yaml:"ips,omitempty"`
	Evidence  []evidenceDoc `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	FirstSeen time.Time     `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time     `json:"last_seen" yaml:"last_seen"`
}

func toDoc(index int, a classifier.Anomaly) anomalyDoc {
	d := anomalyDoc{
		Index:     index,
		Kind:      a.Kind.String(),
		Key:       a.Key.String(),
		Name:      a.Key.Name,
		Severity:  a.Severity.String(),
		Count:     a.Count,
		IPs:       a.Answers(),
		FirstSeen: a.FirstSeen,
		LastSeen:  a.LastSeen,
	}

	if a.Key.HasID {
		id := a.Key.ID
		d.ID = &id
	}

	for _, e := range a.Evidence {
		d.Evidence = append(d.Evidence, evidenceDoc{
			Answer:    e.Answer,
			Source:    addrString(e.Source),
			Count:     e.Count,
			FirstSeen: e.FirstSeen,
			Trusted:   e.Trusted,
		})
	}

	return d
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

type statsDoc struct {
	Units         uint64            `json:"units" yaml:"units"`
	Events        uint64            `json:"events" yaml:"events"`
	Ignored       uint64            `json:"ignored" yaml:"ignored"`
	Skipped       uint64            `json:"skipped" yaml:"skipped"`
	SkippedByKind map[string]uint64 `json:"skipped_by_kind,omitempty" yaml:"skipped_by_kind,omitempty"`
	Transactions  uint64            `json:"transactions" yaml:"transactions"`
	Anomalies     uint64            `json:"anomalies" yaml:"anomalies"`
	Stopped       bool              `json:"stopped,omitempty" yaml:"stopped,omitempty"`
}

func toStatsDoc(stats Stats) statsDoc {
	d := statsDoc{
		Units:        stats.Units,
		Events:       stats.Events,
		Ignored:      stats.Ignored,
		Skipped:      stats.Skipped,
		Transactions: stats.Transactions,
		Anomalies:    stats.Anomalies,
		Stopped:      stats.Stopped,
	}

	for kind, n := range stats.SkippedByKind {
		if n == 0 {
			continue
		}
		if d.SkippedByKind == nil {
			d.SkippedByKind = make(map[string]uint64)
		}
		d.SkippedByKind[kind.String()] = n
	}

	return d
}

// WriteJSON writes one JSON object per anomaly, in report order, followed
// by a last line holding only the run statistics under "stats".
func (s *Sink) WriteJSON(w io.Writer, stats Stats) error {
	enc := json.NewEncoder(w)

	for i, a := range s.grouped() {
		if err := enc.Encode(toDoc(i+1, a)); err != nil {
			return err
		}
	}

	return enc.Encode(struct {
		Stats statsDoc `json:"stats"`
	}{toStatsDoc(stats)})
}

type yamlReport struct {
	Anomalies []anomalyDoc `yaml:"anomalies"`
	Stats     statsDoc     `yaml:"stats"`
}

// WriteYAML writes the anomalies and the run statistics as one YAML
// document.
func (s *Sink) WriteYAML(w io.Writer, stats Stats) error {
	doc := yamlReport{
		Anomalies: []anomalyDoc{},
		Stats:     toStatsDoc(stats),
	}

	for i, a := range s.grouped() {
		doc.Anomalies = append(doc.Anomalies, toDoc(i+1, a))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(doc); err != nil {
		return err
	}

	return enc.Close()
}
