package classifier

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/semihalev/dnswatch/correlator"
)

// Kind of anomaly.
type Kind uint8

const (
	// MultipleResponses is repetition without visible answers.
	MultipleResponses Kind = iota + 1
	// ConflictingResponses is two or more different answers for one key.
	ConflictingResponses
)

var kindNames = map[Kind]string{
	MultipleResponses:    "multiple_responses",
	ConflictingResponses: "conflicting_responses",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown anomaly kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts the lower or upper case kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown anomaly kind %q", text)
}

// Severity is ordered Low < Medium < High < Critical.
type Severity uint8

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

var severityNames = map[Severity]string{
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("unknown severity %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for sev, n := range severityNames {
		if n == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Severities lists the severities from highest to lowest.
var Severities = []Severity{Critical, High, Medium, Low}

// Evidence is one distinct answer and source pair.
type Evidence struct {
	Answer    string
	Source    netip.Addr
	Count     int
	FirstSeen time.Time

	// Trusted is set when Source is one of the configured resolvers.
	Trusted bool
}

// Anomaly is the classification of one finalized transaction.
type Anomaly struct {
	Kind     Kind
	Key      correlator.Key
	Severity Severity

	// Count is the number of responses in the transaction.
	Count int

	// Evidence of a MultipleResponses anomaly has no answers, one entry
	// per source seen.
	Evidence []Evidence

	FirstSeen time.Time
	LastSeen  time.Time
}

// Answers returns the distinct answers in evidence order. Only conflicting
// responses have answers.
func (a *Anomaly) Answers() []string {
	if a.Kind != ConflictingResponses {
		return nil
	}

	var out []string
	seen := make(map[string]struct{}, len(a.Evidence))
	for _, e := range a.Evidence {
		if _, ok := seen[e.Answer]; ok {
			continue
		}
		seen[e.Answer] = struct{}{}
		out = append(out, e.Answer)
	}
	return out
}
