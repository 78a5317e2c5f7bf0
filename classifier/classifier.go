// Package classifier decides whether a finalized transaction is a spoofing
// indicator and how severe it is.
package classifier

import (
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/semihalev/dnswatch/correlator"
	"github.com/yl2chen/cidranger"
)

// Options configures a Classifier.
type Options struct {
	// TrustedNets are CIDRs of resolvers whose answers are marked trusted.
	TrustedNets []string
}

// Classifier is safe for concurrent use.
type Classifier struct {
	trusted cidranger.Ranger
}

// New returns a Classifier.
func New(opts Options) (*Classifier, error) {
	c := &Classifier{trusted: cidranger.NewPCTrieRanger()}

	for _, cidr := range opts.TrustedNets {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted network %q: %w", cidr, err)
		}

		if err := c.trusted.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			return nil, fmt.Errorf("trusted network %q: %w", cidr, err)
		}
	}

	return c, nil
}

// Classify returns the anomaly tx represents, if any.
func (c *Classifier) Classify(tx correlator.Transaction) (Anomaly, bool) {
	if len(tx.Responses) <= 1 {
		return Anomaly{}, false
	}

	distinct := make(map[string]struct{})
	for _, r := range tx.Responses {
		if r.HasAnswer {
			distinct[r.Answer] = struct{}{}
		}
	}

	a := Anomaly{
		Key:       tx.Key,
		Count:     len(tx.Responses),
		FirstSeen: tx.FirstSeen,
		LastSeen:  tx.LastSeen,
	}

	switch {
	case len(distinct) == 0:
		// log lines only show that a response happened, never what it said
		a.Kind, a.Severity = MultipleResponses, High
	case len(distinct) == 1:
		return Anomaly{}, false
	default:
		a.Kind, a.Severity = ConflictingResponses, Critical
	}

	a.Evidence = c.evidence(tx.Responses, len(distinct) > 0)

	return a, true
}

type pair struct {
	answer string
	source netip.Addr
}

// evidence counts distinct answer and source pairs. Responses are already in
// time order, so the build order is first-seen order. Responses without an
// answer only count when answered is false.
func (c *Classifier) evidence(responses []correlator.Response, answered bool) []Evidence {
	index := make(map[pair]int)

	var out []Evidence
	for _, r := range responses {
		if answered && !r.HasAnswer {
			continue
		}

		p := pair{r.Answer, r.Source}
		if i, ok := index[p]; ok {
			out[i].Count++
			continue
		}

		index[p] = len(out)
		out = append(out, Evidence{
			Answer:    r.Answer,
			Source:    r.Source,
			Count:     1,
			FirstSeen: r.Time,
			Trusted:   c.isTrusted(r.Source),
		})
	}

	slices.SortStableFunc(out, func(a, b Evidence) int {
		return b.Count - a.Count
	})

	return out
}

func (c *Classifier) isTrusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}

	ok, err := c.trusted.Contains(net.IP(addr.AsSlice()))
	return err == nil && ok
}
