package correlator

import (
	"net/netip"
	"slices"
	"time"

	"github.com/semihalev/dnswatch/event"
)

// State of a transaction.
type State uint8

const (
	// Open transactions are still owned by the correlator.
	Open State = iota
	// Finalized transactions are read-only snapshots.
	Finalized
)

func (s State) String() string {
	if s == Finalized {
		return "finalized"
	}
	return "open"
}

// Response is one response observation in a transaction.
type Response struct {
	Answer    string
	HasAnswer bool
	Source    netip.Addr

	Time time.Time
	Seq  uint64
	Ref  string
}

func (r Response) before(o Response) bool {
	if !r.Time.Equal(o.Time) {
		return r.Time.Before(o.Time)
	}
	return r.Seq < o.Seq
}

// Transaction groups the observations sharing one key.
type Transaction struct {
	Key     Key
	Backend event.Backend

	// Responses are ordered by time then ingestion order. Duplicates are kept.
	Responses []Response

	// Queries and Unanswered only count; they never become evidence.
	Queries    int
	Unanswered int

	FirstSeen time.Time
	LastSeen  time.Time
	State     State

	firstSeq uint64
}

func newTransaction(key Key, ev *event.Event) *Transaction {
	return &Transaction{
		Key:       key,
		Backend:   ev.Backend,
		FirstSeen: ev.Time,
		LastSeen:  ev.Time,
		firstSeq:  ev.Seq,
	}
}

func (t *Transaction) add(ev *event.Event) {
	if ev.Time.Before(t.FirstSeen) {
		t.FirstSeen = ev.Time
	}
	if ev.Time.After(t.LastSeen) {
		t.LastSeen = ev.Time
	}
	if ev.Seq < t.firstSeq {
		t.firstSeq = ev.Seq
	}

	if ev.Direction == event.Query {
		t.Queries++
		return
	}

	// NXDOMAIN and NODATA answers say nothing about the resolved value
	if ev.Backend == event.Packet && !ev.HasAnswer {
		t.Unanswered++
		return
	}

	r := Response{
		Answer:    ev.Answer,
		HasAnswer: ev.HasAnswer,
		Source:    ev.Source(),
		Time:      ev.Time,
		Seq:       ev.Seq,
		Ref:       ev.Ref,
	}

	// events usually arrive in order, so search from the tail
	i := len(t.Responses)
	for i > 0 && r.before(t.Responses[i-1]) {
		i--
	}
	t.Responses = slices.Insert(t.Responses, i, r)
}

// Answered reports whether any response carried an answer.
func (t *Transaction) Answered() bool {
	return slices.ContainsFunc(t.Responses, func(r Response) bool { return r.HasAnswer })
}

func (t *Transaction) snapshot() Transaction {
	s := *t
	s.Responses = slices.Clone(t.Responses)
	s.State = Finalized
	return s
}

func (t *Transaction) older(o *Transaction) bool {
	if !t.FirstSeen.Equal(o.FirstSeen) {
		return t.FirstSeen.Before(o.FirstSeen)
	}
	return t.firstSeq < o.firstSeq
}
