package correlator

import (
	"sync"
	"time"

	"github.com/semihalev/dnswatch/event"
)

// shard owns the live transactions for a subset of names.
type shard struct {
	items map[Key]*Transaction

	sync.Mutex
}

func newShard() *shard { return &shard{items: make(map[Key]*Transaction)} }

// Ingest adds ev to the transaction it belongs to, opening one if needed.
// With a positive window, transactions of ev's name idle for longer than the
// window at ev.Time are removed first and returned.
func (s *shard) Ingest(ev *event.Event, window time.Duration) []*Transaction {
	s.Lock()
	defer s.Unlock()

	var expired []*Transaction
	if window > 0 {
		candidates := []Key{{Name: ev.Name}}
		if ev.Backend == event.Packet && ev.HasID {
			candidates = append(candidates, Key{Name: ev.Name, ID: ev.ID, HasID: true})
		}

		for _, key := range candidates {
			if tx, found := s.items[key]; found && ev.Time.Sub(tx.LastSeen) > window {
				expired = append(expired, tx)
				delete(s.items, key)
			}
		}
	}

	key := s.keyOf(ev)

	tx, found := s.items[key]
	if !found {
		tx = newTransaction(key, ev)
		s.items[key] = tx
	}

	tx.add(ev)

	return expired
}

// keyOf must be called with the lock held.
func (s *shard) keyOf(ev *event.Event) Key {
	key := Key{Name: ev.Name}

	if ev.Backend != event.Packet || !ev.HasID {
		return key
	}

	withID := Key{Name: ev.Name, ID: ev.ID, HasID: true}

	// Only queries open ID keyed transactions. A response whose ID matches
	// no outstanding query still lands on the name so it is not lost.
	if ev.Direction == event.Query {
		return withID
	}
	if _, found := s.items[withID]; found {
		return withID
	}

	return key
}

// Drain removes and returns the transactions for which expired is true.
func (s *shard) Drain(expired func(*Transaction) bool) []*Transaction {
	s.Lock()
	defer s.Unlock()

	var out []*Transaction
	for key, tx := range s.items {
		if expired(tx) {
			out = append(out, tx)
			delete(s.items, key)
		}
	}

	return out
}

// Len returns the number of live transactions.
func (s *shard) Len() int {
	s.Lock()
	l := len(s.items)
	s.Unlock()
	return l
}
