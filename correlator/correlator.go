// Package correlator groups observed events into DNS transactions and
// finalizes them at the end of the stream or after an idle window.
package correlator

import (
	"fmt"
	"slices"
	"time"

	"github.com/semihalev/dnswatch/event"
)

// DefaultShards is used when Options.Shards is not positive.
const DefaultShards = 32

// Options configures a Correlator.
type Options struct {
	Shards int

	// IdleWindow finalizes transactions idle for longer than the window.
	// Zero or less disables windowed finalization.
	IdleWindow time.Duration
}

// Correlator holds the live transactions of one run. It is safe for
// concurrent use; updates to a single key are serialized by its shard.
type Correlator struct {
	shards []*shard
	window time.Duration
}

// New returns an empty Correlator.
func New(opts Options) *Correlator {
	n := opts.Shards
	if n <= 0 {
		n = DefaultShards
	}

	c := &Correlator{
		shards: make([]*shard, n),
		window: opts.IdleWindow,
	}

	for i := range c.shards {
		c.shards[i] = newShard()
	}

	return c
}

// Ingest adds ev to its transaction. A transaction of the same name that
// has been idle for longer than the window at ev.Time is finalized first and
// returned, so a late event always opens a fresh transaction. It panics when
// ev breaks the event invariants, which only a broken parser can produce.
func (c *Correlator) Ingest(ev event.Event) []Transaction {
	if err := ev.Validate(); err != nil {
		panic(fmt.Sprintf("correlator: invalid event %q from %s: %v", ev.Name, ev.Ref, err))
	}

	expired := c.shards[shardIndex(ev.Name, len(c.shards))].Ingest(&ev, c.window)
	if len(expired) == 0 {
		return nil
	}

	return finalize(expired)
}

// DrainAll finalizes every live transaction.
func (c *Correlator) DrainAll() []Transaction {
	return c.drain(func(*Transaction) bool { return true })
}

// DrainExpired finalizes transactions whose last observation is older than
// the idle window at now.
func (c *Correlator) DrainExpired(now time.Time) []Transaction {
	if c.window <= 0 {
		return nil
	}

	return c.drain(func(tx *Transaction) bool {
		return now.Sub(tx.LastSeen) > c.window
	})
}

func (c *Correlator) drain(expired func(*Transaction) bool) []Transaction {
	var txs []*Transaction
	for _, s := range c.shards {
		txs = append(txs, s.Drain(expired)...)
	}

	return finalize(txs)
}

// finalize orders txs by first observation and returns their snapshots.
func finalize(txs []*Transaction) []Transaction {
	slices.SortFunc(txs, func(a, b *Transaction) int {
		switch {
		case a.older(b):
			return -1
		case b.older(a):
			return 1
		}
		return compareKeys(a.Key, b.Key)
	})

	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.snapshot()
	}

	return out
}

func compareKeys(a, b Key) int {
	if a.Name != b.Name {
		if a.Name < b.Name {
			return -1
		}
		return 1
	}
	if a.HasID != b.HasID {
		if !a.HasID {
			return -1
		}
		return 1
	}
	return int(a.ID) - int(b.ID)
}

// Len returns the number of live transactions.
func (c *Correlator) Len() int {
	l := 0
	for _, s := range c.shards {
		l += s.Len()
	}
	return l
}

// IdleWindow returns the configured window.
func (c *Correlator) IdleWindow() time.Duration { return c.window }
