package correlator

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key is the correlation identity of a transaction. Packet queries add the
// DNS transaction ID to the name.
type Key struct {
	Name  string
	ID    uint16
	HasID bool
}

func (k Key) String() string {
	if !k.HasID {
		return k.Name
	}
	return k.Name + "#" + strconv.Itoa(int(k.ID))
}

// shardIndex picks the shard owning name. Keys with and without an ID for
// the same name always land in the same shard.
func shardIndex(name string, n int) int {
	return int(xxhash.Sum64String(name) % uint64(n)) //nolint:gosec // n is a small positive shard count
}
