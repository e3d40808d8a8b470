package store

import (
	"sync"

	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
)

const lockShards = 256

// keyedMutex linearizes operations on one fingerprint while letting
// unrelated keys proceed. Keys are uniformly distributed, so the first byte
// is a fair shard index.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedMutex) lock(key fingerprint.Key) func() {
	m := &k.shards[key[0]]
	m.Lock()
	return m.Unlock
}
