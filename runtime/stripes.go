package runtime

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultStripes = 64

// stripes is a fixed set of mutexes addressed by key hash.
// Two keys may share a stripe, so a holder must never take a second stripe.
type stripes struct {
	locks []sync.Mutex
}

func newStripes(n int) *stripes {
	if n <= 0 {
		n = defaultStripes
	}
	return &stripes{locks: make([]sync.Mutex, n)}
}

// lock acquires the stripe of key and returns its unlock function.
func (s *stripes) lock(key string) func() {
	m := &s.locks[stripeIndex(key, len(s.locks))]
	m.Lock()
	return m.Unlock
}

// stripeIndex hashes through the streaming murmur3 hasher, Sum32 converts raw uintptrs
// to pointers and aborts under the race detector's checkptr.
func stripeIndex(key string, n int) int {
	h := murmur3.New32()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
