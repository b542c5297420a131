// Package locks serialises work on the same key without a lock per key.
package locks

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const DefaultStripes = 256

// Striped maps keys onto a fixed set of mutexes. Two keys may share a stripe,
// so a holder must never acquire a second key while holding one.
type Striped struct {
	stripes []sync.Mutex
}

func NewStriped(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its release function.
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[xxh3.HashString(key)%uint64(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}
