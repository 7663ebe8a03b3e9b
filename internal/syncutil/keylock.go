// Package syncutil holds small concurrency helpers shared by the registries.
package syncutil

import (
	"hash/maphash"
	"sync"
)

const stripes = 64

// KeyedMutex serializes operations per key. Keys that hash to different
// stripes proceed in parallel.
type KeyedMutex struct {
	seed  maphash.Seed
	locks [stripes]sync.Mutex
}

// NewKeyedMutex creates a striped key lock
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{seed: maphash.MakeSeed()}
}

// Lock acquires the stripe owning key and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	mu := &k.locks[maphash.String(k.seed, key)%stripes]
	mu.Lock()
	return mu.Unlock
}
