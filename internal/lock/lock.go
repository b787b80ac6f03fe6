// Package lock serializes pipelines per (project, environment) pair so
// two concurrent deploys cannot select the same target slot and two
// promotes cannot double-flip the active slot.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy means another pipeline currently holds the pair.
var ErrBusy = errors.New("lock: pipeline already running for this project environment")

// Locker grants exclusive access to a key for at most ttl. The returned
// release func must be called when the pipeline finishes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// KeyedMutex is an in-process Locker keyed by string. Acquire does not
// block: a held key fails fast with ErrBusy.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex returns an empty in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

// Acquire claims the key or fails with ErrBusy.
func (k *KeyedMutex) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.held[key]; ok {
		return nil, ErrBusy
	}
	k.held[key] = struct{}{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}
	return release, nil
}
