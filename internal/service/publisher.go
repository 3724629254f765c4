// Package service provides application business logic for identity, friends,
// conversations, messages and calls.
package service

import (
	"context"
	"sync"
)

// Publisher delivers an event to every live connection of the given users.
// It reports how many connections accepted the event. Delivery is best
// effort; failures are handled by the publisher and never returned.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, userIDs ...string) int
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}, ...string) int { return 0 }

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func others(userIDs []string, exclude string) []string {
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
