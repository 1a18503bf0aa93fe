package session

import (
	"sort"
	"sync"
	"time"
)

// Pending tracks one outstanding operation awaiting its correlated answer.
type Pending[K comparable, V any] struct {
	Key      K
	Value    V
	QueuedAt time.Time
	Deadline time.Time
}

// Expired reports whether the deadline has passed at now. A zero deadline never expires.
func (p Pending[K, V]) Expired(now time.Time) bool {
	return !p.Deadline.IsZero() && !now.Before(p.Deadline)
}

// PendingTable stores outstanding operations by correlation id.
type PendingTable[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]Pending[K, V]
}

func NewPendingTable[K comparable, V any]() *PendingTable[K, V] {
	return &PendingTable[K, V]{
		items: make(map[K]Pending[K, V]),
	}
}

// Insert records an operation. It reports false, leaving the table
// unchanged, when key is already pending.
func (p *PendingTable[K, V]) Insert(item Pending[K, V]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[item.Key]; ok {
		return false
	}
	p.items[item.Key] = item
	return true
}

func (p *PendingTable[K, V]) Get(key K) (Pending[K, V], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[key]
	return item, ok
}

// Take removes and returns the operation pending under key.
func (p *PendingTable[K, V]) Take(key K) (Pending[K, V], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if ok {
		delete(p.items, key)
	}
	return item, ok
}

// TakeExpired removes and returns every operation whose deadline has passed.
func (p *PendingTable[K, V]) TakeExpired(now time.Time) []Pending[K, V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Pending[K, V]
	for key, item := range p.items {
		if item.Expired(now) {
			out = append(out, item)
			delete(p.items, key)
		}
	}
	sortByQueuedAt(out)
	return out
}

// Drain removes and returns everything.
func (p *PendingTable[K, V]) Drain() []Pending[K, V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Pending[K, V], 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	clear(p.items)
	sortByQueuedAt(out)
	return out
}

func (p *PendingTable[K, V]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func (p *PendingTable[K, V]) List() []Pending[K, V] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Pending[K, V], 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sortByQueuedAt(out)
	return out
}

func sortByQueuedAt[K comparable, V any](items []Pending[K, V]) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})
}
