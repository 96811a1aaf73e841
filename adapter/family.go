package adapter

import (
	"slices"
	"strings"
	"sync"

	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// entry is the shape shared by observations, assets and devices.
type entry[T any] interface {
	Key() string
	ChangeID() mtconnect.ChangeID
	Clone() T
	WithTimestamp(ts int64) T
}

// family is the current/lastSent/sent state of one entity family.
// All maps are guarded by mu.
type family[T entry[T]] struct {
	name string

	mu       sync.Mutex
	current  map[string]T
	lastSent map[string]T
	sent     map[string]mtconnect.ChangeID
}

func newFamily[T entry[T]](name string) *family[T] {
	return &family[T]{
		name:     name,
		current:  make(map[string]T),
		lastSent: make(map[string]T),
		sent:     make(map[string]mtconnect.ChangeID),
	}
}

// putLocked stores item as current unless filter is set and the current
// value has the same fingerprint. Reports whether the item was stored.
func (f *family[T]) putLocked(item T, filter bool) bool {
	key := item.Key()
	if filter {
		if existing, ok := f.current[key]; ok && existing.ChangeID() == item.ChangeID() {
			return false
		}
	}
	f.current[key] = item
	return true
}

func (f *family[T]) put(item T, filter bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(item, filter)
}

// take removes key from current.
func (f *family[T]) take(key string) {
	f.mu.Lock()
	delete(f.current, key)
	f.mu.Unlock()
}

// changed copies every current value whose fingerprint differs from the
// one last written for its key, ordered by key.
func (f *family[T]) changed() []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	var batch []T
	for key, item := range f.current {
		if sent, ok := f.sent[key]; ok && sent == item.ChangeID() {
			continue
		}
		batch = append(batch, item.Clone())
	}
	sortByKey(batch)
	return batch
}

// commit records items as successfully written. Later items win per key.
func (f *family[T]) commit(items []T) {
	if len(items) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range items {
		key := item.Key()
		f.lastSent[key] = item.Clone()
		f.sent[key] = item.ChangeID()
	}
}

// last copies the lastSent values ordered by key. A positive ts
// re-stamps every copy.
func (f *family[T]) last(ts int64) []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]T, 0, len(f.lastSent))
	for _, item := range f.lastSent {
		if ts > 0 {
			batch = append(batch, item.WithTimestamp(ts))
		} else {
			batch = append(batch, item.Clone())
		}
	}
	sortByKey(batch)
	return batch
}

func (f *family[T]) get(key string) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.current[key]
	if ok {
		item = item.Clone()
	}
	return item, ok
}

// forget drops every trace of the keys matching match and returns them.
func (f *family[T]) forget(match func(T) bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []string
	seen := make(map[string]bool)
	drop := func(m map[string]T) {
		for key, item := range m {
			if !match(item) {
				continue
			}
			if !seen[key] {
				seen[key] = true
				removed = append(removed, key)
			}
		}
	}
	drop(f.current)
	drop(f.lastSent)

	for _, key := range removed {
		delete(f.current, key)
		delete(f.lastSent, key)
		delete(f.sent, key)
	}
	slices.Sort(removed)
	return removed
}

func (f *family[T]) currentLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.current)
}

func sortByKey[T entry[T]](items []T) {
	slices.SortFunc(items, func(a, b T) int {
		return strings.Compare(a.Key(), b.Key())
	})
}
