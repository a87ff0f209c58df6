// Package opregistry interns operator type/name pairs behind a numeric index.
// Each stored string can be read back exactly once.
package opregistry

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrAlreadyConsumed is returned when a string for an index was already taken.
	ErrAlreadyConsumed = errors.New("op string already consumed")
	// ErrUnknownIndex is returned for an index that was never interned.
	ErrUnknownIndex = errors.New("unknown op index")
	// ErrIndexExhausted is returned when the index counter cannot advance.
	ErrIndexExhausted = errors.New("op index exhausted")
)

// TakeOnce is the result of a single read from the registry.
type TakeOnce[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the read succeeded.
func (t TakeOnce[T]) Ok() bool {
	return t.Err == nil
}

// Get returns the value and the error of the read.
func (t TakeOnce[T]) Get() (T, error) {
	return t.Value, t.Err
}

// Registry hands out sequential non-zero indexes. Indexes are never reused.
type Registry struct {
	mu        sync.Mutex
	last      uint64
	limit     uint64
	exhausted bool
	types     map[uint64]string
	names     map[uint64]string
}

// New creates an empty registry.
func New() *Registry {
	return newWithLimit(math.MaxUint64)
}

func newWithLimit(limit uint64) *Registry {
	return &Registry{
		limit: limit,
		types: make(map[uint64]string),
		names: make(map[uint64]string),
	}
}

// Intern stores opType and opName under the next index.
func (r *Registry) Intern(opType, opName string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last >= r.limit {
		r.exhausted = true
		return 0, ErrIndexExhausted
	}
	r.last++
	r.types[r.last] = opType
	r.names[r.last] = opName
	return r.last, nil
}

// TakeType returns and removes the op type stored under idx.
func (r *Registry) TakeType(idx uint64) TakeOnce[string] {
	return r.take(r.types, idx, "type")
}

// TakeName returns and removes the op name stored under idx.
func (r *Registry) TakeName(idx uint64) TakeOnce[string] {
	return r.take(r.names, idx, "name")
}

func (r *Registry) take(m map[uint64]string, idx uint64, what string) TakeOnce[string] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := m[idx]; ok {
		delete(m, idx)
		return TakeOnce[string]{Value: v}
	}
	if idx != 0 && idx <= r.last {
		return TakeOnce[string]{Err: fmt.Errorf("%w: %s of index %d", ErrAlreadyConsumed, what, idx)}
	}
	return TakeOnce[string]{Err: fmt.Errorf("%w: %d", ErrUnknownIndex, idx)}
}

// Len returns the number of indexes with at least one unread string.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.types)
	for idx := range r.names {
		if _, ok := r.types[idx]; !ok {
			n++
		}
	}
	return n
}

// Exhausted reports whether an Intern call has failed for lack of indexes.
func (r *Registry) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}
