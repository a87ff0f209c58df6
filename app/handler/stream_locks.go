package handler

import "sync"

// streamLocks serializes chunks of one stream; different streams proceed
// concurrently.
type streamLocks struct {
	m sync.Map // stream name -> *sync.Mutex
}

func (l *streamLocks) lock(stream string) func() {
	v, _ := l.m.LoadOrStore(stream, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
