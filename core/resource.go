package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ResourceID is a value-type token for a buffer parked in a ResourceStore.
// Whoever holds the token may take the buffer exactly once.
type ResourceID uuid.UUID

// NewResourceID returns a fresh random token.
func NewResourceID() ResourceID {
	return ResourceID(uuid.New())
}

// IsZero reports whether id is the zero token.
func (id ResourceID) IsZero() bool {
	return id == ResourceID(uuid.Nil)
}

func (id ResourceID) String() string {
	return uuid.UUID(id).String()
}

// ResourceStore is host-managed storage for buffers owned by suspended native
// calls. A buffer is reachable from exactly one token at a time: Take removes
// it, and putting it back yields a new token, so a stale token never aliases
// a live buffer.
type ResourceStore struct {
	data  sync.Map // map[ResourceID][]byte
	count atomic.Int64
}

// NewResourceStore creates an empty store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{}
}

// Put parks buf and returns the token that owns it.
func (s *ResourceStore) Put(buf []byte) ResourceID {
	id := NewResourceID()
	s.data.Store(id, buf)
	s.count.Add(1)
	return id
}

// Take removes the buffer for id and hands ownership to the caller.
func (s *ResourceStore) Take(id ResourceID) ([]byte, bool) {
	raw, ok := s.data.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	s.count.Add(-1)
	return raw.([]byte), true
}

// Release drops the buffer for id without returning it.
func (s *ResourceStore) Release(id ResourceID) bool {
	_, ok := s.Take(id)
	return ok
}

// Len returns the number of parked buffers.
func (s *ResourceStore) Len() int {
	return int(s.count.Load())
}
