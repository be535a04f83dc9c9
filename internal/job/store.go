package job

import (
	"slices"
	"sync"
)

// Store holds job records keyed by ID.
//
// Every operation runs under one mutex scoped to the store instance. Records
// are copied on the way in and out, so callers never share memory with the
// stored state and never observe a partially applied mutation.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Record
	seq  uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Record),
	}
}

// Put inserts or overwrites the record stored under rec.ID.
// Collision avoidance is the caller's responsibility.
func (s *Store) Put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.clone()
	if existing, ok := s.jobs[rec.ID]; ok {
		stored.seq = existing.seq
	} else {
		s.seq++
		stored.seq = s.seq
	}
	s.jobs[rec.ID] = stored
}

// PutIfAbsent inserts rec unless its ID is already taken. Returns false on collision.
func (s *Store) PutIfAbsent(rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.ID]; exists {
		return false
	}
	stored := rec.clone()
	s.seq++
	stored.seq = s.seq
	s.jobs[rec.ID] = stored
	return true
}

// Get returns a copy of the record stored under id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Delete removes the record stored under id. Returns true if it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Mutate applies fn to a copy of the record stored under id and commits the
// copy only if fn returns nil. Returns false if id is unknown.
func (s *Store) Mutate(id string, fn func(*Record) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	working := rec.clone()
	if err := fn(working); err != nil {
		return false, err
	}
	working.ID = rec.ID
	working.seq = rec.seq
	s.jobs[id] = working
	return true, nil
}

// List returns copies of all records matching pred, newest first by creation
// time. A nil pred matches everything. pred must not modify or retain the record.
func (s *Store) List(pred func(*Record) bool) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if pred == nil || pred(rec) {
			out = append(out, rec.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
