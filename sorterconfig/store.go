package sorterconfig

import (
	"reflect"
	"sync/atomic"
)

// Store hands out the current validated Snapshot and atomically swaps it
// on ReloadConfig, generalizing the retained-publish-on-change idiom: the
// handle is replaced as a whole, never mutated in place, so readers never
// observe a half-updated snapshot.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore validates initial and returns a Store seeded with it.
func NewStore(initial Snapshot) (*Store, error) {
	if err := Validate(initial); err != nil {
		return nil, err
	}
	s := &Store{}
	s.ptr.Store(&initial)
	return s, nil
}

// Load returns the current snapshot. Safe for concurrent use with Reload.
func (s *Store) Load() Snapshot {
	return *s.ptr.Load()
}

// Reload validates next and, if acceptable, atomically replaces the
// current snapshot. Reloading the snapshot currently in effect is a
// observable no-op: Validate still runs, but the pointer swap is skipped
// so no consumer sees a new generation.
func (s *Store) Reload(next Snapshot) error {
	if err := Validate(next); err != nil {
		return err
	}
	if reflect.DeepEqual(s.Load(), next) {
		return nil
	}
	s.ptr.Store(&next)
	return nil
}
