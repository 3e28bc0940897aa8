package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/herald/internal/storage"
)

// ProfileStore is the storage subset the voice store needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SaveVoiceProfile(data string, updatedAt time.Time) error
	LoadVoiceProfile() (string, time.Time, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store persists the voice-profile singleton with freshness semantics.
type Store struct {
	backend ProfileStore
	clock   Clock
}

// NewStore creates a Store over the given backend.
func NewStore(backend ProfileStore) *Store {
	return &Store{backend: backend, clock: realClock{}}
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(backend ProfileStore, clock Clock) *Store {
	return &Store{backend: backend, clock: clock}
}

// Load returns the persisted profile, or (nil, nil) when none exists yet.
func (s *Store) Load() (*Profile, error) {
	data, _, err := s.backend.LoadVoiceProfile()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading voice profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("parsing voice profile: %w", err)
	}
	return &p, nil
}

// Save persists the profile and stamps it with the current time.
func (s *Store) Save(p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling voice profile: %w", err)
	}
	if err := s.backend.SaveVoiceProfile(string(data), s.clock.Now()); err != nil {
		return fmt.Errorf("saving voice profile: %w", err)
	}
	return nil
}

// IsFresh reports whether the persisted profile is younger than maxAgeHours.
// The boundary is exclusive: a profile exactly maxAgeHours old is stale.
// A fresh profile must be reused without any learning calls; relearning is
// costly and rate-limited externally.
func (s *Store) IsFresh(maxAgeHours int) (bool, error) {
	_, updatedAt, err := s.backend.LoadVoiceProfile()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking voice profile freshness: %w", err)
	}
	age := s.clock.Now().Sub(updatedAt)
	return age < time.Duration(maxAgeHours)*time.Hour, nil
}
