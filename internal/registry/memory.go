// Package registry holds the in-process activity roster.
package registry

import (
	"context"
	"sort"
	"sync"

	"example.com/signup/internal/domain"
)

// InMemoryStore keeps activities in memory for the lifetime of the process.
type InMemoryStore struct {
	mu         sync.RWMutex
	activities map[string]*domain.Activity
}

// NewInMemoryStore constructs a store populated with seed. Later entries win on
// duplicate names.
func NewInMemoryStore(seed []domain.Activity) *InMemoryStore {
	store := &InMemoryStore{activities: make(map[string]*domain.Activity, len(seed))}
	for _, activity := range seed {
		clone := activity.Clone()
		store.activities[clone.Name] = &clone
	}
	return store
}

// List implements domain.ActivityRepository. Results are ordered by name.
func (s *InMemoryStore) List(ctx context.Context) ([]domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Activity, 0, len(s.activities))
	for _, activity := range s.activities {
		out = append(out, activity.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the activity by name, or nil when it does not exist.
func (s *InMemoryStore) Get(ctx context.Context, name string) (*domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.activities[name]
	if !ok {
		return nil, nil
	}
	clone := activity.Clone()
	return &clone, nil
}

// AddParticipant appends email to the roster.
func (s *InMemoryStore) AddParticipant(ctx context.Context, name, email string) (domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Activity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	activity, ok := s.activities[name]
	if !ok {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	if activity.HasParticipant(email) {
		return domain.Activity{}, domain.ErrAlreadySignedUp
	}
	activity.Participants = append(activity.Participants, email)
	return activity.Clone(), nil
}

// RemoveParticipant deletes email from the roster, keeping the order of the others.
func (s *InMemoryStore) RemoveParticipant(ctx context.Context, name, email string) (domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Activity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	activity, ok := s.activities[name]
	if !ok {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	for i, p := range activity.Participants {
		if p == email {
			activity.Participants = append(activity.Participants[:i], activity.Participants[i+1:]...)
			return activity.Clone(), nil
		}
	}
	return domain.Activity{}, domain.ErrParticipantNotFound
}

// RosterSizes reports the participant count of every activity.
func (s *InMemoryStore) RosterSizes() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.activities))
	for name, activity := range s.activities {
		out[name] = len(activity.Participants)
	}
	return out
}
