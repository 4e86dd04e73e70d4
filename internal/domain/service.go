// Package domain defines the business logic for the activity sign-up service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/signup/internal/events"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrAlreadySignedUp is returned when the email is already on the roster.
	ErrAlreadySignedUp = errors.New("participant already signed up")
	// ErrParticipantNotFound is returned when removing an email that is not on the roster.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrInvalidEmail is returned for a blank email.
	ErrInvalidEmail = errors.New("email is required")
)

// ActivityRepository captures roster storage. AddParticipant and RemoveParticipant
// must perform the membership check and the mutation as one atomic step and
// return the updated activity.
type ActivityRepository interface {
	List(ctx context.Context) ([]Activity, error)
	Get(ctx context.Context, name string) (*Activity, error)
	AddParticipant(ctx context.Context, name, email string) (Activity, error)
	RemoveParticipant(ctx context.Context, name, email string) (Activity, error)
}

// Publisher delivers roster events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish performs no action.
func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }

// RosterObserver is notified of roster sizes after each change.
type RosterObserver func(activity string, size int)

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger used to report publish failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRosterObserver registers a callback invoked after successful mutations.
func WithRosterObserver(fn RosterObserver) Option {
	return func(s *Service) {
		s.observe = fn
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates roster workflows.
type Service struct {
	repo      ActivityRepository
	publisher Publisher
	logger    *zap.Logger
	observe   RosterObserver
	now       func() time.Time
}

// NewService constructs a Service. A nil publisher disables event delivery.
func NewService(repo ActivityRepository, publisher Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	s := &Service{
		repo:      repo,
		publisher: publisher,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActivities returns every activity keyed by name.
func (s *Service) ListActivities(ctx context.Context) (map[string]Activity, error) {
	activities, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make(map[string]Activity, len(activities))
	for _, activity := range activities {
		out[activity.Name] = activity
	}
	return out, nil
}

// GetActivity fetches a single activity by name.
func (s *Service) GetActivity(ctx context.Context, name string) (*Activity, error) {
	activity, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get activity %q: %w", name, err)
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// Signup adds email to the roster of the named activity.
func (s *Service) Signup(ctx context.Context, name, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrInvalidEmail
	}

	updated, err := s.repo.AddParticipant(ctx, name, email)
	if err != nil {
		return fmt.Errorf("signup %q: %w", name, err)
	}

	size := len(updated.Participants)
	s.notify(name, size)
	s.publish(ctx, events.TypeParticipantSignedUp, name, events.ParticipantSignedUp{
		EventID:    uuid.NewString(),
		Activity:   name,
		Email:      email,
		RosterSize: size,
		OccurredAt: s.now(),
	})
	return nil
}

// Remove takes email off the roster of the named activity.
func (s *Service) Remove(ctx context.Context, name, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrInvalidEmail
	}

	updated, err := s.repo.RemoveParticipant(ctx, name, email)
	if err != nil {
		return fmt.Errorf("remove from %q: %w", name, err)
	}

	size := len(updated.Participants)
	s.notify(name, size)
	s.publish(ctx, events.TypeParticipantRemoved, name, events.ParticipantRemoved{
		EventID:    uuid.NewString(),
		Activity:   name,
		Email:      email,
		RosterSize: size,
		OccurredAt: s.now(),
	})
	return nil
}

func (s *Service) notify(name string, size int) {
	if s.observe != nil {
		s.observe(name, size)
	}
}

// publish never fails the caller; the roster change has already happened.
func (s *Service) publish(ctx context.Context, eventType, key string, payload any) {
	if err := s.publisher.Publish(ctx, eventType, key, payload); err != nil {
		s.logger.Warn("roster event not published",
			zap.String("event_type", eventType),
			zap.String("activity", key),
			zap.Error(err))
	}
}
