// Package events defines the roster event payloads published by the sign-up service.
package events

import "time"

// Event types carried in the event_type Kafka header.
const (
	TypeParticipantSignedUp = "participant.signed_up"
	TypeParticipantRemoved  = "participant.removed"
)

// ParticipantSignedUp is emitted after an email joins an activity roster.
type ParticipantSignedUp struct {
	EventID    string    `json:"event_id"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	RosterSize int       `json:"roster_size"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParticipantRemoved is emitted after an email leaves an activity roster.
type ParticipantRemoved struct {
	EventID    string    `json:"event_id"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	RosterSize int       `json:"roster_size"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ID returns the event identifier carried in the event_id Kafka header.
func (e ParticipantSignedUp) ID() string { return e.EventID }

// ID returns the event identifier carried in the event_id Kafka header.
func (e ParticipantRemoved) ID() string { return e.EventID }
