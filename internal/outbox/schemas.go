package outbox

import "example.com/signup/internal/events"

const participantSignedUpSchema = `{
  "type": "object",
  "title": "ParticipantSignedUp",
  "properties": {
    "event_id": {"type": "string"},
    "activity": {"type": "string"},
    "email": {"type": "string"},
    "roster_size": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity", "email", "roster_size", "occurred_at"],
  "additionalProperties": false
}`

const participantRemovedSchema = `{
  "type": "object",
  "title": "ParticipantRemoved",
  "properties": {
    "event_id": {"type": "string"},
    "activity": {"type": "string"},
    "email": {"type": "string"},
    "roster_size": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity", "email", "roster_size", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Subject string
	Schema  string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeParticipantSignedUp: {
		Subject: "participant_signed_up-value",
		Schema:  participantSignedUpSchema,
	},
	events.TypeParticipantRemoved: {
		Subject: "participant_removed-value",
		Schema:  participantRemovedSchema,
	},
}
