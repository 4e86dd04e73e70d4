package domain

// Activity is an extracurricular offering together with its participant roster.
//
// MaxParticipants is advisory: clients use it to display remaining spots, but
// signups are never rejected for exceeding it.
type Activity struct {
	Name            string
	Description     string
	Schedule        string
	MaxParticipants int
	Participants    []string
}

// HasParticipant reports whether email is on the roster.
func (a Activity) HasParticipant(email string) bool {
	for _, p := range a.Participants {
		if p == email {
			return true
		}
	}
	return false
}

// SpotsLeft returns the advisory number of open places, which may be negative.
func (a Activity) SpotsLeft() int {
	return a.MaxParticipants - len(a.Participants)
}

// Clone returns a copy that shares no mutable state with a.
func (a Activity) Clone() Activity {
	out := a
	out.Participants = append([]string(nil), a.Participants...)
	return out
}
