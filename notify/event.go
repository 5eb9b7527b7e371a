package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened to a poll.
type EventType string

const (
	EventPollCreated EventType = "poll_created"
	EventPollStatus  EventType = "poll_status_changed"
	EventVotesReset  EventType = "poll_votes_reset"
)

// Event is one member-notification message. MessageID is the idempotency key
// consumers de-duplicate on.
type Event struct {
	Type      EventType `json:"type"`
	PollID    uint      `json:"poll_id"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	MessageID string    `json:"message_id"`
	Timestamp int64     `json:"timestamp"`
}

// NewEvent builds an event with a fresh message id.
func NewEvent(eventType EventType, pollID uint, title, detail string) Event {
	return Event{
		Type:      eventType,
		PollID:    pollID,
		Title:     title,
		Detail:    detail,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().Unix(),
	}
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}
