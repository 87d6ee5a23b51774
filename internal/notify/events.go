// Package notify delivers matching lifecycle events to the live connections
// of a user identity ("room") and falls back to an offline inbox when nobody
// is listening.
package notify

import (
	"time"

	"github.com/google/uuid"

	"onetime/matching-service/internal/model"
)

// EventName is the wire name of a realtime event.
type EventName string

const (
	EventMatchingFound    EventName = "matching_found"
	EventMatchRequest     EventName = "match_request"
	EventMatchAccepted    EventName = "match_accepted"
	EventMatchRejected    EventName = "match_rejected"
	EventQueueJoined      EventName = "matching_queue_joined"
	EventQueueLeft        EventName = "matching_queue_left"
	EventNotificationRead EventName = "notification_read"
)

// Known reports whether n is an event name the service emits, or the
// wildcard.
func Known(n EventName) bool {
	switch n {
	case EventMatchingFound, EventMatchRequest, EventMatchAccepted, EventMatchRejected,
		EventQueueJoined, EventQueueLeft, EventNotificationRead, allEvents:
		return true
	}
	return false
}

// Event is one message addressed to a single identity's room.
type Event struct {
	ID       string    `json:"id"`
	Name     EventName `json:"event"`
	Identity string    `json:"identity"`
	Data     any       `json:"data,omitempty"`
	// SessionID marks action-required events; an offline notification keeps it.
	SessionID *string   `json:"sessionId,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent stamps a fresh id and time.
func NewEvent(name EventName, identity string, data any) Event {
	return Event{
		ID:       uuid.NewString(),
		Name:     name,
		Identity: identity,
		Data:     data,
		At:       time.Now().UTC(),
	}
}

// WithSession returns a copy referencing the given match session.
func (e Event) WithSession(id string) Event {
	e.SessionID = &id
	return e
}

// messager is implemented by payloads that carry a user-facing message.
type messager interface {
	EventMessage() string
}

type MatchingFoundPayload struct {
	Matches []model.MatchCandidate `json:"matches"`
	Message string                 `json:"message"`
}

func (p MatchingFoundPayload) EventMessage() string { return p.Message }

type MatchRequestPayload struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

func (p MatchRequestPayload) EventMessage() string { return p.Message }

type MatchAcceptedPayload struct {
	MatchID string           `json:"matchId"`
	Job     model.JobPosting `json:"job"`
	Message string           `json:"message"`
}

func (p MatchAcceptedPayload) EventMessage() string { return p.Message }

type MatchRejectedPayload struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

func (p MatchRejectedPayload) EventMessage() string { return p.Message }

// QueuePayload accompanies matching_queue_joined and matching_queue_left.
type QueuePayload struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p QueuePayload) EventMessage() string { return p.Message }

type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
}
