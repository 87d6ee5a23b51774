package notify

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotificationNotFound is returned for an unknown notification id.
var ErrNotificationNotFound = errors.New("notification not found")

// Notification is an offline, user-visible record of an event.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Type      EventName  `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Read      bool       `json:"read"`
	SessionID *string    `json:"sessionId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// titles lists the events worth keeping offline. Queue bookkeeping and read
// receipts only matter to a live client.
var titles = map[EventName]string{
	EventMatchingFound: "매칭 성공",
	EventMatchRequest:  "새로운 매칭 요청",
	EventMatchAccepted: "매칭 수락",
	EventMatchRejected: "매칭 거절",
}

// Inbox keeps the most recent notifications per user in memory.
type Inbox struct {
	mu      sync.Mutex
	byUser  map[string][]*Notification
	perUser int
	now     func() time.Time
}

// NewInbox keeps at most perUser notifications per user, dropping the oldest.
func NewInbox(perUser int) *Inbox {
	if perUser < 1 {
		perUser = 100
	}
	return &Inbox{
		byUser:  make(map[string][]*Notification),
		perUser: perUser,
		now:     time.Now,
	}
}

// Deliver stores ev as a notification if its type is kept offline.
func (i *Inbox) Deliver(ev Event) {
	title, keep := titles[ev.Name]
	if !keep {
		return
	}
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    ev.Identity,
		Type:      ev.Name,
		Title:     title,
		SessionID: ev.SessionID,
		CreatedAt: i.now().UTC(),
	}
	if m, ok := ev.Data.(messager); ok {
		n.Message = m.EventMessage()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	list := append(i.byUser[ev.Identity], n)
	if len(list) > i.perUser {
		list = list[len(list)-i.perUser:]
	}
	i.byUser[ev.Identity] = list
}

// List returns the user's notifications, newest first.
func (i *Inbox) List(userID string) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Notification, 0, len(i.byUser[userID]))
	for _, n := range i.byUser[userID] {
		out = append(out, *n)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (i *Inbox) UnreadCount(userID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	count := 0
	for _, n := range i.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}

func (i *Inbox) markRead(userID, id string) (Notification, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, n := range i.byUser[userID] {
		if n.ID != id {
			continue
		}
		if n.Read {
			return *n, false, nil
		}
		at := i.now().UTC()
		n.Read = true
		n.ReadAt = &at
		return *n, true, nil
	}
	return Notification{}, false, ErrNotificationNotFound
}

// MarkRead flags a notification as read and, the first time, tells the
// user's live connections through notification_read.
func (d *Dispatcher) MarkRead(userID, notificationID string) (Notification, error) {
	if d.inbox == nil {
		return Notification{}, ErrNotificationNotFound
	}
	n, changed, err := d.inbox.markRead(userID, notificationID)
	if err != nil {
		return n, err
	}
	if changed {
		d.Publish(NewEvent(EventNotificationRead, userID, NotificationReadPayload{
			NotificationID: n.ID,
			UserID:         userID,
		}))
	}
	return n, nil
}
