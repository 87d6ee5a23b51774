package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onetime/matching-service/internal/notify"
)

func startDispatcher(t *testing.T, opts notify.Options) *notify.Dispatcher {
	t.Helper()
	d := notify.NewDispatcher(opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func recv(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return notify.Event{}
}

func TestDispatcher_FIFOPerIdentity(t *testing.T) {
	d := startDispatcher(t, notify.Options{})
	sub, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		d.Publish(notify.NewEvent(notify.EventMatchRequest, "w1", notify.MatchRequestPayload{MatchID: string(rune('a' + i))}))
	}
	for i := 0; i < 20; i++ {
		ev := recv(t, sub.Events())
		p := ev.Data.(notify.MatchRequestPayload)
		assert.Equal(t, string(rune('a'+i)), p.MatchID)
	}
}

func TestDispatcher_RoomsAreIsolated(t *testing.T) {
	d := startDispatcher(t, notify.Options{})
	w1, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)
	w2, err := d.Subscribe(context.Background(), "w2")
	require.NoError(t, err)

	d.Publish(notify.NewEvent(notify.EventQueueJoined, "w2", notify.QueuePayload{Status: "QUEUED"}))

	ev := recv(t, w2.Events())
	assert.Equal(t, notify.EventQueueJoined, ev.Name)
	select {
	case ev := <-w1.Events():
		t.Fatalf("w1 received w2's event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_NameFilter(t *testing.T) {
	d := startDispatcher(t, notify.Options{})
	sub, err := d.Subscribe(context.Background(), "w1", notify.EventMatchAccepted)
	require.NoError(t, err)

	d.Publish(notify.NewEvent(notify.EventQueueJoined, "w1", nil))
	d.Publish(notify.NewEvent(notify.EventMatchAccepted, "w1", nil))

	ev := recv(t, sub.Events())
	assert.Equal(t, notify.EventMatchAccepted, ev.Name)
}

func TestDispatcher_OverlappingNamesDeliverOnce(t *testing.T) {
	tests := []struct {
		name  string
		names []notify.EventName
	}{
		{name: "wildcard with concrete name", names: []notify.EventName{"*", notify.EventMatchRequest}},
		{name: "duplicate names", names: []notify.EventName{notify.EventMatchRequest, notify.EventMatchRequest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := startDispatcher(t, notify.Options{})
			sub, err := d.Subscribe(context.Background(), "w1", tt.names...)
			require.NoError(t, err)

			d.Publish(notify.NewEvent(notify.EventMatchRequest, "w1", nil))
			d.Publish(notify.NewEvent(notify.EventMatchAccepted, "w1", nil))

			first := recv(t, sub.Events())
			assert.Equal(t, notify.EventMatchRequest, first.Name)
			select {
			case ev := <-sub.Events():
				assert.NotEqual(t, first.ID, ev.ID, "event delivered twice")
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, notify.Known(notify.EventMatchRequest))
	assert.True(t, notify.Known("*"))
	assert.False(t, notify.Known("card_moved"))
}

func TestDispatcher_MultipleSubscribersEachReceive(t *testing.T) {
	d := startDispatcher(t, notify.Options{})
	a, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)
	b, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token(), b.Token())
	assert.Equal(t, 2, d.Subscribers("w1"))

	d.Publish(notify.NewEvent(notify.EventMatchRejected, "w1", nil))
	assert.Equal(t, notify.EventMatchRejected, recv(t, a.Events()).Name)
	assert.Equal(t, notify.EventMatchRejected, recv(t, b.Events()).Name)
}

func TestDispatcher_UnsubscribeClosesChannel(t *testing.T) {
	d := startDispatcher(t, notify.Options{})
	sub, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, d.Subscribers("w1"))
}

func TestDispatcher_UndeliverableGoesToInbox(t *testing.T) {
	inbox := notify.NewInbox(10)
	d := startDispatcher(t, notify.Options{Inbox: inbox})

	ev := notify.NewEvent(notify.EventMatchRequest, "w1", notify.MatchRequestPayload{MatchID: "m1", Message: "새로운 매칭 요청이 도착했습니다"})
	d.Publish(ev.WithSession("m1"))
	// Queue bookkeeping is never kept offline.
	d.Publish(notify.NewEvent(notify.EventQueueLeft, "w1", notify.QueuePayload{Status: "IDLE"}))

	require.Eventually(t, func() bool { return len(inbox.List("w1")) == 1 }, time.Second, 5*time.Millisecond)
	n := inbox.List("w1")[0]
	assert.Equal(t, notify.EventMatchRequest, n.Type)
	assert.Equal(t, "새로운 매칭 요청이 도착했습니다", n.Message)
	require.NotNil(t, n.SessionID)
	assert.Equal(t, "m1", *n.SessionID)
	assert.Equal(t, 1, inbox.UnreadCount("w1"))
}

func TestDispatcher_LiveDeliveryNotStoredOffline(t *testing.T) {
	inbox := notify.NewInbox(10)
	d := startDispatcher(t, notify.Options{Inbox: inbox})
	sub, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	d.Publish(notify.NewEvent(notify.EventMatchAccepted, "w1", notify.MatchAcceptedPayload{MatchID: "m1"}))
	recv(t, sub.Events())
	assert.Empty(t, inbox.List("w1"))
}

func TestDispatcher_SlowSubscriberEvicted(t *testing.T) {
	d := startDispatcher(t, notify.Options{SubscriberBuffer: 1})
	sub, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	d.Publish(notify.NewEvent(notify.EventMatchRequest, "w1", nil))
	d.Publish(notify.NewEvent(notify.EventMatchRequest, "w1", nil))

	require.Eventually(t, func() bool { return d.Subscribers("w1") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-sub.Events()
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-sub.Events()
	assert.False(t, ok, "channel is closed after eviction")
}

func TestDispatcher_MarkReadPublishesReceipt(t *testing.T) {
	inbox := notify.NewInbox(10)
	d := startDispatcher(t, notify.Options{Inbox: inbox})
	d.Publish(notify.NewEvent(notify.EventMatchingFound, "w1", notify.MatchingFoundPayload{Message: "found"}))
	require.Eventually(t, func() bool { return len(inbox.List("w1")) == 1 }, time.Second, 5*time.Millisecond)
	id := inbox.List("w1")[0].ID

	sub, err := d.Subscribe(context.Background(), "w1", notify.EventNotificationRead)
	require.NoError(t, err)

	n, err := d.MarkRead("w1", id)
	require.NoError(t, err)
	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)

	ev := recv(t, sub.Events())
	p := ev.Data.(notify.NotificationReadPayload)
	assert.Equal(t, id, p.NotificationID)
	assert.Equal(t, "w1", p.UserID)
	assert.Equal(t, 0, inbox.UnreadCount("w1"))

	_, err = d.MarkRead("w1", "missing")
	assert.ErrorIs(t, err, notify.ErrNotificationNotFound)
	_, err = d.MarkRead("w2", id)
	assert.ErrorIs(t, err, notify.ErrNotificationNotFound)
}

type fakeBus struct {
	mu        sync.Mutex
	published []notify.Event
	onEvent   func(notify.Event)
	started   chan struct{}
}

func (b *fakeBus) Publish(_ context.Context, ev notify.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	return nil
}

func (b *fakeBus) Start(_ context.Context, onEvent func(notify.Event)) error {
	b.onEvent = onEvent
	close(b.started)
	return nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestDispatcher_BusFanOut(t *testing.T) {
	bus := &fakeBus{started: make(chan struct{})}
	inbox := notify.NewInbox(10)
	d := startDispatcher(t, notify.Options{Bus: bus, Inbox: inbox})
	<-bus.started

	sub, err := d.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	d.Publish(notify.NewEvent(notify.EventMatchAccepted, "w1", nil))
	recv(t, sub.Events())
	require.Eventually(t, func() bool { return bus.count() == 1 }, time.Second, 5*time.Millisecond)

	// A remote event reaches local subscribers but is not re-published
	// and never falls back to the inbox.
	bus.onEvent(notify.NewEvent(notify.EventMatchRejected, "w1", nil))
	assert.Equal(t, notify.EventMatchRejected, recv(t, sub.Events()).Name)
	bus.onEvent(notify.NewEvent(notify.EventMatchRequest, "nobody", nil))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, bus.count())
	assert.Empty(t, inbox.List("nobody"))
}
