package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/realtime"
	"onetime/matching-service/internal/requestdata"
)

func init() { gin.SetMode(gin.TestMode) }

func startDispatcher(t *testing.T) *notify.Dispatcher {
	t.Helper()
	d := notify.NewDispatcher(notify.Options{}, nil)
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

func streamRouter(d *notify.Dispatcher) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		rd := requestdata.New(c.GetHeader(requestdata.Header))
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Next()
	})
	r.GET(realtime.StreamPath, realtime.NewStreamHandler(d, time.Hour, nil).Stream)
	return r
}

func fastPolicy() config.ReconnectPolicy {
	return config.ReconnectPolicy{
		MaxAttempts:    5,
		InitialDelay:   time.Second,
		MaxDelay:       3 * time.Second,
		AttemptTimeout: 2 * time.Second,
	}
}

// delayLog records requested backoff waits without sleeping.
type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.delays = append(l.delays, d)
	l.mu.Unlock()
	return ctx.Err()
}

func (l *delayLog) get() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

func TestStream_DeliversRoomEvents(t *testing.T) {
	d := startDispatcher(t)
	srv := httptest.NewServer(streamRouter(d))
	t.Cleanup(srv.Close)

	got := make(chan notify.Event, 4)
	client := realtime.NewClient(srv.URL, fastPolicy(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	watchErr := make(chan error, 1)
	go func() { watchErr <- client.Watch(ctx, "w1", func(ev notify.Event) { got <- ev }) }()

	require.Eventually(t, func() bool { return d.Subscribers("w1") == 1 }, 2*time.Second, 10*time.Millisecond)

	d.Publish(notify.NewEvent(notify.EventMatchRequest, "w2", notify.MatchRequestPayload{MatchID: "other"}))
	d.Publish(notify.NewEvent(notify.EventMatchRequest, "w1", notify.MatchRequestPayload{MatchID: "m1", Message: "새로운 매칭 요청이 도착했습니다"}).WithSession("m1"))

	select {
	case ev := <-got:
		assert.Equal(t, notify.EventMatchRequest, ev.Name)
		assert.Equal(t, "w1", ev.Identity)
		require.NotNil(t, ev.SessionID)
		assert.Equal(t, "m1", *ev.SessionID)
		data, ok := ev.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "m1", data["matchId"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-watchErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	require.Eventually(t, func() bool { return d.Subscribers("w1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_RequiresIdentity(t *testing.T) {
	d := startDispatcher(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, realtime.StreamPath, nil)
	streamRouter(d).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestStream_RejectsUnknownEventFilter(t *testing.T) {
	d := startDispatcher(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, realtime.StreamPath+"?events=match_request,card_moved", nil)
	req.Header.Set(requestdata.Header, "w1")
	streamRouter(d).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	assert.Equal(t, 0, d.Subscribers("w1"))
}

func TestWatch_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "w1", r.Header.Get(requestdata.Header))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	log := &delayLog{}
	client := realtime.NewClient(srv.URL, fastPolicy(), nil)
	client.SetSleep(log.sleep)

	err := client.Watch(context.Background(), "w1", func(notify.Event) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, realtime.ErrGaveUp))
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, log.get())
}

func TestWatch_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	policy := fastPolicy()
	policy.MaxAttempts = 2
	policy.AttemptTimeout = 50 * time.Millisecond
	client := realtime.NewClient(srv.URL, policy, nil)
	client.SetSleep((&delayLog{}).sleep)

	start := time.Now()
	err := client.Watch(context.Background(), "w1", func(notify.Event) {})
	assert.ErrorIs(t, err, realtime.ErrGaveUp)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWatch_SuccessfulConnectionResetsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n != 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = realtime.WriteEvent(w, notify.NewEvent(notify.EventQueueJoined, "w1", notify.QueuePayload{Status: "QUEUED"}))
	}))
	t.Cleanup(srv.Close)

	policy := fastPolicy()
	policy.MaxAttempts = 3
	log := &delayLog{}
	client := realtime.NewClient(srv.URL, policy, nil)
	client.SetSleep(log.sleep)

	var events []notify.EventName
	err := client.Watch(context.Background(), "w1", func(ev notify.Event) { events = append(events, ev.Name) })
	assert.ErrorIs(t, err, realtime.ErrGaveUp)

	// fail, fail, connect+drop, fail, fail, fail
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, []notify.EventName{notify.EventQueueJoined}, events)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, // two failures
		time.Second,                  // after the drop
		time.Second, 2 * time.Second, // fresh failure count
	}, log.get())
}
