package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/requestdata"
)

// ErrGaveUp is returned by Watch once every reconnect attempt has failed.
var ErrGaveUp = errors.New("gave up reconnecting to event stream")

const maxFrameBytes = 1 << 20

// Client consumes a user's event stream and reconnects when it drops.
// Queue and session state live on the server, so a reconnect only resumes
// live delivery.
type Client struct {
	baseURL string
	http    *http.Client
	policy  config.ReconnectPolicy
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string, policy config.ReconnectPolicy, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		policy:  policy,
		log:     log.With("component", "SSEClient"),
		sleep:   sleepCtx,
	}
}

// SetSleep replaces the backoff wait, for tests.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) { c.sleep = fn }

// Watch streams identity's events to onEvent until ctx is cancelled. After
// policy.MaxAttempts consecutive failed connection attempts it returns an
// error wrapping ErrGaveUp. A connection that was established resets the
// count.
func (c *Client) Watch(ctx context.Context, identity string, onEvent func(notify.Event)) error {
	failures := 0
	for {
		connected, err := c.stream(ctx, identity, onEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
			c.log.Info("event stream dropped, reconnecting", "identity", identity, "err", err)
		} else {
			failures++
			c.log.Warn("event stream connect failed",
				"identity", identity, "attempt", failures, "max_attempts", c.policy.MaxAttempts, "err", err)
			if failures >= c.policy.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, failures, err)
			}
		}
		if err := c.sleep(ctx, c.policy.Delay(max(failures, 1))); err != nil {
			return err
		}
	}
}

// stream runs one connection. connected reports whether the server answered
// with a stream before the attempt timeout.
func (c *Client) stream(ctx context.Context, identity string, onEvent func(notify.Event)) (connected bool, err error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+StreamPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set(requestdata.Header, identity)
	req.Header.Set("Accept", "text/event-stream")

	timer := time.AfterFunc(c.policy.AttemptTimeout, cancel)
	resp, err := c.http.Do(req)
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		return false, fmt.Errorf("connect timed out after %s", c.policy.AttemptTimeout)
	}
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	c.log.Debug("event stream connected", "identity", identity)
	return true, readFrames(resp, onEvent, c.log)
}

// readFrames parses SSE frames until the body ends. Comments (heartbeats)
// are skipped; only the data lines of a frame are decoded.
func readFrames(resp *http.Response, onEvent func(notify.Event), log *logger.Logger) error {
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				log.Warn("bad SSE frame", "err", err)
			} else {
				onEvent(ev)
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
