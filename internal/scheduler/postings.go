package scheduler

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"onetime/matching-service/internal/logger"
)

// PostingFeed listens for new-posting announcements on a Redis channel and
// asks for an out-of-schedule rescan. Bursts of postings collapse into a
// single pending rescan.
type PostingFeed struct {
	rdb     *redis.Client
	channel string
	log     *logger.Logger
}

func NewPostingFeed(rdb *redis.Client, channel string, log *logger.Logger) *PostingFeed {
	if log == nil {
		log = logger.Nop()
	}
	return &PostingFeed{rdb: rdb, channel: channel, log: log.With("component", "PostingFeed")}
}

// Run blocks until ctx is cancelled, calling onPosting for new postings.
func (f *PostingFeed) Run(ctx context.Context, onPosting func(context.Context)) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", f.channel, err)
	}
	f.log.Info("listening for new postings", "channel", f.channel)

	runCtx, cancel := context.WithCancel(ctx)
	kick, stop := Coalesce(runCtx, onPosting)
	defer stop()
	defer cancel()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			f.log.Debug("posting announced", "payload", logger.Truncate(m.Payload, 120))
			kick()
		}
	}
}

// Coalesce runs fn on its own goroutine whenever kick is called. Kicks that
// arrive while fn is running collapse into one follow-up run. stop waits for
// the goroutine to exit; ctx must be cancelled first or stop blocks.
func Coalesce(ctx context.Context, fn func(context.Context)) (kick func(), stop func()) {
	pending := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				fn(ctx)
			}
		}
	}()
	kick = func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}
	stop = func() { <-done }
	return kick, stop
}
