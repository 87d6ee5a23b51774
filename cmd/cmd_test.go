package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "watch", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

type fakeStopper struct {
	release chan struct{}
	forced  atomic.Bool
}

func (f *fakeStopper) GracefulStop() { <-f.release }

func (f *fakeStopper) Stop() {
	f.forced.Store(true)
	close(f.release)
}

func TestGracefulStop(t *testing.T) {
	tests := []struct {
		name       string
		timeout    time.Duration
		finishSoon bool
		wantForced bool
	}{
		{name: "drains in time", timeout: time.Second, finishSoon: true, wantForced: false},
		{name: "forced after timeout", timeout: 20 * time.Millisecond, finishSoon: false, wantForced: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStopper{release: make(chan struct{})}
			if tt.finishSoon {
				go func() {
					time.Sleep(10 * time.Millisecond)
					close(s.release)
				}()
			}
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			gracefulStop(ctx, s)
			if got := s.forced.Load(); got != tt.wantForced {
				t.Errorf("forced = %v, want %v", got, tt.wantForced)
			}
		})
	}
}
