// Package sweeper runs the periodic idle-session sweep.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/simsarhq/simsar/internal/session"
)

const defaultInterval = 5 * time.Minute

// Sweeper periodically moves stale ACTIVE sessions to IDLE.
type Sweeper struct {
	sessions *session.Store
	interval time.Duration
}

func New(sessions *session.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{sessions: sessions, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	slog.Info("idle sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("idle sweeper stopped")
			return
		case <-t.C:
			idled, err := s.sessions.CheckIdleSessions(ctx)
			if err != nil {
				slog.Error("idle sweep failed", "error", err)
				continue
			}
			if idled > 0 {
				slog.Info("idle sweep complete", "idled", idled)
			}
		}
	}
}
