package services

import (
	"context"
	"time"

	"telecare/internal/config"
	"telecare/internal/websocket"
	"telecare/pkg/logger"
)

// Sweeper drives the time-based call transitions: pending calls nobody
// answered become missed, and when enabled, active calls whose room stayed
// empty are ended.
type Sweeper struct {
	calls          *CallService
	hub            *websocket.Hub
	interval       time.Duration
	missedTimeout  time.Duration
	abandonTimeout time.Duration

	// emptySince is only touched by the sweep loop
	emptySince map[string]time.Time
}

func NewSweeper(calls *CallService, hub *websocket.Hub, cfg config.CallConfig) *Sweeper {
	return &Sweeper{
		calls:          calls,
		hub:            hub,
		interval:       cfg.SweepInterval,
		missedTimeout:  cfg.MissedTimeout,
		abandonTimeout: cfg.AbandonTimeout,
		emptySince:     make(map[string]time.Time),
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"interval":        s.interval.String(),
		"missed_timeout":  s.missedTimeout.String(),
		"abandon_timeout": s.abandonTimeout.String(),
	}).Info("Call sweeper started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Call sweeper stopped")
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep runs one pass and returns how many calls were missed and abandoned
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (missed, abandoned int) {
	if s.missedTimeout > 0 {
		missed = s.sweepMissed(ctx, now)
	}
	if s.abandonTimeout > 0 {
		abandoned = s.sweepAbandoned(ctx, now)
	}
	return missed, abandoned
}

func (s *Sweeper) sweepMissed(ctx context.Context, now time.Time) int {
	overdue, err := s.calls.Overdue(ctx, now.Add(-s.missedTimeout))
	if err != nil {
		logger.WithError(err).Warn("Failed to list overdue calls")
		return 0
	}

	count := 0
	for _, call := range overdue {
		if _, changed, err := s.calls.MarkMissed(ctx, call.ID); err != nil {
			logger.WithError(err).WithField("call_id", call.ID.Hex()).Warn("Failed to mark call missed")
		} else if changed {
			count++
		}
	}
	return count
}

func (s *Sweeper) sweepAbandoned(ctx context.Context, now time.Time) int {
	active, err := s.calls.Active(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to list active calls")
		return 0
	}

	seen := make(map[string]struct{}, len(active))
	count := 0
	for _, call := range active {
		id := call.ID.Hex()
		seen[id] = struct{}{}

		if len(s.hub.Members(websocket.CallRoomID(id))) > 0 {
			delete(s.emptySince, id)
			continue
		}

		since, tracked := s.emptySince[id]
		if !tracked {
			s.emptySince[id] = now
			continue
		}
		if now.Sub(since) < s.abandonTimeout {
			continue
		}

		if _, changed, err := s.calls.Abandon(ctx, call.ID); err != nil {
			logger.WithError(err).WithField("call_id", id).Warn("Failed to end abandoned call")
			continue
		} else if changed {
			count++
		}
		delete(s.emptySince, id)
	}

	for id := range s.emptySince {
		if _, ok := seen[id]; !ok {
			delete(s.emptySince, id)
		}
	}
	return count
}
