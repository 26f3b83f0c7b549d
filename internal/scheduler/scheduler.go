// Package scheduler force-completes overdue raids. It is the only
// component that initiates state transitions without external input,
// and it rebuilds its wait target purely from persisted raid state, so
// a restart never loses a pending expiry.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/azelphur/ekpogo/internal/raid"
)

// Completer is the completion path shared with manual toggles
type Completer interface {
	Complete(ctx context.Context, guildID string, raidID int64, done bool, actorID string) error
}

// Scheduler sleeps until the next open raid is past its end time plus
// a grace period, then completes every overdue raid
type Scheduler struct {
	registry  *raid.Registry
	completer Completer
	grace     time.Duration

	mu         sync.Mutex
	generation uint64

	rearm    chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. Grace is how long past a raid's end time
// the scheduler waits before forcing completion.
func New(registry *raid.Registry, completer Completer, grace time.Duration) *Scheduler {
	s := &Scheduler{
		registry:  registry,
		completer: completer,
		grace:     grace,
		rearm:     make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
	registry.AddListener(s.onChange)
	return s
}

// onChange re-arms the wait whenever a registry change can move the
// next expiry target
func (s *Scheduler) onChange(raidID int64, kind raid.ChangeKind) {
	switch kind {
	case raid.ChangeCreated, raid.ChangeTimeEdited, raid.ChangeDoneToggled, raid.ChangeDeleted:
		s.Rearm()
	}
}

// Rearm cancels the current wait and recomputes the next target. Safe
// to call concurrently and from within a sweep.
func (s *Scheduler) Rearm() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

func (s *Scheduler) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Start begins the expiry loop
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for any in-flight sweep to
// finish. Work already started runs to completion.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		generation := s.currentGeneration()

		next, err := s.registry.NextExpiring()
		if err != nil {
			slog.Error("Failed to query next expiring raid", "error", err)
			next = nil
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if next != nil {
			wait := time.Until(next.EndTime.Add(s.grace))
			if wait < 0 {
				wait = 0
			}
			slog.Debug("Scheduler armed", "raid", next.ID, "wait", wait)
			timer = time.NewTimer(wait)
			fire = timer.C
		} else {
			slog.Debug("Scheduler idle, no open raids")
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-s.stopChan:
			stopTimer(timer)
			return
		case <-s.rearm:
			// Target changed; drop the superseded wait without side
			// effects and recompute.
			stopTimer(timer)
			continue
		case <-fire:
			// A rearm racing the fired timer wins: skip the sweep and
			// recompute against the new target.
			if s.currentGeneration() != generation {
				continue
			}
			s.sweep(ctx)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// sweep completes every open raid whose end time has passed. Several
// raids sharing a close expiry are handled in one pass.
func (s *Scheduler) sweep(ctx context.Context) {
	expired, err := s.registry.ExpiredOpen(time.Now())
	if err != nil {
		slog.Error("Failed to query expired raids", "error", err)
		return
	}

	for _, r := range expired {
		unlock := s.registry.LockRaid(r.ID)

		guildID := ""
		if mirrors, err := s.registry.Mirrors(r.ID); err == nil && len(mirrors) > 0 {
			guildID = mirrors[0].GuildID
		}

		slog.Info("Force-completing expired raid", "raid", r.ID, "end", r.EndTime)
		if err := s.completer.Complete(ctx, guildID, r.ID, true, ""); err != nil {
			slog.Error("Failed to force-complete raid", "raid", r.ID, "error", err)
		}

		unlock()
	}
}
