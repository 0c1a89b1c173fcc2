package task

import (
	"context"
	"log"
	"time"
)

// HeartbeatLostMessage - error recorded on a reclaimed task
const HeartbeatLostMessage = "worker heartbeat lost"

// Sweeper - reclaims processing tasks whose worker stopped heartbeating
type Sweeper struct {
	store      *Store
	requeue    Requeuer
	staleAfter time.Duration
	interval   time.Duration
}

// NewSweeper - create a sweeper
func NewSweeper(store *Store, requeue Requeuer, staleAfter, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		requeue:    requeue,
		staleAfter: staleAfter,
		interval:   interval,
	}
}

// Run - sweep every interval until ctx ends
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("🧹 [Sweeper] Started (interval %s, stale after %s)", s.interval, s.staleAfter)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 [Sweeper] Stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("❌ [Sweeper] Sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce - one pass over the active set; returns how many tasks were reclaimed
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.store.ActiveTaskIDs(ctx)
	if err != nil {
		return 0, err
	}

	staleBefore := s.store.now().Add(-s.staleAfter).UnixMilli()
	reclaimed := 0
	for _, id := range ids {
		ok, retry, err := s.store.ReclaimStale(ctx, id, staleBefore, HeartbeatLostMessage)
		if err != nil {
			log.Printf("⚠️  [Sweeper] Task %s: %v", id, err)
			continue
		}
		if !ok {
			continue
		}
		reclaimed++

		if !retry {
			log.Printf("💀 [Sweeper] Task %s abandoned and out of retries", id)
			continue
		}
		if err := s.requeue.Enqueue(ctx, id); err != nil {
			log.Printf("❌ [Sweeper] Failed to requeue task %s: %v", id, err)
			continue
		}
		log.Printf("🔁 [Sweeper] Task %s reclaimed and requeued", id)
	}
	return reclaimed, nil
}
