package task

import (
	"context"
	"fmt"
	"log"

	"seedream-studio-server/modules/common/model"
	redisutil "seedream-studio-server/modules/common/redis"
)

// Subscribe - snapshots of an owner's recent tasks: one immediately, then one
// after every change. The channel closes when ctx ends.
func (s *Store) Subscribe(ctx context.Context, userID string, limit int) (<-chan []model.Task, error) {
	pubsub := s.rdb.Subscribe(ctx, redisutil.TaskEventsChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to tasks of %s: %w", userID, err)
	}

	out := make(chan []model.Task, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		notify := pubsub.Channel()
		send := func() bool {
			tasks, err := s.ListRecent(ctx, userID, limit)
			if err != nil {
				log.Printf("⚠️  [TaskStore] Snapshot for %s failed: %v", userID, err)
				return ctx.Err() == nil
			}
			select {
			case out <- tasks:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				// coalesce bursts into one snapshot
				for drained := false; !drained; {
					select {
					case _, more := <-notify:
						drained = !more
					default:
						drained = true
					}
				}
				if !send() {
					return
				}
			}
		}
	}()
	return out, nil
}
