package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"seedream-studio-server/modules/common/model"
	redisutil "seedream-studio-server/modules/common/redis"
)

// RecentLimit - how many tasks an owner sees
const RecentLimit = 10

const maxTxAttempts = 20

var (
	ErrNotFound       = errors.New("task not found")
	ErrExists         = errors.New("task already exists")
	ErrNotCancellable = errors.New("task is not pending")
	ErrTaskBusy       = errors.New("task is being processed")
	ErrClaimLost      = errors.New("task is no longer owned by this worker")

	// errUnchanged aborts a mutation without writing
	errUnchanged = errors.New("unchanged")
)

// Store - task documents in Redis. Every state change is a WATCH/MULTI
// transaction over the task key, so concurrent writers never interleave.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore - create a task store
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Create - persist a new task and index it under its owner
func (s *Store) Create(ctx context.Context, t *model.Task) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = s.nowMillis()
	}
	t.UpdatedAt = t.CreatedAt
	if t.Images == nil {
		t.Images = []model.TaskImage{}
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	key := redisutil.TaskKey(t.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, redisutil.UserTasksKey(t.UserID), redis.Z{Score: float64(t.CreatedAt), Member: t.ID})
			pipe.Publish(ctx, redisutil.TaskEventsChannel(t.UserID), t.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}

	log.Printf("📝 [TaskStore] Task %s created for user %s (expected %d images)", t.ID, t.UserID, t.ExpectedCount)
	return nil
}

// Get - read one task
func (s *Store) Get(ctx context.Context, taskID string) (*model.Task, error) {
	raw, err := s.rdb.Get(ctx, redisutil.TaskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	return decodeTask(raw)
}

// mutate - read, check and conditionally rewrite one task in a transaction.
// fn returning errUnchanged skips the write; any other error aborts.
func (s *Store) mutate(ctx context.Context, taskID string, fn func(t *model.Task) error) (*model.Task, error) {
	key := redisutil.TaskKey(taskID)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var result *model.Task
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			t, err := decodeTask(raw)
			if err != nil {
				return err
			}
			if err := fn(t); err != nil {
				result = t
				return err
			}

			t.UpdatedAt = s.nowMillis()
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to marshal task: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if t.Status == model.StatusProcessing {
					pipe.SAdd(ctx, redisutil.ActiveTasksKey, t.ID)
				} else {
					pipe.SRem(ctx, redisutil.ActiveTasksKey, t.ID)
				}
				pipe.Publish(ctx, redisutil.TaskEventsChannel(t.UserID), t.ID)
				return nil
			})
			if err == nil {
				result = t
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return nil, fmt.Errorf("task %s: transaction kept conflicting", taskID)
}

// Claim - take exclusive ownership of a pending task. Returns claimed=false
// (and no error) when the task is in any other state.
func (s *Store) Claim(ctx context.Context, taskID, workerID string) (*model.Task, bool, error) {
	t, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if t.Status != model.StatusPending {
			return errUnchanged
		}
		now := s.nowMillis()
		t.Status = model.StatusProcessing
		t.WorkerID = workerID
		t.StartedAt = now
		t.LastHeartbeat = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return t, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// owned - guard for writes by the claiming worker
func owned(t *model.Task, workerID string) error {
	if t.Status != model.StatusProcessing || t.WorkerID != workerID {
		return ErrClaimLost
	}
	return nil
}

// Heartbeat - refresh lastHeartbeat while the worker still owns the task
func (s *Store) Heartbeat(ctx context.Context, taskID, workerID string) error {
	_, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if err := owned(t, workerID); err != nil {
			return err
		}
		t.LastHeartbeat = s.nowMillis()
		return nil
	})
	return err
}

// SaveImages - replace the slot array in one write
func (s *Store) SaveImages(ctx context.Context, taskID, workerID string, images []model.TaskImage) error {
	_, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if err := owned(t, workerID); err != nil {
			return err
		}
		t.Images = images
		t.LastHeartbeat = s.nowMillis()
		return nil
	})
	return err
}

// Complete - terminal success with the run's usage
func (s *Store) Complete(ctx context.Context, taskID, workerID string, usage model.Usage) error {
	_, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if err := owned(t, workerID); err != nil {
			return err
		}
		t.Status = model.StatusCompleted
		t.Usage = &usage
		t.Error = ""
		t.CompletedAt = s.nowMillis()
		return nil
	})
	return err
}

// applyFailure - retry (back to pending) or terminal failure
func (s *Store) applyFailure(t *model.Task, message string) {
	t.Error = message
	if t.RetryCount < t.MaxRetries {
		t.Status = model.StatusPending
		t.RetryCount++
		t.WorkerID = ""
		t.StartedAt = 0
		t.LastHeartbeat = 0
		return
	}
	t.Status = model.StatusFailed
	t.CompletedAt = s.nowMillis()
}

// Release - record a failed attempt by the owning worker. retry reports
// whether the task went back to pending.
func (s *Store) Release(ctx context.Context, taskID, workerID, message string) (retry bool, err error) {
	t, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if err := owned(t, workerID); err != nil {
			return err
		}
		s.applyFailure(t, message)
		return nil
	})
	if err != nil {
		return false, err
	}
	return t.Status == model.StatusPending, nil
}

// ReclaimStale - treat a processing task whose heartbeat is older than
// staleBefore (unix ms) as a failed attempt. reclaimed is false when the
// task is not stale (or no longer processing).
func (s *Store) ReclaimStale(ctx context.Context, taskID string, staleBefore int64, message string) (reclaimed, retry bool, err error) {
	t, err := s.mutate(ctx, taskID, func(t *model.Task) error {
		if t.Status != model.StatusProcessing || t.LastHeartbeat >= staleBefore {
			return errUnchanged
		}
		s.applyFailure(t, message)
		return nil
	})

	switch {
	case errors.Is(err, ErrNotFound):
		s.rdb.SRem(ctx, redisutil.ActiveTasksKey, taskID)
		return false, false, nil
	case errors.Is(err, errUnchanged):
		if t != nil && t.Status != model.StatusProcessing {
			s.rdb.SRem(ctx, redisutil.ActiveTasksKey, taskID)
		}
		return false, false, nil
	case err != nil:
		return false, false, err
	}
	return true, t.Status == model.StatusPending, nil
}

// Cancel - pending → cancelled; any other state is ErrNotCancellable
func (s *Store) Cancel(ctx context.Context, taskID string) (*model.Task, error) {
	return s.mutate(ctx, taskID, func(t *model.Task) error {
		switch {
		case t.Status == model.StatusPending:
		case t.IsTerminal():
			return fmt.Errorf("%w: task already %s", ErrNotCancellable, t.Status)
		default:
			return fmt.Errorf("%w: task is owned by %s", ErrNotCancellable, t.WorkerID)
		}
		t.Status = model.StatusCancelled
		t.CompletedAt = s.nowMillis()
		return nil
	})
}

// Delete - remove a task that no worker currently owns
func (s *Store) Delete(ctx context.Context, taskID string) error {
	key := redisutil.TaskKey(taskID)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			t, err := decodeTask(raw)
			if err != nil {
				return err
			}
			if t.Status == model.StatusProcessing {
				return ErrTaskBusy
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, redisutil.UserTasksKey(t.UserID), t.ID)
				pipe.SRem(ctx, redisutil.ActiveTasksKey, t.ID)
				pipe.Publish(ctx, redisutil.TaskEventsChannel(t.UserID), t.ID)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil {
			log.Printf("🗑️  [TaskStore] Task %s deleted", taskID)
		}
		return err
	}
	return fmt.Errorf("task %s: transaction kept conflicting", taskID)
}

// ListRecent - an owner's newest tasks first, at most limit
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]model.Task, error) {
	ids, err := s.rdb.ZRevRange(ctx, redisutil.UserTasksKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %s: %w", userID, err)
	}

	tasks := make([]model.Task, 0, len(ids))
	if len(ids) == 0 {
		return tasks, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisutil.TaskKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks for %s: %w", userID, err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		t, err := decodeTask([]byte(raw))
		if err != nil {
			log.Printf("⚠️  [TaskStore] Skipping unreadable task %s: %v", ids[i], err)
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// ActiveTaskIDs - tasks currently marked processing
func (s *Store) ActiveTaskIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, redisutil.ActiveTasksKey).Result()
}

func decodeTask(raw []byte) (*model.Task, error) {
	var t model.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	return &t, nil
}
