package blackboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxPatchRetries bounds optimistic-lock retries in PatchTask and Redeploy.
const maxPatchRetries = 10

// CreateTask writes a new task and publishes an insert event.
// Tasks are indexed in a per-team ZSET scored by creation time.
func (c *Client) CreateTask(ctx context.Context, t *Task) error {
	if t.Subtasks == nil {
		t.Subtasks = []Subtask{}
	}
	t.Rev = 1
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, TaskKey(c.namespace, t.ID), hash)
		pipe.ZAdd(ctx, TeamTasksKey(c.namespace, t.TeamID), redis.Z{
			Score:  float64(t.CreatedAtMs),
			Member: t.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write task to Redis: %w", err)
	}

	return c.publishChange(ctx, t.TeamID, TableTasks, OpInsert, t.ID, t)
}

// GetTask retrieves a task by ID.
// Returns (nil, redis.Nil) if the task doesn't exist.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	hashData, err := c.rdb.HGetAll(ctx, TaskKey(c.namespace, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	task, err := HashToTask(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}
	return task, nil
}

// PatchTask writes only the fields named by the patch and publishes the resulting
// canonical row. Two concurrent patches touching different fields both survive;
// two touching the same field resolve to whichever HSET Redis applied last.
//
// The row's rev is incremented and the row read back inside the same MULTI/EXEC, so the
// published row is exactly the state at that revision. Subscribers drop rows older than
// the one they hold, which makes the feed converge even if publishes arrive reordered.
//
// Returns (nil, redis.Nil) if the task was deleted, without recreating it.
func (c *Client) PatchTask(ctx context.Context, taskID string, patch TaskPatch) (*Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	fields, err := patch.hashFields()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize patch: %w", err)
	}
	fields["updated_at_ms"] = time.Now().UnixMilli()

	key := TaskKey(c.namespace, taskID)
	var row *redis.MapStringStringCmd
	patchFn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return redis.Nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.HIncrBy(ctx, key, "rev", 1)
			row = pipe.HGetAll(ctx, key)
			return nil
		})
		return err
	}

	// A concurrent write to the same task aborts EXEC; the other write already landed
	// so re-running ours preserves last-write-wins per field.
	for attempt := 0; attempt < maxPatchRetries; attempt++ {
		err = c.rdb.Watch(ctx, patchFn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to patch task in Redis: %w", err)
	}

	task, err := HashToTask(row.Val())
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}
	if err := c.publishChange(ctx, task.TeamID, TableTasks, OpUpdate, task.ID, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task (and the team pin if it pointed at it) and publishes a
// delete event carrying the last known row.
// Returns redis.Nil if the task is already gone.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	task, err := c.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	pinKey := PinKey(c.namespace, task.TeamID)
	pinned, err := c.rdb.Get(ctx, pinKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read pin: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, TaskKey(c.namespace, taskID))
		pipe.ZRem(ctx, TeamTasksKey(c.namespace, task.TeamID), taskID)
		if pinned == taskID {
			pipe.Del(ctx, pinKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete task from Redis: %w", err)
	}

	if pinned == taskID {
		if err := c.publishChange(ctx, task.TeamID, TablePins, OpDelete, task.TeamID, PinRow{}); err != nil {
			return err
		}
	}
	return c.publishChange(ctx, task.TeamID, TableTasks, OpDelete, task.ID, task)
}

// ListTasks returns every task of a team in creation order.
func (c *Client) ListTasks(ctx context.Context, teamID string) ([]*Task, error) {
	ids, err := c.rdb.ZRange(ctx, TeamTasksKey(c.namespace, teamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list team tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SetPin makes taskID the team's single pinned task, replacing any previous pin in one SET.
func (c *Client) SetPin(ctx context.Context, teamID, taskID string) error {
	if !isValidUUID(taskID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}
	if err := c.rdb.Set(ctx, PinKey(c.namespace, teamID), taskID, 0).Err(); err != nil {
		return fmt.Errorf("failed to write pin to Redis: %w", err)
	}
	return c.publishChange(ctx, teamID, TablePins, OpUpdate, teamID, PinRow{TaskID: taskID})
}

// ClearPin removes the team's pin.
func (c *Client) ClearPin(ctx context.Context, teamID string) error {
	if err := c.rdb.Del(ctx, PinKey(c.namespace, teamID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pin in Redis: %w", err)
	}
	return c.publishChange(ctx, teamID, TablePins, OpDelete, teamID, PinRow{})
}

// GetPin returns the pinned task ID of a team, or "" when nothing is pinned.
func (c *Client) GetPin(ctx context.Context, teamID string) (string, error) {
	taskID, err := c.rdb.Get(ctx, PinKey(c.namespace, teamID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read pin: %w", err)
	}
	return taskID, nil
}
