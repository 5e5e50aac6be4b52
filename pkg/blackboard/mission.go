package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/redis/go-redis/v9"
)

// ErrAlreadyCompleted is returned by CompleteMission when the cycle already has an archive.
var ErrAlreadyCompleted = errors.New("mission cycle already completed")

// ErrBountyClaimed is returned by CompleteBounty when another member completed it first.
var ErrBountyClaimed = errors.New("bounty already claimed")

// ErrStaleCycle is returned when an operation names a cycle the team has moved past.
var ErrStaleCycle = errors.New("mission cycle is no longer current")

// CreateBounty writes a bounty and publishes an insert event.
func (c *Client) CreateBounty(ctx context.Context, b *Bounty) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid bounty: %w", err)
	}

	hash, err := BountyToHash(b)
	if err != nil {
		return fmt.Errorf("failed to serialize bounty: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BountyKey(c.namespace, b.ID), hash)
		pipe.SAdd(ctx, TeamBountiesKey(c.namespace, b.TeamID), b.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write bounty to Redis: %w", err)
	}

	return c.publishChange(ctx, b.TeamID, TableBounties, OpInsert, b.ID, b)
}

// CompleteBounty marks a bounty as completed by memberID.
func (c *Client) CompleteBounty(ctx context.Context, bountyID, memberID string) (*Bounty, error) {
	if !isValidUUID(memberID) {
		return nil, fmt.Errorf("invalid member ID: not a valid UUID")
	}

	key := BountyKey(c.namespace, bountyID)
	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bounty from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	if hashData["completed_by"] != "" {
		return nil, fmt.Errorf("bounty %s: %w", bountyID, ErrBountyClaimed)
	}

	if err := c.rdb.HSet(ctx, key, "completed_by", memberID).Err(); err != nil {
		return nil, fmt.Errorf("failed to update bounty in Redis: %w", err)
	}
	hashData["completed_by"] = memberID

	bounty, err := HashToBounty(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize bounty: %w", err)
	}
	if err := c.publishChange(ctx, bounty.TeamID, TableBounties, OpUpdate, bounty.ID, bounty); err != nil {
		return nil, err
	}
	return bounty, nil
}

// ListBounties returns every bounty of a team.
func (c *Client) ListBounties(ctx context.Context, teamID string) ([]*Bounty, error) {
	ids, err := c.rdb.SMembers(ctx, TeamBountiesKey(c.namespace, teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list team bounties: %w", err)
	}
	sort.Strings(ids)

	bounties := make([]*Bounty, 0, len(ids))
	for _, id := range ids {
		hashData, err := c.rdb.HGetAll(ctx, BountyKey(c.namespace, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read bounty from Redis: %w", err)
		}
		if len(hashData) == 0 {
			continue
		}
		b, err := HashToBounty(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize bounty: %w", err)
		}
		bounties = append(bounties, b)
	}
	return bounties, nil
}

// CompleteMission records the completion of the archive's cycle.
//
// The per-cycle marker is claimed with SETNX first, so at most one archive can ever be
// written for a cycle no matter how many clients race; losers get ErrAlreadyCompleted.
// The archive row, the task snapshot, every member's XP increment and the team's
// completed_archive_id are then written in a single MULTI/EXEC. If that transaction fails
// the marker is released so the Leader can retry.
func (c *Client) CompleteMission(ctx context.Context, archive *MissionArchive, snapshot []*Task) error {
	if err := archive.Validate(); err != nil {
		return fmt.Errorf("invalid archive: %w", err)
	}

	team, err := c.GetTeam(ctx, archive.TeamID)
	if err != nil {
		return err
	}
	if team.Cycle != archive.Cycle {
		return fmt.Errorf("%w: archive is for cycle %d, team is on cycle %d", ErrStaleCycle, archive.Cycle, team.Cycle)
	}

	marker := CycleCompletedKey(c.namespace, archive.TeamID, archive.Cycle)
	claimed, err := c.rdb.SetNX(ctx, marker, archive.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim completion marker: %w", err)
	}
	if !claimed {
		return ErrAlreadyCompleted
	}

	archive.SnapshotRef = ArchiveSnapshotKey(c.namespace, archive.ID)
	hash, err := ArchiveToHash(archive)
	if err != nil {
		c.rdb.Del(ctx, marker)
		return fmt.Errorf("failed to serialize archive: %w", err)
	}
	if snapshot == nil {
		snapshot = []*Task{}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		c.rdb.Del(ctx, marker)
		return fmt.Errorf("failed to marshal task snapshot: %w", err)
	}

	memberIDs := sortedKeys(archive.Awards)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ArchiveKey(c.namespace, archive.ID), hash)
		pipe.Set(ctx, archive.SnapshotRef, snapshotJSON, 0)
		pipe.RPush(ctx, TeamArchivesKey(c.namespace, archive.TeamID), archive.ID)
		for _, memberID := range memberIDs {
			pipe.HIncrBy(ctx, MemberKey(c.namespace, memberID), "xp", int64(archive.Awards[memberID]))
		}
		pipe.HSet(ctx, TeamKey(c.namespace, archive.TeamID), "completed_archive_id", archive.ID)
		return nil
	})
	if err != nil {
		c.rdb.Del(ctx, marker)
		return fmt.Errorf("failed to write mission archive to Redis: %w", err)
	}

	// The archive is committed; a lost change notification must not report the completion as failed.
	if err := c.publishChange(ctx, archive.TeamID, TableArchives, OpInsert, archive.ID, archive); err != nil {
		log.Printf("[Blackboard] Failed to publish archive %s: %v", archive.ID, err)
	}
	for _, memberID := range memberIDs {
		m, err := c.GetMember(ctx, memberID)
		if err != nil {
			continue
		}
		if err := c.publishChange(ctx, archive.TeamID, TableMembers, OpUpdate, m.ID, m); err != nil {
			log.Printf("[Blackboard] Failed to publish member %s: %v", m.ID, err)
		}
	}

	team.CompletedArchiveID = archive.ID
	if err := c.publishChange(ctx, archive.TeamID, TableTeams, OpUpdate, team.ID, team); err != nil {
		log.Printf("[Blackboard] Failed to publish team %s: %v", team.ID, err)
	}
	return nil
}

// CompletionFor returns the archive ID recorded for a cycle, or "" if the cycle is open.
func (c *Client) CompletionFor(ctx context.Context, teamID string, cycle int) (string, error) {
	archiveID, err := c.rdb.Get(ctx, CycleCompletedKey(c.namespace, teamID, cycle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read completion marker: %w", err)
	}
	return archiveID, nil
}

// GetArchive retrieves a mission archive by ID.
// Returns (nil, redis.Nil) if the archive doesn't exist.
func (c *Client) GetArchive(ctx context.Context, archiveID string) (*MissionArchive, error) {
	hashData, err := c.rdb.HGetAll(ctx, ArchiveKey(c.namespace, archiveID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	archive, err := HashToArchive(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize archive: %w", err)
	}
	return archive, nil
}

// ListArchives returns every archive of a team, oldest cycle first.
func (c *Client) ListArchives(ctx context.Context, teamID string) ([]*MissionArchive, error) {
	ids, err := c.rdb.LRange(ctx, TeamArchivesKey(c.namespace, teamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list team archives: %w", err)
	}

	archives := make([]*MissionArchive, 0, len(ids))
	for _, id := range ids {
		a, err := c.GetArchive(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, nil
}

// GetArchiveSnapshot returns the tasks captured when the archive was written.
func (c *Client) GetArchiveSnapshot(ctx context.Context, archiveID string) ([]*Task, error) {
	data, err := c.rdb.Get(ctx, ArchiveSnapshotKey(c.namespace, archiveID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read archive snapshot: %w", err)
	}

	var tasks []*Task
	if err := json.Unmarshal([]byte(data), &tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive snapshot: %w", err)
	}
	return tasks, nil
}

// Redeploy starts a new mission cycle: every task row and the pin are deleted, the cycle
// is bumped, the completion reference is cleared and the new mission fields are set.
// Members (and their XP), chat history, bounties, archives and audit history are kept.
func (c *Client) Redeploy(ctx context.Context, teamID, name, goal string, deadlineMs *int64) (*Team, error) {
	if _, err := c.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}

	teamKey := TeamKey(c.namespace, teamID)
	indexKey := TeamTasksKey(c.namespace, teamID)
	pinKey := PinKey(c.namespace, teamID)

	var tasks []*Task
	var pinned string
	redeployFn := func(tx *redis.Tx) error {
		ids, err := tx.ZRange(ctx, indexKey, 0, -1).Result()
		if err != nil {
			return err
		}
		tasks = tasks[:0]
		for _, id := range ids {
			hashData, err := tx.HGetAll(ctx, TaskKey(c.namespace, id)).Result()
			if err != nil {
				return err
			}
			t, err := HashToTask(hashData)
			if err != nil || len(hashData) == 0 {
				t = &Task{ID: id, TeamID: teamID}
			}
			tasks = append(tasks, t)
		}
		pinned, err = tx.Get(ctx, pinKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.Del(ctx, TaskKey(c.namespace, id))
			}
			pipe.Del(ctx, indexKey)
			pipe.Del(ctx, pinKey)
			pipe.HSet(ctx, teamKey, map[string]interface{}{
				"mission_name":         name,
				"mission_goal":         goal,
				"deadline_ms":          optionalInt64(deadlineMs),
				"completed_archive_id": "",
			})
			pipe.HIncrBy(ctx, teamKey, "cycle", 1)
			return nil
		})
		return err
	}

	// A task created between reading the index and EXEC aborts the transaction, so no
	// row outlives the index that referenced it.
	var err error
	for attempt := 0; attempt < maxPatchRetries; attempt++ {
		err = c.rdb.Watch(ctx, redeployFn, indexKey, pinKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeploy team in Redis: %w", err)
	}

	for _, t := range tasks {
		if err := c.publishChange(ctx, teamID, TableTasks, OpDelete, t.ID, t); err != nil {
			return nil, err
		}
	}
	if pinned != "" {
		if err := c.publishChange(ctx, teamID, TablePins, OpDelete, teamID, PinRow{}); err != nil {
			return nil, err
		}
	}

	team, err := c.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if err := c.publishChange(ctx, teamID, TableTeams, OpUpdate, teamID, team); err != nil {
		return nil, err
	}
	return team, nil
}

// AppendAudit appends an entry to the team's audit history and publishes it.
func (c *Client) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if !isValidUUID(entry.TeamID) {
		return fmt.Errorf("invalid audit entry: team ID is not a valid UUID")
	}
	if entry.Action == "" {
		return fmt.Errorf("invalid audit entry: action cannot be empty")
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if err := c.rdb.RPush(ctx, TeamAuditKey(c.namespace, entry.TeamID), entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return c.publishChange(ctx, entry.TeamID, TableAudit, OpInsert, entry.ID, entry)
}

// ListAudit returns the latest limit audit entries, oldest first. limit <= 0 returns all.
func (c *Client) ListAudit(ctx context.Context, teamID string, limit int) ([]*AuditEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := c.rdb.LRange(ctx, TeamAuditKey(c.namespace, teamID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit history: %w", err)
	}

	entries := make([]*AuditEntry, 0, len(raw))
	for _, line := range raw {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
