package blackboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides namespace-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the deployment name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Every successful row write publishes a ChangeEvent on the team's feed, so all
// subscribed clients (the writer included) converge on the persisted row.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a new blackboard client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: deployment identifier (must not be empty)
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Namespace returns the deployment name the client is scoped to.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// NewInviteCode returns a short, human-typeable invite code.
func NewInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// CreateTeam writes a team together with its founding Leader and publishes both rows.
// The invite code must be unused; Redis SETNX on the invite index enforces that.
func (c *Client) CreateTeam(ctx context.Context, team *Team, leader *Member) error {
	if team.Cycle == 0 {
		team.Cycle = 1
	}
	team.LeaderID = leader.ID
	leader.TeamID = team.ID
	leader.Role = RoleLeader

	if err := team.Validate(); err != nil {
		return fmt.Errorf("invalid team: %w", err)
	}
	if err := leader.Validate(); err != nil {
		return fmt.Errorf("invalid leader: %w", err)
	}
	if team.InviteCode == "" {
		return fmt.Errorf("invalid team: invite code cannot be empty")
	}

	claimed, err := c.rdb.SetNX(ctx, InviteKey(c.namespace, team.InviteCode), team.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve invite code: %w", err)
	}
	if !claimed {
		return fmt.Errorf("invite code %s is already in use", team.InviteCode)
	}

	teamHash, err := TeamToHash(team)
	if err != nil {
		return fmt.Errorf("failed to serialize team: %w", err)
	}
	leaderHash, err := MemberToHash(leader)
	if err != nil {
		return fmt.Errorf("failed to serialize leader: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, TeamKey(c.namespace, team.ID), teamHash)
		pipe.HSet(ctx, MemberKey(c.namespace, leader.ID), leaderHash)
		pipe.SAdd(ctx, TeamMembersKey(c.namespace, team.ID), leader.ID)
		return nil
	})
	if err != nil {
		c.rdb.Del(ctx, InviteKey(c.namespace, team.InviteCode))
		return fmt.Errorf("failed to write team to Redis: %w", err)
	}

	if err := c.publishChange(ctx, team.ID, TableTeams, OpInsert, team.ID, team); err != nil {
		return err
	}
	return c.publishChange(ctx, team.ID, TableMembers, OpInsert, leader.ID, leader)
}

// GetTeam retrieves a team by ID.
// Returns (nil, redis.Nil) if the team doesn't exist.
func (c *Client) GetTeam(ctx context.Context, teamID string) (*Team, error) {
	hashData, err := c.rdb.HGetAll(ctx, TeamKey(c.namespace, teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read team from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	team, err := HashToTeam(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize team: %w", err)
	}
	return team, nil
}

// FindTeamByInvite resolves an invite code to its team.
// Returns (nil, redis.Nil) for unknown codes.
func (c *Client) FindTeamByInvite(ctx context.Context, code string) (*Team, error) {
	teamID, err := c.rdb.Get(ctx, InviteKey(c.namespace, strings.ToUpper(code))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to look up invite code: %w", err)
	}
	return c.GetTeam(ctx, teamID)
}

// UpdateTeamSettings overwrites the team's permission flags.
func (c *Client) UpdateTeamSettings(ctx context.Context, teamID string, settings TeamSettings) (*Team, error) {
	return c.updateTeamFields(ctx, teamID, map[string]interface{}{
		"allow_task_creation": settings.AllowTaskCreation,
	})
}

// SetDeadline sets or (with nil) clears the mission deadline.
func (c *Client) SetDeadline(ctx context.Context, teamID string, deadlineMs *int64) (*Team, error) {
	return c.updateTeamFields(ctx, teamID, map[string]interface{}{
		"deadline_ms": optionalInt64(deadlineMs),
	})
}

// SetMission updates the mission name and goal of the current cycle.
func (c *Client) SetMission(ctx context.Context, teamID, name, goal string) (*Team, error) {
	return c.updateTeamFields(ctx, teamID, map[string]interface{}{
		"mission_name": name,
		"mission_goal": goal,
	})
}

// updateTeamFields writes only the given team hash fields, then publishes the canonical row.
func (c *Client) updateTeamFields(ctx context.Context, teamID string, fields map[string]interface{}) (*Team, error) {
	key := TeamKey(c.namespace, teamID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check team existence: %w", err)
	}
	if exists == 0 {
		return nil, redis.Nil
	}

	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return nil, fmt.Errorf("failed to update team in Redis: %w", err)
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

// AddMember writes a member into a team and publishes the row.
func (c *Client) AddMember(ctx context.Context, m *Member) error {
	if m.Badges == nil {
		m.Badges = []string{}
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid member: %w", err)
	}

	hash, err := MemberToHash(m)
	if err != nil {
		return fmt.Errorf("failed to serialize member: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, MemberKey(c.namespace, m.ID), hash)
		pipe.SAdd(ctx, TeamMembersKey(c.namespace, m.TeamID), m.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write member to Redis: %w", err)
	}

	return c.publishChange(ctx, m.TeamID, TableMembers, OpInsert, m.ID, m)
}

// GetMember retrieves a member by ID.
// Returns (nil, redis.Nil) if the member doesn't exist.
func (c *Client) GetMember(ctx context.Context, memberID string) (*Member, error) {
	hashData, err := c.rdb.HGetAll(ctx, MemberKey(c.namespace, memberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read member from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	member, err := HashToMember(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize member: %w", err)
	}
	return member, nil
}

// ListMembers returns every member of a team ordered by join time.
func (c *Client) ListMembers(ctx context.Context, teamID string) ([]*Member, error) {
	ids, err := c.rdb.SMembers(ctx, TeamMembersKey(c.namespace, teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}

	members := make([]*Member, 0, len(ids))
	for _, id := range ids {
		m, err := c.GetMember(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		members = append(members, m)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedMs != members[j].JoinedMs {
			return members[i].JoinedMs < members[j].JoinedMs
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

// AwardBadge adds a badge to a member if they don't hold it yet.
func (c *Client) AwardBadge(ctx context.Context, memberID, badge string) (*Member, error) {
	m, err := c.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	for _, b := range m.Badges {
		if b == badge {
			return m, nil
		}
	}
	m.Badges = append(m.Badges, badge)

	hash, err := MemberToHash(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize member: %w", err)
	}
	if err := c.rdb.HSet(ctx, MemberKey(c.namespace, memberID), "badges", hash["badges"]).Err(); err != nil {
		return nil, fmt.Errorf("failed to write badges to Redis: %w", err)
	}

	if err := c.publishChange(ctx, m.TeamID, TableMembers, OpUpdate, m.ID, m); err != nil {
		return nil, err
	}
	return m, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if a Get* call returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
