package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by deployment name so that
// several sortie deployments can safely coexist on a single Redis server.
//
// Key pattern: sortie:{namespace}:{entity}:{uuid}
// Team-scoped pattern: sortie:{namespace}:team:{team_id}:{collection}
// Channel pattern: sortie:{namespace}:team:{team_id}:{feed|broadcast|presence_events}

// TeamKey returns the Redis key for a team hash.
func TeamKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s", ns, teamID)
}

// InviteKey maps an invite code to its team ID.
func InviteKey(ns, code string) string {
	return fmt.Sprintf("sortie:%s:invite:%s", ns, code)
}

// TeamMembersKey returns the SET of member IDs in a team.
func TeamMembersKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:members", ns, teamID)
}

// MemberKey returns the Redis key for a member hash.
func MemberKey(ns, memberID string) string {
	return fmt.Sprintf("sortie:%s:member:%s", ns, memberID)
}

// TeamTasksKey returns the ZSET of task IDs in a team, scored by creation time.
func TeamTasksKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:tasks", ns, teamID)
}

// TaskKey returns the Redis key for a task hash.
func TaskKey(ns, taskID string) string {
	return fmt.Sprintf("sortie:%s:task:%s", ns, taskID)
}

// PinKey holds the single pinned task ID of a team. A plain string key, so SET replaces.
func PinKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:pin", ns, teamID)
}

// TeamMessagesKey returns the ZSET of message IDs in a team, scored by server timestamp.
func TeamMessagesKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:messages", ns, teamID)
}

// MessageKey returns the Redis key for a chat message hash.
func MessageKey(ns, messageID string) string {
	return fmt.Sprintf("sortie:%s:message:%s", ns, messageID)
}

// MessageReactionsKey returns the hash of reactions on a message.
// Fields are "{emoji}|{member_id}", values are the reaction time in ms.
func MessageReactionsKey(ns, messageID string) string {
	return fmt.Sprintf("sortie:%s:message:%s:reactions", ns, messageID)
}

// TeamBountiesKey returns the SET of bounty IDs in a team.
func TeamBountiesKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:bounties", ns, teamID)
}

// BountyKey returns the Redis key for a bounty hash.
func BountyKey(ns, bountyID string) string {
	return fmt.Sprintf("sortie:%s:bounty:%s", ns, bountyID)
}

// TeamArchivesKey returns the LIST of archive IDs of a team, oldest first.
func TeamArchivesKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:archives", ns, teamID)
}

// ArchiveKey returns the Redis key for a mission archive hash.
func ArchiveKey(ns, archiveID string) string {
	return fmt.Sprintf("sortie:%s:archive:%s", ns, archiveID)
}

// ArchiveSnapshotKey holds the JSON task snapshot captured at completion.
func ArchiveSnapshotKey(ns, archiveID string) string {
	return fmt.Sprintf("sortie:%s:archive:%s:snapshot", ns, archiveID)
}

// CycleCompletedKey is the per-cycle completion marker. Its value is the archive ID.
func CycleCompletedKey(ns, teamID string, cycle int) string {
	return fmt.Sprintf("sortie:%s:team:%s:cycle:%d:completed", ns, teamID, cycle)
}

// TeamAuditKey returns the LIST of JSON audit entries of a team.
func TeamAuditKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:audit", ns, teamID)
}

// TeamPresenceKey returns the ZSET of tracked member IDs scored by last keepalive (ms).
func TeamPresenceKey(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:presence", ns, teamID)
}

// FeedChannel returns the change-feed channel of one table in one team.
func FeedChannel(ns, teamID string, table Table) string {
	return fmt.Sprintf("sortie:%s:team:%s:feed:%s", ns, teamID, table)
}

// BroadcastChannel returns the ephemeral broadcast channel of a team.
func BroadcastChannel(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:broadcast", ns, teamID)
}

// PresenceEventsChannel returns the presence sync/leave channel of a team.
func PresenceEventsChannel(ns, teamID string) string {
	return fmt.Sprintf("sortie:%s:team:%s:presence_events", ns, teamID)
}
