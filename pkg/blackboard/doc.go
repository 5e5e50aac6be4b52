// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the sortie team workspace.
//
// # Overview
//
// The blackboard is the durable state shared by every client of a team, together with
// the three real-time primitives that keep those clients consistent:
//
//   - the change feed: every row write publishes a ChangeEvent carrying the canonical row
//     to all subscribers of that team and table, the writer included
//   - the broadcast channel: ephemeral, at-most-once team signals (typing, mission
//     completion, redeploy) that are never persisted
//   - the presence channel: tracked members with transport keepalive, announced as full
//     sync snapshots and explicit leave events
//
// # Core Concepts
//
// Teams run one mission cycle at a time. Tasks live on the team's board and are patched
// field by field (TaskPatch), so concurrent edits to different fields never conflict and
// edits to the same field resolve last-write-wins at Redis. The team's single pinned task
// is a plain string key, so setting a new pin atomically replaces the old one.
//
// Completing a mission claims a per-cycle marker with SETNX before writing the archive,
// which makes completion effective at most once per cycle. Redeploy starts the next cycle
// and deletes task rows while members, chat, archives and audit history are kept.
//
// # Multi-Deployment Support
//
// All Redis keys and Pub/Sub channels are namespaced by deployment name, and all
// team-scoped keys and channels additionally carry the team ID.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	sub, err := client.SubscribeChanges(ctx, teamID, blackboard.TableTasks)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	status := blackboard.TaskStatusReview
//	task, err := client.PatchTask(ctx, taskID, blackboard.TaskPatch{Status: &status})
//
//	for event := range sub.Events() {
//		t, _ := event.Task()
//		fmt.Println(t.Title, t.Status)
//	}
//
// # Redis Key Patterns
//
//	sortie:{ns}:team:{team_id}                  - Team hash
//	sortie:{ns}:team:{team_id}:members          - Member ID set
//	sortie:{ns}:team:{team_id}:tasks            - Task ID zset (score: created ms)
//	sortie:{ns}:team:{team_id}:pin              - Pinned task ID
//	sortie:{ns}:team:{team_id}:messages         - Message ID zset (score: server ms)
//	sortie:{ns}:team:{team_id}:archives         - Archive ID list
//	sortie:{ns}:team:{team_id}:cycle:{n}:completed - Completion marker
//	sortie:{ns}:team:{team_id}:presence         - Presence zset (score: keepalive ms)
//	sortie:{ns}:task:{id}, member:{id}, message:{id}, archive:{id}, bounty:{id}
//
// # Pub/Sub Channels
//
//	sortie:{ns}:team:{team_id}:feed:{table}     - Change feed per table
//	sortie:{ns}:team:{team_id}:broadcast        - Ephemeral broadcast envelopes
//	sortie:{ns}:team:{team_id}:presence_events  - Presence sync/leave events
package blackboard
