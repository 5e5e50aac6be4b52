package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/resolver"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/internal/timespec"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	taskDescription string
	taskPriority    string
	taskAssignee    string
	taskDeadline    string
	taskMine        bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work with the team's task board",
	Long: `Work with the team's task board.

Tasks are referenced by full ID or by a unique prefix of at least 6
characters, as shown by 'sortie task list'. Members are referenced by
name or ID prefix; use "none" to clear an assignment.

The leader can act on every task. Other members can act on tasks they
are assigned to or reviewing.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a task in todo",
	Long: `Create a task in the todo column.

Only the leader may pre-assign the task, and only the leader may create
tasks unless the team allows task creation for every member.

Examples:
  sortie task add "Fuel check" --priority high
  sortie task add "Radar sweep" --assignee Grace --deadline 6h`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the board",
	Args:    cobra.NoArgs,
	RunE:    runTaskList,
}

var taskMoveCmd = &cobra.Command{
	Use:   "move TASK STATUS",
	Short: "Move a task to todo, in_progress, review or done",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskMove,
}

var taskPinCmd = &cobra.Command{
	Use:   "pin TASK",
	Short: "Pin a task to the top of the board, replacing any other pin",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskPin,
}

var taskUnpinCmd = &cobra.Command{
	Use:   "unpin TASK",
	Short: "Unpin a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskUnpin,
}

var taskCriticalCmd = &cobra.Command{
	Use:   "critical TASK",
	Short: "Toggle the critical flag of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCritical,
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign TASK MEMBER",
	Short: "Assign a task (leader only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskAssign,
}

var taskReviewCmd = &cobra.Command{
	Use:   "review TASK MEMBER",
	Short: "Set a task's reviewer (leader only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskReview,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete TASK",
	Short: "Delete a task (leader only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskSubtaskCmd = &cobra.Command{
	Use:   "subtask TASK TITLE",
	Short: "Add a checklist item to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskSubtask,
}

var taskCheckCmd = &cobra.Command{
	Use:   "check TASK N",
	Short: "Toggle the Nth checklist item of a task (1-based)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskCheck,
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().StringVarP(&taskPriority, "priority", "p", "medium", "Priority: low, medium or high")
	taskAddCmd.Flags().StringVarP(&taskAssignee, "assignee", "a", "", "Assignee name or ID (leader only)")
	taskAddCmd.Flags().StringVar(&taskDeadline, "deadline", "", "Task deadline (duration from now or RFC3339)")

	taskListCmd.Flags().BoolVar(&taskMine, "mine", false, "Only tasks you are assigned to or reviewing")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskMoveCmd, taskPinCmd, taskUnpinCmd, taskCriticalCmd,
		taskAssignCmd, taskReviewCmd, taskDeleteCmd, taskSubtaskCmd, taskCheckCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	priority := blackboard.Priority(taskPriority)
	if err := priority.Validate(); err != nil {
		return printer.Error("invalid priority", err.Error(), []string{"Valid priorities: low, medium, high"})
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	draft := board.Draft{
		Title:       strings.Join(args, " "),
		Description: taskDescription,
		Priority:    priority,
	}
	if draft.AssigneeID, err = ws.resolveMember(taskAssignee); err != nil {
		return err
	}
	if taskDeadline != "" {
		deadline, err := timespec.ParseDeadline(taskDeadline, time.Now())
		if err != nil {
			return printer.Error("invalid deadline", err.Error(), []string{"Use a duration like '6h' or RFC3339 like '2026-11-01T18:00:00Z'"})
		}
		ms := deadline.UnixMilli()
		draft.DeadlineMs = &ms
	}

	task, err := ws.view.Board.CreateTask(ctx, ws.view.MemberID, draft)
	if err != nil {
		return boardError(err, "create task")
	}
	printer.Success("Created %s %s\n", resolver.ShortID(task.ID), task.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	columns := ws.view.Board.Columns()
	if taskMine {
		me := ws.view.MemberID
		for i := range columns {
			var mine []*blackboard.Task
			for _, t := range columns[i].Tasks {
				if t.AssigneeID == me || t.ReviewAssigneeID == me {
					mine = append(mine, t)
				}
			}
			columns[i].Tasks = mine
		}
	}

	printer.Info("%s\n\n", ws.view.Mission.StatusLine())
	printer.Board(columns, ws.view.Store.Pin(), ws.names())
	return nil
}

func runTaskMove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	status := blackboard.TaskStatus(args[1])
	if err := status.Validate(); err != nil {
		return printer.Error("invalid status", err.Error(), []string{"Valid statuses: todo, in_progress, review, done"})
	}

	return withTask(cmd, args[0], "move task", func(ws *workspace, taskID string) error {
		if err := ws.view.Board.RequestTransition(ctx, ws.view.MemberID, taskID, status); err != nil {
			return err
		}
		printer.Success("Moved %s to %s\n", resolver.ShortID(taskID), status)
		return nil
	})
}

func runTaskPin(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "pin task", func(ws *workspace, taskID string) error {
		if err := ws.view.Board.Pin(cmd.Context(), ws.view.MemberID, taskID); err != nil {
			return err
		}
		printer.Success("📌 Pinned %s\n", resolver.ShortID(taskID))
		return nil
	})
}

func runTaskUnpin(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "unpin task", func(ws *workspace, taskID string) error {
		if ws.view.Store.Pin() != taskID {
			printer.Info("%s is not pinned\n", resolver.ShortID(taskID))
			return nil
		}
		if err := ws.view.Board.Unpin(cmd.Context(), ws.view.MemberID, taskID); err != nil {
			return err
		}
		printer.Success("Unpinned %s\n", resolver.ShortID(taskID))
		return nil
	})
}

func runTaskCritical(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "flag task", func(ws *workspace, taskID string) error {
		if err := ws.view.Board.ToggleCritical(cmd.Context(), ws.view.MemberID, taskID); err != nil {
			return err
		}
		if t, ok := ws.view.Store.Task(taskID); ok && t.IsCritical {
			printer.Success("Marked %s critical\n", resolver.ShortID(taskID))
		} else {
			printer.Success("Cleared critical flag on %s\n", resolver.ShortID(taskID))
		}
		return nil
	})
}

func runTaskAssign(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "assign task", func(ws *workspace, taskID string) error {
		memberID, err := ws.resolveMember(args[1])
		if err != nil {
			return err
		}
		if err := ws.view.Board.Assign(cmd.Context(), ws.view.MemberID, taskID, memberID); err != nil {
			return err
		}
		printer.Success("Assigned %s to %s\n", resolver.ShortID(taskID), displayName(ws, memberID))
		return nil
	})
}

func runTaskReview(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "set reviewer", func(ws *workspace, taskID string) error {
		memberID, err := ws.resolveMember(args[1])
		if err != nil {
			return err
		}
		if err := ws.view.Board.AssignReviewer(cmd.Context(), ws.view.MemberID, taskID, memberID); err != nil {
			return err
		}
		printer.Success("Reviewer of %s is %s\n", resolver.ShortID(taskID), displayName(ws, memberID))
		return nil
	})
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "delete task", func(ws *workspace, taskID string) error {
		if err := ws.view.Board.DeleteTask(cmd.Context(), ws.view.MemberID, taskID); err != nil {
			return err
		}
		printer.Success("Deleted %s\n", resolver.ShortID(taskID))
		return nil
	})
}

func runTaskSubtask(cmd *cobra.Command, args []string) error {
	return withTask(cmd, args[0], "add subtask", func(ws *workspace, taskID string) error {
		st, err := ws.view.Board.AddSubtask(cmd.Context(), ws.view.MemberID, taskID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if st == nil {
			return printer.Error("task was removed", "The task disappeared before the subtask was added.", nil)
		}
		printer.Success("Added subtask %q\n", st.Title)
		return nil
	})
}

func runTaskCheck(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return printer.Error("invalid subtask number", fmt.Sprintf("Expected a number from 1, got %q.", args[1]), nil)
	}

	return withTask(cmd, args[0], "update subtask", func(ws *workspace, taskID string) error {
		t, _ := ws.view.Store.Task(taskID)
		if n > len(t.Subtasks) {
			return printer.Error("invalid subtask number", fmt.Sprintf("Task %s has %d subtasks.", resolver.ShortID(taskID), len(t.Subtasks)), nil)
		}
		st := t.Subtasks[n-1]
		if err := ws.view.Board.ToggleSubtask(cmd.Context(), ws.view.MemberID, taskID, st.ID); err != nil {
			return err
		}
		mark := "☑"
		if st.Done {
			mark = "☐"
		}
		printer.Success("%s %s\n", mark, st.Title)
		return nil
	})
}

// withTask opens the workspace, resolves ref and runs fn, translating board errors.
func withTask(cmd *cobra.Command, ref, action string, fn func(ws *workspace, taskID string) error) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	taskID, err := ws.resolveTask(cmd.Context(), ref)
	if err != nil {
		return err
	}
	if err := fn(ws, taskID); err != nil {
		return boardError(err, action)
	}
	return nil
}

// boardError leaves printer errors alone and explains guard failures and reverted writes.
func boardError(err error, action string) error {
	var mutErr *store.MutationError
	switch {
	case errors.Is(err, board.ErrNotAuthorized):
		return permissionError(err, action)
	case errors.As(err, &mutErr):
		return printer.Error(
			fmt.Sprintf("cannot %s", action),
			fmt.Sprintf("The change was rolled back: %v", mutErr.Err),
			[]string{"Check the Redis connection and try again"},
		)
	}
	return err
}

func displayName(ws *workspace, memberID string) string {
	if memberID == "" {
		return "nobody"
	}
	if name, ok := ws.names()[memberID]; ok {
		return name
	}
	return resolver.ShortID(memberID)
}
