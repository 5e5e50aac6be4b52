package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/internal/mission"
	"github.com/dyluth/sortie/internal/session"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const memberKey = "sortie.member"

type createTaskRequest struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description"`
	Priority    blackboard.Priority `json:"priority"`
	AssigneeID  string              `json:"assignee_id"`
	DeadlineMs  *int64              `json:"deadline_ms"`
}

type transitionRequest struct {
	Status blackboard.TaskStatus `json:"status" binding:"required"`
}

type redeployRequest struct {
	MissionName string `json:"mission_name" binding:"required"`
	MissionGoal string `json:"mission_goal"`
	DeadlineMs  *int64 `json:"deadline_ms"`
}

type deadlineRequest struct {
	DeadlineMs *int64 `json:"deadline_ms"` // null clears the deadline
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.client.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// requireMember rejects requests without a well-formed member header.
func (s *Server) requireMember(c *gin.Context) {
	memberID := c.GetHeader(MemberHeader)
	if _, err := uuid.Parse(memberID); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": MemberHeader + " header with a member UUID is required"})
		return
	}
	c.Set(memberKey, memberID)
	c.Next()
}

// load reads the team for the request. It writes the error response itself and returns
// nil when the team is missing or the caller is not in it.
func (s *Server) load(c *gin.Context) *session.View {
	view, err := session.Load(c.Request.Context(), s.client, session.Options{
		TeamID:   c.Param("team"),
		MemberID: c.GetString(memberKey),
		Config:   s.cfg,
		Clock:    s.clock,
	})
	if err != nil {
		s.writeError(c, err)
		return nil
	}
	return view
}

// loadTask is load plus a 404 when the path's task is not in the team.
func (s *Server) loadTask(c *gin.Context) (*session.View, string) {
	ws := s.load(c)
	if ws == nil {
		return nil, ""
	}
	taskID := c.Param("task")
	if _, ok := ws.Store.Task(taskID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, ""
	}
	return ws, taskID
}

func (s *Server) handleListTasks(c *gin.Context) {
	ws := s.load(c)
	if ws == nil {
		return
	}

	columns := gin.H{}
	for _, col := range ws.Board.Columns() {
		tasks := col.Tasks
		if tasks == nil {
			tasks = []*blackboard.Task{}
		}
		columns[string(col.Status)] = tasks
	}
	c.JSON(http.StatusOK, gin.H{"columns": columns, "pinned_task_id": ws.Store.Pin()})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}
	if req.Priority != "" {
		if err := req.Priority.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ws := s.load(c)
	if ws == nil {
		return
	}
	if req.AssigneeID != "" {
		if _, ok := ws.Store.Member(req.AssigneeID); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "assignee is not a member of this team"})
			return
		}
	}

	task, err := ws.Board.CreateTask(c.Request.Context(), ws.MemberID, board.Draft{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		DeadlineMs:  req.DeadlineMs,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleEditTask(c *gin.Context) {
	var patch blackboard.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}
	if patch.Status != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status changes go through /transition"})
		return
	}

	ws, taskID := s.loadTask(c)
	if ws == nil {
		return
	}
	if err := ws.Board.Edit(c.Request.Context(), ws.MemberID, taskID, patch); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondTask(c, taskID)
}

func (s *Server) handleTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}
	if err := req.Status.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, taskID := s.loadTask(c)
	if ws == nil {
		return
	}
	if err := ws.Board.RequestTransition(c.Request.Context(), ws.MemberID, taskID, req.Status); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondTask(c, taskID)
}

func (s *Server) handlePin(c *gin.Context) {
	ws, taskID := s.loadTask(c)
	if ws == nil {
		return
	}
	if err := ws.Board.Pin(c.Request.Context(), ws.MemberID, taskID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned_task_id": ws.Store.Pin()})
}

func (s *Server) handleUnpin(c *gin.Context) {
	ws, taskID := s.loadTask(c)
	if ws == nil {
		return
	}
	if err := ws.Board.Unpin(c.Request.Context(), ws.MemberID, taskID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned_task_id": ws.Store.Pin()})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	ws, taskID := s.loadTask(c)
	if ws == nil {
		return
	}
	if err := ws.Board.DeleteTask(c.Request.Context(), ws.MemberID, taskID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMissionStatus(c *gin.Context) {
	ws := s.load(c)
	if ws == nil {
		return
	}
	team := ws.Store.Team()
	c.JSON(http.StatusOK, gin.H{
		"team":         team,
		"phase":        ws.Mission.Phase(),
		"remaining_ms": ws.Mission.Remaining().Milliseconds(),
		"status":       ws.Mission.StatusLine(),
	})
}

func (s *Server) handleComplete(c *gin.Context) {
	ws := s.load(c)
	if ws == nil {
		return
	}
	summary, err := ws.Mission.Complete(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleRedeploy(c *gin.Context) {
	var req redeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	ws := s.load(c)
	if ws == nil {
		return
	}
	var deadline *time.Time
	if req.DeadlineMs != nil {
		d := time.UnixMilli(*req.DeadlineMs)
		deadline = &d
	}
	if err := ws.Mission.Redeploy(c.Request.Context(), req.MissionName, req.MissionGoal, deadline); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws.Store.Team())
}

func (s *Server) handleSetDeadline(c *gin.Context) {
	var req deadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	ws := s.load(c)
	if ws == nil {
		return
	}
	var err error
	if req.DeadlineMs == nil {
		err = ws.Mission.ClearDeadline(c.Request.Context())
	} else {
		err = ws.Mission.SetDeadline(c.Request.Context(), time.UnixMilli(*req.DeadlineMs))
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws.Store.Team())
}

// respondTask returns the task as the blackboard now holds it.
func (s *Server) respondTask(c *gin.Context, taskID string) {
	task, err := s.client.GetTask(c.Request.Context(), taskID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, board.ErrNotAuthorized), errors.Is(err, mission.ErrNotLeader), errors.Is(err, session.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case blackboard.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case store.IsMutationError(err):
		log.Printf("[API] Mutation failed on %s: %v", c.FullPath(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] Request to %s failed: %v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
