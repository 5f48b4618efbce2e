package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/tasks"
	"github.com/nugget/taskmate/internal/tools"
)

// taskRequest is the REST task body. Every field is optional on PATCH;
// title and description are required on POST and PUT.
type taskRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	AssignedTo  *int64  `json:"assigned_to"`
}

type assignRequest struct {
	Username string `json:"username" validate:"required"`
}

// GET /api/tasks/?status=&priority=&assigned_to_me=true&ordering=
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	filter := tasks.ListFilter{CreatedBy: user.ID, Ordering: q.Get("ordering")}
	if b, _ := strconv.ParseBool(q.Get("assigned_to_me")); b {
		filter.CreatedBy = 0
		filter.AssignedTo = user.ID
	}
	if v := q.Get("status"); v != "" {
		st, err := s.validator.NormalizeStatus(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}
	if v := q.Get("priority"); v != "" {
		p, err := s.validator.NormalizePriority(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Priority = p
	}
	switch filter.Ordering {
	case "", "-created_at", "due_date":
	default:
		s.errorResponse(w, http.StatusBadRequest, "ordering must be -created_at or due_date")
		return
	}

	list, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	records, err := s.validator.SerializeTasks(r.Context(), list)
	if err != nil {
		s.internalError(w, "serialize tasks", err)
		return
	}
	s.respond(w, http.StatusOK, records)
}

// POST /api/tasks/
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req taskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	task := &tasks.Task{CreatedBy: &user.ID}
	if err := s.applyTaskRequest(r.Context(), task, req, false); err != nil {
		s.taskError(w, err)
		return
	}
	created, err := s.store.CreateTask(r.Context(), task)
	if err != nil {
		s.internalError(w, "create task", err)
		return
	}
	s.bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskCreated, created.ID, user.ID, created.Title))
	s.writeTask(w, r, http.StatusCreated, created)
}

// GET /api/tasks/{id}/
func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	s.writeTask(w, r, http.StatusOK, task)
}

// PUT /api/tasks/{id}/
func (s *Server) handleTaskReplace(w http.ResponseWriter, r *http.Request) {
	s.updateTask(w, r, false)
}

// PATCH /api/tasks/{id}/
func (s *Server) handleTaskPatch(w http.ResponseWriter, r *http.Request) {
	s.updateTask(w, r, true)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, partial bool) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.applyTaskRequest(r.Context(), task, req, partial); err != nil {
		s.taskError(w, err)
		return
	}
	s.saveTask(w, r, task)
}

// DELETE /api/tasks/{id}/
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTask(r.Context(), task.ID); err != nil {
		s.internalError(w, "delete task", err)
		return
	}
	s.bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskDeleted, task.ID, currentUser(r).ID, task.Title))
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/tasks/{id}/complete/
func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	task.Status = tasks.StatusCompleted
	s.saveTask(w, r, task)
}

// POST /api/tasks/{id}/assign/ {"username": "bob"}
func (s *Server) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	assignee, err := s.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, tasks.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.internalError(w, "find assignee", err)
		return
	}
	task.AssignedTo = &assignee.ID
	s.saveTask(w, r, task)
}

// loadTask reads {id} and loads it within the caller's scope. It writes
// the error response itself.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*tasks.Task, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		s.errorResponse(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	task, err := s.store.GetTaskForActor(r.Context(), id, currentUser(r).ID)
	if errors.Is(err, tasks.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	if err != nil {
		s.internalError(w, "get task", err)
		return nil, false
	}
	return task, true
}

func (s *Server) saveTask(w http.ResponseWriter, r *http.Request, task *tasks.Task) {
	updated, err := s.store.UpdateTask(r.Context(), task)
	if err != nil {
		s.internalError(w, "update task", err)
		return
	}
	s.bus.Publish(events.TaskEvent(events.SourceAPI, events.KindTaskUpdated, updated.ID, currentUser(r).ID, updated.Title))
	s.writeTask(w, r, http.StatusOK, updated)
}

func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, code int, t *tasks.Task) {
	rec, err := s.validator.SerializeTask(r.Context(), t)
	if err != nil {
		s.internalError(w, "serialize task", err)
		return
	}
	s.respond(w, code, rec)
}

// applyTaskRequest validates req and copies it onto t. Unless partial,
// title and description must be present and omitted enums reset to
// their defaults.
func (s *Server) applyTaskRequest(ctx context.Context, t *tasks.Task, req taskRequest, partial bool) error {
	if !partial {
		if req.Title == nil {
			return &tools.ToolError{Kind: tools.KindInvalidArgument, Message: "title is required"}
		}
		if req.Description == nil {
			return &tools.ToolError{Kind: tools.KindInvalidArgument, Message: "description is required"}
		}
	}
	if req.Title != nil {
		title, err := tools.ValidateTitle(*req.Title)
		if err != nil {
			return err
		}
		t.Title = title
	}
	if req.Description != nil {
		desc, err := tools.ValidateDescription(*req.Description)
		if err != nil {
			return err
		}
		t.Description = desc
	}
	if req.Status != nil || !partial {
		st, err := s.validator.NormalizeStatus(deref(req.Status))
		if err != nil {
			return err
		}
		t.Status = st
	}
	if req.Priority != nil || !partial {
		p, err := s.validator.NormalizePriority(deref(req.Priority))
		if err != nil {
			return err
		}
		t.Priority = p
	}
	if req.DueDate != nil || !partial {
		due, err := tools.ParseDueDate(deref(req.DueDate))
		if err != nil {
			return err
		}
		t.DueDate = due
	}
	if req.AssignedTo != nil {
		u, err := s.validator.ResolveUserByID(ctx, *req.AssignedTo)
		if err != nil {
			return &tools.ToolError{Kind: tools.KindInvalidArgument, Message: err.Error(), Err: err}
		}
		t.AssignedTo = &u.ID
	} else if !partial {
		t.AssignedTo = nil
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// taskError maps validation failures to 400 and everything else to 500.
func (s *Server) taskError(w http.ResponseWriter, err error) {
	var te *tools.ToolError
	if errors.As(err, &te) && te.Kind != tools.KindInternal {
		s.errorResponse(w, http.StatusBadRequest, te.Message)
		return
	}
	s.internalError(w, "task request", err)
}

// internalError logs err and answers 500 without leaking it.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "Internal server error")
}
