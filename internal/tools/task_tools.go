package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/tasks"
)

// Argument types. Only their shape matters: they are reflected into
// the parameter schemas the model sees. Handlers decode the raw
// argument map themselves so that loosely typed values survive.

type getTasksArgs struct {
	Limit int `json:"limit,omitempty" jsonschema_description:"Maximum number of tasks to return. Defaults to 5, capped at 20."`
}

type createTaskArgs struct {
	Title       string `json:"title" jsonschema_description:"Short title of the task."`
	Description string `json:"description" jsonschema_description:"What needs to be done."`
	Priority    string `json:"priority,omitempty" jsonschema_description:"Task priority, e.g. low, medium or high. Defaults to medium."`
	Status      string `json:"status,omitempty" jsonschema_description:"Task status, e.g. todo, in_progress or completed. Defaults to todo."`
	AssignedTo  string `json:"assigned_to,omitempty" jsonschema_description:"Username of the person the task is assigned to."`
	DueDate     string `json:"due_date,omitempty" jsonschema_description:"Due date as YYYY-MM-DD."`
}

type taskRefArgs struct {
	TaskID int64  `json:"task_id,omitempty" jsonschema_description:"Numeric ID of the task. Preferred when known."`
	Title  string `json:"title,omitempty" jsonschema_description:"Exact title of the task, used when the ID is not known."`
}

type updateTaskArgs struct {
	TaskID      int64  `json:"task_id,omitempty" jsonschema_description:"Numeric ID of the task to update. Preferred when known."`
	Title       string `json:"title,omitempty" jsonschema_description:"Exact current title of the task to update, used when the ID is not known."`
	NewTitle    string `json:"new_title,omitempty" jsonschema_description:"New title, only when renaming the task."`
	Description string `json:"description,omitempty" jsonschema_description:"New description."`
	Priority    string `json:"priority,omitempty" jsonschema_description:"New priority."`
	Status      string `json:"status,omitempty" jsonschema_description:"New status."`
	AssignedTo  string `json:"assigned_to,omitempty" jsonschema_description:"Username to assign the task to. An empty string unassigns it."`
	DueDate     string `json:"due_date,omitempty" jsonschema_description:"New due date as YYYY-MM-DD. An empty string clears it."`
}

type searchTasksArgs struct {
	Query string `json:"query" jsonschema_description:"Text to look for in task titles and descriptions, case-insensitive."`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of tasks to return. Defaults to 5, capped at 20."`
}

// TaskTools implements the task tool set over a TaskStore.
type TaskTools struct {
	store  TaskStore
	v      *Validator
	bus    *events.Bus
	logger *slog.Logger
}

// NewTaskTools creates the task tool set. bus may be nil.
func NewTaskTools(store TaskStore, enums tasks.Enums, bus *events.Bus, logger *slog.Logger) *TaskTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskTools{
		store:  store,
		v:      NewValidator(store, enums),
		bus:    bus,
		logger: logger,
	}
}

// Validator returns the validation layer the tools share.
func (tt *TaskTools) Validator() *Validator { return tt.v }

// Register adds the six task tools to r.
func (tt *TaskTools) Register(r *Registry) error {
	statuses := joinEnum(tt.v.enums.Statuses)
	priorities := joinEnum(tt.v.enums.Priorities)

	defs := []*Tool{
		{
			Name:        "get_tasks",
			Description: "List the current user's most recent tasks, newest first. Returns 5 tasks unless a limit is given; at most 20.",
			Parameters:  mustParameters(&getTasksArgs{}),
			Handler:     tt.handleGetTasks,
		},
		{
			Name: "create_task",
			Description: fmt.Sprintf("Create a new task for the current user. Title and description are required. "+
				"Priority is one of %s (default %s); status is one of %s (default %s). "+
				"assigned_to is a username and due_date is YYYY-MM-DD.",
				priorities, tt.v.enums.DefaultPriority, statuses, tt.v.enums.DefaultStatus),
			Parameters: mustParameters(&createTaskArgs{}),
			Handler:    tt.handleCreateTask,
		},
		{
			Name: "update_task",
			Description: fmt.Sprintf("Update one of the current user's tasks, located by task_id or by exact title. "+
				"Only the fields given are changed; use new_title to rename. Priorities: %s. Statuses: %s.",
				priorities, statuses),
			Parameters: mustParameters(&updateTaskArgs{}),
			Handler:    tt.handleUpdateTask,
		},
		{
			Name:        "delete_task",
			Description: "Delete one of the current user's tasks, located by task_id or by exact title.",
			Parameters:  mustParameters(&taskRefArgs{}),
			Handler:     tt.handleDeleteTask,
		},
		{
			Name:        "get_task",
			Description: "Get a single task of the current user by task_id or by exact title.",
			Parameters:  mustParameters(&taskRefArgs{}),
			Handler:     tt.handleGetTask,
		},
		{
			Name:        "search_tasks",
			Description: "Search the current user's tasks whose title or description contains the query, newest first. Returns 5 tasks unless a limit is given; at most 20.",
			Parameters:  mustParameters(&searchTasksArgs{}),
			Handler:     tt.handleSearchTasks,
		},
	}
	for _, t := range defs {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func joinEnum[T ~string](vals []T) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = string(v)
	}
	return strings.Join(s, ", ")
}

func (tt *TaskTools) handleGetTasks(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}
	limit, err := argLimit(args)
	if err != nil {
		return "", err
	}

	list, err := tt.store.ListTasksForActor(ctx, actor, limit)
	if err != nil {
		return "", fmt.Errorf("get_tasks: %w", err)
	}
	return tt.encodeTasks(ctx, list)
}

func (tt *TaskTools) handleCreateTask(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}

	rawTitle, _, err := argString(args, "title")
	if err != nil {
		return "", err
	}
	title, err := ValidateTitle(rawTitle)
	if err != nil {
		return "", err
	}
	rawDesc, _, err := argString(args, "description")
	if err != nil {
		return "", err
	}
	desc, err := ValidateDescription(rawDesc)
	if err != nil {
		return "", err
	}
	priority, err := tt.v.NormalizePriority(args["priority"])
	if err != nil {
		return "", err
	}
	status, err := tt.v.NormalizeStatus(args["status"])
	if err != nil {
		return "", err
	}
	assignee, err := tt.assigneeArg(ctx, args)
	if err != nil {
		return "", err
	}
	rawDue, _, err := argString(args, "due_date")
	if err != nil {
		return "", err
	}
	due, err := ParseDueDate(rawDue)
	if err != nil {
		return "", err
	}

	// The creator is always the resolved actor.
	creator, err := tt.v.ResolveUserByID(ctx, actor)
	if err != nil {
		return "", err
	}

	task := &tasks.Task{
		Title:       title,
		Description: desc,
		Status:      status,
		Priority:    priority,
		DueDate:     due,
		CreatedBy:   &creator.ID,
	}
	if assignee != nil {
		task.AssignedTo = &assignee.ID
	}

	created, err := tt.store.CreateTask(ctx, task)
	if err != nil {
		return "", fmt.Errorf("create_task: %w", err)
	}
	tt.logger.Info("task created", "task_id", created.ID, "actor_id", actor)
	tt.bus.Publish(events.TaskEvent(events.SourceTools, events.KindTaskCreated, created.ID, actor, created.Title))
	return tt.encodeTask(ctx, created)
}

func (tt *TaskTools) handleUpdateTask(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}
	taskID, title, err := argTaskRef(args)
	if err != nil {
		return "", err
	}
	task, err := tt.v.ResolveTask(ctx, taskID, title, actor)
	if err != nil {
		return "", err
	}

	var u tasks.TaskUpdate
	if s, ok, err := argString(args, "new_title"); err != nil {
		return "", err
	} else if ok && strings.TrimSpace(s) != "" {
		t, err := ValidateTitle(s)
		if err != nil {
			return "", err
		}
		u.Title = &t
	}
	if s, ok, err := argString(args, "description"); err != nil {
		return "", err
	} else if ok {
		d, err := ValidateDescription(s)
		if err != nil {
			return "", err
		}
		u.Description = &d
	}
	if s, ok, err := argString(args, "priority"); err != nil {
		return "", err
	} else if ok && strings.TrimSpace(s) != "" {
		p, err := tt.v.NormalizePriority(s)
		if err != nil {
			return "", err
		}
		u.Priority = &p
	}
	if s, ok, err := argString(args, "status"); err != nil {
		return "", err
	} else if ok && strings.TrimSpace(s) != "" {
		st, err := tt.v.NormalizeStatus(s)
		if err != nil {
			return "", err
		}
		u.Status = &st
	}
	if _, ok := args["assigned_to"]; ok {
		assignee, err := tt.assigneeArg(ctx, args)
		if err != nil {
			return "", err
		}
		if assignee == nil {
			u.ClearAssignee = true
		} else {
			u.AssignedTo = &assignee.ID
		}
	}
	if s, ok, err := argString(args, "due_date"); err != nil {
		return "", err
	} else if ok {
		due, err := ParseDueDate(s)
		if err != nil {
			return "", err
		}
		if due == nil {
			u.ClearDueDate = true
		} else {
			u.DueDate = due
		}
	}

	u.Apply(task)
	updated, err := tt.store.UpdateTask(ctx, task)
	if errors.Is(err, tasks.ErrNotFound) {
		return "", notFound(err, "Task with ID %d does not exist", task.ID)
	}
	if err != nil {
		return "", fmt.Errorf("update_task: %w", err)
	}
	tt.bus.Publish(events.TaskEvent(events.SourceTools, events.KindTaskUpdated, updated.ID, actor, updated.Title))
	return tt.encodeTask(ctx, updated)
}

func (tt *TaskTools) handleDeleteTask(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}
	taskID, title, err := argTaskRef(args)
	if err != nil {
		return "", err
	}
	task, err := tt.v.ResolveTask(ctx, taskID, title, actor)
	if err != nil {
		return "", err
	}

	err = tt.store.DeleteTask(ctx, task.ID)
	if errors.Is(err, tasks.ErrNotFound) {
		return "", notFound(err, "Task with ID %d does not exist", task.ID)
	}
	if err != nil {
		return "", fmt.Errorf("delete_task: %w", err)
	}
	tt.logger.Info("task deleted", "task_id", task.ID, "actor_id", actor)
	tt.bus.Publish(events.TaskEvent(events.SourceTools, events.KindTaskDeleted, task.ID, actor, task.Title))
	return encode(map[string]string{
		"message": fmt.Sprintf("Task '%s' (ID: %d) deleted successfully", task.Title, task.ID),
	})
}

func (tt *TaskTools) handleGetTask(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}
	taskID, title, err := argTaskRef(args)
	if err != nil {
		return "", err
	}
	task, err := tt.v.ResolveTask(ctx, taskID, title, actor)
	if err != nil {
		return "", err
	}
	return tt.encodeTask(ctx, task)
}

func (tt *TaskTools) handleSearchTasks(ctx context.Context, args map[string]any) (string, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return "", err
	}
	raw, _, err := argString(args, "query")
	if err != nil {
		return "", err
	}
	query, err := ValidateSearchQuery(raw)
	if err != nil {
		return "", err
	}
	limit, err := argLimit(args)
	if err != nil {
		return "", err
	}

	list, err := tt.store.SearchTasksForActor(ctx, actor, query, limit)
	if err != nil {
		return "", fmt.Errorf("search_tasks: %w", err)
	}
	return tt.encodeTasks(ctx, list)
}

// assigneeArg resolves assigned_to. A number is taken as a user ID and
// anything else as a username; empty or null means no assignee.
func (tt *TaskTools) assigneeArg(ctx context.Context, args map[string]any) (*tasks.User, error) {
	switch unwrapSingle(args["assigned_to"]).(type) {
	case float64, json.Number:
		id, _, err := argInt(args, "assigned_to")
		if err != nil {
			return nil, err
		}
		return tt.v.ResolveUserByID(ctx, id)
	}
	name, _, err := argString(args, "assigned_to")
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return tt.v.ResolveUserByUsername(ctx, name)
}

func (tt *TaskTools) encodeTask(ctx context.Context, t *tasks.Task) (string, error) {
	rec, err := tt.v.SerializeTask(ctx, t)
	if err != nil {
		return "", err
	}
	return encode(rec)
}

func (tt *TaskTools) encodeTasks(ctx context.Context, ts []*tasks.Task) (string, error) {
	recs, err := tt.v.SerializeTasks(ctx, ts)
	if err != nil {
		return "", err
	}
	return encode(recs)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
