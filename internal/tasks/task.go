// Package tasks provides the task and user model and its SQL storage.
package tasks

import (
	"errors"
	"time"
)

// Status is the workflow state of a task.
type Status string

// Built-in statuses.
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Priority ranks a task.
type Priority string

// Built-in priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// MaxTitleLength is the longest title the store accepts.
const MaxTitleLength = 255

// DateLayout is the wire and storage format for due dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a task, user or token does not exist.
var ErrNotFound = errors.New("not found")

// Task is a single to-do item.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssignedTo  *int64     `json:"assigned_to"`
	CreatedBy   *int64     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// User is an account that owns and is assigned tasks.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"-"`
	DateJoined   time.Time `json:"-"`
}

// Token is an opaque API key bound to one user.
type Token struct {
	Key     string    `json:"key"`
	UserID  int64     `json:"user_id"`
	Created time.Time `json:"created"`
}

// Enums is the closed set of statuses and priorities a deployment
// accepts, with the default applied when a value is omitted.
type Enums struct {
	Statuses        []Status
	Priorities      []Priority
	DefaultStatus   Status
	DefaultPriority Priority
}

// DefaultEnums returns the built-in members.
func DefaultEnums() Enums {
	return Enums{
		Statuses:        []Status{StatusTodo, StatusInProgress, StatusCompleted},
		Priorities:      []Priority{PriorityLow, PriorityMedium, PriorityHigh},
		DefaultStatus:   StatusTodo,
		DefaultPriority: PriorityMedium,
	}
}

// EnumsFromStrings builds an Enums from configured member names. Empty
// lists fall back to the built-in members. When a configured set does
// not include the built-in default, its first member becomes the
// default.
func EnumsFromStrings(statuses, priorities []string) Enums {
	e := DefaultEnums()
	if len(statuses) > 0 {
		e.Statuses = e.Statuses[:0]
		for _, s := range statuses {
			e.Statuses = append(e.Statuses, Status(s))
		}
		if !containsStatus(e.Statuses, e.DefaultStatus) {
			e.DefaultStatus = e.Statuses[0]
		}
	}
	if len(priorities) > 0 {
		e.Priorities = e.Priorities[:0]
		for _, p := range priorities {
			e.Priorities = append(e.Priorities, Priority(p))
		}
		if !containsPriority(e.Priorities, e.DefaultPriority) {
			e.DefaultPriority = e.Priorities[0]
		}
	}
	return e
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(set []Priority, p Priority) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}

// TaskUpdate carries a partial update. Nil fields are left unchanged.
// ClearAssignee and ClearDueDate null the column.
type TaskUpdate struct {
	Title         *string
	Description   *string
	Status        *Status
	Priority      *Priority
	DueDate       *time.Time
	ClearDueDate  bool
	AssignedTo    *int64
	ClearAssignee bool
}

// Apply copies the set fields of u onto t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.ClearDueDate {
		t.DueDate = nil
	} else if u.DueDate != nil {
		d := *u.DueDate
		t.DueDate = &d
	}
	if u.ClearAssignee {
		t.AssignedTo = nil
	} else if u.AssignedTo != nil {
		id := *u.AssignedTo
		t.AssignedTo = &id
	}
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	// CreatedBy restricts to tasks the user created. Zero means any.
	CreatedBy int64
	// AssignedTo restricts to tasks assigned to the user. Zero means any.
	AssignedTo int64
	Status     Status
	Priority   Priority
	// Ordering is "-created_at" (default) or "due_date", which sorts by
	// due date and then priority, undated tasks last.
	Ordering string
	Limit    int
}
