package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/taskmate/internal/tasks"
)

// Result size bounds for list and search tools.
const (
	DefaultLimit = 5
	MaxLimit     = 20
)

// TaskStore is the slice of the task store the tools need.
type TaskStore interface {
	CreateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, error)
	GetTaskForActor(ctx context.Context, id, actorID int64) (*tasks.Task, error)
	FindTasksByTitle(ctx context.Context, title string, actorID int64) ([]*tasks.Task, error)
	ListTasksForActor(ctx context.Context, actorID int64, limit int) ([]*tasks.Task, error)
	SearchTasksForActor(ctx context.Context, actorID int64, query string, limit int) ([]*tasks.Task, error)
	UpdateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (*tasks.User, error)
	GetUserByUsername(ctx context.Context, username string) (*tasks.User, error)
}

// Validator normalizes tool arguments and resolves references against
// the store. It holds no state besides its collaborators.
type Validator struct {
	store TaskStore
	enums tasks.Enums
}

// NewValidator returns a Validator over store with the given enums.
func NewValidator(store TaskStore, enums tasks.Enums) *Validator {
	return &Validator{store: store, enums: enums}
}

// Enums returns the status and priority sets in force.
func (v *Validator) Enums() tasks.Enums { return v.enums }

// NormalizeLimit clamps n to [1, MaxLimit], mapping non-positive values
// to DefaultLimit.
func NormalizeLimit(n int) int {
	if n < 1 {
		return DefaultLimit
	}
	if n >= MaxLimit {
		return MaxLimit
	}
	return n
}

// NormalizePriority validates v against the built-in priorities.
func NormalizePriority(v any) (tasks.Priority, error) {
	return normalizePriority(tasks.DefaultEnums(), v)
}

// NormalizeStatus validates v against the built-in statuses.
func NormalizeStatus(v any) (tasks.Status, error) {
	return normalizeStatus(tasks.DefaultEnums(), v)
}

// NormalizePriority validates val against the configured priorities.
func (v *Validator) NormalizePriority(val any) (tasks.Priority, error) {
	return normalizePriority(v.enums, val)
}

// NormalizeStatus validates val against the configured statuses.
func (v *Validator) NormalizeStatus(val any) (tasks.Status, error) {
	return normalizeStatus(v.enums, val)
}

func normalizePriority(e tasks.Enums, v any) (tasks.Priority, error) {
	options := make([]string, len(e.Priorities))
	for i, p := range e.Priorities {
		options[i] = string(p)
	}
	got, err := matchEnum("priority", options, string(e.DefaultPriority), v)
	return tasks.Priority(got), err
}

func normalizeStatus(e tasks.Enums, v any) (tasks.Status, error) {
	options := make([]string, len(e.Statuses))
	for i, s := range e.Statuses {
		options[i] = string(s)
	}
	got, err := matchEnum("status", options, string(e.DefaultStatus), v)
	return tasks.Status(got), err
}

// matchEnum is the shared unwrap, case-fold and membership check.
func matchEnum(field string, options []string, def string, v any) (string, error) {
	v = unwrapSingle(v)
	if v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("Invalid %s '%s'. Valid options: %s", field, describe(v), strings.Join(options, ", "))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	for _, o := range options {
		if strings.EqualFold(s, o) {
			return o, nil
		}
	}
	return "", invalidArgument("Invalid %s '%s'. Valid options: %s", field, s, strings.Join(options, ", "))
}

// ResolveUserByID loads a user or fails with EntityNotFoundError.
func (v *Validator) ResolveUserByID(ctx context.Context, id int64) (*tasks.User, error) {
	u, err := v.store.GetUser(ctx, id)
	if errors.Is(err, tasks.ErrNotFound) {
		return nil, notFound(err, "User with ID %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", id, err)
	}
	return u, nil
}

// ResolveUserByUsername loads a user or fails with EntityNotFoundError.
func (v *Validator) ResolveUserByUsername(ctx context.Context, username string) (*tasks.User, error) {
	u, err := v.store.GetUserByUsername(ctx, username)
	if errors.Is(err, tasks.ErrNotFound) {
		return nil, notFound(err, "User with username '%s' does not exist", username)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", username, err)
	}
	return u, nil
}

// ResolveTask finds one of the actor's tasks by ID or, failing that, by
// exact title. The ID wins when both are given.
func (v *Validator) ResolveTask(ctx context.Context, taskID *int64, title string, actorID int64) (*tasks.Task, error) {
	if taskID != nil {
		t, err := v.store.GetTaskForActor(ctx, *taskID, actorID)
		if errors.Is(err, tasks.ErrNotFound) {
			return nil, notFound(err, "Task with ID %d does not exist", *taskID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve task %d: %w", *taskID, err)
		}
		return t, nil
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalidArgument("Either task_id or title must be provided")
	}
	matches, err := v.store.FindTasksByTitle(ctx, title, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolve task %q: %w", title, err)
	}
	switch len(matches) {
	case 0:
		return nil, notFound(nil, "Task with title '%s' does not exist", title)
	case 1:
		return matches[0], nil
	default:
		return nil, ambiguous("Multiple tasks found with title '%s'. Use task_id instead.", title)
	}
}

// ValidateSearchQuery trims q and rejects an empty result.
func ValidateSearchQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", invalidArgument("Search query cannot be empty")
	}
	return q, nil
}

// ValidateTitle trims and bounds a task title.
func ValidateTitle(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalidArgument("title cannot be empty")
	}
	if n := len([]rune(s)); n > tasks.MaxTitleLength {
		return "", invalidArgument("title must be at most %d characters, got %d", tasks.MaxTitleLength, n)
	}
	return s, nil
}

// ValidateDescription trims a task description and rejects blanks.
func ValidateDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalidArgument("description cannot be empty")
	}
	return s, nil
}

// ParseDueDate accepts YYYY-MM-DD or an RFC 3339 timestamp, which is
// truncated to its date. An empty string yields nil.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if d, err := time.Parse(tasks.DateLayout, s); err == nil {
		return &d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		d := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return &d, nil
	}
	return nil, invalidArgument("Invalid due_date '%s'. Use YYYY-MM-DD", s)
}

// TaskRecord is the wire shape of a task for tools and the REST API.
type TaskRecord struct {
	ID                 int64     `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Status             string    `json:"status"`
	Priority           string    `json:"priority"`
	DueDate            *string   `json:"due_date"`
	AssignedTo         *int64    `json:"assigned_to"`
	AssignedToUsername *string   `json:"assigned_to_username"`
	CreatedBy          *int64    `json:"created_by"`
	CreatedByUsername  *string   `json:"created_by_username"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SerializeTask renders t, resolving usernames for its user references.
func (v *Validator) SerializeTask(ctx context.Context, t *tasks.Task) (TaskRecord, error) {
	return v.serialize(ctx, t, map[int64]*string{})
}

// SerializeTasks renders ts in order. Usernames are looked up once per
// distinct user.
func (v *Validator) SerializeTasks(ctx context.Context, ts []*tasks.Task) ([]TaskRecord, error) {
	out := make([]TaskRecord, 0, len(ts))
	cache := map[int64]*string{}
	for _, t := range ts {
		rec, err := v.serialize(ctx, t, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (v *Validator) serialize(ctx context.Context, t *tasks.Task, cache map[int64]*string) (TaskRecord, error) {
	rec := TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.DueDate != nil {
		d := t.DueDate.Format(tasks.DateLayout)
		rec.DueDate = &d
	}
	var err error
	if rec.AssignedToUsername, err = v.username(ctx, t.AssignedTo, cache); err != nil {
		return TaskRecord{}, err
	}
	if rec.CreatedByUsername, err = v.username(ctx, t.CreatedBy, cache); err != nil {
		return TaskRecord{}, err
	}
	return rec, nil
}

func (v *Validator) username(ctx context.Context, id *int64, cache map[int64]*string) (*string, error) {
	if id == nil {
		return nil, nil
	}
	if name, ok := cache[*id]; ok {
		return name, nil
	}
	u, err := v.store.GetUser(ctx, *id)
	if errors.Is(err, tasks.ErrNotFound) {
		cache[*id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("serialize task: load user %d: %w", *id, err)
	}
	name := u.Username
	cache[*id] = &name
	return &name, nil
}
