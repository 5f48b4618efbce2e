package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nugget/taskmate/internal/events"
)

func TestTaskTools_Registered(t *testing.T) {
	env := newTestEnv(t)
	want := []string{"create_task", "delete_task", "get_task", "get_tasks", "search_tasks", "update_task"}
	got := env.reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	// The actor is never a model-visible parameter.
	for _, name := range got {
		props := env.reg.Get(name).Parameters["properties"].(map[string]any)
		for _, forbidden := range []string{"created_by", "actor_id", "config"} {
			if _, ok := props[forbidden]; ok {
				t.Errorf("%s exposes %q", name, forbidden)
			}
		}
	}
}

func TestCreateTask_Defaults(t *testing.T) {
	env := newTestEnv(t)
	sub := env.bus.Subscribe(4)
	defer env.bus.Unsubscribe(sub)

	out := env.mustCall(t, env.alice, "create_task", map[string]any{
		"title":       "Buy milk",
		"description": "2% milk",
	})
	rec := decodeRecord(t, out)
	if rec.ID == 0 {
		t.Error("expected an ID")
	}
	if rec.CreatedBy == nil || *rec.CreatedBy != env.alice.ID {
		t.Errorf("created_by = %v, want %d", rec.CreatedBy, env.alice.ID)
	}
	if rec.CreatedByUsername == nil || *rec.CreatedByUsername != "alice" {
		t.Errorf("created_by_username = %v", rec.CreatedByUsername)
	}
	if rec.Status != "todo" || rec.Priority != "medium" {
		t.Errorf("status/priority = %s/%s, want todo/medium", rec.Status, rec.Priority)
	}
	if rec.AssignedTo != nil || rec.DueDate != nil {
		t.Errorf("optional fields set: %+v", rec)
	}

	select {
	case e := <-sub:
		if e.Kind != events.KindTaskCreated || e.Source != events.SourceTools || e.ActorID() != env.alice.ID {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no task_created event")
	}
}

func TestCreateTask_AllFields(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustCall(t, env.alice, "create_task", map[string]any{
		"title":       "  Quarterly report ",
		"description": "Q3 numbers",
		"priority":    []any{"HIGH"},
		"status":      "In_Progress",
		"assigned_to": "bob",
		"due_date":    "2026-09-30",
	})
	rec := decodeRecord(t, out)
	if rec.Title != "Quarterly report" {
		t.Errorf("title = %q, want trimmed", rec.Title)
	}
	if rec.Priority != "high" || rec.Status != "in_progress" {
		t.Errorf("priority/status = %s/%s", rec.Priority, rec.Status)
	}
	if rec.AssignedToUsername == nil || *rec.AssignedToUsername != "bob" {
		t.Errorf("assigned_to_username = %v, want bob", rec.AssignedToUsername)
	}
	if rec.DueDate == nil || *rec.DueDate != "2026-09-30" {
		t.Errorf("due_date = %v", rec.DueDate)
	}
}

func TestCreateTask_Rejects(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		args     map[string]any
		wantKind ErrorKind
	}{
		{"blank title", map[string]any{"title": "  ", "description": "d"}, KindInvalidArgument},
		{"missing description", map[string]any{"title": "t"}, KindInvalidArgument},
		{"bad priority", map[string]any{"title": "t", "description": "d", "priority": "urgent"}, KindInvalidArgument},
		{"bad due date", map[string]any{"title": "t", "description": "d", "due_date": "soon"}, KindInvalidArgument},
		{"unknown assignee", map[string]any{"title": "t", "description": "d", "assigned_to": "mallory"}, KindNotFound},
		{"undeclared key", map[string]any{"title": "t", "description": "d", "owner": "bob"}, KindInvalidArgument},
		{"object priority", map[string]any{"title": "t", "description": "d", "priority": map[string]any{"level": "high"}}, KindInvalidArgument},
		{"two priorities", map[string]any{"title": "t", "description": "d", "priority": []any{"high", "low"}}, KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.call(t, env.alice, "create_task", tt.args)
			if !IsKind(err, tt.wantKind) {
				t.Errorf("error = %v, want %s", err, tt.wantKind)
			}
		})
	}
}

func TestCreateTask_CreatorCannotBeSpoofed(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.call(t, env.alice, "create_task", map[string]any{
		"title":       "Sneaky",
		"description": "d",
		"created_by":  float64(env.bob.ID),
	})
	if !IsKind(err, KindInvalidArgument) || !strings.Contains(err.Error(), "created_by") {
		t.Errorf("error = %v, want InvalidArgumentError naming created_by", err)
	}
	if out := env.mustCall(t, env.bob, "get_tasks", map[string]any{}); len(decodeRecords(t, out)) != 0 {
		t.Errorf("bob has tasks after a rejected create: %s", out)
	}
	if out := env.mustCall(t, env.alice, "get_tasks", map[string]any{}); len(decodeRecords(t, out)) != 0 {
		t.Errorf("alice has tasks after a rejected create: %s", out)
	}
}

func TestTools_RequireActor(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range env.reg.Names() {
		_, err := env.reg.Execute(t.Context(), name, `{}`)
		if !IsKind(err, KindConfiguration) {
			t.Errorf("%s without actor error = %v, want ConfigurationError", name, err)
		}
	}
}

func TestGetTasks_ScopedNewestFirstLimited(t *testing.T) {
	env := newTestEnv(t)
	for i := range 7 {
		env.mustCall(t, env.alice, "create_task", map[string]any{
			"title": fmt.Sprintf("task %d", i), "description": "d",
		})
	}
	env.mustCall(t, env.bob, "create_task", map[string]any{"title": "bob's", "description": "d"})

	recs := decodeRecords(t, env.mustCall(t, env.alice, "get_tasks", map[string]any{}))
	if len(recs) != 5 {
		t.Fatalf("default limit returned %d, want 5", len(recs))
	}
	if recs[0].Title != "task 6" {
		t.Errorf("first = %q, want newest", recs[0].Title)
	}
	for _, r := range recs {
		if *r.CreatedBy != env.alice.ID {
			t.Errorf("foreign task %d in list", r.ID)
		}
	}

	recs = decodeRecords(t, env.mustCall(t, env.alice, "get_tasks", map[string]any{"limit": 100}))
	if len(recs) != 7 {
		t.Errorf("limit 100 returned %d, want all 7", len(recs))
	}
	for _, limit := range []any{1e30, "99999999999999999999"} {
		recs = decodeRecords(t, env.mustCall(t, env.alice, "get_tasks", map[string]any{"limit": limit}))
		if len(recs) != 7 {
			t.Errorf("limit %v returned %d, want all 7", limit, len(recs))
		}
	}

	if out := env.mustCall(t, env.bob, "get_tasks", map[string]any{"limit": 0}); len(decodeRecords(t, out)) != 1 {
		t.Errorf("bob sees %s", out)
	}
}

func TestSearchTasks(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []map[string]any{
		{"title": "Buy milk", "description": "store"},
		{"title": "Bake", "description": "needs MILK"},
		{"title": "Call mom", "description": "sunday"},
		{"title": "Überweisung", "description": "Miete"},
	} {
		env.mustCall(t, env.alice, "create_task", a)
	}
	env.mustCall(t, env.bob, "create_task", map[string]any{"title": "Milk run", "description": "bob"})

	recs := decodeRecords(t, env.mustCall(t, env.alice, "search_tasks", map[string]any{"query": "milk"}))
	if len(recs) != 2 {
		t.Fatalf("search returned %d, want 2", len(recs))
	}
	if recs[0].Title != "Bake" || recs[1].Title != "Buy milk" {
		t.Errorf("order = %s, %s; want newest first", recs[0].Title, recs[1].Title)
	}

	recs = decodeRecords(t, env.mustCall(t, env.alice, "search_tasks", map[string]any{"query": "milk", "limit": 1}))
	if len(recs) != 1 {
		t.Errorf("limit 1 returned %d", len(recs))
	}

	recs = decodeRecords(t, env.mustCall(t, env.alice, "search_tasks", map[string]any{"query": "überweisung"}))
	if len(recs) != 1 || recs[0].Title != "Überweisung" {
		t.Errorf("non-ASCII search = %+v, want [Überweisung]", recs)
	}

	if _, err := env.call(t, env.alice, "search_tasks", map[string]any{"query": "   "}); !IsKind(err, KindInvalidArgument) {
		t.Errorf("blank query error = %v", err)
	}
}

func TestUpdateTask_Partial(t *testing.T) {
	env := newTestEnv(t)
	created := decodeRecord(t, env.mustCall(t, env.alice, "create_task", map[string]any{
		"title": "Write docs", "description": "API reference", "priority": "low",
		"assigned_to": "bob", "due_date": "2026-07-01",
	}))

	updated := decodeRecord(t, env.mustCall(t, env.alice, "update_task", map[string]any{
		"task_id": float64(created.ID), "priority": "high",
	}))
	if updated.Priority != "high" {
		t.Errorf("priority = %q, want high", updated.Priority)
	}
	if updated.Title != created.Title || updated.Description != created.Description ||
		updated.Status != created.Status || *updated.DueDate != *created.DueDate || *updated.AssignedTo != *created.AssignedTo {
		t.Errorf("unspecified fields changed: %+v vs %+v", updated, created)
	}

	renamed := decodeRecord(t, env.mustCall(t, env.alice, "update_task", map[string]any{
		"title": "Write docs", "new_title": "Write guides", "assigned_to": "", "due_date": "",
	}))
	if renamed.Title != "Write guides" {
		t.Errorf("title = %q, want Write guides", renamed.Title)
	}
	if renamed.AssignedTo != nil || renamed.DueDate != nil {
		t.Errorf("empty strings should clear: %+v", renamed)
	}

	if _, err := env.call(t, env.alice, "update_task", map[string]any{"task_id": created.ID, "status": "done"}); !IsKind(err, KindInvalidArgument) {
		t.Errorf("bad status error = %v", err)
	}
	if _, err := env.call(t, env.bob, "update_task", map[string]any{"task_id": created.ID, "status": "completed"}); !IsKind(err, KindNotFound) {
		t.Errorf("foreign update error = %v, want EntityNotFoundError", err)
	}
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t)
	created := decodeRecord(t, env.mustCall(t, env.alice, "create_task", map[string]any{"title": "Standup", "description": "a"}))

	got := decodeRecord(t, env.mustCall(t, env.alice, "get_task", map[string]any{"task_id": fmt.Sprint(created.ID)}))
	if got.ID != created.ID {
		t.Errorf("get by string id = %d, want %d", got.ID, created.ID)
	}

	env.mustCall(t, env.alice, "create_task", map[string]any{"title": "Standup", "description": "b"})
	if _, err := env.call(t, env.alice, "get_task", map[string]any{"title": "Standup"}); !IsKind(err, KindAmbiguous) {
		t.Errorf("duplicate title error = %v, want AmbiguousReferenceError", err)
	}
	if _, err := env.call(t, env.alice, "get_task", map[string]any{}); !IsKind(err, KindInvalidArgument) {
		t.Errorf("no locator error = %v, want InvalidArgumentError", err)
	}
}

func TestShipReleaseLifecycle(t *testing.T) {
	env := newTestEnv(t)

	created := decodeRecord(t, env.mustCall(t, env.alice, "create_task", map[string]any{
		"title": "Ship release", "description": "Tag and publish v2",
		"due_date": "2026-11-02", "assigned_to": "bob",
	}))
	if created.Priority != "medium" || created.Status != "todo" || *created.CreatedBy != env.alice.ID {
		t.Fatalf("created = %+v", created)
	}

	updated := decodeRecord(t, env.mustCall(t, env.alice, "update_task", map[string]any{
		"title": "Ship release", "status": "in_progress",
	}))
	if updated.Status != "in_progress" {
		t.Errorf("status = %q, want in_progress", updated.Status)
	}
	sameFields := func(label string, got TaskRecord) {
		t.Helper()
		if got.Title != created.Title || got.Description != created.Description ||
			got.Priority != created.Priority || got.ID != created.ID {
			t.Errorf("%s changed other fields: %+v", label, got)
		}
		if !got.CreatedAt.Equal(created.CreatedAt) {
			t.Errorf("%s created_at = %v, want %v", label, got.CreatedAt, created.CreatedAt)
		}
		if got.DueDate == nil || *got.DueDate != "2026-11-02" {
			t.Errorf("%s due_date = %v, want 2026-11-02", label, got.DueDate)
		}
		if got.AssignedTo == nil || *got.AssignedTo != env.bob.ID {
			t.Errorf("%s assigned_to = %v, want %d", label, got.AssignedTo, env.bob.ID)
		}
	}
	sameFields("update", updated)
	fetched := decodeRecord(t, env.mustCall(t, env.alice, "get_task", map[string]any{"task_id": created.ID}))
	sameFields("get", fetched)
	if fetched.Status != "in_progress" || !fetched.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("get after update = %+v", fetched)
	}

	out := env.mustCall(t, env.alice, "delete_task", map[string]any{"title": "Ship release"})
	var msg map[string]string
	if err := json.Unmarshal([]byte(out), &msg); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("Task 'Ship release' (ID: %d) deleted successfully", created.ID)
	if msg["message"] != want {
		t.Errorf("delete message = %q, want %q", msg["message"], want)
	}

	_, err := env.call(t, env.alice, "get_task", map[string]any{"title": "Ship release"})
	if !IsKind(err, KindNotFound) {
		t.Errorf("get after delete error = %v, want EntityNotFoundError", err)
	}
	_, err = env.call(t, env.alice, "delete_task", map[string]any{"task_id": created.ID})
	if !IsKind(err, KindNotFound) {
		t.Errorf("second delete error = %v, want EntityNotFoundError", err)
	}
}
