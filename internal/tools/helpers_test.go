package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/tasks"

	_ "modernc.org/sqlite"
)

type testEnv struct {
	store *tasks.Store
	tools *TaskTools
	reg   *Registry
	bus   *events.Bus
	alice *tasks.User
	bob   *tasks.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := tasks.NewStore("sqlite", filepath.Join(t.TempDir(), "tools.db"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	alice, err := store.CreateUser(ctx, &tasks.User{Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	bob, err := store.CreateUser(ctx, &tasks.User{Username: "bob"})
	if err != nil {
		t.Fatal(err)
	}

	bus := events.New()
	tt := NewTaskTools(store, tasks.DefaultEnums(), bus, slog.Default())
	reg := NewRegistry()
	if err := tt.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return &testEnv{store: store, tools: tt, reg: reg, bus: bus, alice: alice, bob: bob}
}

func actorCtx(u *tasks.User) context.Context {
	return WithExecContext(context.Background(), NewExecContext(u.ID, "test-conversation"))
}

// call executes a tool as u with args encoded as JSON, the way the
// agent loop does.
func (e *testEnv) call(t *testing.T, u *tasks.User, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return e.reg.Execute(actorCtx(u), name, string(raw))
}

func (e *testEnv) mustCall(t *testing.T, u *tasks.User, name string, args map[string]any) string {
	t.Helper()
	out, err := e.call(t, u, name, args)
	if err != nil {
		t.Fatalf("%s(%v) error = %v", name, args, err)
	}
	return out
}

func decodeRecord(t *testing.T, s string) TaskRecord {
	t.Helper()
	var rec TaskRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		t.Fatalf("decode record %q: %v", s, err)
	}
	return rec
}

func decodeRecords(t *testing.T, s string) []TaskRecord {
	t.Helper()
	var recs []TaskRecord
	if err := json.Unmarshal([]byte(s), &recs); err != nil {
		t.Fatalf("decode records %q: %v", s, err)
	}
	return recs
}
