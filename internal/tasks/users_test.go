package tasks

import (
	"context"
	"errors"
	"testing"
)

func TestCreateUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, &User{Username: "alice", Email: "alice@example.com", FirstName: "Alice", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == 0 || !u.IsActive || u.DateJoined.IsZero() {
		t.Errorf("CreateUser() = %+v", u)
	}

	if _, err := store.CreateUser(ctx, &User{Username: "alice"}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrUsernameTaken", err)
	}
	if _, err := store.CreateUser(ctx, &User{}); err == nil {
		t.Error("CreateUser without username should fail")
	}

	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID || got.FirstName != "Alice" || got.PasswordHash != "x" {
		t.Errorf("GetUserByUsername() = %+v", got)
	}
	if _, err := store.GetUser(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(999) error = %v, want ErrNotFound", err)
	}
}

func TestListUsers_OrderedByUsername(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		mustUser(t, store, name)
	}
	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alice", "bob", "carol"}
	for i, u := range users {
		if u.Username != want[i] {
			t.Errorf("users[%d] = %q, want %q", i, u.Username, want[i])
		}
	}
}

func TestDeleteUser_NullsTaskReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, store, "alice")
	bob := mustUser(t, store, "bob")

	task := mustTask(t, store, alice, "Review", "PR 12")
	task.AssignedTo = &bob.ID
	if _, err := store.UpdateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	owned := mustTask(t, store, bob, "Bob's", "d")
	if _, err := store.GetOrCreateToken(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteUser(ctx, bob.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedTo != nil {
		t.Errorf("AssignedTo = %d, want nil", *got.AssignedTo)
	}
	got, err = store.GetTask(ctx, owned.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatedBy != nil {
		t.Errorf("CreatedBy = %d, want nil", *got.CreatedBy)
	}

	if err := store.DeleteUser(ctx, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteUser() error = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, store, "alice")

	first, err := store.GetOrCreateToken(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetOrCreateToken() error = %v", err)
	}
	if len(first.Key) != 40 {
		t.Errorf("token length = %d, want 40", len(first.Key))
	}

	second, err := store.GetOrCreateToken(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Key != first.Key {
		t.Errorf("second call minted a new token %q, want %q", second.Key, first.Key)
	}

	u, err := store.UserForToken(ctx, first.Key)
	if err != nil {
		t.Fatalf("UserForToken() error = %v", err)
	}
	if u.ID != alice.ID {
		t.Errorf("UserForToken() = %d, want %d", u.ID, alice.ID)
	}
	if _, err := store.UserForToken(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserForToken(unknown) error = %v, want ErrNotFound", err)
	}
}
