package auth

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/taskmate/internal/tasks"

	_ "modernc.org/sqlite"
)

func newStore(t *testing.T) *tasks.Store {
	t.Helper()
	s, err := tasks.NewStore("sqlite", filepath.Join(t.TempDir(), "auth.db"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addUser(t *testing.T, s *tasks.Store, name, password string) *tasks.User {
	t.Helper()
	u := &tasks.User{Username: name, Email: name + "@example.com"}
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatal(err)
		}
		u.PasswordHash = hash
	}
	created, err := s.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals password")
	}
	tests := []struct {
		hash, password string
		want           bool
	}{
		{hash, "hunter2", true},
		{hash, "hunter3", false},
		{hash, "", false},
		{"", "hunter2", false},
	}
	for _, tt := range tests {
		if got := CheckPassword(tt.hash, tt.password); got != tt.want {
			t.Errorf("CheckPassword(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("HashPassword(\"\") succeeded")
	}
}

func TestJWTIssueVerify(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	token, expires, err := svc.Issue(&tasks.User{ID: 7, Username: "alice"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(expires) < 59*time.Minute {
		t.Errorf("expires = %v, want about an hour out", expires)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" || claims.Subject != "7" {
		t.Errorf("claims = %+v", claims)
	}

	other := NewJWTService("other", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrUnauthorized", err)
	}
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := svc.Issue(&tasks.User{ID: 1, Username: "a"})
	if err != nil {
		t.Fatal(err)
	}
	svc.now = time.Now
	if _, err := svc.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Verify(expired) error = %v, want ErrUnauthorized", err)
	}
}

func TestJWTDisabled(t *testing.T) {
	svc := NewJWTService("", time.Hour)
	if svc != nil {
		t.Fatal("NewJWTService(\"\") returned a service")
	}
	if _, _, err := svc.Issue(&tasks.User{ID: 1}); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Issue() error = %v, want ErrAuthDisabled", err)
	}
}

func TestAuthenticate(t *testing.T) {
	store := newStore(t)
	alice := addUser(t, store, "alice", "")
	tok, err := store.GetOrCreateToken(context.Background(), alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	jwtSvc := NewJWTService("secret", time.Hour)
	bearer, _, err := jwtSvc.Issue(alice)
	if err != nil {
		t.Fatal(err)
	}
	ghost, _, err := jwtSvc.Issue(&tasks.User{ID: 999, Username: "ghost"})
	if err != nil {
		t.Fatal(err)
	}

	a := NewAuthenticator(store, jwtSvc)
	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"token", "Token " + tok.Key, false},
		{"token lowercase scheme", "token " + tok.Key, false},
		{"bearer", "Bearer " + bearer, false},
		{"empty", "", true},
		{"scheme only", "Token", true},
		{"unknown token", "Token deadbeef", true},
		{"bad jwt", "Bearer not.a.jwt", true},
		{"jwt for missing user", "Bearer " + ghost, true},
		{"basic", "Basic YWxpY2U6cHc=", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := a.Authenticate(context.Background(), tt.header)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if u.ID != alice.ID {
				t.Errorf("user = %d, want %d", u.ID, alice.ID)
			}
		})
	}
}

func TestAuthenticate_BearerWithoutSecret(t *testing.T) {
	store := newStore(t)
	alice := addUser(t, store, "alice", "")
	bearer, _, err := NewJWTService("secret", time.Hour).Issue(alice)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthenticator(store, nil)
	if _, err := a.Authenticate(context.Background(), "Bearer "+bearer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestLogin(t *testing.T) {
	store := newStore(t)
	addUser(t, store, "alice", "s3cret")
	addUser(t, store, "nopass", "")
	a := NewAuthenticator(store, nil)

	if u, err := a.Login(context.Background(), "alice", "s3cret"); err != nil || u.Username != "alice" {
		t.Fatalf("Login() = %v, %v", u, err)
	}
	for _, tc := range [][2]string{{"alice", "wrong"}, {"bob", "s3cret"}, {"nopass", ""}} {
		if _, err := a.Login(context.Background(), tc[0], tc[1]); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Login(%q, %q) error = %v, want ErrUnauthorized", tc[0], tc[1], err)
		}
	}
}

func TestUserContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatal("empty context has a user")
	}
	u := &tasks.User{ID: 3}
	got, ok := UserFromContext(WithUser(context.Background(), u))
	if !ok || got != u {
		t.Errorf("UserFromContext() = %v, %v", got, ok)
	}
}
