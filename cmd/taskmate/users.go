package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/tasks"
)

// runAddUser creates a user and prints its API token. The password is
// optional; without one the user can only authenticate by token.
func runAddUser(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	store, err := openStore(stderr, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	u := &tasks.User{Username: args[0], Email: args[1]}
	if len(args) > 2 {
		if u.PasswordHash, err = auth.HashPassword(args[2]); err != nil {
			return err
		}
	}

	created, err := store.CreateUser(ctx, u)
	if err != nil {
		return err
	}
	tok, err := store.GetOrCreateToken(ctx, created.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "created user %s (id %d)\n", created.Username, created.ID)
	fmt.Fprintf(stdout, "token: %s\n", tok.Key)
	return nil
}

// runToken prints the user's API token, creating one if needed.
func runToken(ctx context.Context, stdout, stderr io.Writer, configPath, username string) error {
	store, err := openStore(stderr, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q: %w", username, err)
	}
	tok, err := store.GetOrCreateToken(ctx, u.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok.Key)
	return nil
}

// openStore opens only the task store; user management needs nothing
// else.
func openStore(stderr io.Writer, configPath string) (*tasks.Store, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := tasks.NewStore(cfg.Database.Driver, cfg.Database.DSN, configuredLogger(stderr, cfg))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return store, nil
}
