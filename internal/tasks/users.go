package tasks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrUsernameTaken is returned by CreateUser for a duplicate username.
var ErrUsernameTaken = errors.New("username already exists")

const userColumns = `id, username, email, first_name, last_name, password_hash, is_active, date_joined`

// CreateUser inserts u. PasswordHash must already be hashed.
func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	if u.Username == "" {
		return nil, fmt.Errorf("create user: username is required")
	}
	if _, err := s.GetUserByUsername(ctx, u.Username); err == nil {
		return nil, fmt.Errorf("create user %q: %w", u.Username, ErrUsernameTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("create user %q: %w", u.Username, err)
	}

	created := *u
	created.IsActive = true
	created.DateJoined = s.stamp()

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO users (username, email, first_name, last_name, password_hash, is_active, date_joined)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), created.Username, created.Email, created.FirstName, created.LastName,
		created.PasswordHash, 1, formatTime(created.DateJoined)).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &created, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
}

// GetUserByUsername retrieves a user by exact username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes a user and their token. Tasks that referenced the
// user keep existing with the reference cleared.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`UPDATE tasks SET assigned_to = NULL WHERE assigned_to = ?`,
		`UPDATE tasks SET created_by = NULL WHERE created_by = ?`,
		`DELETE FROM auth_tokens WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if err := expectOneRow(result); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	return tx.Commit()
}

// GetOrCreateToken returns the user's API token, minting one if needed.
func (s *Store) GetOrCreateToken(ctx context.Context, userID int64) (*Token, error) {
	tok, err := s.scanToken(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT token, user_id, created FROM auth_tokens WHERE user_id = ?`), userID))
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get token: %w", err)
	}

	key, err := newTokenKey()
	if err != nil {
		return nil, err
	}
	tok = &Token{Key: key, UserID: userID, Created: s.stamp()}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO auth_tokens (token, user_id, created) VALUES (?, ?, ?)`),
		tok.Key, tok.UserID, formatTime(tok.Created))
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	return tok, nil
}

// UserForToken returns the user owning key.
func (s *Store) UserForToken(ctx context.Context, key string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.password_hash, u.is_active, u.date_joined
		FROM auth_tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token = ?
	`), key))
}

// newTokenKey returns 40 hex characters.
func newTokenKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) scanUser(row scanner) (*User, error) {
	var u User
	var active int64
	var joined string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &active, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	u.IsActive = active != 0
	if u.DateJoined, err = parseTime(joined); err != nil {
		return nil, fmt.Errorf("parse date_joined: %w", err)
	}
	return &u, nil
}

func (s *Store) scanToken(row scanner) (*Token, error) {
	var t Token
	var created string
	err := row.Scan(&t.Key, &t.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	if t.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	return &t, nil
}
