// Package store persists MCP server profiles in SQLite so configured
// servers survive restarts. Profiles are scoped to a user; lookups by
// another user report the profile as unauthorized rather than absent.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no profile exists with the given id.
var ErrNotFound = errors.New("store: profile not found")

// ErrUnauthorized is returned when a profile exists but belongs to a
// different user.
var ErrUnauthorized = errors.New("store: profile belongs to another user")

// ErrDuplicateName is returned when a user already has a profile with
// the same name.
var ErrDuplicateName = errors.New("store: duplicate profile name")

// Profile describes one configured MCP server.
type Profile struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"` // stdio, sse, or http
	SSEURL   string            `json:"sse_url,omitempty"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Inactive bool              `json:"inactive"`
	Source   string            `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists server profiles.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the profile database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle, running migrations on first
// use. The caller keeps ownership of db unless Close is called.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate profiles: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS server_profiles (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			sse_url TEXT,
			command TEXT,
			args TEXT,
			env TEXT,
			inactive BOOLEAN DEFAULT FALSE,
			source TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_user ON server_profiles(user_id, created_at);
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new profile, assigning its id and timestamps.
func (s *Store) Create(p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("store: profile name is required")
	}
	if p.Type != "stdio" && p.Type != "sse" && p.Type != "http" {
		return fmt.Errorf("store: unknown profile type %q", p.Type)
	}

	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM server_profiles WHERE user_id = ? AND name = ?`,
		p.UserID, p.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check name: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
	}

	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	args, env, err := encodeExtras(p)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO server_profiles
			(id, user_id, name, type, sse_url, command, args, env, inactive, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.Type, p.SSEURL, p.Command, args, env, p.Inactive, p.Source, now, now)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by id, enforcing ownership.
func (s *Store) Get(userID, id string) (*Profile, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, type, sse_url, command, args, env, inactive, source, created_at, updated_at
		FROM server_profiles WHERE id = ?
	`, id)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, id)
	}
	return p, nil
}

// List returns the user's profiles in creation order. Inactive profiles
// are included unless activeOnly is set.
func (s *Store) List(userID string, activeOnly bool) ([]*Profile, error) {
	query := `
		SELECT id, user_id, name, type, sse_url, command, args, env, inactive, source, created_at, updated_at
		FROM server_profiles WHERE user_id = ?`
	if activeOnly {
		query += ` AND inactive = FALSE`
	}
	query += ` ORDER BY created_at ASC, name ASC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Update rewrites a profile's mutable fields. The id, owner, and
// created_at are preserved.
func (s *Store) Update(userID string, p *Profile) error {
	existing, err := s.Get(userID, p.ID)
	if err != nil {
		return err
	}

	if p.Name != existing.Name {
		var exists int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM server_profiles WHERE user_id = ? AND name = ? AND id != ?`,
			userID, p.Name, p.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check name: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
	}

	args, env, err := encodeExtras(p)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		UPDATE server_profiles
		SET name = ?, type = ?, sse_url = ?, command = ?, args = ?, env = ?, inactive = ?, source = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Type, p.SSEURL, p.Command, args, env, p.Inactive, p.Source, now, p.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	p.UserID = existing.UserID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now
	return nil
}

// SetInactive toggles a profile's inactive flag.
func (s *Store) SetInactive(userID, id string, inactive bool) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE server_profiles SET inactive = ?, updated_at = ? WHERE id = ?`,
		inactive, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("toggle profile: %w", err)
	}
	return nil
}

// Delete removes a profile, enforcing ownership.
func (s *Store) Delete(userID, id string) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM server_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func encodeExtras(p *Profile) (args, env string, err error) {
	if p.Args != nil {
		b, err := json.Marshal(p.Args)
		if err != nil {
			return "", "", fmt.Errorf("encode args: %w", err)
		}
		args = string(b)
	}
	if p.Env != nil {
		b, err := json.Marshal(p.Env)
		if err != nil {
			return "", "", fmt.Errorf("encode env: %w", err)
		}
		env = string(b)
	}
	return args, env, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	var p Profile
	var sseURL, command, args, env, source sql.NullString

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Type,
		&sseURL, &command, &args, &env, &p.Inactive, &source,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.SSEURL = sseURL.String
	p.Command = command.String
	p.Source = source.String

	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &p.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &p.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return &p, nil
}
