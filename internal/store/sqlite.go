// ABOUTME: SQLite implementation of the chat store using modernc.org/sqlite
// ABOUTME: Provides schema creation, migrations, and user/presence persistence

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements all chat persistence using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases alive and serializes writers
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := newStoreWithDB(db, logger)

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// newStoreWithDB wraps an already opened database without touching the schema
func newStoreWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}
	return &SQLiteStore{db: db, logger: logger}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			is_online     INTEGER NOT NULL DEFAULT 0,
			last_seen     TEXT NOT NULL,
			avatar        TEXT NOT NULL DEFAULT '',
			bio           TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_online ON users(is_online);

		CREATE TABLE IF NOT EXISTS groups (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			avatar      TEXT NOT NULL DEFAULT '',
			creator_id  TEXT NOT NULL REFERENCES users(id),
			is_private  INTEGER NOT NULL DEFAULT 0,
			is_official INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_groups_name ON groups(name, is_private);

		CREATE TABLE IF NOT EXISTS group_members (
			group_id  TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id   TEXT NOT NULL REFERENCES users(id),
			role      TEXT NOT NULL DEFAULT 'member',
			joined_at TEXT NOT NULL,

			PRIMARY KEY (group_id, user_id),
			CHECK (role IN ('admin', 'moderator', 'member'))
		);

		CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                 TEXT PRIMARY KEY,
			sender_id          TEXT NOT NULL,
			recipient_id       TEXT,
			group_id           TEXT,
			type               TEXT NOT NULL,
			content            TEXT NOT NULL DEFAULT '',
			image_url          TEXT,
			file_name          TEXT,
			file_original_name TEXT,
			file_mime          TEXT,
			file_size          INTEGER,
			file_url           TEXT,
			is_read            INTEGER NOT NULL DEFAULT 0,
			read_at            TEXT,
			created_at         TEXT NOT NULL,

			CHECK ((recipient_id IS NULL) != (group_id IS NULL)),
			CHECK (type IN ('direct', 'group', 'image', 'file'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient_sender
			ON messages(recipient_id, sender_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_sender_recipient
			ON messages(sender_id, recipient_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_group
			ON messages(group_id, created_at);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			read_at    TEXT NOT NULL,

			PRIMARY KEY (message_id, user_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "users",
			column: "bio",
			apply:  `ALTER TABLE users ADD COLUMN bio TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "groups",
			column: "is_official",
			apply:  `ALTER TABLE groups ADD COLUMN is_official INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE/PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateUser inserts a new user. An empty ID is replaced with a fresh UUID.
// Returns ErrDuplicate if the username or email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}

	query := `
		INSERT INTO users (id, name, username, email, password_hash, is_online, last_seen, avatar, bio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		strings.ToLower(user.Username),
		strings.ToLower(user.Email),
		user.PasswordHash,
		boolToInt(user.IsOnline),
		formatTime(user.LastSeen),
		user.Avatar,
		user.Bio,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// EnsureUser creates the user if no row with its ID exists.
// Returns true when a row was inserted.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) (bool, error) {
	_, err := s.GetUser(ctx, user.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

const userColumns = `id, name, username, email, password_hash, is_online, last_seen, avatar, bio, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var online int
	var lastSeen, createdAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.PasswordHash,
		&online, &lastSeen, &u.Avatar, &u.Bio, &createdAt); err != nil {
		return nil, err
	}
	u.IsOnline = online != 0

	var err error
	if u.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUserByLogin retrieves a user by email or username (case-insensitive).
// Returns ErrNotFound if neither matches.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? OR username = ? LIMIT 1`, login, login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by login: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by name
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// SetUserOnline updates the persisted presence mirror for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		boolToInt(online), formatTime(at), userID,
	)
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPresence marks every user offline. Live presence is rebuilt from
// reconnecting clients after a restart.
func (s *SQLiteStore) ResetPresence(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = 0 WHERE is_online = 1`)
	if err != nil {
		return 0, fmt.Errorf("resetting presence: %w", err)
	}
	return result.RowsAffected()
}
