// Package storage keeps accounts, login sessions and group memberships in
// SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	busyTimeoutMillis = 5000
	constraintCode    = 19 // SQLITE_CONSTRAINT, primary result code
)

var (
	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("user already exists")
	// ErrNotFound is returned when a referenced group or user does not exist.
	ErrNotFound = errors.New("group or user not found")
)

type Store struct {
	db *sql.DB
}

type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session is a bearer token issued at login.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewStore opens the database at path, which may be a plain file path, a
// sqlite:// URL or a file: URI. Run Migrate before first use.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "huddle.db"
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the request path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dsn(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	if !strings.HasPrefix(path, "file:") && !strings.HasPrefix(path, ":memory:") {
		path = "file:" + path
	}
	params := fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", busyTimeoutMillis)
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// migrations are applied in order; the index+1 of the last applied step is
// stored in PRAGMA user_version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token      TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			owner_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id   INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role       TEXT NOT NULL CHECK (role IN ('owner', 'moderator', 'member')),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at)`,
	},
}

// Migrate brings the schema up to date. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for next := version; next < len(migrations); next++ {
		if err := s.applyMigration(ctx, next); err != nil {
			return fmt.Errorf("migration %d: %w", next+1, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, step int) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range migrations[step] {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, step+1)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	if isConstraintError(err) {
		return 0, ErrUserExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

const selectUser = `SELECT id, username, password_hash, created_at FROM users`

// GetUserByUsername returns (nil, nil) when no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return queryOne(s.db.QueryRowContext(ctx, selectUser+` WHERE username = ?`, username), scanUser)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return queryOne(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id), scanUser)
}

func (s *Store) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`, token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns (nil, nil) for an unknown token. Expiry is left to the
// caller.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	return queryOne(row, func(sc scanner, sess *Session) error {
		return sc.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	})
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// DeleteExpiredSessions removes sessions that expired before now and
// reports how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner, user *User) error {
	return sc.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
}

// queryOne scans a single row, mapping sql.ErrNoRows to (nil, nil).
func queryOne[T any](row *sql.Row, scan func(scanner, *T) error) (*T, error) {
	var out T
	if err := scan(row, &out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == constraintCode
}
