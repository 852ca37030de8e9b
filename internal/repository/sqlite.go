package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists sessions across restarts. Container info is runtime-only
// state (it carries the live terminal stream) and stays in memory; after a
// restart, sessions come back but their sandboxes must be re-attached.
type SQLite struct {
	db      *sql.DB
	runtime *Memory
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	pod_name      TEXT NOT NULL DEFAULT '',
	image         TEXT NOT NULL DEFAULT '',
	config        TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'creating',
	user_id       TEXT NOT NULL DEFAULT '',
	bucket_name   TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	last_modified DATETIME NOT NULL,
	expires_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
`

// dsnWithPragmas applies WAL and busy_timeout per connection; the driver
// runs DSN pragmas on every new connection in the pool.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy retries fn on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLite{db: db, runtime: NewMemory()}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Save(session *Session) error {
	cfg, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("encoding session config: %w", err)
	}
	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (id, name, pod_name, image, config, status, user_id, bucket_name, created_at, last_modified, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   pod_name = excluded.pod_name,
			   image = excluded.image,
			   config = excluded.config,
			   status = excluded.status,
			   user_id = excluded.user_id,
			   bucket_name = excluded.bucket_name,
			   last_modified = excluded.last_modified,
			   expires_at = excluded.expires_at`,
			session.ID, session.Name, session.PodName, session.Image, string(cfg),
			session.Status, session.UserID, session.BucketName,
			session.CreatedAt.UTC(), session.LastModified.UTC(), expiresAtValue(session.ExpiresAt),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *SQLite) Find(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, name, pod_name, image, config, status, user_id, bucket_name, created_at, last_modified, expires_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

func (s *SQLite) List() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, name, pod_name, image, config, status, user_id, bucket_name, created_at, last_modified, expires_at
		 FROM sessions ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLite) Delete(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) CountByStatus(status string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

func (s *SQLite) SaveContainerInfo(info *ContainerInfo) error {
	return s.runtime.SaveContainerInfo(info)
}

func (s *SQLite) GetContainerInfo(sessionID string) (*ContainerInfo, error) {
	return s.runtime.GetContainerInfo(sessionID)
}

func (s *SQLite) DeleteContainerInfo(sessionID string) error {
	return s.runtime.DeleteContainerInfo(sessionID)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	var cfg string
	var expires sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.PodName, &sess.Image, &cfg,
		&sess.Status, &sess.UserID, &sess.BucketName,
		&sess.CreatedAt, &sess.LastModified, &expires,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if expires.Valid {
		sess.ExpiresAt = expires.Time
	}
	if cfg != "" && cfg != "{}" {
		if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
			return nil, fmt.Errorf("decoding session config: %w", err)
		}
	}
	return &sess, nil
}

// expiresAtValue maps the zero time to NULL so sessions without a TTL
// carry no expiry row value.
func expiresAtValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
