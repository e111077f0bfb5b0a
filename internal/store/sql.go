package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pictalk/pictalk/backend/internal/model/conversation"
)

// SQLStore persists conversations and turns in a relational database.
// Both sqlite and mysql are supported; the schema keeps a foreign key
// from turns to their owning conversation.
type SQLStore struct {
	db *sql.DB
}

// Open connects to the configured database and runs migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// migrate ensures the required tables are present.
func migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				image_url TEXT NOT NULL,
				image_description TEXT,
				start_time DATETIME NOT NULL,
				end_time DATETIME,
				status TEXT NOT NULL DEFAULT 'active'
			)`,
			`CREATE TABLE IF NOT EXISTS turns (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				audio_url TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(session_id) REFERENCES conversations(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns(session_id, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(64) NOT NULL,
				image_url TEXT NOT NULL,
				image_description TEXT,
				start_time DATETIME(6) NOT NULL,
				end_time DATETIME(6),
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS turns (
				id VARCHAR(64) NOT NULL,
				session_id VARCHAR(64) NOT NULL,
				role VARCHAR(16) NOT NULL,
				content TEXT NOT NULL,
				audio_url TEXT,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_turns_session_created (session_id, created_at),
				CONSTRAINT fk_turns_session FOREIGN KEY (session_id) REFERENCES conversations(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new conversation row.
func (s *SQLStore) CreateSession(ctx context.Context, session conversation.Session) error {
	var description any
	if session.ImageDescription != "" {
		description = session.ImageDescription
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, image_url, image_description, start_time, end_time, status) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.ImageURL, description, session.StartTime.UTC(), nullableTime(session.EndTime), string(session.Status),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetSession loads a conversation row by id.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (conversation.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, image_url, image_description, start_time, end_time, status FROM conversations WHERE id = ?`,
		sessionID,
	)

	var (
		session     conversation.Session
		description sql.NullString
		endTime     sql.NullTime
		status      string
	)
	if err := row.Scan(&session.ID, &session.ImageURL, &description, &session.StartTime, &endTime, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Session{}, ErrSessionNotFound
		}
		return conversation.Session{}, fmt.Errorf("select conversation: %w", err)
	}

	session.ImageDescription = description.String
	session.Status = conversation.Status(status)
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	return session, nil
}

// AppendTurn inserts a turn row for an existing conversation.
func (s *SQLStore) AppendTurn(ctx context.Context, turn conversation.Turn) error {
	if turn.SessionID == "" {
		return ErrSessionNotFound
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var audioURL any
	if turn.AudioURL != "" {
		audioURL = turn.AudioURL
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, audio_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, audioURL, turn.CreatedAt.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns all turns for a session ordered by creation time.
func (s *SQLStore) ListTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, audio_url, created_at FROM turns WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	defer rows.Close()

	turns := make([]conversation.Turn, 0, 16)
	for rows.Next() {
		var (
			turn     conversation.Turn
			role     string
			audioURL sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &audioURL, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		turn.AudioURL = audioURL.String
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// UpdateStatus sets the session status and end time.
func (s *SQLStore) UpdateStatus(ctx context.Context, sessionID string, status conversation.Status, endTime *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, end_time = ? WHERE id = ?`,
		string(status), nullableTime(endTime), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// isDuplicateKey matches the primary-key violation messages of both
// supported drivers (sqlite "UNIQUE constraint failed", mysql error 1062).
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}

func isForeignKeyViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "foreign key constraint fails")
}
