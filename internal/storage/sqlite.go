package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vvou01/interview-pilot/internal/transcript"
)

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "interview-pilot.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			token TEXT NOT NULL UNIQUE,
			plan TEXT NOT NULL DEFAULT 'free',
			suggestions_used INTEGER NOT NULL DEFAULT 0,
			cv_text TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			job_title TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			interview_type TEXT NOT NULL DEFAULT '',
			job_description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'setup',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			overall_score REAL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp_seconds REAL NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS suggestions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			trigger_text TEXT NOT NULL,
			payload TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS debrief_reports (
			session_id TEXT PRIMARY KEY,
			overall_score REAL NOT NULL,
			summary TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_session ON transcript_entries(session_id, timestamp_seconds, id)`,
		`CREATE INDEX IF NOT EXISTS idx_suggestions_session ON suggestions(session_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

// --- users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, token, plan, suggestions_used, cv_text, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Token, u.Plan, u.SuggestionsUsed, u.CVText, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByToken(ctx context.Context, token string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user by token: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQLiteStore) IncrementSuggestionsUsed(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET suggestions_used = suggestions_used + 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("increment suggestions used for %s: %w", userID, err)
	}
	return nil
}

// --- sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}
	if sess.Status == "" {
		sess.Status = StatusSetup
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, job_title, company, interview_type, job_description, status, started_at, ended_at, overall_score, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.JobTitle, sess.Company, sess.InterviewType, sess.JobDescription,
		sess.Status, sess.StartedAt.UTC(), sess.EndedAt, sess.OverallScore, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads a session by id with no owner scoping. Callers that act
// on behalf of a user must pair it with an ownership check; GetOwnedSession
// does both and keeps "doesn't exist" distinguishable from "not yours".
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetOwnedSession(ctx context.Context, id, userID string) (Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

// TransitionSession applies a guarded status change: the update only lands
// if the session is still in the expected prior status. ErrConflict means
// another writer got there first.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition session %s to %s: %w", id, to, err)
	}
	return rowsOrConflict(res)
}

func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, endedAt.UTC(), id, StatusActive)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	return rowsOrConflict(res)
}

// AbandonSession is terminal from any non-completed status.
func (s *SQLiteStore) AbandonSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status NOT IN (?, ?)`,
		StatusAbandoned, endedAt.UTC(), id, StatusCompleted, StatusAbandoned)
	if err != nil {
		return fmt.Errorf("abandon session %s: %w", id, err)
	}
	return rowsOrConflict(res)
}

func (s *SQLiteStore) UpdateOverallScore(ctx context.Context, id string, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET overall_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("update overall score for %s: %w", id, err)
	}
	return rowsOrNotFound(res)
}

// --- transcript entries ---

func (s *SQLiteStore) AppendEntry(ctx context.Context, e transcript.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries(session_id, role, text, timestamp_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Role), strings.TrimSpace(e.Text), e.TimestampSeconds, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append entry for session %s: %w", e.SessionID, err)
	}
	return nil
}

// GetEntries returns the full transcript in canonical playback order.
func (s *SQLiteStore) GetEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	entries := make([]transcript.Entry, 0, 32)
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM transcript_entries WHERE session_id = ? ORDER BY timestamp_seconds ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries for session %s: %w", sessionID, err)
	}
	return entries, nil
}

// GetRecentEntries returns up to limit entries, newest first. Callers
// building prompt context must reverse them into chronological order.
func (s *SQLiteStore) GetRecentEntries(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	entries := make([]transcript.Entry, 0, limit)
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM transcript_entries WHERE session_id = ? ORDER BY timestamp_seconds DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries for session %s: %w", sessionID, err)
	}
	return entries, nil
}

// --- suggestions ---

func (s *SQLiteStore) CreateSuggestion(ctx context.Context, sug Suggestion) error {
	if sug.CreatedAt.IsZero() {
		sug.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suggestions(id, session_id, trigger_text, payload, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		sug.ID, sug.SessionID, sug.TriggerText, string(sug.Payload), sug.LatencyMS, sug.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create suggestion for session %s: %w", sug.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestSuggestion(ctx context.Context, sessionID string) (Suggestion, error) {
	var sug Suggestion
	err := s.db.GetContext(ctx, &sug,
		`SELECT * FROM suggestions WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("query latest suggestion for session %s: %w", sessionID, err)
	}
	return sug, nil
}

// --- debrief reports ---

// CreateDebriefReport is create-if-absent: a second write for the same
// session leaves the first report in place and reports created=false.
func (s *SQLiteStore) CreateDebriefReport(ctx context.Context, r DebriefReport) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO debrief_reports(session_id, overall_score, summary, body, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		r.SessionID, r.OverallScore, r.Summary, string(r.Body), r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create debrief report for session %s: %w", r.SessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debrief report rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLiteStore) GetDebriefReport(ctx context.Context, sessionID string) (DebriefReport, error) {
	var r DebriefReport
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM debrief_reports WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return DebriefReport{}, ErrNotFound
	}
	if err != nil {
		return DebriefReport{}, fmt.Errorf("query debrief report for session %s: %w", sessionID, err)
	}
	return r, nil
}

func rowsOrNotFound(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func rowsOrConflict(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}
