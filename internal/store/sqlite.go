package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
	now     func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; pragmas apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		raw_idea TEXT NOT NULL,
		variability_score INTEGER NOT NULL DEFAULT 50,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_user_created ON projects(user_id, created_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		phase TEXT NOT NULL,
		raw_idea TEXT NOT NULL,
		refined_idea TEXT NOT NULL DEFAULT '',
		asked_json TEXT NOT NULL DEFAULT '[]',
		user_turn_count INTEGER NOT NULL DEFAULT 0,
		is_locked INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(project_id, kind)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS plans (
		project_id TEXT PRIMARY KEY,
		plan_json TEXT NOT NULL,
		viability_score INTEGER NOT NULL,
		recommendation TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CreateProject stores a new project, assigning an ID when missing.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *domain.Project) error {
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
	INSERT INTO projects (id, user_id, title, raw_idea, variability_score, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Title, p.RawIdea, p.VariabilityScore, string(p.Status),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

const projectColumns = `id, user_id, title, raw_idea, variability_score, status, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*domain.Project, error) {
	var p domain.Project
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.RawIdea, &p.VariabilityScore, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.ProjectStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}
	return p, nil
}

// ListProjects returns a user's projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context, userID string) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close project rows", "error", closeErr)
		}
	}()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// CountProjectsSince counts projects a user created at or after since.
func (s *SQLiteStore) CountProjectsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE user_id = ? AND created_at >= ?`, userID, since.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// UpdateProjectStatus sets the status of a project.
func (s *SQLiteStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, string(status), s.now().Unix(), projectID)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, project_id, user_id, kind, phase, raw_idea, refined_idea, asked_json,
	user_turn_count, is_locked, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var (
		sess                 domain.Session
		kind, phase, asked   string
		locked               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &kind, &phase, &sess.RawIdea,
		&sess.RefinedIdea, &asked, &sess.UserTurnCount, &locked, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if sess.Kind, err = domain.ParseSessionKind(kind); err != nil {
		return nil, err
	}
	if sess.Phase, err = domain.ParsePhase(phase); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(asked), &sess.AskedQuestions); err != nil {
		return nil, fmt.Errorf("decode asked questions: %w", err)
	}
	sess.IsLocked = locked != 0
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// CreateSession inserts a session or returns the existing one for its
// (project, kind).
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	now := s.now()
	id := sess.ID
	if id == "" {
		id = uuid.NewString()
	}
	asked, err := encodeAsked(sess.AskedQuestions)
	if err != nil {
		return nil, err
	}

	query := `
	INSERT INTO sessions (id, project_id, user_id, kind, phase, raw_idea, refined_idea, asked_json,
		user_turn_count, is_locked, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	ON CONFLICT(project_id, kind) DO NOTHING`

	s.writeMu.Lock()
	err = shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			id, sess.ProjectID, sess.UserID, string(sess.Kind), sess.Phase.String(),
			sess.RawIdea, sess.RefinedIdea, asked, now.Unix(), now.Unix(),
		)
		return err
	})
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	return s.GetSession(ctx, sess.ProjectID, sess.Kind)
}

// GetSession retrieves the session of a project by kind.
func (s *SQLiteStore) GetSession(ctx context.Context, projectID string, kind domain.SessionKind) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? AND kind = ?`, projectID, string(kind))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s session of project %s: %w", kind, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session of a project in creation order.
func (s *SQLiteStore) ListSessions(ctx context.Context, projectID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? ORDER BY created_at, kind`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// SaveTurn appends msgs and persists the session state atomically. Retries
// on SQLITE_BUSY with the store's retry policy.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sess *domain.Session, msgs ...*domain.ChatMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "save turn", func() error {
		return s.saveTurnOnce(ctx, sess, msgs)
	})
}

func (s *SQLiteStore) saveTurnOnce(ctx context.Context, sess *domain.Session, msgs []*domain.ChatMessage) (err error) {
	asked, err := encodeAsked(sess.AskedQuestions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("rollback save turn", "error", rbErr)
			}
		}
	}()

	var seq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, sess.ID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("read message sequence: %w", err)
	}

	now := s.now()
	type pending struct {
		id        string
		seq       int64
		createdAt time.Time
	}
	assigned := make([]pending, len(msgs))
	for i, m := range msgs {
		seq++
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, sess.ID, string(m.Role), m.Content, seq, createdAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		assigned[i] = pending{id, seq, createdAt}
	}

	// The turn count is derived from the log so it cannot drift from it.
	// Lock only ever goes from 0 to 1.
	var turns int
	if err = tx.QueryRowContext(ctx, `
		UPDATE sessions SET
			phase = ?,
			refined_idea = ?,
			asked_json = ?,
			user_turn_count = (SELECT COUNT(*) FROM messages WHERE session_id = sessions.id AND role = ?),
			is_locked = MAX(is_locked, ?),
			updated_at = ?
		WHERE id = ?
		RETURNING user_turn_count`,
		sess.Phase.String(), sess.RefinedIdea, asked, string(domain.RoleUser),
		boolToInt(sess.IsLocked), now.Unix(), sess.ID,
	).Scan(&turns); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
			return err
		}
		return fmt.Errorf("update session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save turn: %w", err)
	}

	for i, m := range msgs {
		m.ID, m.Seq, m.CreatedAt, m.SessionID = assigned[i].id, assigned[i].seq, assigned[i].createdAt, sess.ID
	}
	sess.UserTurnCount = turns
	sess.UpdatedAt = now
	return nil
}

// ListMessages returns a session's log in order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, seq, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// GetPlan returns the stored viability report of a project.
func (s *SQLiteStore) GetPlan(ctx context.Context, projectID string) (*domain.BusinessPlan, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT plan_json FROM plans WHERE project_id = ?`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}

	var plan domain.BusinessPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// UpsertPlan creates or replaces the project's viability report.
func (s *SQLiteStore) UpsertPlan(ctx context.Context, projectID string, plan *domain.BusinessPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	now := s.now().Unix()

	query := `
	INSERT INTO plans (project_id, plan_json, viability_score, recommendation, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		plan_json = excluded.plan_json,
		viability_score = excluded.viability_score,
		recommendation = excluded.recommendation,
		updated_at = excluded.updated_at`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, s.retry, "upsert plan", func() error {
		_, err := s.db.ExecContext(ctx, query,
			projectID, string(raw), plan.ViabilityScore, string(plan.Recommendation), now, now)
		return err
	})
}

func encodeAsked(asked []string) (string, error) {
	if asked == nil {
		asked = []string{}
	}
	b, err := json.Marshal(asked)
	if err != nil {
		return "", fmt.Errorf("encode asked questions: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
