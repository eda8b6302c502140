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

	"github.com/ashureev/planforge/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		document_url TEXT NOT NULL,
		document_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'approved',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_user ON plans(user_id, created_at);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'initialized',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_plan ON agents(plan_id);
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

// ApprovePlan persists the plan and its agent in one transaction. Busy
// errors from concurrent approvals are retried with backoff.
func (s *SQLiteStore) ApprovePlan(ctx context.Context, plan *domain.Plan, agent *domain.Agent) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.approvePlanOnce(ctx, plan, agent)
		if err == nil {
			return nil
		}
		if !isBusyError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("ApprovePlan hit busy database, retrying", "plan_id", plan.ID, "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("approve plan %s: %w", plan.ID, err)
}

func (s *SQLiteStore) approvePlanOnce(ctx context.Context, plan *domain.Plan, agent *domain.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to rollback approve transaction", "error", rbErr)
		}
	}()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, user_id, title, document_url, document_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.UserID, plan.Title, plan.DocumentURL, plan.DocumentPath, plan.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, plan_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.UserID, agent.PlanID, agent.Name, agent.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by id.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	query := `
		SELECT id, user_id, title, document_url, document_path, status, created_at, updated_at
		FROM plans WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	plan, err := scanPlan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}
	return plan, nil
}

// ListPlans retrieves a user's plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, userID string) ([]*domain.Plan, error) {
	query := `
		SELECT id, user_id, title, document_url, document_path, status, created_at, updated_at
		FROM plans WHERE user_id = ? ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close plan rows", "error", closeErr)
		}
	}()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// ListAgents retrieves a user's agents, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID string) ([]*domain.Agent, error) {
	query := `
		SELECT id, user_id, plan_id, name, status, created_at, updated_at
		FROM agents WHERE user_id = ? ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `
		SELECT id, user_id, plan_id, name, status, created_at, updated_at
		FROM agents WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	agent, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return agent, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func scanPlan(scan func(dest ...any) error) (*domain.Plan, error) {
	var plan domain.Plan
	var createdAt, updatedAt int64
	if err := scan(&plan.ID, &plan.UserID, &plan.Title, &plan.DocumentURL, &plan.DocumentPath, &plan.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	plan.CreatedAt = time.Unix(createdAt, 0)
	plan.UpdatedAt = time.Unix(updatedAt, 0)
	return &plan, nil
}

func scanAgent(scan func(dest ...any) error) (*domain.Agent, error) {
	var agent domain.Agent
	var createdAt, updatedAt int64
	if err := scan(&agent.ID, &agent.UserID, &agent.PlanID, &agent.Name, &agent.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	agent.CreatedAt = time.Unix(createdAt, 0)
	agent.UpdatedAt = time.Unix(updatedAt, 0)
	return &agent, nil
}

// isBusyError reports SQLite concurrency errors that warrant a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}
