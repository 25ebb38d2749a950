package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultStaleAfter is the window after which a record is treated as absent.
const DefaultStaleAfter = 24 * time.Hour

// SQLiteStore persists installation records in a local SQLite database. The
// resources and final-result columns are sealed at rest with a locally
// generated key kept next to the database file.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	keyPath    string
	key        []byte
	staleAfter time.Duration
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// KeyPath is the sealing key file path (default: state.key next to Path).
	KeyPath string

	// StaleAfter overrides the record staleness window.
	StaleAfter time.Duration
}

// NewSQLiteStore creates a new store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(filepath.Dir(cfg.Path), "state.key")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	return &SQLiteStore{
		path:       cfg.Path,
		keyPath:    cfg.KeyPath,
		staleAfter: cfg.StaleAfter,
	}, nil
}

// Init opens the database, enables WAL mode, and loads the sealing key.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	key, err := loadOrCreateKey(s.keyPath)
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.key = key
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load retrieves the record for a project. It returns (nil, nil) when no
// usable record exists: absent, or stale beyond the staleness window (stale
// rows are deleted on the way out).
func (s *SQLiteStore) Load(ctx context.Context, projectID string) (*InstallationState, error) {
	query := `
		SELECT project_id, display_name, schema_version, started_at, last_updated_at,
		       completed_steps, resources, final_result
		FROM installations
		WHERE project_id = ?
	`

	var (
		state       InstallationState
		stepsJSON   string
		resources   []byte
		finalResult []byte
	)
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&state.ProjectID,
		&state.DisplayName,
		&state.SchemaVersion,
		&state.StartedAt,
		&state.LastUpdatedAt,
		&stepsJSON,
		&resources,
		&finalResult,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load installation: %w", err)
	}

	if time.Since(state.LastUpdatedAt) > s.staleAfter {
		if err := s.Clear(ctx, projectID); err != nil {
			return nil, fmt.Errorf("failed to expire stale installation: %w", err)
		}
		return nil, nil
	}

	if err := json.Unmarshal([]byte(stepsJSON), &state.CompletedSteps); err != nil {
		return nil, fmt.Errorf("failed to decode completed steps: %w", err)
	}

	if resources != nil {
		plain, err := unseal(s.key, resources)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal resources: %w", err)
		}
		if err := json.Unmarshal(plain, &state.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources: %w", err)
		}
	}

	if finalResult != nil {
		plain, err := unseal(s.key, finalResult)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal final result: %w", err)
		}
		state.FinalResult = plain
	}

	return &state, nil
}

// Save upserts the whole record, stamping LastUpdatedAt.
func (s *SQLiteStore) Save(ctx context.Context, state *InstallationState) error {
	if state.ProjectID == "" {
		return fmt.Errorf("project id is required")
	}

	state.LastUpdatedAt = time.Now().UTC()
	if state.StartedAt.IsZero() {
		state.StartedAt = state.LastUpdatedAt
	}

	stepsJSON, err := json.Marshal(state.CompletedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode completed steps: %w", err)
	}
	if state.CompletedSteps == nil {
		stepsJSON = []byte("[]")
	}

	var resources []byte
	if state.Resources != nil {
		plain, err := json.Marshal(state.Resources)
		if err != nil {
			return fmt.Errorf("failed to encode resources: %w", err)
		}
		if resources, err = seal(s.key, plain); err != nil {
			return fmt.Errorf("failed to seal resources: %w", err)
		}
	}

	var finalResult []byte
	if state.FinalResult != nil {
		if finalResult, err = seal(s.key, state.FinalResult); err != nil {
			return fmt.Errorf("failed to seal final result: %w", err)
		}
	}

	query := `
		INSERT INTO installations (
			project_id, display_name, schema_version, started_at, last_updated_at,
			completed_steps, resources, final_result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			display_name = excluded.display_name,
			schema_version = excluded.schema_version,
			last_updated_at = excluded.last_updated_at,
			completed_steps = excluded.completed_steps,
			resources = excluded.resources,
			final_result = excluded.final_result,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		state.ProjectID,
		state.DisplayName,
		state.SchemaVersion,
		state.StartedAt,
		state.LastUpdatedAt,
		string(stepsJSON),
		resources,
		finalResult,
	)
	if err != nil {
		return fmt.Errorf("failed to save installation: %w", err)
	}

	return nil
}

// MarkStepComplete appends a completed step and additively merges its
// resource records, then persists the record.
func (s *SQLiteStore) MarkStepComplete(ctx context.Context, projectID, step string, resources map[string]ResourceRecord) error {
	state, err := s.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("installation not found: %s", projectID)
	}

	state.AppendStep(step)
	state.MergeResources(resources)
	return s.Save(ctx, state)
}

// SetFinalResult stamps the compiled result on a record.
func (s *SQLiteStore) SetFinalResult(ctx context.Context, projectID string, result json.RawMessage) error {
	state, err := s.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("installation not found: %s", projectID)
	}

	state.FinalResult = result
	return s.Save(ctx, state)
}

// Clear deletes the record for a project. Deleting an absent record is not
// an error.
func (s *SQLiteStore) Clear(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installations WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to clear installation: %w", err)
	}
	return nil
}
