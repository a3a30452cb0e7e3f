// Package sqlite provides SQLite-backed persistence for gateway audit events.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ferrolab/agentgate/internal/platform/id"
	"github.com/ferrolab/agentgate/internal/services/gateway/audit"
	"github.com/ferrolab/agentgate/internal/services/gateway/audit/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for gateway events.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutEvent persists one gateway event. A missing ID is generated.
func (s *Store) PutEvent(ctx context.Context, event audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.EventName) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(event.ActorUserID) == "" {
		return fmt.Errorf("actor user id is required")
	}
	if strings.TrimSpace(event.Outcome) == "" {
		return fmt.Errorf("outcome is required")
	}
	if event.CreatedAt.IsZero() {
		return fmt.Errorf("created at is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		generated, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate event id: %w", err)
		}
		eventID = generated
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO gateway_events (
	id, event_name, actor_user_id, principal_id, client_id, outcome, detail, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		eventID,
		strings.TrimSpace(event.EventName),
		strings.TrimSpace(event.ActorUserID),
		strings.TrimSpace(event.PrincipalID),
		strings.TrimSpace(event.ClientID),
		strings.TrimSpace(event.Outcome),
		event.Detail,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put gateway event: %w", err)
	}
	return nil
}

// ListEventsByActor returns up to limit events for one actor, newest first.
func (s *Store) ListEventsByActor(ctx context.Context, actorUserID string, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	actorUserID = strings.TrimSpace(actorUserID)
	if actorUserID == "" {
		return nil, fmt.Errorf("actor user id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, event_name, actor_user_id, principal_id, client_id, outcome, detail, created_at
FROM gateway_events
WHERE actor_user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, actorUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list gateway events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			createdAt int64
		)
		if err := rows.Scan(
			&event.ID,
			&event.EventName,
			&event.ActorUserID,
			&event.PrincipalID,
			&event.ClientID,
			&event.Outcome,
			&event.Detail,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan gateway event: %w", err)
		}
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateway events: %w", err)
	}
	return events, nil
}

const migrationTable = "schema_migrations"

// runMigrations applies the embedded migrations at most once per file.
func (s *Store) runMigrations() error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if _, err := s.sqlDB.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		var found int
		err := s.sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := s.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}
