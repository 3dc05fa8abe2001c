package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/prreview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
// step_events is append-only and ordered by seq; sessions holds one JSON
// snapshot per ID, last writer wins.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; the API and MCP servers share this handle.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Step log ---

func (s *SQLiteStore) WriteStep(ctx context.Context, sessionID string, ev *models.StepEvent) error {
	if ev.EventID == "" {
		ev.EventID = newULID()
	}
	ev.SessionID = sessionID

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal step %s: %w", ev.StepID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_events (event_id, session_id, step_id, step_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, sessionID, ev.StepID, string(ev.StepType), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write step %s: %w", ev.StepID, err)
	}
	return nil
}

func (s *SQLiteStore) ReadSteps(ctx context.Context, sessionID string) ([]*models.StepEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM step_events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []*models.StepEvent{}
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		var ev models.StepEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("step log %s seq %d: %w", sessionID, seq, err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- Snapshots ---

func (s *SQLiteStore) WriteSession(ctx context.Context, sess *models.Session) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, snapshot, success, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, success = excluded.success, updated_at = excluded.updated_at`,
		sess.SessionID, string(snapshot), boolToInt(sess.Success), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id = ?`, sessionID).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(snapshot), &sess); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
