// Package sqlite keeps stories in a local SQLite file, using the same record
// mapping as the Notion backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/config"
	"storyweaver/internal/metrics"
	"storyweaver/internal/model"
	"storyweaver/internal/store"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// Store manages the story SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens or creates the database at cfg.Path and creates the schema if it
// does not exist.
func New(cfg config.SQLiteConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, &store.ConfigurationError{Backend: "sqlite", Missing: []string{"path"}}
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stories (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			setting TEXT,
			characters TEXT,
			conflict TEXT,
			resolution TEXT,
			ideas TEXT,
			story TEXT,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, state *model.StoryState) (string, error) {
	rec := store.RecordFromState(state)
	now := time.Now().UTC().Format(timeLayout)

	if rec.ID != "" {
		res, err := s.db.ExecContext(ctx,
			`UPDATE stories SET title = ?, setting = ?, characters = ?, conflict = ?, resolution = ?,
				ideas = ?, story = ?, updated_at = ?
			WHERE id = ? AND archived = 0`,
			rec.Title, rec.Setting, rec.Characters, rec.Conflict, rec.Resolution,
			rec.Ideas, rec.Story, now, rec.ID)
		if err := affectedOne(res, err); err != nil {
			return "", s.done("update", err)
		}
		return rec.ID, s.done("update", nil)
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories (id, title, status, setting, characters, conflict, resolution, ideas, story, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Title, string(rec.Status), rec.Setting, rec.Characters, rec.Conflict, rec.Resolution,
		rec.Ideas, rec.Story, now, now)
	if err != nil {
		return "", s.done("create", err)
	}
	logrus.WithFields(logrus.Fields{"run_id": state.RunID, "page_id": id}).Info("story saved to sqlite")
	return id, s.done("create", nil)
}

const selectColumns = `id, title, status, setting, characters, conflict, resolution, ideas, story, created_at, updated_at`

func (s *Store) Query(ctx context.Context, f store.Filter, limit int) ([]store.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM stories WHERE archived = 0`
	var args []any
	if q := strings.TrimSpace(f.Text); q != "" {
		query += ` AND (instr(lower(title), lower(?)) > 0 OR instr(lower(setting), lower(?)) > 0 OR instr(lower(characters), lower(?)) > 0)`
		args = append(args, q, q, q)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, store.Limit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.done("query", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.done("query", err)
		}
		out = append(out, rec)
	}
	return out, s.done("query", rows.Err())
}

func (s *Store) Get(ctx context.Context, pageID string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM stories WHERE id = ? AND archived = 0`, pageID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.done("get", fmt.Errorf("%w: %s", store.ErrNotFound, pageID))
	}
	if err != nil {
		return nil, s.done("get", err)
	}
	return &rec, s.done("get", nil)
}

func (s *Store) UpdateStatus(ctx context.Context, pageID string, status model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, updated_at = ? WHERE id = ? AND archived = 0`,
		string(status), time.Now().UTC().Format(timeLayout), pageID)
	return s.done("update_status", affectedOne(res, err))
}

// Archive hides the story from Get and Query. Rows are kept.
func (s *Store) Archive(ctx context.Context, pageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET archived = 1, updated_at = ? WHERE id = ? AND archived = 0`,
		time.Now().UTC().Format(timeLayout), pageID)
	return s.done("archive", affectedOne(res, err))
}

func (s *Store) Ping(ctx context.Context) error {
	return s.done("ping", s.db.PingContext(ctx))
}

func (s *Store) done(op string, err error) error {
	metrics.StoreOpsTotal.WithLabelValues("sqlite", op, metrics.Outcome(err)).Inc()
	return store.Wrap(op, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (store.Record, error) {
	var (
		rec                  store.Record
		status               string
		setting, characters  sql.NullString
		conflict, resolution sql.NullString
		ideas, story         sql.NullString
		createdAt, updatedAt string
	)
	if err := sc.Scan(&rec.ID, &rec.Title, &status, &setting, &characters, &conflict, &resolution,
		&ideas, &story, &createdAt, &updatedAt); err != nil {
		return store.Record{}, err
	}
	rec.Status = model.Status(status)
	rec.Setting = setting.String
	rec.Characters = characters.String
	rec.Conflict = conflict.String
	rec.Resolution = resolution.String
	rec.Ideas = ideas.String
	rec.Story = story.String
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return rec, nil
}
