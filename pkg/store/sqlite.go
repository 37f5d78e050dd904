package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meetings (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	start_time        DATETIME,
	end_time          DATETIME,
	status            TEXT NOT NULL DEFAULT 'recorded',
	transcript        TEXT,
	summary           TEXT,
	action_items      TEXT NOT NULL DEFAULT '[]',
	outcomes          TEXT NOT NULL DEFAULT '{}',
	audio_ref         TEXT NOT NULL DEFAULT '',
	calendar_event_id TEXT,
	is_favorite       INTEGER NOT NULL DEFAULT 0,
	folder_id         TEXT
);

CREATE INDEX IF NOT EXISTS idx_meetings_created_at ON meetings(created_at);
CREATE INDEX IF NOT EXISTS idx_meetings_folder_id ON meetings(folder_id);
`

// SQLiteStore implements Repository on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, m *meeting.Meeting) error {
	itemsJSON, err := encodeItems(m.ActionItems)
	if err != nil {
		return err
	}
	outcomesJSON, err := encodeOutcomes(m.Outcomes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meetings (
			id, title, created_at, updated_at, start_time, end_time, status,
			transcript, summary, action_items, outcomes, audio_ref,
			calendar_event_id, is_favorite, folder_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.CreatedAt, m.UpdatedAt, utcPtr(m.StartTime), utcPtr(m.EndTime), string(m.Status),
		m.Transcript, m.Summary, string(itemsJSON), string(outcomesJSON), m.AudioRef,
		m.CalendarEventID, m.IsFavorite, m.FolderID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("meeting %s: %w", m.ID, mnerrors.ErrConflict)
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	if m.ActionItems == nil {
		m.ActionItems = []meeting.ActionItem{}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	return getSQLite(ctx, s.db, id)
}

func (s *SQLiteStore) Modify(ctx context.Context, id string, fn MeetingMutator) (*meeting.Meeting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	stored, err := getSQLite(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	m := stored.Clone()
	if err := fn(m); err != nil {
		return nil, err
	}
	settle(stored, m)

	itemsJSON, err := encodeItems(m.ActionItems)
	if err != nil {
		return nil, err
	}
	outcomesJSON, err := encodeOutcomes(m.Outcomes)
	if err != nil {
		return nil, err
	}

	m.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE meetings SET
			title = ?, start_time = ?, end_time = ?, status = ?,
			transcript = ?, summary = ?, action_items = ?, outcomes = ?,
			audio_ref = ?, calendar_event_id = ?, is_favorite = ?, folder_id = ?,
			updated_at = ?
		WHERE id = ?`,
		m.Title, utcPtr(m.StartTime), utcPtr(m.EndTime), string(m.Status),
		m.Transcript, m.Summary, string(itemsJSON), string(outcomesJSON),
		m.AudioRef, m.CalendarEventID, m.IsFavorite, m.FolderID,
		m.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("failed to update meeting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ReplaceActionItems(ctx context.Context, id string, items []meeting.ActionItem) (*meeting.Meeting, error) {
	return s.ModifyActionItems(ctx, id, func([]meeting.ActionItem) ([]meeting.ActionItem, error) {
		return items, nil
	})
}

func (s *SQLiteStore) ModifyActionItems(ctx context.Context, id string, fn ItemsMutator) (*meeting.Meeting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	current, err := getSQLite(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	items, err := fn(current.ActionItems)
	if err != nil {
		return nil, err
	}
	itemsJSON, err := encodeItems(items)
	if err != nil {
		return nil, err
	}

	updatedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE meetings SET action_items = ?, updated_at = ? WHERE id = ?`,
		string(itemsJSON), updatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to write action items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	current.ActionItems, err = decodeItems(itemsJSON)
	if err != nil {
		return nil, err
	}
	current.UpdatedAt = updatedAt
	return current, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings WHERE 1 = 1`
	var args []any
	if filter.FolderID != nil {
		query += ` AND folder_id = ?`
		args = append(args, *filter.FolderID)
	}
	if filter.FavoritesOnly {
		query += ` AND is_favorite = 1`
	}
	return s.queryMeetings(ctx, query+` ORDER BY created_at DESC, id`, args...)
}

func (s *SQLiteStore) Search(ctx context.Context, q string) ([]*meeting.Meeting, error) {
	pattern := likePattern(q)
	query := `SELECT` + meetingColumns + ` FROM meetings
		WHERE lower(title) LIKE ? ESCAPE '\'
		   OR lower(coalesce(summary, '')) LIKE ? ESCAPE '\'
		   OR lower(coalesce(transcript, '')) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id`
	return s.queryMeetings(ctx, query, pattern, pattern, pattern)
}

func (s *SQLiteStore) ListWithText(ctx context.Context, limit int) ([]*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings
		WHERE trim(coalesce(transcript, '')) <> '' OR trim(coalesce(summary, '')) <> ''
		ORDER BY created_at DESC, id`
	if limit > 0 {
		return s.queryMeetings(ctx, query+` LIMIT ?`, limit)
	}
	return s.queryMeetings(ctx, query)
}

func (s *SQLiteStore) ClearFolder(ctx context.Context, folderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE meetings SET folder_id = NULL, updated_at = ? WHERE folder_id = ?`,
		time.Now().UTC(), folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear folder: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLite(ctx context.Context, q sqlQueryer, id string) (*meeting.Meeting, error) {
	m, err := scanSQLiteMeeting(q.QueryRowContext(ctx, `SELECT`+meetingColumns+` FROM meetings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) queryMeetings(ctx context.Context, query string, args ...any) ([]*meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	var out []*meeting.Meeting
	for rows.Next() {
		m, err := scanSQLiteMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSQLiteMeeting(row rowScanner) (*meeting.Meeting, error) {
	var m meeting.Meeting
	var status, itemsJSON, outcomesJSON string
	var start, end sql.NullTime
	var transcript, summary, eventID, folderID sql.NullString

	err := row.Scan(
		&m.ID, &m.Title, &m.CreatedAt, &m.UpdatedAt, &start, &end, &status,
		&transcript, &summary, &itemsJSON, &outcomesJSON, &m.AudioRef,
		&eventID, &m.IsFavorite, &folderID,
	)
	if err != nil {
		return nil, err
	}

	m.Status = meeting.Status(status)
	m.StartTime = nullTimePtr(start)
	m.EndTime = nullTimePtr(end)
	m.Transcript = nullStringPtr(transcript)
	m.Summary = nullStringPtr(summary)
	m.CalendarEventID = nullStringPtr(eventID)
	m.FolderID = nullStringPtr(folderID)

	if m.ActionItems, err = decodeItems([]byte(itemsJSON)); err != nil {
		return nil, err
	}
	if m.Outcomes, err = decodeOutcomes([]byte(outcomesJSON)); err != nil {
		return nil, err
	}
	return &m, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
