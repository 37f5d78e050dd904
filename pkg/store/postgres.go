package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

const meetingColumns = `
	id, title, created_at, updated_at, start_time, end_time, status,
	transcript, summary, action_items, outcomes, audio_ref,
	calendar_event_id, is_favorite, folder_id`

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore creates a Repository backed by pool. The schema is managed by
// db.RunMigrations with the embedded migrations.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.F("component", "postgres_store")),
	}
}

func (s *PostgresStore) Create(ctx context.Context, m *meeting.Meeting) error {
	itemsJSON, err := encodeItems(m.ActionItems)
	if err != nil {
		return err
	}
	outcomesJSON, err := encodeOutcomes(m.Outcomes)
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO meetings (
			id, title, created_at, updated_at, start_time, end_time, status,
			transcript, summary, action_items, outcomes, audio_ref,
			calendar_event_id, is_favorite, folder_id
		) VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING updated_at
	`

	err = s.pool.QueryRow(ctx, query,
		m.ID, m.Title, m.CreatedAt, m.StartTime, m.EndTime, m.Status,
		m.Transcript, m.Summary, itemsJSON, outcomesJSON, m.AudioRef,
		m.CalendarEventID, m.IsFavorite, m.FolderID,
	).Scan(&m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("meeting %s: %w", m.ID, mnerrors.ErrConflict)
		}
		s.logger.Error("Failed to create meeting", logging.Err(err), logging.F("meeting_id", m.ID))
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	if m.ActionItems == nil {
		m.ActionItems = []meeting.ActionItem{}
	}

	s.logger.Debug("Meeting created", logging.F("meeting_id", m.ID), logging.F("status", string(m.Status)))
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.getWith(ctx, s.pool, id, "")
}

func (s *PostgresStore) Modify(ctx context.Context, id string, fn MeetingMutator) (*meeting.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	stored, err := s.getWith(ctx, tx, id, " FOR UPDATE")
	if err != nil {
		return nil, err
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	settle(stored, next)

	itemsJSON, err := encodeItems(next.ActionItems)
	if err != nil {
		return nil, err
	}
	outcomesJSON, err := encodeOutcomes(next.Outcomes)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE meetings SET
			title = $2, start_time = $3, end_time = $4, status = $5,
			transcript = $6, summary = $7, action_items = $8, outcomes = $9,
			audio_ref = $10, calendar_event_id = $11, is_favorite = $12, folder_id = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING` + meetingColumns

	m, err := scanMeeting(tx.QueryRow(ctx, query,
		id, next.Title, next.StartTime, next.EndTime, next.Status,
		next.Transcript, next.Summary, itemsJSON, outcomesJSON,
		next.AudioRef, next.CalendarEventID, next.IsFavorite, next.FolderID,
	))
	if err != nil {
		s.logger.Error("Failed to update meeting", logging.Err(err), logging.F("meeting_id", id))
		return nil, fmt.Errorf("failed to update meeting: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ReplaceActionItems(ctx context.Context, id string, items []meeting.ActionItem) (*meeting.Meeting, error) {
	itemsJSON, err := encodeItems(items)
	if err != nil {
		return nil, err
	}

	query := `UPDATE meetings SET action_items = $2, updated_at = NOW() WHERE id = $1 RETURNING` + meetingColumns
	m, err := scanMeeting(s.pool.QueryRow(ctx, query, id, itemsJSON))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to replace action items: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ModifyActionItems(ctx context.Context, id string, fn ItemsMutator) (*meeting.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	current, err := s.getWith(ctx, tx, id, " FOR UPDATE")
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

	query := `UPDATE meetings SET action_items = $2, updated_at = NOW() WHERE id = $1 RETURNING` + meetingColumns
	m, err := scanMeeting(tx.QueryRow(ctx, query, id, itemsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to write action items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings
		WHERE ($1::text IS NULL OR folder_id = $1)
		  AND (NOT $2 OR is_favorite)
		ORDER BY created_at DESC, id`
	return s.queryMeetings(ctx, query, filter.FolderID, filter.FavoritesOnly)
}

func (s *PostgresStore) Search(ctx context.Context, q string) ([]*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings
		WHERE title ILIKE $1 OR summary ILIKE $1 OR transcript ILIKE $1
		ORDER BY created_at DESC, id`
	return s.queryMeetings(ctx, query, likePattern(q))
}

func (s *PostgresStore) ListWithText(ctx context.Context, limit int) ([]*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings
		WHERE btrim(coalesce(transcript, '')) <> '' OR btrim(coalesce(summary, '')) <> ''
		ORDER BY created_at DESC, id`
	if limit > 0 {
		return s.queryMeetings(ctx, query+` LIMIT $1`, limit)
	}
	return s.queryMeetings(ctx, query)
}

func (s *PostgresStore) ClearFolder(ctx context.Context, folderID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE meetings SET folder_id = NULL, updated_at = NOW() WHERE folder_id = $1`, folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear folder: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getWith(ctx context.Context, q querier, id, suffix string) (*meeting.Meeting, error) {
	query := `SELECT` + meetingColumns + ` FROM meetings WHERE id = $1` + suffix
	m, err := scanMeeting(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) queryMeetings(ctx context.Context, query string, args ...any) ([]*meeting.Meeting, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	var out []*meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*meeting.Meeting, error) {
	var m meeting.Meeting
	var status string
	var itemsJSON, outcomesJSON []byte

	err := row.Scan(
		&m.ID, &m.Title, &m.CreatedAt, &m.UpdatedAt, &m.StartTime, &m.EndTime, &status,
		&m.Transcript, &m.Summary, &itemsJSON, &outcomesJSON, &m.AudioRef,
		&m.CalendarEventID, &m.IsFavorite, &m.FolderID,
	)
	if err != nil {
		return nil, err
	}

	m.Status = meeting.Status(status)
	if m.ActionItems, err = decodeItems(itemsJSON); err != nil {
		return nil, err
	}
	if m.Outcomes, err = decodeOutcomes(outcomesJSON); err != nil {
		return nil, err
	}
	return &m, nil
}
