package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ScriptGlance/realtime/internal/protocol"
)

// Postgres implements Parts, Presentations, Access and Rehearsals on top of a
// pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a store to an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Postgres) ByPresentation(ctx context.Context, presentationID int64) ([]Part, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, presentation_id, part_order, name, text, assignee_user_id
		 FROM parts WHERE presentation_id = $1 ORDER BY part_order`, presentationID)
	if err != nil {
		return nil, fmt.Errorf("query parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.PresentationID, &p.Order, &p.Name, &p.Text, &p.AssigneeUserID); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (s *Postgres) Field(ctx context.Context, partID int64, field string) (string, error) {
	if field != FieldName && field != FieldText {
		return "", fmt.Errorf("%w: unknown field %q", protocol.ErrInvalidOperation, field)
	}
	var content string
	// Field is validated against the two known column names above.
	query := fmt.Sprintf(`SELECT %s FROM parts WHERE id = $1`, field)
	err := s.pool.QueryRow(ctx, query, partID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("part %d: %w", partID, protocol.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read part field: %w", err)
	}
	return content, nil
}

func (s *Postgres) SaveField(ctx context.Context, partID int64, field string, content string) error {
	if field != FieldName && field != FieldText {
		return fmt.Errorf("%w: unknown field %q", protocol.ErrInvalidOperation, field)
	}
	query := fmt.Sprintf(`UPDATE parts SET %s = $1 WHERE id = $2`, field)
	tag, err := s.pool.Exec(ctx, query, content, partID)
	if err != nil {
		return fmt.Errorf("save part field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("part %d: %w", partID, protocol.ErrNotFound)
	}
	return nil
}

func (s *Postgres) PresentationOf(ctx context.Context, partID int64) (int64, error) {
	var presentationID int64
	err := s.pool.QueryRow(ctx,
		`SELECT presentation_id FROM parts WHERE id = $1`, partID).Scan(&presentationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("part %d: %w", partID, protocol.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve presentation of part: %w", err)
	}
	return presentationID, nil
}

func (s *Postgres) ByID(ctx context.Context, presentationID int64) (Presentation, error) {
	var p Presentation
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, name FROM presentations WHERE id = $1`,
		presentationID).Scan(&p.ID, &p.OwnerUserID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Presentation{}, fmt.Errorf("presentation %d: %w", presentationID, protocol.ErrNotFound)
	}
	if err != nil {
		return Presentation{}, fmt.Errorf("read presentation: %w", err)
	}
	return p, nil
}

func (s *Postgres) IsParticipant(ctx context.Context, userID, presentationID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM participants WHERE user_id = $1 AND presentation_id = $2
		 )`, userID, presentationID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

func (s *Postgres) RecordStart(ctx context.Context, presentationID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rehearsal_events (presentation_id, started_at) VALUES ($1, $2)`,
		presentationID, at)
	if err != nil {
		return fmt.Errorf("record rehearsal start: %w", err)
	}
	return nil
}

func (s *Postgres) RecordEnd(ctx context.Context, presentationID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rehearsal_events SET ended_at = $1
		 WHERE id = (
		   SELECT id FROM rehearsal_events
		   WHERE presentation_id = $2 AND ended_at IS NULL
		   ORDER BY started_at DESC LIMIT 1
		 )`, at, presentationID)
	if err != nil {
		return fmt.Errorf("record rehearsal end: %w", err)
	}
	return nil
}
