package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

const activityColumns = `id, case_id, activity_type, activity_description, user_id, source, changes, created_at`

// Activity is one case_activity row.
type Activity struct {
	ID          string
	CaseID      string
	Type        string // project_created, brief_updated, integration_setup, ...
	Description string
	UserID      string
	Source      string
	Changes     map[string]any
	CreatedAt   time.Time
}

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	CaseID string
	Types  []string
	Since  time.Time
	Limit  int
}

// LogActivity appends an activity row.
func (s *Store) LogActivity(ctx context.Context, a *Activity) error {
	var changes sql.NullString
	if len(a.Changes) > 0 {
		raw, err := json.Marshal(a.Changes)
		if err != nil {
			return fmt.Errorf("failed to encode activity changes: %w", err)
		}
		changes = sql.NullString{String: string(raw), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.nowMillis()
	if !a.CreatedAt.IsZero() {
		now = a.CreatedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO case_activity (
		id, case_id, activity_type, activity_description, user_id, source, changes, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseID, a.Type, a.Description, a.UserID, a.Source, changes, now,
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	a.CreatedAt = fromMillis(now)
	return nil
}

// ListActivity returns activity rows, newest first.
func (s *Store) ListActivity(ctx context.Context, f ActivityFilter) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + activityColumns + ` FROM case_activity WHERE 1=1`
	var args []any
	if f.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, f.CaseID)
	}
	if len(f.Types) > 0 {
		query += ` AND activity_type IN (`
		for i, t := range f.Types {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, t)
		}
		query += `)`
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		a, err := s.scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return out, nil
}

// GetActivity returns one activity row by id.
func (s *Store) GetActivity(ctx context.Context, id string) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM case_activity WHERE id = ?`, id)
	a, err := s.scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("activity", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

func (s *Store) scanActivity(r rowScanner) (*Activity, error) {
	a := &Activity{}
	var changes sql.NullString
	var created int64
	if err := r.Scan(&a.ID, &a.CaseID, &a.Type, &a.Description, &a.UserID, &a.Source, &changes, &created); err != nil {
		return nil, err
	}
	if changes.Valid {
		if err := json.Unmarshal([]byte(changes.String), &a.Changes); err != nil {
			s.logger.Warn().Err(err).Str("activity", a.ID).Msg("undecodable activity changes")
		}
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}
