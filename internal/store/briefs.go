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

// Brief is the stored brief row of a case. Fields holds the stored columns
// keyed by record key (client, budget_min, submission_deadline, ...).
type Brief struct {
	ID        string
	CaseID    string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateBrief inserts the brief of caseID.
func (s *Store) CreateBrief(ctx context.Context, caseID string, fields map[string]any) (*Brief, error) {
	raw, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	b := &Brief{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		Fields:    fields,
		CreatedAt: fromMillis(now),
		UpdatedAt: fromMillis(now),
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO briefs (id, case_id, fields, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`,
		b.ID, caseID, raw, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create brief: %w", err)
	}
	return b, nil
}

// GetBrief returns the brief of caseID.
func (s *Store) GetBrief(ctx context.Context, caseID string) (*Brief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBrief(ctx, s.db, caseID)
}

// UpdateBrief merges patch into the stored fields of caseID. Keys in patch
// replace stored keys; other stored keys are kept.
func (s *Store) UpdateBrief(ctx context.Context, caseID string, patch map[string]any) (*Brief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin brief update: %w", err)
	}
	defer tx.Rollback()

	b, err := s.getBrief(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	if b.Fields == nil {
		b.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		b.Fields[k] = v
	}
	raw, err := encodeFields(b.Fields)
	if err != nil {
		return nil, err
	}

	now := s.nowMillis()
	if _, err := tx.ExecContext(ctx,
		`UPDATE briefs SET fields = ?, updated_at = ? WHERE case_id = ?`, raw, now, caseID); err != nil {
		return nil, fmt.Errorf("failed to update brief: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit brief update: %w", err)
	}
	b.UpdatedAt = fromMillis(now)
	return b, nil
}

// ListBriefs returns the briefs of caseIDs keyed by case id. Cases without a
// brief are absent.
func (s *Store) ListBriefs(ctx context.Context, caseIDs []string) (map[string]*Brief, error) {
	out := make(map[string]*Brief, len(caseIDs))
	if len(caseIDs) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(caseIDs))
	marks := make([]byte, 0, len(caseIDs)*2)
	for i, id := range caseIDs {
		args[i] = id
		if i > 0 {
			marks = append(marks, ',')
		}
		marks = append(marks, '?')
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, fields, created_at, updated_at FROM briefs WHERE case_id IN (`+string(marks)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list briefs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, err
		}
		out[b.CaseID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating briefs: %w", err)
	}
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getBrief(ctx context.Context, q queryer, caseID string) (*Brief, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, case_id, fields, created_at, updated_at FROM briefs WHERE case_id = ?`, caseID)
	b, err := scanBrief(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("brief", caseID)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBrief(r rowScanner) (*Brief, error) {
	b := &Brief{}
	var raw string
	var created, updated int64
	if err := r.Scan(&b.ID, &b.CaseID, &raw, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan brief: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &b.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode brief fields: %w", err)
	}
	b.CreatedAt = fromMillis(created)
	b.UpdatedAt = fromMillis(updated)
	return b, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode brief fields: %w", err)
	}
	return string(raw), nil
}
