package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

// Case is one licensing project.
type Case struct {
	ID              string
	CaseNumber      string
	CaseTitle       string
	ProjectType     string // A..E or Production, empty until classified
	Status          string
	SlackChannel    string
	NextcloudFolder string
	CatchyCaseID    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CaseFilter narrows ListCases.
type CaseFilter struct {
	Status string
	Limit  int
	// ByCreated orders by creation time instead of last update.
	ByCreated bool
}

// CaseUpdate is a partial case update. Nil fields are left alone.
type CaseUpdate struct {
	CaseTitle       *string
	ProjectType     *string
	Status          *string
	SlackChannel    *string
	NextcloudFolder *string
	CatchyCaseID    *string
}

func (u CaseUpdate) empty() bool {
	return u.CaseTitle == nil && u.ProjectType == nil && u.Status == nil &&
		u.SlackChannel == nil && u.NextcloudFolder == nil && u.CatchyCaseID == nil
}

const caseColumns = `id, case_number, case_title, project_type, status,
	slack_channel, nextcloud_folder, catchy_case_id, created_at, updated_at`

// CreateCase inserts c, stamping its timestamps.
func (s *Store) CreateCase(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	if c.Status == "" {
		c.Status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO cases (`+caseColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CaseNumber, c.CaseTitle, nullString(c.ProjectType), c.Status,
		nullString(c.SlackChannel), nullString(c.NextcloudFolder), nullString(c.CatchyCaseID),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(now), fromMillis(now)
	return nil
}

// GetCase returns the case with id.
func (s *Store) GetCase(ctx context.Context, id string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("case", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// LatestCase returns the most recently updated case.
func (s *Store) LatestCase(ctx context.Context) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases ORDER BY updated_at DESC, rowid DESC LIMIT 1`)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("case", "latest")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest case: %w", err)
	}
	return c, nil
}

// ListCases returns cases, most recently updated (or created) first.
func (s *Store) ListCases(ctx context.Context, f CaseFilter) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	if f.ByCreated {
		query += ` ORDER BY created_at DESC, rowid DESC`
	} else {
		query += ` ORDER BY updated_at DESC, rowid DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cases: %w", err)
	}
	return cases, nil
}

// UpdateCase applies u and bumps updated_at.
func (s *Store) UpdateCase(ctx context.Context, id string, u CaseUpdate) error {
	if (u.CaseTitle != nil && *u.CaseTitle == "") || (u.Status != nil && *u.Status == "") {
		return perrors.Invalid("case title and status must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{s.nowMillis()}
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		sets = append(sets, col+" = ?")
		args = append(args, nullString(*v))
	}
	add("case_title", u.CaseTitle)
	add("project_type", u.ProjectType)
	add("status", u.Status)
	add("slack_channel", u.SlackChannel)
	add("nextcloud_folder", u.NextcloudFolder)
	add("catchy_case_id", u.CatchyCaseID)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE cases SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("case", id)
	}
	if !u.empty() {
		s.logger.Debug().Str("case", id).Int("columns", len(sets)-1).Msg("case updated")
	}
	return nil
}

// TouchCase bumps updated_at without changing anything else.
func (s *Store) TouchCase(ctx context.Context, id string) error {
	return s.UpdateCase(ctx, id, CaseUpdate{})
}

// DeleteCase removes a case with its brief and activity.
func (s *Store) DeleteCase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(r rowScanner) (*Case, error) {
	c := &Case{}
	var projectType, slack, nextcloud, catchy sql.NullString
	var created, updated int64
	err := r.Scan(&c.ID, &c.CaseNumber, &c.CaseTitle, &projectType, &c.Status,
		&slack, &nextcloud, &catchy, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.ProjectType = projectType.String
	c.SlackChannel = slack.String
	c.NextcloudFolder = nextcloud.String
	c.CatchyCaseID = catchy.String
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}
