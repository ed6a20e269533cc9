package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "builder.db")
	s, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// steppedClock advances one second per call so ordering by timestamp is stable.
func steppedClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"cases", "briefs", "case_activity", "meta"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "builder.db")
	s, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.CreateCase(context.Background(), &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "One"}))
	require.NoError(t, s.Close())

	s, err = New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	c, err := s.GetCase(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "One", c.CaseTitle)
}

func TestCase_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &Case{ID: "c1", CaseNumber: "TF-ABC", CaseTitle: "Audi Q6"}
	require.NoError(t, s.CreateCase(ctx, c))
	assert.Equal(t, "draft", c.Status)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "TF-ABC", got.CaseNumber)
	assert.Empty(t, got.ProjectType)
	assert.Empty(t, got.SlackChannel)

	typ, channel := "B", "#tf-audi-q6"
	require.NoError(t, s.UpdateCase(ctx, "c1", CaseUpdate{ProjectType: &typ, SlackChannel: &channel}))
	got, err = s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "B", got.ProjectType)
	assert.Equal(t, "#tf-audi-q6", got.SlackChannel)
	assert.Equal(t, "Audi Q6", got.CaseTitle)

	empty := ""
	err = s.UpdateCase(ctx, "c1", CaseUpdate{CaseTitle: &empty})
	assert.True(t, perrors.IsInvalid(err))

	err = s.UpdateCase(ctx, "missing", CaseUpdate{ProjectType: &typ})
	assert.True(t, perrors.IsNotFound(err))

	require.NoError(t, s.DeleteCase(ctx, "c1"))
	_, err = s.GetCase(ctx, "c1")
	assert.True(t, perrors.IsNotFound(err))
}

func TestCase_DuplicateNumberRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "a"}))
	assert.Error(t, s.CreateCase(ctx, &Case{ID: "c2", CaseNumber: "TF-1", CaseTitle: "b"}))
}

func TestCase_ListAndLatest(t *testing.T) {
	s := newTestStore(t)
	s.now = steppedClock(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := s.LatestCase(ctx)
	assert.True(t, perrors.IsNotFound(err))

	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c2", CaseNumber: "TF-2", CaseTitle: "two", Status: "active"}))
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c3", CaseNumber: "TF-3", CaseTitle: "three"}))

	latest, err := s.LatestCase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c3", latest.ID)

	require.NoError(t, s.TouchCase(ctx, "c1"))
	latest, err = s.LatestCase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", latest.ID)

	all, err := s.ListCases(ctx, CaseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c1", "c3", "c2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListCases(ctx, CaseFilter{Status: "active"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c2", active[0].ID)

	limited, err := s.ListCases(ctx, CaseFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byCreated, err := s.ListCases(ctx, CaseFilter{ByCreated: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{byCreated[0].ID, byCreated[1].ID, byCreated[2].ID})
}

func TestBrief_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))

	_, err := s.GetBrief(ctx, "c1")
	assert.True(t, perrors.IsNotFound(err))
	_, err = s.UpdateBrief(ctx, "c1", map[string]any{"client": "BMW"})
	assert.True(t, perrors.IsNotFound(err))

	created, err := s.CreateBrief(ctx, "c1", map[string]any{"extraction_status": "pending"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	updated, err := s.UpdateBrief(ctx, "c1", map[string]any{
		"client":    "BMW",
		"territory": []any{"DACH", "UK"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", updated.Fields["extraction_status"])

	got, err := s.GetBrief(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "BMW", got.Fields["client"])
	assert.Equal(t, []any{"DACH", "UK"}, got.Fields["territory"])
	assert.Equal(t, "pending", got.Fields["extraction_status"])

	_, err = s.CreateBrief(ctx, "c1", nil)
	assert.Error(t, err, "one brief per case")
}

func TestBrief_ListBriefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c2", CaseNumber: "TF-2", CaseTitle: "two"}))
	_, err := s.CreateBrief(ctx, "c1", map[string]any{"client": "BMW"})
	require.NoError(t, err)

	briefs, err := s.ListBriefs(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, briefs, 1)
	assert.Equal(t, "BMW", briefs["c1"].Fields["client"])

	none, err := s.ListBriefs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivity_LogAndList(t *testing.T) {
	s := newTestStore(t)
	s.now = steppedClock(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c2", CaseNumber: "TF-2", CaseTitle: "two"}))

	require.NoError(t, s.LogActivity(ctx, &Activity{CaseID: "c1", Type: "project_created", UserID: "u1", Source: "project_builder"}))
	require.NoError(t, s.LogActivity(ctx, &Activity{
		CaseID:  "c1",
		Type:    "brief_updated",
		Changes: map[string]any{"client": "BMW"},
	}))
	require.NoError(t, s.LogActivity(ctx, &Activity{CaseID: "c2", Type: "integration_setup"}))

	all, err := s.ListActivity(ctx, ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "integration_setup", all[0].Type)

	c1, err := s.ListActivity(ctx, ActivityFilter{CaseID: "c1"})
	require.NoError(t, err)
	require.Len(t, c1, 2)
	assert.Equal(t, "BMW", c1[0].Changes["client"])
	assert.Nil(t, c1[1].Changes)

	typed, err := s.ListActivity(ctx, ActivityFilter{Types: []string{"project_created", "integration_setup"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "c2", typed[0].CaseID)

	one, err := s.GetActivity(ctx, c1[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "brief_updated", one.Type)
	assert.Equal(t, "BMW", one.Changes["client"])

	_, err = s.GetActivity(ctx, "missing")
	assert.True(t, perrors.IsNotFound(err))
}

func TestActivity_Retention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))

	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, s.LogActivity(ctx, &Activity{CaseID: "c1", Type: "brief_updated", CreatedAt: old}))
	require.NoError(t, s.LogActivity(ctx, &Activity{CaseID: "c1", Type: "brief_updated"}))

	n, err := s.RunRetention(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := s.ListActivity(ctx, ActivityFilter{CaseID: "c1"})
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	size, err := s.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestDeleteCase_CascadesToBrief(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, &Case{ID: "c1", CaseNumber: "TF-1", CaseTitle: "one"}))
	_, err := s.CreateBrief(ctx, "c1", map[string]any{"client": "BMW"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCase(ctx, "c1"))
	_, err = s.GetBrief(ctx, "c1")
	assert.True(t, perrors.IsNotFound(err))
}
