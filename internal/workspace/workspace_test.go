package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/canvas"
	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/reconcile"
)

type fakeProjects struct {
	mu       sync.Mutex
	projects map[string]*projects.Project
	saved    []map[string]any
	gets     int
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[string]*projects.Project{
		"p1": {
			ID:         "p1",
			CaseNumber: "TF-P1",
			CaseTitle:  "Audi Q6",
			Status:     "draft",
			Brief:      map[string]any{"client": "Audi", "budget_min": float64(40000)},
		},
	}}
}

func (f *fakeProjects) Get(_ context.Context, id string) (*projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	p, ok := f.projects[id]
	if !ok {
		return nil, perrors.NotFound("case", id)
	}
	cp := *p
	cp.Brief = make(map[string]any, len(p.Brief))
	for k, v := range p.Brief {
		cp.Brief[k] = v
	}
	return &cp, nil
}

func (f *fakeProjects) UpdateBrief(_ context.Context, id string, body map[string]any, _ string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, perrors.NotFound("case", id)
	}
	f.saved = append(f.saved, body)
	for k, v := range body {
		p.Brief[k] = v
	}
	out := make(map[string]any, len(p.Brief))
	for k, v := range p.Brief {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	ws       *Workspace
	projects *fakeProjects
	agents   *agentstate.Memory
	hub      *realtime.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		projects: newFakeProjects(),
		agents:   agentstate.NewMemory(16, zerolog.Nop()),
		hub:      realtime.NewHub(8, nil, zerolog.Nop()),
	}
	now := func() time.Time { return time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC) }
	f.ws = New(f.projects, f.agents, reconcile.New(32, reconcile.WithClock(now)), f.hub, 16, zerolog.Nop())
	t.Cleanup(func() {
		f.ws.Close()
		f.hub.Close()
	})
	return f
}

func fieldOf(t *testing.T, res reconcile.Result, id string) canvas.Field {
	t.Helper()
	fld, ok := canvas.FindField(res.View.Fields, id)
	require.True(t, ok, "field %s", id)
	return fld
}

func TestView_ShowsStoredBrief(t *testing.T) {
	f := newFixture(t)

	res, err := f.ws.View(context.Background(), "s1", "p1")
	require.NoError(t, err)

	assert.Equal(t, "Audi", fieldOf(t, res, "client_name").Value)
	assert.Equal(t, canvas.StatusAIFilled, fieldOf(t, res, "client_name").Status)
	assert.Equal(t, "Audi Q6", res.View.Project.CaseTitle)
	assert.Equal(t, canvas.TypeB, res.View.Project.ProjectType)
	assert.False(t, res.View.Project.HasUnsavedChanges)

	_, err = f.ws.View(context.Background(), "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.projects.gets, "snapshot is loaded once")
	assert.Equal(t, 1, f.hub.Subscribers("p1"))
}

func TestView_UnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.ws.View(context.Background(), "s1", "nope")
	assert.True(t, perrors.IsNotFound(err))
	assert.Equal(t, 0, f.hub.Subscribers("nope"))
}

func TestView_BindsAgentStateToProject(t *testing.T) {
	f := newFixture(t)
	other := "p-other"
	f.agents.Write("s1", agentstate.Patch{
		CurrentProjectID: &other,
		ExtractedBrief:   canvas.Brief{"client_name": "Nike"},
	})

	res, err := f.ws.View(context.Background(), "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Audi", fieldOf(t, res, "client_name").Value)

	state, ok := f.agents.Read("s1")
	require.True(t, ok)
	assert.Equal(t, "p1", state.CurrentProjectID)
	assert.Empty(t, state.ExtractedBrief)
}

func TestEdit_OverridesAndWritesBackToAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ws.Edit(ctx, "s1", "p1", "client_name", "Audi AG")
	require.NoError(t, err)
	fld := fieldOf(t, res, "client_name")
	assert.Equal(t, "Audi AG", fld.Value)
	assert.Equal(t, canvas.StatusUserEdited, fld.Status)
	assert.True(t, res.View.Project.HasUnsavedChanges)

	state, ok := f.agents.Read("s1")
	require.True(t, ok)
	assert.Equal(t, "Audi AG", state.ExtractedBrief["client_name"])
	assert.Equal(t, []string{"client_name"}, state.FieldUpdates)

	other, err := f.ws.View(ctx, "s2", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Audi", fieldOf(t, other, "client_name").Value, "edits are per session")
}

func TestEdit_UnknownField(t *testing.T) {
	f := newFixture(t)
	_, err := f.ws.Edit(context.Background(), "s1", "p1", "favourite_colour", "blue")
	assert.True(t, perrors.IsInvalid(err))
}

func TestSetType_PinsAndUnpins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := canvas.TypeA

	res, err := f.ws.SetType(ctx, "s1", "p1", &a)
	require.NoError(t, err)
	assert.Equal(t, canvas.TypeA, res.View.Classification.CurrentType)
	assert.Equal(t, canvas.TypeB, res.View.Classification.CalculatedType)
	require.NotNil(t, res.View.Project.ProjectTypeOverride)
	assert.True(t, res.View.Project.HasUnsavedChanges)

	res, err = f.ws.SetType(ctx, "s1", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, canvas.TypeB, res.View.Classification.CurrentType)
	assert.Nil(t, res.View.Project.ProjectTypeOverride)

	bad := canvas.ProjectType("Z")
	_, err = f.ws.SetType(ctx, "s1", "p1", &bad)
	assert.True(t, perrors.IsInvalid(err))
}

func TestSave_PersistsCanvasAndClearsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := canvas.TypeA

	_, err := f.ws.Edit(ctx, "s1", "p1", "brand_name", "e-tron")
	require.NoError(t, err)
	_, err = f.ws.SetType(ctx, "s1", "p1", &a)
	require.NoError(t, err)

	res, err := f.ws.Save(ctx, "s1", "p1", "u-1")
	require.NoError(t, err)

	require.Len(t, f.projects.saved, 1)
	body := f.projects.saved[0]
	assert.Equal(t, "e-tron", body["brand"])
	assert.Equal(t, "Audi", body["client"])
	assert.Equal(t, "A", body["project_type"])

	assert.False(t, res.View.Project.HasUnsavedChanges)
	assert.Equal(t, "e-tron", fieldOf(t, res, "brand_name").Value)
	assert.Equal(t, canvas.TypeA, res.View.Classification.CurrentType, "pin survives the save")
}

func TestDiscard_DropsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ws.Edit(ctx, "s1", "p1", "client_name", "Someone else")
	require.NoError(t, err)
	res, err := f.ws.Discard(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Audi", fieldOf(t, res, "client_name").Value)
	assert.False(t, res.View.Project.HasUnsavedChanges)
	assert.False(t, res.AgentAccepted)

	state, ok := f.agents.Read("s1")
	require.True(t, ok)
	assert.NotContains(t, state.ExtractedBrief, "client_name")
	assert.Equal(t, []string{"client_name"}, state.FieldUpdates)
}

func TestDiscard_KeepsAgentExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ws.View(ctx, "s1", "p1")
	require.NoError(t, err)
	f.agents.Write("s1", agentstate.Patch{ExtractedBrief: canvas.Brief{"brand_name": "Q6 e-tron"}})

	_, err = f.ws.Edit(ctx, "s1", "p1", "client_name", "Someone else")
	require.NoError(t, err)
	res, err := f.ws.Discard(ctx, "s1", "p1")
	require.NoError(t, err)

	assert.Equal(t, "Audi", fieldOf(t, res, "client_name").Value)
	assert.Equal(t, "Q6 e-tron", fieldOf(t, res, "brand_name").Value)
	assert.Equal(t, canvas.StatusAIFilled, fieldOf(t, res, "brand_name").Status)
}

func TestSave_LaterStoredChangesWin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ws.Edit(ctx, "s1", "p1", "brand_name", "mine")
	require.NoError(t, err)
	_, err = f.ws.Save(ctx, "s1", "p1", "u-1")
	require.NoError(t, err)

	state, ok := f.agents.Read("s1")
	require.True(t, ok)
	assert.NotContains(t, state.ExtractedBrief, "brand_name")

	f.hub.Publish(realtime.NewEvent(realtime.TypeUpdate, "p1", map[string]any{
		"client": "Audi",
		"brand":  "external",
	}))

	require.Eventually(t, func() bool {
		res, err := f.ws.View(ctx, "s1", "p1")
		return err == nil && fieldOf(t, res, "brand_name").Value == "external"
	}, time.Second, 10*time.Millisecond)
}

func TestRealtime_ReplacesStoredBriefAndKeepsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ws.Edit(ctx, "s1", "p1", "brand_name", "mine")
	require.NoError(t, err)

	f.hub.Publish(realtime.NewEvent(realtime.TypeUpdate, "p1", map[string]any{
		"client": "Audi Sport",
		"brand":  "theirs",
	}))

	require.Eventually(t, func() bool {
		res, err := f.ws.View(ctx, "s1", "p1")
		return err == nil && fieldOf(t, res, "client_name").Value == "Audi Sport"
	}, time.Second, 10*time.Millisecond)

	res, err := f.ws.View(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "mine", fieldOf(t, res, "brand_name").Value, "unsaved edit wins over the incoming brief")
	assert.Equal(t, canvas.StatusEmpty, fieldOf(t, res, "budget_amount").Status, "incoming brief replaces the snapshot wholesale")
}

func TestRealtime_CaseChangeReloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ws.View(ctx, "s1", "p1")
	require.NoError(t, err)

	f.projects.mu.Lock()
	f.projects.projects["p1"].CaseTitle = "Renamed"
	f.projects.mu.Unlock()
	f.hub.Publish(realtime.NewCaseEvent("p1", nil))

	require.Eventually(t, func() bool {
		res, err := f.ws.View(ctx, "s1", "p1")
		return err == nil && res.View.Project.CaseTitle == "Renamed"
	}, time.Second, 10*time.Millisecond)
}

func TestClose_Unsubscribes(t *testing.T) {
	f := newFixture(t)
	_, err := f.ws.View(context.Background(), "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.Subscribers("p1"))

	f.ws.Close()
	assert.Equal(t, 0, f.hub.Subscribers("p1"))
}
