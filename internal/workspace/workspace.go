// Package workspace holds the canvas editing sessions. A session keeps the
// user's unsaved field edits and pinned project type for one project; the
// stored brief it edits is kept fresh from the realtime hub.
package workspace

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/canvas"
	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/reconcile"
)

// Projects reads and stores projects. *projects.Service satisfies it.
type Projects interface {
	Get(ctx context.Context, id string) (*projects.Project, error)
	UpdateBrief(ctx context.Context, id string, body map[string]any, userID string) (map[string]any, error)
}

// Subscriber hands out per-project change feeds. *realtime.Hub satisfies it.
type Subscriber interface {
	Subscribe(projectID string) *realtime.Subscription
}

// session is one user's unsaved state for one project.
type session struct {
	overrides    map[string]any
	typeOverride *canvas.ProjectType
	typeDirty    bool
}

// snapshot is the stored state of a project shared by all its sessions.
// persisted is replaced, never mutated, so readers may keep it after
// releasing the lock.
type snapshot struct {
	persisted canvas.Brief
	meta      reconcile.Metadata
	stale     bool
	sub       *realtime.Subscription
}

// Workspace manages canvas sessions.
type Workspace struct {
	projects   Projects
	agents     agentstate.Store
	reconciler *reconcile.Reconciler
	hub        Subscriber
	logger     zerolog.Logger

	mu        sync.Mutex
	sessions  *lru.Cache[string, *session]
	snapshots *lru.Cache[string, *snapshot]
	closed    bool
	wg        sync.WaitGroup
}

// New creates a workspace keeping up to size sessions and size project
// snapshots. hub may be nil, in which case snapshots are only refreshed by
// saves made through this workspace.
func New(p Projects, agents agentstate.Store, r *reconcile.Reconciler, hub Subscriber, size int, logger zerolog.Logger) *Workspace {
	if size < 1 {
		size = 256
	}
	w := &Workspace{
		projects:   p,
		agents:     agents,
		reconciler: r,
		hub:        hub,
		logger:     logger.With().Str("component", "workspace").Logger(),
	}
	w.sessions, _ = lru.New[string, *session](size)
	w.snapshots, _ = lru.NewWithEvict[string, *snapshot](size, func(projectID string, s *snapshot) {
		if s.sub != nil {
			s.sub.Close()
		}
	})
	return w
}

// Close stops following realtime changes and waits for the consumers to
// exit.
func (w *Workspace) Close() {
	w.mu.Lock()
	w.closed = true
	w.snapshots.Purge()
	w.mu.Unlock()
	w.wg.Wait()
}

// View reconciles the canvas of projectID as sessionID sees it. Opening a
// project binds the session's agent state to it.
func (w *Workspace) View(ctx context.Context, sessionID, projectID string) (reconcile.Result, error) {
	persisted, meta, err := w.snapshot(ctx, projectID)
	if err != nil {
		return reconcile.Result{}, err
	}
	agent := w.agents.Bind(sessionID, projectID)

	w.mu.Lock()
	s := w.session(sessionID, projectID)
	overrides := make(map[string]any, len(s.overrides))
	for k, v := range s.overrides {
		overrides[k] = v
	}
	typeOverride := s.typeOverride
	dirty := s.typeDirty
	w.mu.Unlock()

	return w.reconciler.Reconcile(reconcile.Input{
		ProjectID:    projectID,
		Persisted:    persisted,
		Agent:        &agent,
		Overrides:    overrides,
		TypeOverride: typeOverride,
		Metadata:     meta,
		Dirty:        dirty,
	}), nil
}

// Edit records a local edit of fieldID and mirrors it into the agent's
// extracted brief so the agent sees what the user typed.
func (w *Workspace) Edit(ctx context.Context, sessionID, projectID, fieldID string, value any) (reconcile.Result, error) {
	if _, _, ok := canvas.Locate(fieldID); !ok {
		return reconcile.Result{}, perrors.Invalid("unknown field %q", fieldID)
	}
	if _, _, err := w.snapshot(ctx, projectID); err != nil {
		return reconcile.Result{}, err
	}
	if value == nil {
		value = ""
	}

	w.mu.Lock()
	w.session(sessionID, projectID).overrides[fieldID] = value
	w.mu.Unlock()

	w.agents.Bind(sessionID, projectID)
	w.agents.Write(sessionID, agentstate.Patch{
		ExtractedBrief: canvas.Brief{fieldID: value},
		FieldUpdates:   []string{fieldID},
	})
	w.logger.Debug().Str("session", sessionID).Str("project", projectID).Str("field", fieldID).Msg("field edited")

	return w.View(ctx, sessionID, projectID)
}

// SetType pins the project type, or unpins it when t is nil.
func (w *Workspace) SetType(ctx context.Context, sessionID, projectID string, t *canvas.ProjectType) (reconcile.Result, error) {
	if t != nil {
		if _, ok := canvas.ParseProjectType(string(*t)); !ok {
			return reconcile.Result{}, perrors.Invalid("unknown project type %q", *t)
		}
		pinned := *t
		t = &pinned
	}
	if _, _, err := w.snapshot(ctx, projectID); err != nil {
		return reconcile.Result{}, err
	}

	w.mu.Lock()
	s := w.session(sessionID, projectID)
	s.typeOverride = t
	s.typeDirty = true
	w.mu.Unlock()

	return w.View(ctx, sessionID, projectID)
}

// Discard drops the session's unsaved edits and type pin, together with
// their copies in the agent's extracted brief.
func (w *Workspace) Discard(ctx context.Context, sessionID, projectID string) (reconcile.Result, error) {
	key := sessionKey(sessionID, projectID)
	var edited []string
	w.mu.Lock()
	if s, ok := w.sessions.Peek(key); ok {
		edited = overrideKeys(s)
	}
	w.sessions.Remove(key)
	w.mu.Unlock()

	w.forgetAgentEdits(sessionID, projectID, edited)
	return w.View(ctx, sessionID, projectID)
}

// Save stores the current canvas as the project's brief, together with the
// pinned type, and clears the session's edits. The pin itself is kept.
func (w *Workspace) Save(ctx context.Context, sessionID, projectID, userID string) (reconcile.Result, error) {
	cur, err := w.View(ctx, sessionID, projectID)
	if err != nil {
		return reconcile.Result{}, err
	}

	body := canvas.RecordPatchFromBrief(canvas.BriefFromFields(cur.View.Fields))
	w.mu.Lock()
	typeOverride := w.session(sessionID, projectID).typeOverride
	w.mu.Unlock()
	if typeOverride != nil {
		body["project_type"] = string(*typeOverride)
	}

	record, err := w.projects.UpdateBrief(ctx, projectID, body, userID)
	if err != nil {
		return reconcile.Result{}, err
	}

	w.mu.Lock()
	s := w.session(sessionID, projectID)
	saved := overrideKeys(s)
	s.overrides = make(map[string]any)
	s.typeDirty = false
	if snap, ok := w.snapshots.Peek(projectID); ok {
		snap.persisted = canvas.BriefFromRecord(record, snap.meta.Title)
		snap.stale = true
	}
	w.mu.Unlock()

	// The stored brief now holds the edits; later changes to it must not be
	// shadowed by the agent's copies.
	w.forgetAgentEdits(sessionID, projectID, saved)

	w.logger.Info().Str("session", sessionID).Str("project", projectID).Int("columns", len(body)).Msg("canvas saved")
	return w.View(ctx, sessionID, projectID)
}

// forgetAgentEdits removes the written-back values of fields from the
// session's agent state, as long as that state still belongs to projectID.
func (w *Workspace) forgetAgentEdits(sessionID, projectID string, fields []string) {
	if len(fields) == 0 {
		return
	}
	state, ok := w.agents.Read(sessionID)
	if !ok || !agentstate.BelongsTo(&state, projectID) {
		return
	}
	drop := make(canvas.Brief, len(fields))
	for _, id := range fields {
		drop[id] = nil
	}
	w.agents.Write(sessionID, agentstate.Patch{ExtractedBrief: drop})
}

func overrideKeys(s *session) []string {
	keys := make([]string, 0, len(s.overrides))
	for k := range s.overrides {
		keys = append(keys, k)
	}
	return keys
}

// session returns the session for the pair, creating it. Callers hold w.mu.
func (w *Workspace) session(sessionID, projectID string) *session {
	key := sessionKey(sessionID, projectID)
	if s, ok := w.sessions.Get(key); ok {
		return s
	}
	s := &session{overrides: make(map[string]any)}
	w.sessions.Add(key, s)
	return s
}

func sessionKey(sessionID, projectID string) string {
	return sessionID + "\x00" + projectID
}

// snapshot returns the stored brief and case metadata of projectID, loading
// them on first use and following the project's realtime feed afterwards.
func (w *Workspace) snapshot(ctx context.Context, projectID string) (canvas.Brief, reconcile.Metadata, error) {
	w.mu.Lock()
	snap, ok := w.snapshots.Get(projectID)
	if ok && !snap.stale {
		defer w.mu.Unlock()
		return snap.persisted, snap.meta, nil
	}
	subscribe := !ok && w.hub != nil && !w.closed
	w.mu.Unlock()

	// Subscribe before loading so no change between the two is lost.
	var sub *realtime.Subscription
	if subscribe {
		sub = w.hub.Subscribe(projectID)
	}
	p, err := w.projects.Get(ctx, projectID)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		return nil, reconcile.Metadata{}, err
	}
	persisted := canvas.BriefFromRecord(p.Brief, p.CaseTitle)
	meta := metadataOf(p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.snapshots.Peek(projectID); ok {
		if sub != nil {
			sub.Close()
		}
		existing.persisted = persisted
		existing.meta = meta
		existing.stale = false
		return existing.persisted, existing.meta, nil
	}
	if sub != nil && w.closed {
		sub.Close()
		sub = nil
	}
	snap = &snapshot{persisted: persisted, meta: meta, sub: sub}
	w.snapshots.Add(projectID, snap)
	if sub != nil {
		w.wg.Add(1)
		go w.follow(projectID, sub)
	}
	return snap.persisted, snap.meta, nil
}

// follow applies realtime changes to the project's snapshot until the
// subscription closes. A brief change replaces the stored brief wholesale;
// unsaved edits stay in the sessions untouched.
func (w *Workspace) follow(projectID string, sub *realtime.Subscription) {
	defer w.wg.Done()
	var dropped uint64
	for ev := range sub.C {
		w.mu.Lock()
		snap, ok := w.snapshots.Peek(projectID)
		if !ok || snap.sub != sub {
			w.mu.Unlock()
			continue
		}
		switch ev.Table {
		case realtime.TableBriefs:
			snap.persisted = canvas.BriefFromRecord(ev.Record, snap.meta.Title)
		case realtime.TableCases:
			snap.stale = true
		}
		if n := sub.Dropped(); n != dropped {
			dropped = n
			snap.stale = true
		}
		w.mu.Unlock()
		w.logger.Debug().Str("project", projectID).Str("table", ev.Table).Str("type", ev.Type).Msg("snapshot updated")
	}
}

func metadataOf(p *projects.Project) reconcile.Metadata {
	return reconcile.Metadata{
		Title:           p.CaseTitle,
		CaseNumber:      p.CaseNumber,
		CaseID:          deref(p.CatchyCaseID),
		Status:          p.Status,
		SlackChannel:    deref(p.SlackChannel),
		NextcloudFolder: deref(p.NextcloudFolder),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
