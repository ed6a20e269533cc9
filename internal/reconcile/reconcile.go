// Package reconcile derives the canvas view of a project from its stored
// brief, the agent session state and the user's unsaved edits.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/canvas"
	"github.com/p-blackswan/project-builder/internal/dates"
)

// Metadata is the stored case row the canvas header is built from.
type Metadata struct {
	Title           string    `json:"title"`
	CaseNumber      string    `json:"case_number"`
	CaseID          string    `json:"case_id"`
	Status          string    `json:"status"`
	SlackChannel    string    `json:"slack_channel"`
	NextcloudFolder string    `json:"nextcloud_folder"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Input is everything one reconciliation reads.
type Input struct {
	ProjectID    string
	Persisted    canvas.Brief
	Agent        *agentstate.State
	Overrides    map[string]any
	TypeOverride *canvas.ProjectType
	Metadata     Metadata
	// Dirty marks unsaved changes that are not field overrides (a pinned type).
	Dirty bool
}

// ViewModel is the rendered canvas. It may be shared between callers and
// must be treated as read-only.
type ViewModel struct {
	Project           canvas.Project                 `json:"project"`
	Fields            canvas.Fields                  `json:"fields"`
	Tabs              []canvas.Tab                   `json:"tabs"`
	Completeness      canvas.Breakdown               `json:"completenessBreakdown"`
	Classification    canvas.ClassificationReasoning `json:"classificationReasoning"`
	Margin            canvas.Margin                  `json:"marginCalculation"`
	IntegrationStatus canvas.IntegrationStatus       `json:"integrationStatus"`
	TeamMembers       []canvas.TeamMember            `json:"teamMembers"`
}

// Result is a reconciliation outcome.
type Result struct {
	View *ViewModel
	// AgentAccepted is false when agent state was absent, empty or bound to
	// another project.
	AgentAccepted bool
	Cached        bool
}

// Observer is notified of memo hits and misses.
type Observer interface {
	ReconcileHit()
	ReconcileMiss()
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used to resolve relative dates.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithObserver reports memo hits and misses.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = l.With().Str("component", "reconcile").Logger() }
}

// Reconciler memoizes view models on a digest of their inputs' content, so
// equal inputs held in fresh objects still hit.
type Reconciler struct {
	cache    *lru.Cache[string, *ViewModel]
	now      func() time.Time
	observer Observer
	logger   zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Reconciler caching up to size view models.
func New(size int, opts ...Option) *Reconciler {
	if size < 1 {
		size = 256
	}
	cache, _ := lru.New[string, *ViewModel](size)
	r := &Reconciler{
		cache:  cache,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stats returns memo hit and miss counts.
func (r *Reconciler) Stats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}

// Reconcile derives the view model for in. It never fails: missing sources
// fall back to the default template.
func (r *Reconciler) Reconcile(in Input) Result {
	now := r.now()
	belongs := agentstate.BelongsTo(in.Agent, in.ProjectID)
	accepted := belongs
	var agentBrief canvas.Brief
	if accepted {
		agentBrief = in.Agent.ExtractedBrief.Compact()
		if len(agentBrief) == 0 {
			accepted = false
			agentBrief = nil
		}
	}
	if in.Agent != nil && !belongs {
		r.logger.Debug().
			Str("project", in.ProjectID).
			Str("agent_project", in.Agent.CurrentProjectID).
			Msg("ignoring agent state of another project")
	}

	key := digest(in, agentBrief, now)
	if v, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		if r.observer != nil {
			r.observer.ReconcileHit()
		}
		return Result{View: v, AgentAccepted: accepted, Cached: true}
	}
	r.misses.Add(1)
	if r.observer != nil {
		r.observer.ReconcileMiss()
	}

	v := derive(in, agentBrief, now)
	r.cache.Add(key, v)
	return Result{View: v, AgentAccepted: accepted}
}

// Purge drops every memoized view.
func (r *Reconciler) Purge() {
	r.cache.Purge()
}

func derive(in Input, agentBrief canvas.Brief, now time.Time) *ViewModel {
	effective := in.Persisted.Compact()
	for k, v := range agentBrief {
		effective[k] = v
	}
	normalizeDates(effective, now)

	fields := canvas.ApplyBrief(canvas.Template(), effective, canvas.StatusAIFilled)
	for _, id := range sortedKeys(in.Overrides) {
		fields = canvas.UpdateField(fields, id, in.Overrides[id])
	}

	breakdown := canvas.Completeness(fields)
	class := canvas.ClassifyFields(fields, in.TypeOverride)

	project := canvas.Project{
		ID:                in.ProjectID,
		CaseID:            firstNonEmpty(effective.String("case_id"), in.Metadata.CaseID),
		CaseNumber:        firstNonEmpty(effective.String("case_number"), in.Metadata.CaseNumber, "DRAFT"),
		CaseTitle:         firstNonEmpty(stringValue(canvas.FieldValue(fields, "project_title")), in.Metadata.Title),
		ProjectType:       class.Effective(),
		Status:            firstNonEmpty(in.Metadata.Status, "draft"),
		Completeness:      breakdown.Score,
		HasUnsavedChanges: len(in.Overrides) > 0 || in.Dirty,
		CreatedAt:         in.Metadata.CreatedAt,
		UpdatedAt:         in.Metadata.UpdatedAt,
	}
	client := firstNonEmpty(stringValue(canvas.FieldValue(fields, "client_name")), "New")
	if project.CaseTitle == "" {
		project.CaseTitle = client + " Project"
	}
	if project.CaseID == "" {
		project.CaseID = defaultCaseID(client, in.ProjectID)
	}
	if in.TypeOverride != nil && class.Reasoning.IsOverridden {
		pt := *in.TypeOverride
		project.ProjectTypeOverride = &pt
	}

	return &ViewModel{
		Project:           project,
		Fields:            fields,
		Tabs:              canvas.TabSummaries(breakdown),
		Completeness:      breakdown,
		Classification:    class.Reasoning,
		Margin:            class.Margin,
		IntegrationStatus: canvas.NewIntegrationStatus(in.Metadata.SlackChannel, in.Metadata.NextcloudFolder),
		TeamMembers:       canvas.DefaultTeamMembers(),
	}
}

// normalizeDates rewrites parseable date values to YYYY-MM-DD. Unparseable
// values are kept as written.
func normalizeDates(b canvas.Brief, now time.Time) {
	for _, id := range canvas.DateFieldIDs() {
		s, ok := b[id].(string)
		if !ok {
			continue
		}
		if iso, ok := dates.NormalizeString(s, now); ok {
			b[id] = iso
		}
	}
}

type digestInput struct {
	ProjectID    string              `json:"p"`
	Persisted    canvas.Brief        `json:"b"`
	Agent        canvas.Brief        `json:"a"`
	Overrides    map[string]any      `json:"o"`
	TypeOverride *canvas.ProjectType `json:"t"`
	Metadata     Metadata            `json:"m"`
	Dirty        bool                `json:"d"`
	Day          string              `json:"day"`
}

// digest hashes the canonical JSON of the inputs. encoding/json sorts map
// keys, so equal content yields equal keys regardless of identity. Agent
// state of another project is excluded, it cannot affect the result.
func digest(in Input, agentBrief canvas.Brief, now time.Time) string {
	raw, err := json.Marshal(digestInput{
		ProjectID:    in.ProjectID,
		Persisted:    in.Persisted.Compact(),
		Agent:        agentBrief,
		Overrides:    in.Overrides,
		TypeOverride: in.TypeOverride,
		Metadata:     in.Metadata,
		Dirty:        in.Dirty,
		Day:          dates.Normalize(now),
	})
	if err != nil {
		// unencodable values never match a previous key
		raw = []byte(time.Now().String())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

var nonSlug = regexp.MustCompile(`\s+`)

func defaultCaseID(client, projectID string) string {
	id := projectID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "draft"
	}
	return nonSlug.ReplaceAllString(client, "-") + "-" + id
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
