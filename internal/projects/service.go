// Package projects owns the case and brief lifecycle: creation, listing, brief
// updates from the canvas and the automation actions run against a case.
package projects

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/canvas"
	"github.com/p-blackswan/project-builder/internal/dates"
	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/slack"
	"github.com/p-blackswan/project-builder/internal/store"
)

// Activity sources.
const (
	SourceUI          = "ui"
	SourceAutomation  = "automation"
	SourceIntegration = "integrations"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// excerptKeys are the brief columns a project listing carries.
var excerptKeys = []string{
	"client", "agency", "brand", "project_title", "completion_rate",
	"extraction_status", "budget_min", "submission_deadline",
}

// Repository is the persistence the service needs. *store.Store satisfies it.
type Repository interface {
	CreateCase(ctx context.Context, c *store.Case) error
	GetCase(ctx context.Context, id string) (*store.Case, error)
	LatestCase(ctx context.Context) (*store.Case, error)
	ListCases(ctx context.Context, f store.CaseFilter) ([]*store.Case, error)
	UpdateCase(ctx context.Context, id string, u store.CaseUpdate) error
	DeleteCase(ctx context.Context, id string) error

	CreateBrief(ctx context.Context, caseID string, fields map[string]any) (*store.Brief, error)
	GetBrief(ctx context.Context, caseID string) (*store.Brief, error)
	UpdateBrief(ctx context.Context, caseID string, patch map[string]any) (*store.Brief, error)
	ListBriefs(ctx context.Context, caseIDs []string) (map[string]*store.Brief, error)

	LogActivity(ctx context.Context, a *store.Activity) error
}

// Automations triggers the n8n workflows. *n8n.Client satisfies it.
type Automations interface {
	TriggerBriefIntake(ctx context.Context, payload any) (*n8n.Response, error)
	TriggerSync(ctx context.Context, payload any) (*n8n.Response, error)
}

// Notifier posts project notices to Slack. *slack.Notifier satisfies it.
type Notifier interface {
	NotifyBriefSync(ctx context.Context, channel string, s slack.BriefSummary) error
	NotifyIntegrationsReady(ctx context.Context, channel, caseNumber, title, folder string) error
}

// Publisher fans out stored changes. *realtime.Hub satisfies it.
type Publisher interface {
	Publish(ev realtime.Event) int
}

// Metrics counts action outcomes. *metrics.Metrics satisfies it.
type Metrics interface {
	RecordAction(action string, ok bool)
}

// Project is a case with its brief as the API returns it.
type Project struct {
	ID              string         `json:"id"`
	CaseNumber      string         `json:"case_number"`
	CaseTitle       string         `json:"case_title"`
	CatchyCaseID    *string        `json:"catchy_case_id"`
	ProjectType     *string        `json:"project_type"`
	Status          string         `json:"status"`
	SlackChannel    *string        `json:"slack_channel"`
	NextcloudFolder *string        `json:"nextcloud_folder"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Brief           map[string]any `json:"brief"`
}

// CreateRequest is the input of Create. Every field is optional.
type CreateRequest struct {
	ProjectTitle string `json:"project_title" validate:"omitempty,max=200"`
	ProjectType  string `json:"project_type" validate:"omitempty,oneof=A B C D E Production"`
	CatchyCaseID string `json:"catchy_case_id" validate:"omitempty,max=100"`
	UserID       string `json:"user_id" validate:"omitempty,max=100"`
}

// ListFilter narrows List.
type ListFilter struct {
	Status string
	Limit  int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for case numbers and date parsing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier enables Slack notices after successful actions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher sets where stored changes are announced.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the action counters.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithUser sets the identity sent to automations.
func WithUser(u n8n.User) Option {
	return func(s *Service) { s.user = u }
}

// Service implements the project operations.
type Service struct {
	repo        Repository
	automations Automations
	notifier    Notifier
	publisher   Publisher
	metrics     Metrics
	user        n8n.User
	logger      zerolog.Logger
	now         func() time.Time

	// lastNumber is the unix ms behind the last issued case number.
	numMu      sync.Mutex
	lastNumber int64
}

// NewService creates a project service.
func NewService(repo Repository, automations Automations, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		automations: automations,
		logger:      logger.With().Str("component", "projects").Logger(),
		now:         time.Now,
		user:        n8n.User{Email: "user@tracksandfields.com", Name: "TF User", ID: "local-user", Role: "admin"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// User returns the identity sent to automations.
func (s *Service) User() n8n.User {
	return s.user
}

// nextCaseNumber returns TF- plus the base36 unix ms. Numbers issued within
// the same millisecond are pushed forward so they stay unique.
func (s *Service) nextCaseNumber() string {
	s.numMu.Lock()
	defer s.numMu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastNumber {
		ms = s.lastNumber + 1
	}
	s.lastNumber = ms
	return "TF-" + strings.ToUpper(strconv.FormatInt(ms, 36))
}

// Create opens a draft case with an empty brief awaiting extraction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Project, error) {
	if req.ProjectType != "" {
		if _, ok := canvas.ParseProjectType(req.ProjectType); !ok {
			return nil, perrors.Invalid("unknown project type %q", req.ProjectType)
		}
	}

	c := &store.Case{
		ID:           uuid.NewString(),
		CaseNumber:   s.nextCaseNumber(),
		CaseTitle:    strings.TrimSpace(req.ProjectTitle),
		ProjectType:  req.ProjectType,
		CatchyCaseID: req.CatchyCaseID,
	}
	if err := s.repo.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	fields := map[string]any{"extraction_status": "pending"}
	if c.CaseTitle != "" {
		fields["project_title"] = c.CaseTitle
	}
	brief, err := s.repo.CreateBrief(ctx, c.ID, fields)
	if err != nil {
		if delErr := s.repo.DeleteCase(ctx, c.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("case", c.ID).Msg("failed to roll back case after brief error")
		}
		return nil, fmt.Errorf("failed to create brief: %w", err)
	}

	s.logActivity(ctx, &store.Activity{
		CaseID:      c.ID,
		Type:        "project_created",
		Description: fmt.Sprintf("Project %s created", c.CaseNumber),
		UserID:      req.UserID,
		Source:      SourceUI,
	})
	s.publish(realtime.NewEvent(realtime.TypeInsert, c.ID, briefRecord(brief)))

	s.logger.Info().Str("case", c.ID).Str("number", c.CaseNumber).Msg("project created")
	return newProject(c, briefRecord(brief)), nil
}

// List returns cases, newest first, each with an excerpt of its brief.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Project, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	cases, err := s.repo.ListCases(ctx, store.CaseFilter{Status: f.Status, Limit: limit, ByCreated: true})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	briefs, err := s.repo.ListBriefs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*Project, 0, len(cases))
	for _, c := range cases {
		var excerpt map[string]any
		if b, ok := briefs[c.ID]; ok {
			excerpt = make(map[string]any, len(excerptKeys))
			for _, k := range excerptKeys {
				excerpt[k] = b.Fields[k]
			}
		}
		out = append(out, newProject(c, excerpt))
	}
	return out, nil
}

// Get returns a case with its full brief. Brief is nil when none is stored.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.GetBrief(ctx, id)
	if err != nil && !perrors.IsNotFound(err) {
		return nil, err
	}
	return newProject(c, briefRecord(b)), nil
}

// Latest returns the most recently updated case.
func (s *Service) Latest(ctx context.Context) (*Project, error) {
	c, err := s.repo.LatestCase(ctx)
	if err != nil {
		return nil, err
	}
	return newProject(c, nil), nil
}

// UpdateBrief stores a brief update from the canvas. body may use stored
// column names or canvas field ids. Date columns are normalized and dropped
// when they do not parse. project_type and project_title also update the
// case row. A missing brief is created.
func (s *Service) UpdateBrief(ctx context.Context, id string, body map[string]any, userID string) (map[string]any, error) {
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID, _ = body["user_id"].(string)
	}

	var caseUpdate store.CaseUpdate
	if raw, ok := body["project_type"].(string); ok && raw != "" {
		t, ok := canvas.ParseProjectType(raw)
		if !ok {
			return nil, perrors.Invalid("unknown project type %q", raw)
		}
		typ := string(t)
		caseUpdate.ProjectType = &typ
	}

	patch := canvas.NormalizeRecordPatch(body)
	s.normalizeDates(id, patch)
	if title, ok := patch["project_title"].(string); ok && strings.TrimSpace(title) != "" {
		title = strings.TrimSpace(title)
		caseUpdate.CaseTitle = &title
	}

	evType := realtime.TypeUpdate
	b, err := s.repo.UpdateBrief(ctx, id, patch)
	switch {
	case perrors.IsNotFound(err):
		b, err = s.repo.CreateBrief(ctx, id, patch)
		if err != nil {
			return nil, fmt.Errorf("failed to create brief: %w", err)
		}
		evType = realtime.TypeInsert
		s.logActivity(ctx, &store.Activity{
			CaseID:      id,
			Type:        "brief_created",
			Description: "Brief created",
			UserID:      userID,
			Source:      SourceUI,
			Changes:     patch,
		})
	case err != nil:
		return nil, fmt.Errorf("failed to update brief: %w", err)
	default:
		s.logActivity(ctx, &store.Activity{
			CaseID:      id,
			Type:        "brief_updated",
			Description: "Brief updated from canvas",
			UserID:      userID,
			Source:      SourceUI,
			Changes:     patch,
		})
	}

	if err := s.repo.UpdateCase(ctx, id, caseUpdate); err != nil {
		s.logger.Warn().Err(err).Str("case", id).Msg("brief stored but case update failed")
	} else if caseUpdate.CaseTitle != nil || caseUpdate.ProjectType != nil {
		s.publishCase(ctx, c.ID)
	}

	record := briefRecord(b)
	s.publish(realtime.NewEvent(evType, id, record))
	s.logger.Debug().Str("case", id).Int("columns", len(patch)).Msg("brief saved")
	return record, nil
}

// normalizeDates rewrites date columns of patch to YYYY-MM-DD. Empty values
// clear the column; values that do not parse are dropped.
func (s *Service) normalizeDates(id string, patch map[string]any) {
	now := s.now()
	for _, key := range canvas.RecordDateKeys() {
		v, ok := patch[key]
		if !ok {
			continue
		}
		str, isString := v.(string)
		if isString && strings.TrimSpace(str) == "" {
			patch[key] = ""
			continue
		}
		if isString {
			if norm, ok := dates.NormalizeString(str, now); ok {
				patch[key] = norm
				continue
			}
		}
		s.logger.Warn().Str("case", id).Str("column", key).Interface("value", v).Msg("dropping unparseable date")
		delete(patch, key)
	}
}

func (s *Service) publishCase(ctx context.Context, id string) {
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("case", id).Msg("failed to reload case for event")
		return
	}
	s.publish(realtime.NewCaseEvent(id, caseRecord(c)))
}

func (s *Service) publish(ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ev)
}

// logActivity records an activity row, even when the caller has gone away.
// A failure to record is logged and never fails the operation it describes.
func (s *Service) logActivity(ctx context.Context, a *store.Activity) {
	if a.UserID == "" {
		a.UserID = s.user.ID
	}
	if err := s.repo.LogActivity(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Error().Err(err).Str("case", a.CaseID).Str("type", a.Type).Msg("failed to log activity")
	}
}

func newProject(c *store.Case, brief map[string]any) *Project {
	return &Project{
		ID:              c.ID,
		CaseNumber:      c.CaseNumber,
		CaseTitle:       c.CaseTitle,
		CatchyCaseID:    optional(c.CatchyCaseID),
		ProjectType:     optional(c.ProjectType),
		Status:          c.Status,
		SlackChannel:    optional(c.SlackChannel),
		NextcloudFolder: optional(c.NextcloudFolder),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Brief:           brief,
	}
}

// briefRecord flattens a stored brief into the row shape clients and
// realtime subscribers see.
func briefRecord(b *store.Brief) map[string]any {
	if b == nil {
		return nil
	}
	out := make(map[string]any, len(b.Fields)+4)
	for k, v := range b.Fields {
		out[k] = v
	}
	out["id"] = b.ID
	out["case_id"] = b.CaseID
	out["created_at"] = b.CreatedAt
	out["updated_at"] = b.UpdatedAt
	return out
}

func caseRecord(c *store.Case) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"case_number":      c.CaseNumber,
		"case_title":       c.CaseTitle,
		"catchy_case_id":   c.CatchyCaseID,
		"project_type":     c.ProjectType,
		"status":           c.Status,
		"slack_channel":    c.SlackChannel,
		"nextcloud_folder": c.NextcloudFolder,
		"updated_at":       c.UpdatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
