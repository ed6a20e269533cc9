// Package integrations builds the integrations panel: the health of each
// connected service, a feed of integration events derived from case
// activity, the automation webhooks and the failures that can be retried.
package integrations

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/store"
)

// Service ids.
const (
	ServiceSlack     = "svc-slack"
	ServiceNextcloud = "svc-nextcloud"
	ServiceGDrive    = "svc-gdrive"
	ServiceDatabase  = "svc-supabase"
)

// Event types shown in the feed.
const (
	EventChannelCreated  = "channel_created"
	EventFolderCreated   = "folder_created"
	EventCaseCreated     = "case_created"
	EventBriefSynced     = "brief_synced"
	EventMessagePosted   = "message_posted"
	EventWebhookRetried  = "webhook_retried"
	EventWebhookFailed   = "webhook_failed"
	EventWebhookExecuted = "webhook_executed"
)

// Event, service and sync statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
	StatusPartial = "partial"

	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"

	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

const (
	loadLimit       = 200
	maxPending      = 10
	maxRetries      = 3
	unhealthyAfter  = 3
	percentDecimals = 10
)

type serviceDef struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Visible     bool
}

var serviceDefs = []serviceDef{
	{ID: ServiceSlack, Name: "Slack", Description: "Project channels and notifications", Icon: "slack", Visible: true},
	{ID: ServiceNextcloud, Name: "Nextcloud", Description: "Project folders and shared files", Icon: "cloud", Visible: true},
	{ID: ServiceGDrive, Name: "Google Drive", Description: "Backup and document storage", Icon: "hard-drive", Visible: true},
	{ID: ServiceDatabase, Name: "Supabase", Description: "Database and realtime sync", Icon: "database", Visible: false},
}

func serviceName(id string) string {
	for _, d := range serviceDefs {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}

// CurrentUser is the identity the panel is rendered for.
type CurrentUser struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	AvatarURL *string `json:"avatarUrl"`
}

// ServiceConnection is the state of one external service.
type ServiceConnection struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Icon           string         `json:"icon"`
	Status         string         `json:"status"`
	Health         string         `json:"health"`
	LastSyncAt     time.Time      `json:"lastSyncAt"`
	LastSyncStatus string         `json:"lastSyncStatus"`
	VisibleToUsers bool           `json:"visibleToUsers"`
	Stats          map[string]any `json:"stats"`
	Error          *string        `json:"error"`
}

// Event is one integration event derived from a case activity row.
type Event struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"serviceId"`
	ServiceName string    `json:"serviceName"`
	EventType   string    `json:"eventType"`
	Message     string    `json:"message"`
	ProjectID   *string   `json:"projectId"`
	ProjectName *string   `json:"projectName"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Details     *string   `json:"details"`
}

// WebhookConfig describes one automation webhook.
type WebhookConfig struct {
	ID              string    `json:"id"`
	ServiceID       string    `json:"serviceId"`
	Name            string    `json:"name"`
	WorkflowName    string    `json:"workflowName"`
	WebhookURL      string    `json:"webhookUrl"`
	Method          string    `json:"method"`
	Enabled         bool      `json:"enabled"`
	LastTriggered   time.Time `json:"lastTriggered"`
	SuccessRate     float64   `json:"successRate"`
	TotalExecutions int       `json:"totalExecutions"`
}

// PendingRetry is a failed event offered for retry.
type PendingRetry struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	ServiceID   string    `json:"serviceId"`
	ServiceName string    `json:"serviceName"`
	ProjectID   *string   `json:"projectId"`
	ProjectName *string   `json:"projectName"`
	Description string    `json:"description"`
	FailedAt    time.Time `json:"failedAt"`
	RetryCount  int       `json:"retryCount"`
	MaxRetries  int       `json:"maxRetries"`
	CanRetry    bool      `json:"canRetry"`
}

// Overview is the whole integrations panel.
type Overview struct {
	CurrentUser        CurrentUser         `json:"currentUser"`
	ServiceConnections []ServiceConnection `json:"serviceConnections"`
	IntegrationEvents  []Event             `json:"integrationEvents"`
	WebhookConfigs     []WebhookConfig     `json:"webhookConfigs"`
	PendingRetries     []PendingRetry      `json:"pendingRetries"`
}

// Repository is the stored data the panel is built from. *store.Store
// satisfies it.
type Repository interface {
	ListCases(ctx context.Context, f store.CaseFilter) ([]*store.Case, error)
	ListBriefs(ctx context.Context, caseIDs []string) (map[string]*store.Brief, error)
	ListActivity(ctx context.Context, f store.ActivityFilter) ([]*store.Activity, error)
	GetActivity(ctx context.Context, id string) (*store.Activity, error)
}

// Projects runs case actions. *projects.Service satisfies it.
type Projects interface {
	Latest(ctx context.Context) (*projects.Project, error)
	RunAction(ctx context.Context, id, action, userID string) (*projects.ActionResult, error)
}

// Webhooks calls automation endpoints. *n8n.Client satisfies it.
type Webhooks interface {
	Call(ctx context.Context, endpoint string, payload any) (*n8n.Response, error)
	URL(endpoint string) string
}

// Options tune the aggregator.
type Options struct {
	// UserRole is the role reported for the current user.
	UserRole string
	// HealthWindow is how many of a service's latest events count towards
	// its health.
	HealthWindow int
	User         n8n.User
	Now          func() time.Time
}

// Aggregator builds the panel and runs its actions.
type Aggregator struct {
	repo     Repository
	projects Projects
	webhooks Webhooks
	opts     Options
	logger   zerolog.Logger
}

// New creates an Aggregator.
func New(repo Repository, p Projects, w Webhooks, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.UserRole == "" {
		opts.UserRole = "admin"
	}
	if opts.HealthWindow < 1 {
		opts.HealthWindow = loadLimit
	}
	if opts.User.ID == "" {
		opts.User = n8n.User{Email: "user@tracksandfields.com", Name: "TF User", ID: "local-user"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		repo:     repo,
		projects: p,
		webhooks: w,
		opts:     opts,
		logger:   logger.With().Str("component", "integrations").Logger(),
	}
}

// Overview loads the latest cases and activity and derives the panel.
func (a *Aggregator) Overview(ctx context.Context) (*Overview, error) {
	cases, err := a.repo.ListCases(ctx, store.CaseFilter{Limit: loadLimit})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cases))
	byID := make(map[string]*store.Case, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	briefs, err := a.repo.ListBriefs(ctx, ids)
	if err != nil {
		return nil, err
	}
	activity, err := a.repo.ListActivity(ctx, store.ActivityFilter{Limit: loadLimit})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(activity))
	for _, act := range activity {
		events = append(events, buildEvent(act, byID[act.CaseID], briefs[act.CaseID]))
	}

	now := a.opts.Now()
	return &Overview{
		CurrentUser: CurrentUser{
			ID:    a.opts.User.ID,
			Name:  a.opts.User.Name,
			Email: a.opts.User.Email,
			Role:  a.opts.UserRole,
		},
		ServiceConnections: a.connections(cases, briefs, events, now),
		IntegrationEvents:  events,
		WebhookConfigs:     a.webhookConfigs(events, now),
		PendingRetries:     pendingRetries(events),
	}, nil
}

func buildEvent(act *store.Activity, c *store.Case, b *store.Brief) Event {
	svc := detectService(act.Type, act.Description)
	ev := Event{
		ID:          act.ID,
		ServiceID:   svc,
		ServiceName: serviceName(svc),
		EventType:   mapEventType(act.Type),
		Message:     act.Description,
		ProjectName: projectName(c, b),
		Timestamp:   act.CreatedAt,
		Status:      mapEventStatus(act.Type),
	}
	if ev.Message == "" {
		ev.Message = act.Type
	}
	if act.CaseID != "" {
		id := act.CaseID
		ev.ProjectID = &id
	}
	if reason, ok := act.Changes["error"].(string); ok && reason != "" {
		ev.Details = &reason
	}
	return ev
}

// detectService attributes an activity to a service from its type and
// description.
func detectService(activityType, description string) string {
	lower := strings.ToLower(activityType + " " + description)
	switch {
	case strings.Contains(lower, "slack"):
		return ServiceSlack
	case strings.Contains(lower, "nextcloud"):
		return ServiceNextcloud
	case strings.Contains(lower, "gdrive"), strings.Contains(lower, "google drive"):
		return ServiceGDrive
	default:
		return ServiceDatabase
	}
}

// mapEventType classifies an activity type. Order matters: a failed Slack
// message is still a message_posted event, with a failed status.
func mapEventType(activityType string) string {
	lower := strings.ToLower(activityType)
	switch {
	case strings.Contains(lower, "slack_channel_created"):
		return EventChannelCreated
	case strings.Contains(lower, "nextcloud_folder_created"):
		return EventFolderCreated
	case strings.Contains(lower, "project_created"):
		return EventCaseCreated
	case strings.Contains(lower, "brief_updated"), strings.Contains(lower, "brief_created"):
		return EventBriefSynced
	case strings.Contains(lower, "message"):
		return EventMessagePosted
	case strings.Contains(lower, "retry"):
		return EventWebhookRetried
	case strings.Contains(lower, "failed"), strings.Contains(lower, "error"):
		return EventWebhookFailed
	default:
		return EventWebhookExecuted
	}
}

func mapEventStatus(activityType string) string {
	lower := strings.ToLower(activityType)
	switch {
	case strings.Contains(lower, "failed"), strings.Contains(lower, "error"):
		return StatusFailed
	case strings.Contains(lower, "pending"):
		return StatusPending
	default:
		return StatusSuccess
	}
}

func mapSyncStatus(eventStatus string) string {
	switch eventStatus {
	case StatusSuccess:
		return StatusSuccess
	case StatusPending:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// projectName prefers the case title, then the brief's title and client,
// then the case identifiers.
func projectName(c *store.Case, b *store.Brief) *string {
	if c == nil {
		return nil
	}
	var fields map[string]any
	if b != nil {
		fields = b.Fields
	}
	candidates := []string{c.CaseTitle, str(fields["project_title"]), str(fields["client"]), c.CatchyCaseID, c.CaseNumber}
	for _, s := range candidates {
		if s != "" {
			return &s
		}
	}
	return nil
}

// successRate is the percentage of successful events to one decimal. No
// events counts as fully successful.
func successRate(events []Event) float64 {
	if len(events) == 0 {
		return 100
	}
	ok := 0
	for _, e := range events {
		if e.Status == StatusSuccess {
			ok++
		}
	}
	return math.Round(float64(ok)/float64(len(events))*100*percentDecimals) / percentDecimals
}

func byService(events []Event, id string) []Event {
	var out []Event
	for _, e := range events {
		if e.ServiceID == id {
			out = append(out, e)
		}
	}
	return out
}

func (a *Aggregator) connections(cases []*store.Case, briefs map[string]*store.Brief, events []Event, now time.Time) []ServiceConnection {
	var slackChannels, nextcloudFolders int
	for _, c := range cases {
		if c.SlackChannel != "" {
			slackChannels++
		}
		if c.NextcloudFolder != "" {
			nextcloudFolders++
		}
	}

	out := make([]ServiceConnection, 0, len(serviceDefs))
	for _, def := range serviceDefs {
		evs := byService(events, def.ID)
		window := evs
		if len(window) > a.opts.HealthWindow {
			window = window[:a.opts.HealthWindow]
		}
		failed := 0
		for _, e := range window {
			if e.Status == StatusFailed {
				failed++
			}
		}

		conn := ServiceConnection{
			ID:             def.ID,
			Name:           def.Name,
			Description:    def.Description,
			Icon:           def.Icon,
			Status:         StatusConnected,
			Health:         HealthHealthy,
			LastSyncAt:     now,
			LastSyncStatus: StatusSuccess,
			VisibleToUsers: def.Visible,
		}
		lastActivity := now
		if len(evs) > 0 {
			latest := evs[0]
			lastActivity = latest.Timestamp
			conn.LastSyncAt = latest.Timestamp
			conn.LastSyncStatus = mapSyncStatus(latest.Status)
			if latest.Status == StatusFailed {
				conn.Status = StatusError
				msg := latest.Message
				if latest.Details != nil {
					msg = *latest.Details
				}
				conn.Error = &msg
			}
		}
		switch {
		case failed >= unhealthyAfter:
			conn.Health = HealthUnhealthy
		case failed > 0:
			conn.Health = HealthDegraded
		}

		switch def.ID {
		case ServiceSlack:
			sent := 0
			for _, e := range evs {
				if e.EventType == EventMessagePosted && e.Status == StatusSuccess {
					sent++
				}
			}
			conn.Stats = map[string]any{"channelsCreated": slackChannels, "messagesSent": sent}
		case ServiceNextcloud:
			conn.Stats = map[string]any{"foldersCreated": nextcloudFolders, "filesUploaded": 0}
		case ServiceGDrive:
			conn.Status = StatusDisconnected
			conn.Health = HealthHealthy
			conn.Stats = map[string]any{"documentsUploaded": 0, "storageUsed": "0 MB"}
		default:
			conn.Stats = map[string]any{"casesStored": len(cases), "briefsStored": len(briefs), "activeUsers": 1}
		}
		conn.Stats["lastActivity"] = lastActivity
		out = append(out, conn)
	}
	return out
}

func (a *Aggregator) webhookConfigs(events []Event, now time.Time) []WebhookConfig {
	build := func(id, serviceID, name, workflow, endpoint string) WebhookConfig {
		evs := byService(events, serviceID)
		last := now
		if len(evs) > 0 {
			last = evs[0].Timestamp
		}
		return WebhookConfig{
			ID:              id,
			ServiceID:       serviceID,
			Name:            name,
			WorkflowName:    workflow,
			WebhookURL:      a.webhooks.URL(endpoint),
			Method:          "POST",
			Enabled:         true,
			LastTriggered:   last,
			SuccessRate:     successRate(evs),
			TotalExecutions: len(evs),
		}
	}
	return []WebhookConfig{
		build("wh-slack-intake", ServiceSlack, "Slack Channel Provisioning", "tf-brief-intake-v5", n8n.EndpointBriefIntake),
		build("wh-nextcloud-sync", ServiceNextcloud, "Nextcloud Project Sync", "project-builder-sync", n8n.EndpointSync),
	}
}

func pendingRetries(events []Event) []PendingRetry {
	out := make([]PendingRetry, 0, maxPending)
	for _, e := range events {
		if e.Status != StatusFailed {
			continue
		}
		out = append(out, PendingRetry{
			ID:          "retry-" + e.ID,
			EventID:     e.ID,
			ServiceID:   e.ServiceID,
			ServiceName: e.ServiceName,
			ProjectID:   e.ProjectID,
			ProjectName: e.ProjectName,
			Description: e.Message,
			FailedAt:    e.Timestamp,
			RetryCount:  0,
			MaxRetries:  maxRetries,
			CanRetry:    true,
		})
		if len(out) == maxPending {
			break
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
