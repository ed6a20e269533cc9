package integrations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/store"
)

var fixedNow = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

type fakeAutomations struct {
	calls []n8n.ActionPayload
}

func (f *fakeAutomations) record(p any) (*n8n.Response, error) {
	f.calls = append(f.calls, p.(n8n.ActionPayload))
	return &n8n.Response{Success: true, SlackChannel: "#tf-x", NextcloudFolder: "/x", Attempts: 1}, nil
}

func (f *fakeAutomations) TriggerBriefIntake(_ context.Context, p any) (*n8n.Response, error) {
	return f.record(p)
}

func (f *fakeAutomations) TriggerSync(_ context.Context, p any) (*n8n.Response, error) {
	return f.record(p)
}

type fakeWebhooks struct {
	endpoints []string
	payloads  []any
	err       error
}

func (f *fakeWebhooks) Call(_ context.Context, endpoint string, payload any) (*n8n.Response, error) {
	f.endpoints = append(f.endpoints, endpoint)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return &n8n.Response{Error: "Webhook failed with status 503: down"}, f.err
	}
	return &n8n.Response{Success: true}, nil
}

func (f *fakeWebhooks) URL(endpoint string) string {
	return "https://n8n.test" + endpoint
}

type env struct {
	agg      *Aggregator
	store    *store.Store
	projects *projects.Service
	auto     *fakeAutomations
	hooks    *fakeWebhooks
}

func newEnv(t *testing.T, window int) *env {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "builder.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{store: st, auto: &fakeAutomations{}, hooks: &fakeWebhooks{}}
	e.projects = projects.NewService(st, e.auto, zerolog.Nop())
	e.agg = New(st, e.projects, e.hooks, Options{
		UserRole:     "coordinator",
		HealthWindow: window,
		Now:          func() time.Time { return fixedNow },
	}, zerolog.Nop())
	return e
}

func (e *env) logActivity(t *testing.T, caseID, typ, desc string, changes map[string]any) *store.Activity {
	t.Helper()
	a := &store.Activity{CaseID: caseID, Type: typ, Description: desc, Changes: changes}
	require.NoError(t, e.store.LogActivity(context.Background(), a))
	return a
}

func TestMappings(t *testing.T) {
	tests := []struct {
		typ, desc         string
		service, evType   string
		status, syncState string
	}{
		{"slack_channel_created", "Slack channel #tf-a created", ServiceSlack, EventChannelCreated, StatusSuccess, StatusSuccess},
		{"nextcloud_folder_created", "", ServiceNextcloud, EventFolderCreated, StatusSuccess, StatusSuccess},
		{"project_created", "Project TF-1 created", ServiceDatabase, EventCaseCreated, StatusSuccess, StatusSuccess},
		{"brief_updated", "Brief updated from canvas", ServiceDatabase, EventBriefSynced, StatusSuccess, StatusSuccess},
		{"slack_message_failed", "", ServiceSlack, EventMessagePosted, StatusFailed, StatusFailed},
		{"webhook_retry", "Google Drive upload", ServiceGDrive, EventWebhookRetried, StatusSuccess, StatusSuccess},
		{"nextcloud_sync_failed", "", ServiceNextcloud, EventWebhookFailed, StatusFailed, StatusFailed},
		{"upload_pending", "gdrive backup", ServiceGDrive, EventWebhookExecuted, StatusPending, StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.service, detectService(tt.typ, tt.desc))
			assert.Equal(t, tt.evType, mapEventType(tt.typ))
			assert.Equal(t, tt.status, mapEventStatus(tt.typ))
			assert.Equal(t, tt.syncState, mapSyncStatus(tt.status))
		})
	}
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 100.0, successRate(nil))
	evs := []Event{{Status: StatusSuccess}, {Status: StatusFailed}, {Status: StatusSuccess}}
	assert.Equal(t, 66.7, successRate(evs))
}

func TestOverview(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	p, err := e.projects.Create(ctx, projects.CreateRequest{})
	require.NoError(t, err)
	_, err = e.projects.UpdateBrief(ctx, p.ID, map[string]any{"client": "BMW"}, "")
	require.NoError(t, err)
	channel := "#tf-bmw"
	require.NoError(t, e.store.UpdateCase(ctx, p.ID, store.CaseUpdate{SlackChannel: &channel}))

	e.logActivity(t, p.ID, "slack_channel_created", "Slack channel #tf-bmw created", nil)
	e.logActivity(t, p.ID, "slack_message_posted", "Slack message posted to #tf-bmw", nil)
	for i := 0; i < 3; i++ {
		e.logActivity(t, p.ID, "nextcloud_sync_failed", "Brief sync to Nextcloud failed",
			map[string]any{"error": "Webhook failed with status 500: boom"})
	}

	ov, err := e.agg.Overview(ctx)
	require.NoError(t, err)

	assert.Equal(t, "coordinator", ov.CurrentUser.Role)
	assert.Equal(t, "local-user", ov.CurrentUser.ID)
	assert.Nil(t, ov.CurrentUser.AvatarURL)

	// project_created + brief_updated + 5 seeded rows
	require.Len(t, ov.IntegrationEvents, 7)
	latest := ov.IntegrationEvents[0]
	assert.Equal(t, ServiceNextcloud, latest.ServiceID)
	assert.Equal(t, EventWebhookFailed, latest.EventType)
	require.NotNil(t, latest.Details)
	assert.Equal(t, "Webhook failed with status 500: boom", *latest.Details)
	require.NotNil(t, latest.ProjectName)
	assert.Equal(t, "BMW", *latest.ProjectName, "falls back to the brief client")

	conns := map[string]ServiceConnection{}
	for _, c := range ov.ServiceConnections {
		conns[c.ID] = c
	}
	require.Len(t, conns, 4)

	slack := conns[ServiceSlack]
	assert.Equal(t, StatusConnected, slack.Status)
	assert.Equal(t, HealthHealthy, slack.Health)
	assert.Equal(t, 1, slack.Stats["channelsCreated"])
	assert.Equal(t, 1, slack.Stats["messagesSent"])

	nc := conns[ServiceNextcloud]
	assert.Equal(t, StatusError, nc.Status)
	assert.Equal(t, HealthUnhealthy, nc.Health)
	assert.Equal(t, StatusFailed, nc.LastSyncStatus)
	require.NotNil(t, nc.Error)
	assert.Equal(t, "Webhook failed with status 500: boom", *nc.Error)

	gd := conns[ServiceGDrive]
	assert.Equal(t, StatusDisconnected, gd.Status)
	assert.Equal(t, fixedNow, gd.LastSyncAt)
	assert.Equal(t, "0 MB", gd.Stats["storageUsed"])

	db := conns[ServiceDatabase]
	assert.False(t, db.VisibleToUsers)
	assert.Equal(t, 1, db.Stats["casesStored"])
	assert.Equal(t, 1, db.Stats["briefsStored"])

	require.Len(t, ov.WebhookConfigs, 2)
	assert.Equal(t, "https://n8n.test/webhook/tf-brief-intake-v5", ov.WebhookConfigs[0].WebhookURL)
	assert.Equal(t, 100.0, ov.WebhookConfigs[0].SuccessRate)
	assert.Equal(t, 2, ov.WebhookConfigs[0].TotalExecutions)
	assert.Equal(t, 0.0, ov.WebhookConfigs[1].SuccessRate)

	require.Len(t, ov.PendingRetries, 3)
	r := ov.PendingRetries[0]
	assert.Equal(t, "retry-"+r.EventID, r.ID)
	assert.Equal(t, 3, r.MaxRetries)
	assert.True(t, r.CanRetry)
}

func TestOverview_HealthWindow(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	p, err := e.projects.Create(ctx, projects.CreateRequest{ProjectTitle: "Windowed"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.logActivity(t, p.ID, "nextcloud_sync_failed", "", nil)
	}
	e.logActivity(t, p.ID, "nextcloud_sync_completed", "Brief synced to Nextcloud", nil)
	e.logActivity(t, p.ID, "nextcloud_sync_completed", "Brief synced to Nextcloud", nil)

	ov, err := e.agg.Overview(ctx)
	require.NoError(t, err)
	for _, c := range ov.ServiceConnections {
		if c.ID == ServiceNextcloud {
			assert.Equal(t, HealthHealthy, c.Health, "old failures fall out of the window")
			assert.Equal(t, StatusConnected, c.Status)
		}
	}
}

func TestOverview_PendingRetriesCapped(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	p, err := e.projects.Create(ctx, projects.CreateRequest{})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		e.logActivity(t, p.ID, "slack_channel_failed", "", nil)
	}

	ov, err := e.agg.Overview(ctx)
	require.NoError(t, err)
	assert.Len(t, ov.PendingRetries, 10)
}

func TestSyncService_ResolvesLatestProject(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	_, err := e.projects.Create(ctx, projects.CreateRequest{ProjectTitle: "older"})
	require.NoError(t, err)
	latest, err := e.projects.Create(ctx, projects.CreateRequest{ProjectTitle: "newer"})
	require.NoError(t, err)

	first, err := e.agg.SyncService(ctx, ServiceSlack, "", "")
	require.NoError(t, err)
	second, err := e.agg.SyncService(ctx, ServiceNextcloud, "current", "")
	require.NoError(t, err)

	assert.True(t, first.Success)
	assert.Equal(t, latest.ID, first.ProjectID)
	assert.Equal(t, latest.ID, second.ProjectID)

	require.Len(t, e.auto.calls, 2)
	assert.Equal(t, projects.ActionCreateSlackChannel, e.auto.calls[0].Action)
	assert.Equal(t, projects.ActionCreateNextcloudFolder, e.auto.calls[1].Action)
}

func TestSyncService_Errors(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	_, err := e.agg.SyncService(ctx, ServiceGDrive, "", "")
	assert.True(t, perrors.IsInvalid(err))

	_, err = e.agg.SyncService(ctx, ServiceSlack, "", "")
	assert.True(t, perrors.IsInvalid(err), "no project to sync")

	_, err = e.agg.SyncService(ctx, ServiceSlack, "missing", "")
	assert.True(t, perrors.IsNotFound(err))
}

func TestRetryEvent(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	p, err := e.projects.Create(ctx, projects.CreateRequest{})
	require.NoError(t, err)

	_, err = e.agg.RetryEvent(ctx, "", "")
	assert.True(t, perrors.IsInvalid(err))

	_, err = e.agg.RetryEvent(ctx, "nope", "")
	assert.True(t, perrors.IsNotFound(err))

	created := e.logActivity(t, p.ID, "project_created", "Project created", nil)
	_, err = e.agg.RetryEvent(ctx, created.ID, "")
	assert.True(t, perrors.IsInvalid(err))

	failed := e.logActivity(t, p.ID, "nextcloud_folder_failed", "Nextcloud folder provisioning failed", nil)
	res, err := e.agg.RetryEvent(ctx, failed.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, failed.ID, res.EventID)
	require.Len(t, e.auto.calls, 1)
	assert.Equal(t, projects.ActionCreateNextcloudFolder, e.auto.calls[0].Action)
	assert.Equal(t, p.ID, e.auto.calls[0].ProjectID)
}

func TestTestWebhook(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	require.NoError(t, e.agg.TestWebhook(ctx, ServiceNextcloud))
	require.NoError(t, e.agg.TestWebhook(ctx, ServiceSlack))
	assert.Equal(t, []string{n8n.EndpointSync, n8n.EndpointBriefIntake}, e.hooks.endpoints)
	payload := e.hooks.payloads[0].(map[string]any)
	assert.Equal(t, "test_webhook", payload["action"])
	assert.Equal(t, ServiceNextcloud, payload["service_id"])

	e.hooks.err = perrors.NewAPIError("n8n", 503, "down")
	err := e.agg.TestWebhook(ctx, ServiceSlack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Webhook failed with status 503")
	var apiErr *perrors.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestIsNoop(t *testing.T) {
	assert.True(t, IsNoop(ActionToggleWebhook))
	assert.True(t, IsNoop(ActionDismissEvent))
	assert.False(t, IsNoop(ActionSyncService))
}
