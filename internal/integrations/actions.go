package integrations

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/projects"
)

// Panel actions.
const (
	ActionSyncService   = "sync_service"
	ActionRetryEvent    = "retry_event"
	ActionTestWebhook   = "test_webhook"
	ActionToggleWebhook = "toggle_webhook"
	ActionUpdateWebhook = "update_webhook"
	ActionDismissEvent  = "dismiss_event"
)

// IsNoop reports whether action is accepted without doing anything. Webhook
// settings live in n8n and dismissals are kept by the client.
func IsNoop(action string) bool {
	switch action {
	case ActionToggleWebhook, ActionUpdateWebhook, ActionDismissEvent:
		return true
	}
	return false
}

// SyncResult is the outcome of a manual service sync.
type SyncResult struct {
	Success   bool                   `json:"success"`
	ProjectID string                 `json:"projectId"`
	Result    *projects.ActionResult `json:"result"`
}

// RetryResult is the outcome of retrying a failed event.
type RetryResult struct {
	Success bool                   `json:"success"`
	EventID string                 `json:"eventId"`
	Result  *projects.ActionResult `json:"result"`
}

// provisioningAction maps a service to the case action that provisions it.
func provisioningAction(serviceID string) (string, bool) {
	switch serviceID {
	case ServiceSlack:
		return projects.ActionCreateSlackChannel, true
	case ServiceNextcloud:
		return projects.ActionCreateNextcloudFolder, true
	}
	return "", false
}

// SyncService re-provisions serviceID for a project. An empty or "current"
// projectID means the most recently updated project.
func (a *Aggregator) SyncService(ctx context.Context, serviceID, projectID, userID string) (*SyncResult, error) {
	action, ok := provisioningAction(serviceID)
	if !ok {
		return nil, perrors.Invalid("service %q does not support manual sync", serviceID)
	}

	if projectID == "" || projectID == "current" {
		latest, err := a.projects.Latest(ctx)
		if perrors.IsNotFound(err) {
			return nil, perrors.Invalid("no project available for sync")
		}
		if err != nil {
			return nil, err
		}
		projectID = latest.ID
	}

	a.logger.Info().Str("service", serviceID).Str("project", projectID).Msg("manual sync requested")
	res, err := a.projects.RunAction(ctx, projectID, action, userID)
	if err != nil {
		return &SyncResult{ProjectID: projectID, Result: res}, err
	}
	return &SyncResult{Success: true, ProjectID: projectID, Result: res}, nil
}

// RetryEvent re-runs the provisioning behind a recorded event.
func (a *Aggregator) RetryEvent(ctx context.Context, eventID, userID string) (*RetryResult, error) {
	if eventID == "" {
		return nil, perrors.Invalid("eventId is required")
	}
	act, err := a.repo.GetActivity(ctx, eventID)
	if err != nil {
		return nil, err
	}
	action, ok := provisioningAction(detectService(act.Type, act.Description))
	if !ok {
		return nil, perrors.Invalid("event %q cannot be retried", eventID)
	}

	a.logger.Info().Str("event", eventID).Str("case", act.CaseID).Str("action", action).Msg("retrying event")
	res, err := a.projects.RunAction(ctx, act.CaseID, action, userID)
	if err != nil {
		return &RetryResult{EventID: eventID, Result: res}, err
	}
	return &RetryResult{Success: true, EventID: eventID, Result: res}, nil
}

// TestWebhook pings the webhook behind serviceID with a test payload.
func (a *Aggregator) TestWebhook(ctx context.Context, serviceID string) error {
	endpoint := n8n.EndpointBriefIntake
	if serviceID == ServiceNextcloud {
		endpoint = n8n.EndpointSync
	}
	resp, err := a.webhooks.Call(ctx, endpoint, map[string]any{
		"action":     ActionTestWebhook,
		"service_id": serviceID,
		"timestamp":  a.opts.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		msg := "Webhook test failed"
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}
