package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/p-blackswan/project-builder/internal/canvas"
	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/slack"
	"github.com/p-blackswan/project-builder/internal/store"
)

// Actions that can be run against a case.
const (
	ActionSetupIntegrations = "setup_integrations"
	ActionSyncBrief         = "sync_brief"

	// Deprecated: setup_integrations provisions both resources in one call.
	ActionCreateSlackChannel = "create_slack_channel"
	// Deprecated: setup_integrations provisions both resources in one call.
	ActionCreateNextcloudFolder = "create_nextcloud_folder"
)

// ActionResult reports the outcome of an action.
type ActionResult struct {
	Success         bool   `json:"success"`
	Action          string `json:"action"`
	ProjectID       string `json:"projectId"`
	Message         string `json:"message"`
	SlackChannel    string `json:"slackChannel,omitempty"`
	NextcloudFolder string `json:"nextcloudFolder,omitempty"`
	CatchyCaseID    string `json:"catchyCaseId,omitempty"`
	Attempts        int    `json:"attempts"`
	Deprecated      bool   `json:"deprecated,omitempty"`
	Error           string `json:"error,omitempty"`
}

// actionRun is the context one action executes in.
type actionRun struct {
	action  string
	c       *store.Case
	fields  canvas.Fields
	payload n8n.ActionPayload
	userID  string
}

type actionFunc func(s *Service, ctx context.Context, run *actionRun) (*ActionResult, error)

var actions = map[string]actionFunc{
	ActionSetupIntegrations:     (*Service).setupIntegrations,
	ActionSyncBrief:             (*Service).syncBrief,
	ActionCreateSlackChannel:    (*Service).createSlackChannel,
	ActionCreateNextcloudFolder: (*Service).createNextcloudFolder,
}

// IsAction reports whether name is a known action.
func IsAction(name string) bool {
	_, ok := actions[name]
	return ok
}

// RunAction executes action against case id. An unknown action wraps
// ErrUnknownAction. When the automation fails the result is returned
// together with the error.
func (s *Service) RunAction(ctx context.Context, id, action, userID string) (*ActionResult, error) {
	fn, ok := actions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", perrors.ErrUnknownAction, action)
	}
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = s.user.ID
	}

	run, err := s.prepare(ctx, c, action, userID)
	if err != nil {
		return nil, err
	}
	res, err := fn(s, ctx, run)
	if s.metrics != nil {
		s.metrics.RecordAction(action, err == nil)
	}
	if res != nil {
		res.Action = action
		res.ProjectID = id
		res.Success = err == nil
		if err != nil && res.Error == "" {
			res.Error = err.Error()
		}
	}

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("case", id).Str("action", action).Msg("action finished")
	return res, err
}

// prepare builds the canvas view of the stored brief and the webhook payload.
func (s *Service) prepare(ctx context.Context, c *store.Case, action, userID string) (*actionRun, error) {
	b, err := s.repo.GetBrief(ctx, c.ID)
	if err != nil && !perrors.IsNotFound(err) {
		return nil, err
	}
	var record map[string]any
	if b != nil {
		record = b.Fields
	}
	fields := canvas.ApplyBrief(canvas.Template(), canvas.BriefFromRecord(record, c.CaseTitle), canvas.StatusAIFilled)

	user := s.user
	user.ID = userID
	caseID := c.CatchyCaseID
	if caseID == "" {
		caseID = c.ID
	}
	caseNumber := c.CaseNumber
	return &actionRun{
		action: action,
		c:      c,
		fields: fields,
		payload: n8n.ActionPayload{
			Action:     action,
			ProjectID:  c.ID,
			CaseNumber: &caseNumber,
			CaseID:     caseID,
			Payload:    n8n.BuildPayload(fields, c.ID, user, n8n.PayloadOptions{Now: s.now()}),
		},
		userID: userID,
	}, nil
}

func (s *Service) setupIntegrations(ctx context.Context, run *actionRun) (*ActionResult, error) {
	resp, err := s.automations.TriggerBriefIntake(ctx, run.payload)
	if err != nil {
		reason := failureReason(resp, err)
		s.recordFailure(ctx, run, "slack_channel_failed", "Slack channel provisioning failed", reason)
		s.recordFailure(ctx, run, "nextcloud_folder_failed", "Nextcloud folder provisioning failed", reason)
		return &ActionResult{Message: "Integration setup failed", Attempts: attempts(resp), Error: reason}, err
	}

	update := store.CaseUpdate{}
	if resp.SlackChannel != "" {
		update.SlackChannel = &resp.SlackChannel
	}
	if resp.NextcloudFolder != "" {
		update.NextcloudFolder = &resp.NextcloudFolder
	}
	if resp.CatchyCaseID != "" {
		update.CatchyCaseID = &resp.CatchyCaseID
	}
	s.applyCaseUpdate(ctx, run.c.ID, update)

	if resp.SlackChannel != "" {
		s.recordSuccess(ctx, run, "slack_channel_created",
			fmt.Sprintf("Slack channel %s created", resp.SlackChannel),
			map[string]any{"slack_channel": resp.SlackChannel})
	}
	if resp.NextcloudFolder != "" {
		s.recordSuccess(ctx, run, "nextcloud_folder_created",
			fmt.Sprintf("Nextcloud folder %s created", resp.NextcloudFolder),
			map[string]any{"nextcloud_folder": resp.NextcloudFolder})
	}
	if resp.SlackChannel == "" && resp.NextcloudFolder == "" {
		s.recordSuccess(ctx, run, "integrations_requested", "Integration setup requested via brief intake", nil)
	}

	if s.notifier != nil && resp.SlackChannel != "" {
		err := s.notifier.NotifyIntegrationsReady(ctx, resp.SlackChannel, run.c.CaseNumber, projectTitle(run), resp.NextcloudFolder)
		s.recordNotice(ctx, run, resp.SlackChannel, err)
	}

	return &ActionResult{
		Message:         "Integrations set up",
		SlackChannel:    resp.SlackChannel,
		NextcloudFolder: resp.NextcloudFolder,
		CatchyCaseID:    resp.CatchyCaseID,
		Attempts:        resp.Attempts,
	}, nil
}

func (s *Service) syncBrief(ctx context.Context, run *actionRun) (*ActionResult, error) {
	resp, err := s.automations.TriggerSync(ctx, run.payload)
	if err != nil {
		reason := failureReason(resp, err)
		s.recordFailure(ctx, run, "nextcloud_sync_failed", "Brief sync to Nextcloud failed", reason)
		return &ActionResult{Message: "Brief sync failed", Attempts: attempts(resp), Error: reason}, err
	}

	update := store.CaseUpdate{}
	folder := run.c.NextcloudFolder
	if resp.NextcloudFolder != "" {
		folder = resp.NextcloudFolder
		update.NextcloudFolder = &resp.NextcloudFolder
	}
	s.applyCaseUpdate(ctx, run.c.ID, update)
	s.recordSuccess(ctx, run, "nextcloud_sync_completed", "Brief synced to Nextcloud", nil)

	if s.notifier != nil && run.c.SlackChannel != "" {
		err := s.notifier.NotifyBriefSync(ctx, run.c.SlackChannel, s.summary(run))
		s.recordNotice(ctx, run, run.c.SlackChannel, err)
	}

	return &ActionResult{
		Message:         "Brief synced",
		SlackChannel:    run.c.SlackChannel,
		NextcloudFolder: folder,
		Attempts:        resp.Attempts,
	}, nil
}

func (s *Service) createSlackChannel(ctx context.Context, run *actionRun) (*ActionResult, error) {
	s.logger.Warn().Str("action", run.action).Msg("deprecated action, use setup_integrations")

	resp, err := s.automations.TriggerBriefIntake(ctx, run.payload)
	if err != nil {
		reason := failureReason(resp, err)
		s.recordFailure(ctx, run, "slack_channel_failed", "Slack channel provisioning failed", reason)
		return &ActionResult{Message: "Slack channel creation failed", Attempts: attempts(resp), Deprecated: true, Error: reason}, err
	}
	if resp.SlackChannel != "" {
		s.applyCaseUpdate(ctx, run.c.ID, store.CaseUpdate{SlackChannel: &resp.SlackChannel})
	}
	s.recordSuccess(ctx, run, "slack_channel_created",
		fmt.Sprintf("Slack channel %s created", orUnknown(resp.SlackChannel)),
		map[string]any{"slack_channel": resp.SlackChannel})
	return &ActionResult{
		Message:      "Slack channel created",
		SlackChannel: resp.SlackChannel,
		Attempts:     resp.Attempts,
		Deprecated:   true,
	}, nil
}

func (s *Service) createNextcloudFolder(ctx context.Context, run *actionRun) (*ActionResult, error) {
	s.logger.Warn().Str("action", run.action).Msg("deprecated action, use setup_integrations")

	resp, err := s.automations.TriggerSync(ctx, run.payload)
	if err != nil {
		reason := failureReason(resp, err)
		s.recordFailure(ctx, run, "nextcloud_folder_failed", "Nextcloud folder provisioning failed", reason)
		return &ActionResult{Message: "Nextcloud folder creation failed", Attempts: attempts(resp), Deprecated: true, Error: reason}, err
	}
	if resp.NextcloudFolder != "" {
		s.applyCaseUpdate(ctx, run.c.ID, store.CaseUpdate{NextcloudFolder: &resp.NextcloudFolder})
	}
	s.recordSuccess(ctx, run, "nextcloud_folder_created",
		fmt.Sprintf("Nextcloud folder %s created", orUnknown(resp.NextcloudFolder)),
		map[string]any{"nextcloud_folder": resp.NextcloudFolder})
	return &ActionResult{
		Message:         "Nextcloud folder created",
		NextcloudFolder: resp.NextcloudFolder,
		Attempts:        resp.Attempts,
		Deprecated:      true,
	}, nil
}

// applyCaseUpdate stores provisioned resources and announces the case change.
func (s *Service) applyCaseUpdate(ctx context.Context, id string, u store.CaseUpdate) {
	if err := s.repo.UpdateCase(context.WithoutCancel(ctx), id, u); err != nil {
		s.logger.Error().Err(err).Str("case", id).Msg("failed to store action result on case")
		return
	}
	s.publishCase(context.WithoutCancel(ctx), id)
}

func (s *Service) recordSuccess(ctx context.Context, run *actionRun, typ, desc string, changes map[string]any) {
	if changes == nil {
		changes = map[string]any{}
	}
	changes["action"] = run.action
	s.logActivity(ctx, &store.Activity{
		CaseID:      run.c.ID,
		Type:        typ,
		Description: desc,
		UserID:      run.userID,
		Source:      SourceAutomation,
		Changes:     changes,
	})
}

func (s *Service) recordFailure(ctx context.Context, run *actionRun, typ, desc, reason string) {
	s.logActivity(ctx, &store.Activity{
		CaseID:      run.c.ID,
		Type:        typ,
		Description: desc,
		UserID:      run.userID,
		Source:      SourceAutomation,
		Changes:     map[string]any{"action": run.action, "error": reason},
	})
}

// recordNotice logs the outcome of a Slack post. Throttled posts are not
// recorded.
func (s *Service) recordNotice(ctx context.Context, run *actionRun, channel string, err error) {
	switch {
	case err == nil:
		s.logActivity(ctx, &store.Activity{
			CaseID:      run.c.ID,
			Type:        "slack_message_posted",
			Description: fmt.Sprintf("Slack message posted to %s", channel),
			UserID:      run.userID,
			Source:      SourceAutomation,
			Changes:     map[string]any{"action": run.action, "channel": channel},
		})
	case errors.Is(err, perrors.ErrRateLimit):
		s.logger.Debug().Str("channel", channel).Msg("slack notice throttled")
	default:
		s.logger.Warn().Err(err).Str("channel", channel).Msg("slack notice failed")
		s.recordFailure(ctx, run, "slack_message_failed", fmt.Sprintf("Slack message to %s failed", channel), err.Error())
	}
}

// summary describes the synced brief for the project channel.
func (s *Service) summary(run *actionRun) slack.BriefSummary {
	b := canvas.Completeness(run.fields)
	var missing []string
	for _, m := range b.MissingFields {
		if m.Priority == canvas.PriorityCritical {
			missing = append(missing, m.Label)
		}
	}
	typ := run.c.ProjectType
	if typ == "" {
		typ = string(canvas.ClassifyFields(run.fields, nil).Effective())
	}
	return slack.BriefSummary{
		CaseNumber:   run.c.CaseNumber,
		Title:        projectTitle(run),
		ProjectType:  typ,
		Completeness: b.Score,
		Missing:      missing,
		UpdatedBy:    run.userID,
	}
}

func projectTitle(run *actionRun) string {
	if t, ok := canvas.FieldValue(run.fields, "project_title").(string); ok && t != "" {
		return t
	}
	if run.c.CaseTitle != "" {
		return run.c.CaseTitle
	}
	return run.c.CaseNumber
}

func failureReason(resp *n8n.Response, err error) string {
	if resp != nil && resp.Error != "" {
		return resp.Error
	}
	return err.Error()
}

func attempts(resp *n8n.Response) int {
	if resp == nil {
		return 0
	}
	return resp.Attempts
}

func orUnknown(s string) string {
	if s == "" {
		return "(unnamed)"
	}
	return s
}
