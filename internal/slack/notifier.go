// Package slack posts case notifications to the project's Slack channel.
package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Notifier posts to case channels. Posts to one channel are throttled to at
// most one per interval.
type Notifier struct {
	api      BotAPI
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier creates a notifier authenticated with a bot token.
func NewNotifier(botToken string, interval time.Duration, logger zerolog.Logger) *Notifier {
	return NewNotifierWithAPI(slack.New(botToken), interval, logger)
}

// NewNotifierWithAPI creates a notifier over an existing client.
func NewNotifierWithAPI(api BotAPI, interval time.Duration, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:      api,
		logger:   logger.With().Str("component", "slack").Logger(),
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// NotifyBriefSync posts a brief summary to channel.
func (n *Notifier) NotifyBriefSync(ctx context.Context, channel string, s BriefSummary) error {
	fallback := fmt.Sprintf("Brief synced: %s (%d%% complete)", s.Title, s.Completeness)
	return n.post(ctx, channel, fallback, BuildBriefSyncBlocks(s))
}

// NotifyIntegrationsReady welcomes a case in its new channel.
func (n *Notifier) NotifyIntegrationsReady(ctx context.Context, channel, caseNumber, title, folder string) error {
	fallback := fmt.Sprintf("%s is set up", title)
	return n.post(ctx, channel, fallback, BuildIntegrationsReadyBlocks(caseNumber, title, folder))
}

// Check verifies the bot token.
func (n *Notifier) Check(ctx context.Context) error {
	resp, err := n.api.AuthTestContext(ctx)
	if err != nil {
		return &perrors.APIError{Service: "slack", Message: "auth test failed", Err: err}
	}
	n.logger.Debug().Str("bot_user", resp.UserID).Str("team", resp.Team).Msg("slack auth ok")
	return nil
}

func (n *Notifier) post(ctx context.Context, channel, fallback string, blocks []slack.Block) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return perrors.Invalid("slack channel is empty")
	}
	if !n.allow(channel) {
		n.logger.Info().Str("channel", channel).Msg("notification throttled")
		return fmt.Errorf("channel %s: %w", channel, perrors.ErrRateLimit)
	}

	_, ts, err := n.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		n.logger.Error().Err(err).Str("channel", channel).Msg("failed to post notification")
		return &perrors.APIError{Service: "slack", Message: "post message failed", Err: err}
	}
	n.logger.Info().Str("channel", channel).Str("ts", ts).Msg("notification posted")
	return nil
}

func (n *Notifier) allow(channel string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.last[channel]; ok && n.interval > 0 && now.Sub(last) < n.interval {
		return false
	}
	n.last[channel] = now
	return true
}
