package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// BriefSummary is what a brief-sync message shows.
type BriefSummary struct {
	CaseNumber   string
	Title        string
	ProjectType  string
	Completeness int
	Missing      []string // labels of missing critical fields
	UpdatedBy    string
}

// truncate shortens s to max chars, appending "…" if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// BuildBriefSyncBlocks renders a brief sync notice.
func BuildBriefSyncBlocks(s BriefSummary) []slack.Block {
	header := fmt.Sprintf("🔄 Brief synced: %s", truncate(s.Title, 100))
	if s.CaseNumber != "" {
		header = fmt.Sprintf("🔄 %s · %s", s.CaseNumber, truncate(s.Title, 100))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Type:* %s\n", orDash(s.ProjectType)))
	sb.WriteString(fmt.Sprintf("*Completeness:* %d%% %s\n", s.Completeness, progressBar(s.Completeness)))
	if s.UpdatedBy != "" {
		sb.WriteString(fmt.Sprintf("*Synced by:* %s\n", s.UpdatedBy))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", header, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", sb.String(), false, false), nil, nil),
	}

	if len(s.Missing) > 0 {
		limit := 8
		if len(s.Missing) < limit {
			limit = len(s.Missing)
		}
		lines := make([]string, 0, limit+1)
		for _, m := range s.Missing[:limit] {
			lines = append(lines, "• "+m)
		}
		if len(s.Missing) > limit {
			lines = append(lines, fmt.Sprintf("_...and %d more_", len(s.Missing)-limit))
		}
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn",
				"⚠️ *Still missing*\n"+strings.Join(lines, "\n"), false, false), nil, nil),
		)
	}
	return blocks
}

// BuildIntegrationsReadyBlocks announces a freshly provisioned case channel.
func BuildIntegrationsReadyBlocks(caseNumber, title, nextcloudFolder string) []slack.Block {
	text := fmt.Sprintf("🎬 *%s* is set up.\n*Case:* %s", truncate(title, 100), orDash(caseNumber))
	if nextcloudFolder != "" {
		text += fmt.Sprintf("\n*Nextcloud:* `%s`", nextcloudFolder)
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
}

// progressBar draws completeness as ten cells.
func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct / 10
	return strings.Repeat("▓", filled) + strings.Repeat("░", 10-filled)
}

func orDash(s string) string {
	if s == "" {
		return "–"
	}
	return s
}
