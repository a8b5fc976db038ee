package escalation

import (
	"fmt"
	"strings"
	"time"
)

const reportTitle = "🚨 DISTRESS SIGNAL: vigil needs attention"

// Report is the payload handed to notifiers when an episode starts.
type Report struct {
	EpisodeID    string    `json:"episode_id"`
	Time         time.Time `json:"time"`
	Host         string    `json:"host"`
	Reason       string    `json:"reason"`
	State        State     `json:"state"`
	Label        string    `json:"label"`
	Score        float64   `json:"score"`
	LastActivity time.Time `json:"last_activity"`
	Errors       []string  `json:"errors,omitempty"`
}

func (r Report) Title() string {
	if r.Host == "" {
		return reportTitle
	}
	return reportTitle + " (" + r.Host + ")"
}

// Markdown renders the report body used by issue trackers and chat channels.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("## Emergency Alert\n\n")
	b.WriteString("The process entered emergency mode and requires attention.\n\n")
	b.WriteString("### Reason\n")
	b.WriteString(r.Reason)
	b.WriteString("\n\n### System Status\n")
	fmt.Fprintf(&b, "- Health Score: %.1f\n", r.Score)
	if r.LastActivity.IsZero() {
		b.WriteString("- Last Activity: never\n")
	} else {
		fmt.Fprintf(&b, "- Last Activity: %s\n", r.LastActivity.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- State: %s", r.State)
	if r.Label != "" {
		fmt.Fprintf(&b, " (%s)", r.Label)
	}
	b.WriteString("\n")
	if r.Host != "" {
		fmt.Fprintf(&b, "- Host: %s\n", r.Host)
	}
	fmt.Fprintf(&b, "- Episode: `%s`\n", r.EpisodeID)

	b.WriteString("\n### Recent Errors\n")
	if len(r.Errors) == 0 {
		b.WriteString("none\n")
	}
	for _, e := range r.Errors {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}

	b.WriteString("\n### Actions Taken\n")
	b.WriteString("- Entered emergency mode\n")
	b.WriteString("- Tightened resource thresholds\n")
	b.WriteString("- Sent this distress signal\n")
	return b.String()
}

// Text is a compact plain-text rendering for chat channels.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString(r.Title())
	fmt.Fprintf(&b, "\n\nReason: %s\nHealth: %.1f\nState: %s", r.Reason, r.Score, r.State)
	if !r.LastActivity.IsZero() {
		fmt.Fprintf(&b, "\nLast activity: %s", r.LastActivity.UTC().Format(time.RFC3339))
	}
	if len(r.Errors) > 0 {
		b.WriteString("\nRecent errors:")
		for _, e := range r.Errors {
			b.WriteString("\n• ")
			b.WriteString(e)
		}
	}
	fmt.Fprintf(&b, "\nEpisode: %s", r.EpisodeID)
	return b.String()
}
