package prompt

import (
	"fmt"
	"strings"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/models"
)

// FormatRequestSection builds the original-request section.
// The request is opaque user text, passed as-is between sentinels.
func FormatRequestSection(userRequest string) string {
	var sb strings.Builder
	sb.WriteString("## Original Request\n")
	if userRequest == "" {
		sb.WriteString("No request text provided.\n")
		return sb.String()
	}
	sb.WriteString("<!-- REQUEST_START -->\n")
	sb.WriteString(userRequest)
	sb.WriteString("\n<!-- REQUEST_END -->\n")
	return sb.String()
}

// FormatFactsSection builds the plan-facts section from the planner's
// free-text preamble.
func FormatFactsSection(facts string) string {
	if strings.TrimSpace(facts) == "" {
		return "## Plan Facts\nThe planner recorded no facts for this plan.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Plan Facts\n")
	sb.WriteString(facts)
	sb.WriteString("\n")
	return sb.String()
}

// FormatDatasetSection lists the session's uploaded datasets so tools can be
// called by dataset_id without asking the user to repeat identifiers.
func FormatDatasetSection(datasets []models.DatasetHandle) string {
	if len(datasets) == 0 {
		return "## Uploaded Datasets\nNo datasets have been uploaded in this session.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Uploaded Datasets\n")
	sb.WriteString("The user uploaded these files earlier in the session. Reference them by dataset_id in tool calls; never ask the user to re-supply an identifier listed here.\n\n")
	for _, d := range datasets {
		sb.WriteString(fmt.Sprintf("- dataset_id: %s — %s (%d bytes", d.ID, d.Filename, d.ByteSize))
		if d.ContentType != "" {
			sb.WriteString(", ")
			sb.WriteString(d.ContentType)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// FormatPriorStepsSection summarizes the plan's already-settled steps.
func FormatPriorStepsSection(prior []agent.StepOutcome) string {
	if len(prior) == 0 {
		return "## Completed Steps\nNo steps have run yet. This is the plan's first step.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Completed Steps\n")
	for _, p := range prior {
		sb.WriteString(fmt.Sprintf("### Step %d — %s (%s)\n", p.Ordinal, p.AgentName, p.Status))
		sb.WriteString("Action: ")
		sb.WriteString(p.Action)
		sb.WriteString("\n")
		if p.Output != "" {
			sb.WriteString("Output:\n")
			sb.WriteString(p.Output)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// FormatPriorResultSection wraps the previous plan's compact result summary.
func FormatPriorResultSection(priorResult string) string {
	var sb strings.Builder
	sb.WriteString("## Previous Plan Result\n")
	sb.WriteString("An earlier plan in this session already completed. Its result, for context:\n\n")
	sb.WriteString(priorResult)
	sb.WriteString("\n")
	return sb.String()
}

// FormatAgentRoster formats the team roster for the planner. Each agent's
// system prompt doubles as its capability description.
func FormatAgentRoster(roster []models.AgentSpec) string {
	var sb strings.Builder
	sb.WriteString("## Team Roster\n")
	if len(roster) == 0 {
		sb.WriteString("No agents available.\n")
		return sb.String()
	}
	for i, a := range roster {
		capability := "text only, no tool access"
		if a.ToolCapable {
			if len(a.AllowedTools) > 0 {
				capability = "tools: " + strings.Join(a.AllowedTools, ", ")
			} else {
				capability = "tools: full catalogue"
			}
		}
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, a.Name, capability))
		if desc := strings.TrimSpace(a.SystemPrompt); desc != "" {
			sb.WriteString(indent(desc, "    "))
			sb.WriteString("\n")
		}
		if i < len(roster)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// indent prefixes every line of s with the given prefix.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
