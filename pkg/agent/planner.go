package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planor-ai/planor/pkg/models"
)

// Plan runs the planner conversation: one call, and on a malformed payload
// one corrective retry. Tool definitions are never offered — the planner
// proposes work, it does not perform it. Validation of the draft against the
// roster and the step cap happens in the orchestrator.
func (a *Agent) Plan(ctx context.Context, in PlannerInput) (*models.PlanDraft, error) {
	a.window = NewWindow(a.provider.Model, a.defaults.ContextTokenBudget, a.defaults.KeptToolResults)
	a.tools = nil
	a.window.Append(a.prompts.BuildPlannerMessages(in)...)

	resp, err := a.generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	a.usage.Add(resp.Usage)

	draft, parseErr := ParsePlannerOutput(resp.Text)
	if parseErr == nil {
		return draft, nil
	}

	// One corrective round trip. Models that fumble the format once almost
	// always recover when shown the parse error.
	a.logger.Warn("Planner output failed to parse, retrying once", "error", parseErr)
	a.window.Append(
		ConversationMessage{Role: RoleAssistant, Content: resp.Text},
		ConversationMessage{Role: RoleUser, Content: a.prompts.BuildPlannerRetryPrompt(parseErr.Error())},
	)
	resp, err = a.generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner retry call failed: %w", err)
	}
	a.usage.Add(resp.Usage)

	draft, parseErr = ParsePlannerOutput(resp.Text)
	if parseErr != nil {
		return nil, fmt.Errorf("planner produced unparseable output after retry: %w", parseErr)
	}
	return draft, nil
}

// ParsePlannerOutput extracts a plan draft from raw model text. Lenient by
// design: the payload may sit inside a ```json fence, be surrounded by
// prose, or be bare JSON; the first decodable object wins.
func ParsePlannerOutput(text string) (*models.PlanDraft, error) {
	candidate := extractJSONCandidate(text)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in planner output")
	}

	var draft models.PlanDraft
	dec := json.NewDecoder(strings.NewReader(candidate))
	if err := dec.Decode(&draft); err != nil {
		return nil, fmt.Errorf("decode planner output: %w", err)
	}
	if len(draft.Steps) == 0 {
		return nil, fmt.Errorf("planner output has no steps")
	}
	for i, s := range draft.Steps {
		if strings.TrimSpace(s.AgentName) == "" {
			return nil, fmt.Errorf("planner step %d has no agent_name", i+1)
		}
		if strings.TrimSpace(s.Action) == "" {
			return nil, fmt.Errorf("planner step %d has no action", i+1)
		}
	}
	return &draft, nil
}

// extractJSONCandidate returns the most plausible JSON object in text:
// the body of the first code fence when one exists, else the substring from
// the first '{' through its balanced closing brace. Trailing prose after
// the object is tolerated either way.
func extractJSONCandidate(text string) string {
	if fenced := extractFencedBlock(text); fenced != "" {
		text = fenced
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// Unbalanced — return the tail and let the decoder report where it broke.
	return text[start:]
}

// extractFencedBlock returns the contents of the first ``` fence, with an
// optional language tag on the opening line. Empty when no fence exists.
func extractFencedBlock(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return ""
	}
	rest := text[open+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Skip the language tag line (e.g. "json").
		rest = rest[nl+1:]
	}
	if close := strings.Index(rest, "```"); close >= 0 {
		return rest[:close]
	}
	return rest
}
