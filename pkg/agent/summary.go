package agent

import (
	"context"
	"fmt"
	"strings"
)

// Summarize produces the short executive preamble prepended to a completed
// plan's final result. It runs as a standalone exchange outside any step
// window, so the agent's conversation state is untouched.
func (a *Agent) Summarize(ctx context.Context, userRequest, lastOutput string) (string, error) {
	msgs := []ConversationMessage{
		{Role: RoleSystem, Content: a.prompts.BuildExecutiveSummarySystemPrompt()},
		{Role: RoleUser, Content: a.prompts.BuildExecutiveSummaryUserPrompt(userRequest, lastOutput)},
	}
	resp, err := callLLM(ctx, a.llm, &GenerateInput{
		PlanID:   a.planID,
		Messages: msgs,
		Config:   a.provider,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("executive summary call failed: %w", err)
	}
	a.usage.Add(resp.Usage)
	return strings.TrimSpace(resp.Text), nil
}
