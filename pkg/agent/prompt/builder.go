package prompt

import (
	"fmt"
	"strings"

	"github.com/planor-ai/planor/pkg/agent"
)

// Builder builds all prompt text for the agent runtime. It composes system
// messages, user messages, and section formatting. Stateless — all state
// comes from parameters. Thread-safe — no mutable state.
type Builder struct{}

var _ agent.PromptBuilder = (*Builder)(nil)

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildStepMessages builds the opening conversation for one plan step.
func (b *Builder) BuildStepMessages(seed agent.StepSeed) []agent.ConversationMessage {
	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: composeStepSystem(seed)},
		{Role: agent.RoleUser, Content: buildStepUserMessage(seed)},
	}
}

// BuildPlannerMessages builds the conversation for a planning request.
// Planning is a tool-less, single-shot exchange; the JSON output contract
// lives in the system message so a retry never has to restate it.
func (b *Builder) BuildPlannerMessages(in agent.PlannerInput) []agent.ConversationMessage {
	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: composePlannerSystem(in)},
		{Role: agent.RoleUser, Content: buildPlannerUserMessage(in)},
	}
}

// BuildPlannerRetryPrompt returns the corrective prompt sent after the
// planner's output failed to parse.
func (b *Builder) BuildPlannerRetryPrompt(parseErr string) string {
	return fmt.Sprintf(plannerRetryTemplate, parseErr)
}

// BuildWindowSummarySystemPrompt returns the system prompt for window
// condensation.
func (b *Builder) BuildWindowSummarySystemPrompt() string {
	return windowSummarySystemPrompt
}

// BuildWindowSummaryUserPrompt builds the user prompt for condensing the
// given transcript.
func (b *Builder) BuildWindowSummaryUserPrompt(transcript string) string {
	return fmt.Sprintf(windowSummaryUserTemplate, transcript)
}

// BuildExecutiveSummarySystemPrompt returns the system prompt for the
// final-result preamble.
func (b *Builder) BuildExecutiveSummarySystemPrompt() string {
	return executiveSummarySystemPrompt
}

// BuildExecutiveSummaryUserPrompt builds the user prompt for the
// final-result preamble of a completed plan.
func (b *Builder) BuildExecutiveSummaryUserPrompt(userRequest, lastOutput string) string {
	return fmt.Sprintf(executiveSummaryUserTemplate, userRequest, lastOutput)
}

// composeStepSystem builds the system message for a step: the agent's own
// prompt first, then the shared execution instructions.
func composeStepSystem(seed agent.StepSeed) string {
	var sections []string
	if seed.SystemPrompt != "" {
		sections = append(sections, seed.SystemPrompt)
	}
	instr := stepGeneralInstructions
	if seed.ToolCapable {
		instr += "\n" + stepToolGuidance
	}
	sections = append(sections, instr)
	return strings.Join(sections, "\n\n")
}

// buildStepUserMessage assembles the step's context block and task.
func buildStepUserMessage(seed agent.StepSeed) string {
	var sb strings.Builder

	sb.WriteString(FormatRequestSection(seed.UserRequest))
	sb.WriteString("\n")

	sb.WriteString(FormatFactsSection(seed.Facts))
	sb.WriteString("\n")

	if len(seed.Datasets) > 0 {
		sb.WriteString(FormatDatasetSection(seed.Datasets))
		sb.WriteString("\n")
	}

	sb.WriteString(FormatPriorStepsSection(seed.PriorSteps))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf(stepTask, seed.Step.Ordinal, seed.TotalSteps, seed.Step.Action))

	return sb.String()
}

// composePlannerSystem builds the system message for a planning request.
func composePlannerSystem(in agent.PlannerInput) string {
	var sections []string
	if in.SystemPrompt != "" {
		sections = append(sections, in.SystemPrompt)
	}
	sections = append(sections, plannerGeneralInstructions)
	sections = append(sections, fmt.Sprintf(plannerFormatInstructions, in.MaxSteps))
	return strings.Join(sections, "\n\n")
}

// buildPlannerUserMessage assembles the planning request with its context.
func buildPlannerUserMessage(in agent.PlannerInput) string {
	var sb strings.Builder

	sb.WriteString(FormatRequestSection(in.UserRequest))
	sb.WriteString("\n")

	if in.PriorResult != "" {
		sb.WriteString(FormatPriorResultSection(in.PriorResult))
		sb.WriteString("\n")
	}

	if len(in.Datasets) > 0 {
		sb.WriteString(FormatDatasetSection(in.Datasets))
		sb.WriteString("\n")
	}

	sb.WriteString(FormatAgentRoster(in.Roster))
	sb.WriteString("\n")

	sb.WriteString(plannerTask)

	return sb.String()
}

// plannerGeneralInstructions is Tier 1 for planning requests.
const plannerGeneralInstructions = `## Planning Instructions

You decompose a user request into an ordered plan of steps, each assigned to one agent from the team roster below. A human operator reviews the plan before anything runs, so the plan must be legible on its own.

- Assign each step to the single agent best suited for it.
- Order steps so that every step can rely on the outputs of the steps before it.
- Do not add review, verification, or summary steps the request did not ask for.`
