// Package prompt renders the prompt text for the agent runtime: step
// conversations, planner requests, window condensation, and executive
// summaries. Builders are stateless — all state comes from parameters.
package prompt

// stepGeneralInstructions is appended to every step agent's system prompt.
const stepGeneralInstructions = `## Step Execution Instructions

You are executing one step of a plan that a human operator has already approved. Other steps may run before or after yours; their outcomes are provided for context.

- Carry out only your assigned step. Work that belongs to other steps is out of scope.
- Ground your output in data you actually have. Never invent tool results or file contents.
- When you are done, state your result plainly. The text of your final message becomes the step's recorded output and is shown to later steps.`

// stepToolGuidance extends the instructions for tool-capable agents.
const stepToolGuidance = `- Use the available tools to gather real data before concluding.
- If you are missing information that only the user can supply, call request_clarification with one specific question. Ask once, precisely; do not guess and do not pad the question with alternatives.`

// stepTask is the closing task instruction of a step's user message.
// %d = step ordinal, %d = total steps, %s = action.
const stepTask = `## Your Step

This is step %d of %d:

%s

Complete this step now.`

// plannerFormatInstructions defines the JSON contract for planner output.
// %d = maximum number of steps.
const plannerFormatInstructions = `## Output Format

Respond with a single fenced JSON block and nothing else:

` + "```json" + `
{
  "facts": "short preamble of facts every step should know",
  "steps": [
    {"agent_name": "<name from the team roster>", "action": "<what that agent must do>"}
  ]
}
` + "```" + `

Rules:
- Every agent_name must match a roster entry exactly.
- Keep the plan as short as the request allows, and never longer than %d steps.
- Each action must be self-contained: the assigned agent sees the action text, the facts preamble, and earlier step outputs — not your reasoning.
- facts is free text. Record dataset identifiers, constraints, and anything the user stated that later steps will need.`

// plannerTask closes the planner's user message.
const plannerTask = `## Your Task
Produce the plan now.`

// plannerRetryTemplate asks the planner to correct an unparseable response.
// %s = parse error.
const plannerRetryTemplate = `Your previous response could not be parsed as a plan: %s

Respond again with ONLY the fenced JSON block in the required format. No commentary before or after the block.`

// windowSummarySystemPrompt is the system prompt for condensing the older
// portion of a step conversation that no longer fits the token budget.
const windowSummarySystemPrompt = `You are an expert at condensing an in-progress tool-use conversation so that it can continue in a smaller context window.

Preserve, in order of priority:
1. Results already obtained — especially tool results: identifiers, counts, paths, error messages
2. What has been tried and ruled out, so work is not repeated
3. Open questions and the immediate next intention

Drop restated instructions and verbose tool output that later turns superseded. Write plain factual prose. Never invent content that is not in the transcript.`

// windowSummaryUserTemplate is the user prompt for window condensation.
// %s = rendered transcript of the turns being condensed.
const windowSummaryUserTemplate = `Condense the following conversation turns. The condensed text replaces them in the ongoing conversation, so keep every fact a continuation might need.

=== TRANSCRIPT START ===
%s
=== TRANSCRIPT END ===

CRITICAL INSTRUCTION: Return ONLY the condensed text. No headings, no preamble.`

// executiveSummarySystemPrompt is the system prompt for the final-result
// preamble of a completed plan.
const executiveSummarySystemPrompt = `You are an assistant that writes concise 1-4 line executive summaries of completed multi-step plan runs. Focus on what was done and what came out of it. Facts only.`

// executiveSummaryUserTemplate is the user prompt for the final-result
// preamble. %s = original user request, %s = last step output.
const executiveSummaryUserTemplate = `Generate a 1-4 line executive summary of this completed plan run.

CRITICAL RULES:
- Only summarize what is EXPLICITLY stated in the final output
- Do NOT infer follow-up work that is not mentioned
- Do NOT add your own conclusions

Original request:

%s

Final step output:

=================================================================================
%s
=================================================================================

Executive Summary (1-4 lines, facts only):`
