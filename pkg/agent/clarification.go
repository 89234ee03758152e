package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClarificationToolName is the built-in pseudo-tool advertised to every
// tool-capable agent. The runtime intercepts calls to it and never forwards
// them to an MCP server.
const ClarificationToolName = "request_clarification"

const clarificationToolDescription = "Ask the user one question when you are blocked on missing " +
	"or ambiguous information. Execution pauses until the user answers; the answer is returned " +
	"as this tool's result. Use sparingly — prefer acting on reasonable defaults."

const clarificationToolSchema = `{
  "type": "object",
  "properties": {
    "question": {
      "type": "string",
      "description": "The single question to ask the user. Be specific about what you need and why."
    }
  },
  "required": ["question"]
}`

// ClarificationToolDefinition returns the pseudo-tool definition appended to
// the agent's tool list.
func ClarificationToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:             ClarificationToolName,
		Description:      clarificationToolDescription,
		ParametersSchema: clarificationToolSchema,
	}
}

// IsClarificationCall reports whether a tool call targets the pseudo-tool.
func IsClarificationCall(call ToolCall) bool {
	return call.Name == ClarificationToolName
}

// ParseClarificationQuestion extracts the question from a
// request_clarification call. Malformed arguments fall back to the raw
// argument text so the user still sees something answerable.
func ParseClarificationQuestion(call ToolCall) (string, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		raw := strings.TrimSpace(call.Arguments)
		if raw == "" {
			return "", fmt.Errorf("request_clarification arguments are not valid JSON: %w", err)
		}
		return raw, nil
	}
	if strings.TrimSpace(args.Question) == "" {
		return "", fmt.Errorf("request_clarification call %s has an empty question", call.ID)
	}
	return args.Question, nil
}
