package models

import (
	"fmt"
	"strings"
)

// AgentSpec describes one agent within a team: its prompt, whether it may
// call tools, and (optionally) which tools it may call. An empty allow-list
// on a tool-capable agent grants the full catalogue.
type AgentSpec struct {
	Name         string   `json:"name" yaml:"name"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	ToolCapable  bool     `json:"tool_capable" yaml:"tool_capable"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	Planner      bool     `json:"planner,omitempty" yaml:"planner,omitempty"`
}

// TeamConfig is an immutable-after-upload team descriptor. Agent order is
// significant: the first agent doubles as the planner unless another agent
// carries the planner flag.
type TeamConfig struct {
	ID     string      `json:"team_id" yaml:"team_id"`
	Name   string      `json:"name" yaml:"name"`
	Agents []AgentSpec `json:"agents" yaml:"agents"`
}

// Agent returns the spec with the given display name.
func (t *TeamConfig) Agent(name string) (*AgentSpec, bool) {
	for i := range t.Agents {
		if t.Agents[i].Name == name {
			return &t.Agents[i], true
		}
	}
	return nil, false
}

// PlannerAgent returns the designated planner: the first agent flagged as
// planner, else the first agent in roster order.
func (t *TeamConfig) PlannerAgent() *AgentSpec {
	for i := range t.Agents {
		if t.Agents[i].Planner {
			return &t.Agents[i]
		}
	}
	if len(t.Agents) == 0 {
		return nil
	}
	return &t.Agents[0]
}

// Validate checks structural soundness of a team definition.
func (t *TeamConfig) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("team_id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("team %q: name is required", t.ID)
	}
	if len(t.Agents) == 0 {
		return fmt.Errorf("team %q: at least one agent is required", t.ID)
	}
	seen := make(map[string]bool, len(t.Agents))
	planners := 0
	for i := range t.Agents {
		a := &t.Agents[i]
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("team %q: agent %d has no name", t.ID, i)
		}
		if seen[a.Name] {
			return fmt.Errorf("team %q: duplicate agent name %q", t.ID, a.Name)
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.SystemPrompt) == "" {
			return fmt.Errorf("team %q: agent %q has no system prompt", t.ID, a.Name)
		}
		if len(a.AllowedTools) > 0 && !a.ToolCapable {
			return fmt.Errorf("team %q: agent %q lists allowed tools but is not tool capable", t.ID, a.Name)
		}
		if a.Planner {
			planners++
		}
	}
	if planners > 1 {
		return fmt.Errorf("team %q: at most one agent may be the planner", t.ID)
	}
	return nil
}
