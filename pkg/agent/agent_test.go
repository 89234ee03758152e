package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
)

// scriptedLLM returns one canned chunk sequence per Generate call and
// records every input it saw.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]Chunk
	inputs  []*GenerateInput
	err     error
}

func (s *scriptedLLM) Generate(_ context.Context, input *GenerateInput) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.inputs = append(s.inputs, input)
	var script []Chunk
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	ch := make(chan Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func (s *scriptedLLM) input(i int) *GenerateInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[i]
}

func textScript(text string) []Chunk {
	return []Chunk{
		&TextChunk{Content: text},
		&UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolScript(calls ...ToolCall) []Chunk {
	var chunks []Chunk
	for _, c := range calls {
		chunks = append(chunks, &ToolCallChunk{CallID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	chunks = append(chunks, &UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	return chunks
}

// fakePrompts is a minimal PromptBuilder; the real renderer has its own
// tests in the prompt package.
type fakePrompts struct{}

func (fakePrompts) BuildStepMessages(seed StepSeed) []ConversationMessage {
	return []ConversationMessage{
		{Role: RoleSystem, Content: seed.SystemPrompt},
		{Role: RoleUser, Content: "step: " + seed.Step.Action},
	}
}

func (fakePrompts) BuildPlannerMessages(in PlannerInput) []ConversationMessage {
	return []ConversationMessage{
		{Role: RoleSystem, Content: in.SystemPrompt},
		{Role: RoleUser, Content: "plan: " + in.UserRequest},
	}
}

func (fakePrompts) BuildPlannerRetryPrompt(parseErr string) string {
	return "retry: " + parseErr
}

func (fakePrompts) BuildWindowSummarySystemPrompt() string { return "summarize system" }
func (fakePrompts) BuildWindowSummaryUserPrompt(transcript string) string {
	return "summarize: " + transcript
}
func (fakePrompts) BuildExecutiveSummarySystemPrompt() string { return "exec system" }
func (fakePrompts) BuildExecutiveSummaryUserPrompt(userRequest, lastOutput string) string {
	return fmt.Sprintf("exec: %s / %s", userRequest, lastOutput)
}

// deltaCollector records published stream deltas.
type deltaCollector struct {
	mu     sync.Mutex
	deltas []string
}

func (d *deltaCollector) PublishStreamDelta(_ context.Context, _, _, _ string, payload events.StreamDeltaPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deltas = append(d.deltas, payload.Delta)
	return nil
}

func (d *deltaCollector) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deltas...)
}

func testDefaults() *config.Defaults {
	return config.DefaultDefaults()
}

func testProvider() *config.LLMProviderConfig {
	return &config.LLMProviderConfig{Type: "openai", Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"}
}

func newTestAgent(t *testing.T, llm LLMClient, spec models.AgentSpec, executor ToolExecutor) *Agent {
	t.Helper()
	a, err := New(Params{
		Spec:      spec,
		PlanID:    "plan-1",
		SessionID: "sess-1",
		LLM:       llm,
		Executor:  executor,
		Provider:  testProvider(),
		Defaults:  testDefaults(),
		Prompts:   fakePrompts{},
	})
	require.NoError(t, err)
	return a
}

func beginTestStep(t *testing.T, a *Agent) {
	t.Helper()
	err := a.BeginStep(context.Background(), StepSeed{
		SystemPrompt: "you are under test",
		UserRequest:  "do the thing",
		Step:         models.Step{ID: "plan-1-step-1", Ordinal: 1, Action: "do the thing"},
		TotalSteps:   1,
	})
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	llm := &scriptedLLM{}
	spec := models.AgentSpec{Name: "worker"}

	_, err := New(Params{Spec: spec, Provider: testProvider(), Defaults: testDefaults(), Prompts: fakePrompts{}})
	assert.ErrorContains(t, err, "LLM client is required")

	_, err = New(Params{Spec: spec, LLM: llm, Defaults: testDefaults(), Prompts: fakePrompts{}})
	assert.ErrorContains(t, err, "provider config is required")

	_, err = New(Params{Spec: spec, LLM: llm, Provider: testProvider(), Prompts: fakePrompts{}})
	assert.ErrorContains(t, err, "defaults are required")

	_, err = New(Params{Spec: spec, LLM: llm, Provider: testProvider(), Defaults: testDefaults()})
	assert.ErrorContains(t, err, "prompt builder is required")

	toolSpec := models.AgentSpec{Name: "worker", ToolCapable: true}
	_, err = New(Params{Spec: toolSpec, LLM: llm, Provider: testProvider(), Defaults: testDefaults(), Prompts: fakePrompts{}})
	assert.ErrorContains(t, err, "no tool executor")
}

func TestBeginStep_ToolCapableAgentGetsCatalogueAndPseudoTool(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("done")}}
	executor := NewStubToolExecutor([]ToolDefinition{
		{Name: "data.summarize", Description: "summarize a dataset"},
	})
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, executor)
	beginTestStep(t, a)

	_, err := a.Turn(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, llm.callCount())
	input := llm.input(0)
	names := make([]string, 0, len(input.Tools))
	for _, tool := range input.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "data.summarize")
	assert.Contains(t, names, ClarificationToolName)
}

func TestBeginStep_TextOnlyAgentHasNoTools(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("done")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "writer"}, nil)
	beginTestStep(t, a)

	_, err := a.Turn(context.Background())
	require.NoError(t, err)
	assert.Empty(t, llm.input(0).Tools)
}

func TestTurn_Final(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("the answer is 42")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	final, ok := result.(*Final)
	require.True(t, ok, "expected *Final, got %T", result)
	assert.Equal(t, "the answer is 42", final.Text)
	assert.Equal(t, 15, a.Usage().TotalTokens)
}

func TestTurn_AppendsAssistantMessageToWindow(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("first"), textScript("second")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	_, err := a.Turn(context.Background())
	require.NoError(t, err)
	_, err = a.Turn(context.Background())
	require.NoError(t, err)

	// The second call's input must include the first turn's reply.
	msgs := llm.input(1).Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "first", msgs[2].Content)
}

func TestTurn_ToolCallRequested(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "data.summarize", Arguments: `{"dataset_id":"ds-1"}`}
	llm := &scriptedLLM{scripts: [][]Chunk{toolScript(call), textScript("done")}}
	executor := NewStubToolExecutor(nil)
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, executor)
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	req, ok := result.(*ToolCallRequested)
	require.True(t, ok, "expected *ToolCallRequested, got %T", result)
	require.Len(t, req.Calls, 1)
	assert.Equal(t, "data.summarize", req.Calls[0].Name)

	// Feed the result back and confirm the next turn sees it.
	a.AddToolResults([]*ToolResult{{CallID: "c1", Name: "data.summarize", Content: "5 rows"}})
	_, err = a.Turn(context.Background())
	require.NoError(t, err)

	msgs := llm.input(1).Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "5 rows", last.Content)
}

func TestTurn_ParallelToolCallsPreserved(t *testing.T) {
	calls := []ToolCall{
		{ID: "c1", Name: "fs.read", Arguments: `{"path":"a"}`},
		{ID: "c2", Name: "fs.read", Arguments: `{"path":"b"}`},
	}
	llm := &scriptedLLM{scripts: [][]Chunk{toolScript(calls...)}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, NewStubToolExecutor(nil))
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)
	req := result.(*ToolCallRequested)
	assert.Len(t, req.Calls, 2)
}

func TestTurn_ClarificationRequested(t *testing.T) {
	call := ToolCall{ID: "c1", Name: ClarificationToolName, Arguments: `{"question":"which column?"}`}
	llm := &scriptedLLM{scripts: [][]Chunk{toolScript(call), textScript("done")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, NewStubToolExecutor(nil))
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	clar, ok := result.(*ClarificationRequested)
	require.True(t, ok, "expected *ClarificationRequested, got %T", result)
	assert.Equal(t, "c1", clar.CallID)
	assert.Equal(t, "which column?", clar.Question)

	// The answer comes back as the pseudo-tool's result.
	a.AddClarificationAnswer("c1", "the Revenue column")
	_, err = a.Turn(context.Background())
	require.NoError(t, err)

	msgs := llm.input(1).Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, ClarificationToolName, last.ToolName)
	assert.Equal(t, "the Revenue column", last.Content)
}

func TestTurn_ClarificationWinsOverSiblingCalls(t *testing.T) {
	calls := []ToolCall{
		{ID: "c1", Name: "fs.read", Arguments: `{"path":"a"}`},
		{ID: "c2", Name: ClarificationToolName, Arguments: `{"question":"which file?"}`},
	}
	llm := &scriptedLLM{scripts: [][]Chunk{toolScript(calls...), textScript("done")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, NewStubToolExecutor(nil))
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	clar, ok := result.(*ClarificationRequested)
	require.True(t, ok, "expected *ClarificationRequested, got %T", result)
	assert.Equal(t, "c2", clar.CallID)

	// The sibling call is discarded: the recorded assistant message holds
	// only the clarification call, so the reply pairs up cleanly.
	a.AddClarificationAnswer("c2", "file a")
	_, err = a.Turn(context.Background())
	require.NoError(t, err)

	msgs := llm.input(1).Messages
	assistant := msgs[len(msgs)-2]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, ClarificationToolName, assistant.ToolCalls[0].Name)
}

func TestTurn_EmptyResponseRecoversAfterNudge(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript(""), textScript("recovered")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	final, ok := result.(*Final)
	require.True(t, ok, "expected *Final, got %T", result)
	assert.Equal(t, "recovered", final.Text)

	require.Equal(t, 2, llm.callCount())
	msgs := llm.input(1).Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "previous response was empty")
}

func TestTurn_EmptyResponseTwiceFails(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("   "), textScript("")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	failed, ok := result.(*Failed)
	require.True(t, ok, "expected *Failed, got %T", result)
	assert.Equal(t, models.StepErrorAgent, failed.Kind)
	assert.Contains(t, failed.Message, "empty response twice")
}

func TestTurn_ErrorChunkBecomesFailed(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{{
		&ErrorChunk{Message: "quota exhausted", Code: "429", Retryable: true},
	}}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	result, err := a.Turn(context.Background())
	require.NoError(t, err)

	failed, ok := result.(*Failed)
	require.True(t, ok, "expected *Failed, got %T", result)
	assert.Equal(t, models.StepErrorAgent, failed.Kind)
	assert.Contains(t, failed.Message, "quota exhausted")
}

func TestTurn_ContextCancellation(t *testing.T) {
	llm := &scriptedLLM{err: context.Canceled}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Turn(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTurn_BeforeBeginStep(t *testing.T) {
	a := newTestAgent(t, &scriptedLLM{}, models.AgentSpec{Name: "worker"}, nil)
	_, err := a.Turn(context.Background())
	assert.ErrorContains(t, err, "before BeginStep")
}

func TestTurn_PublishesStreamDeltas(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{{
		&TextChunk{Content: "hel"},
		&TextChunk{Content: "lo"},
	}}}
	collector := &deltaCollector{}
	a, err := New(Params{
		Spec:      models.AgentSpec{Name: "worker"},
		PlanID:    "plan-1",
		SessionID: "sess-1",
		LLM:       llm,
		Provider:  testProvider(),
		Defaults:  testDefaults(),
		Prompts:   fakePrompts{},
		Publisher: collector,
	})
	require.NoError(t, err)
	beginTestStep(t, a)

	_, err = a.Turn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hel", "lo"}, collector.all())
}

func TestReplayToolResults(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("done")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker", ToolCapable: true}, NewStubToolExecutor(nil))
	beginTestStep(t, a)

	a.ReplayToolResults([]ToolExchange{
		{Call: ToolCall{ID: "c1", Name: "fs.read", Arguments: `{"path":"a"}`}, Result: "contents of a"},
		{Call: ToolCall{ID: "c2", Name: "fs.read", Arguments: `{"path":"b"}`}, Result: "contents of b"},
	})

	_, err := a.Turn(context.Background())
	require.NoError(t, err)

	msgs := llm.input(0).Messages
	require.Len(t, msgs, 6) // system, user, 2× (assistant call + tool result)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "fs.read", msgs[2].ToolCalls[0].Name)
	assert.Equal(t, RoleTool, msgs[3].Role)
	assert.Equal(t, "contents of a", msgs[3].Content)
	assert.Equal(t, RoleTool, msgs[5].Role)
	assert.Equal(t, "contents of b", msgs[5].Content)
}

func TestGenerateInput_CarriesPlanAndStepIDs(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]Chunk{textScript("done")}}
	a := newTestAgent(t, llm, models.AgentSpec{Name: "worker"}, nil)
	beginTestStep(t, a)

	_, err := a.Turn(context.Background())
	require.NoError(t, err)

	input := llm.input(0)
	assert.Equal(t, "plan-1", input.PlanID)
	assert.Equal(t, "plan-1-step-1", input.StepID)
	assert.Equal(t, "gpt-4o", input.Config.Model)
}
