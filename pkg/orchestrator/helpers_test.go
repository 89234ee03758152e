package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// scriptedLLM returns one canned chunk sequence per Generate call and
// records every input it saw. With hang set it returns a channel that never
// produces, so the caller's context deadline decides the outcome.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]agent.Chunk
	inputs  []*agent.GenerateInput
	hang    bool
}

func (s *scriptedLLM) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	if s.hang {
		return make(chan agent.Chunk), nil
	}
	var script []agent.Chunk
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	ch := make(chan agent.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) script(scripts ...[]agent.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func (s *scriptedLLM) input(i int) *agent.GenerateInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[i]
}

func textScript(text string) []agent.Chunk {
	return []agent.Chunk{
		&agent.TextChunk{Content: text},
		&agent.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolScript(calls ...agent.ToolCall) []agent.Chunk {
	var chunks []agent.Chunk
	for _, c := range calls {
		chunks = append(chunks, &agent.ToolCallChunk{CallID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	chunks = append(chunks, &agent.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	return chunks
}

func clarificationScript(callID, question string) []agent.Chunk {
	args, _ := json.Marshal(map[string]string{"question": question})
	return toolScript(agent.ToolCall{ID: callID, Name: agent.ClarificationToolName, Arguments: string(args)})
}

func errorScript(message string) []agent.Chunk {
	return []agent.Chunk{&agent.ErrorChunk{Message: message, Code: "internal"}}
}

func plannerScript(t *testing.T, draft models.PlanDraft) []agent.Chunk {
	t.Helper()
	data, err := json.Marshal(draft)
	require.NoError(t, err)
	return textScript("```json\n" + string(data) + "\n```")
}

// recordingPrompts is a minimal PromptBuilder that keeps the planner inputs
// it rendered, so tests can check what the planner was shown.
type recordingPrompts struct {
	mu          sync.Mutex
	plannerSeen []agent.PlannerInput
}

func (p *recordingPrompts) BuildStepMessages(seed agent.StepSeed) []agent.ConversationMessage {
	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: seed.SystemPrompt},
		{Role: agent.RoleUser, Content: "step: " + seed.Step.Action},
	}
}

func (p *recordingPrompts) BuildPlannerMessages(in agent.PlannerInput) []agent.ConversationMessage {
	p.mu.Lock()
	p.plannerSeen = append(p.plannerSeen, in)
	p.mu.Unlock()
	return []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: in.SystemPrompt},
		{Role: agent.RoleUser, Content: "plan: " + in.UserRequest},
	}
}

func (p *recordingPrompts) BuildPlannerRetryPrompt(parseErr string) string {
	return "retry: " + parseErr
}

func (p *recordingPrompts) BuildWindowSummarySystemPrompt() string { return "summarize system" }
func (p *recordingPrompts) BuildWindowSummaryUserPrompt(transcript string) string {
	return "summarize: " + transcript
}
func (p *recordingPrompts) BuildExecutiveSummarySystemPrompt() string { return "exec system" }
func (p *recordingPrompts) BuildExecutiveSummaryUserPrompt(userRequest, lastOutput string) string {
	return "exec: " + userRequest + " / " + lastOutput
}

func (p *recordingPrompts) lastPlannerInput(t *testing.T) agent.PlannerInput {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.plannerSeen, "planner prompt was never rendered")
	return p.plannerSeen[len(p.plannerSeen)-1]
}

// recordedEvent is one published envelope with its payload left raw.
type recordedEvent struct {
	EventType string          `json:"event_type"`
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	channel   string
}

func (ev recordedEvent) decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Payload, out))
}

// recordingSink captures envelopes instead of fanning them out.
type recordingSink struct {
	mu        sync.Mutex
	persisted []recordedEvent
	transient []recordedEvent
}

func (s *recordingSink) PersistAndNotify(_ context.Context, _ string, channel string, envelope []byte) error {
	ev, err := parseEnvelope(channel, envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.persisted = append(s.persisted, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) NotifyOnly(_ context.Context, channel string, envelope []byte) error {
	ev, err := parseEnvelope(channel, envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.transient = append(s.transient, ev)
	s.mu.Unlock()
	return nil
}

func parseEnvelope(channel string, envelope []byte) (recordedEvent, error) {
	var ev recordedEvent
	if err := json.Unmarshal(envelope, &ev); err != nil {
		return recordedEvent{}, err
	}
	ev.channel = channel
	return ev, nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.persisted))
	for _, ev := range s.persisted {
		out = append(out, ev.EventType)
	}
	return out
}

func (s *recordingSink) countOf(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.persisted {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *recordingSink) lastOf(t *testing.T, eventType string) recordedEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.persisted) - 1; i >= 0; i-- {
		if s.persisted[i].EventType == eventType {
			return s.persisted[i]
		}
	}
	t.Fatalf("no %s event was published", eventType)
	return recordedEvent{}
}

// recordingNotifier keeps every settlement callback.
type recordingNotifier struct {
	mu      sync.Mutex
	plans   []*models.Plan
	results []*ExecutionResult
}

func (n *recordingNotifier) PlanSettled(_ context.Context, plan *models.Plan, result *ExecutionResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plans = append(n.plans, plan)
	n.results = append(n.results, result)
}

func (n *recordingNotifier) settled() []*ExecutionResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*ExecutionResult(nil), n.results...)
}

// scriptedToolExecutor echoes a canned result per call, or fails with err
// when set. Calls are recorded in arrival order.
type scriptedToolExecutor struct {
	mu    sync.Mutex
	defs  []agent.ToolDefinition
	err   error
	calls []agent.ToolCall
}

func (s *scriptedToolExecutor) Execute(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	content := "result of " + call.Name
	return &agent.ToolResult{
		CallID:          call.ID,
		Name:            call.Name,
		Content:         content,
		ArgumentsDigest: mcp.DigestArguments(call.Arguments),
		ResultDigest:    mcp.Digest([]byte(content)),
	}, nil
}

func (s *scriptedToolExecutor) ListTools(context.Context) ([]agent.ToolDefinition, error) {
	return s.defs, nil
}

func (s *scriptedToolExecutor) Close() error { return nil }

func (s *scriptedToolExecutor) recorded() []agent.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.ToolCall(nil), s.calls...)
}

type stubExecutorFactory struct {
	exec agent.ToolExecutor
}

func (f stubExecutorFactory) ExecutorForAgent(context.Context, models.AgentSpec) (agent.ToolExecutor, error) {
	return f.exec, nil
}

func testTeam() *models.TeamConfig {
	return &models.TeamConfig{
		ID:   "ops",
		Name: "Ops",
		Agents: []models.AgentSpec{
			{Name: "Coordinator", SystemPrompt: "plan the work", Planner: true},
			{Name: "Hands", SystemPrompt: "do the work", ToolCapable: true},
		},
	}
}

// testQueueConfig polls fast and never fires background timers on its own;
// orphan and heartbeat intervals are shortened per test where they matter.
func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		MaxConcurrentPlans:      8,
		PollInterval:            5 * time.Millisecond,
		PollIntervalJitter:      0,
		GracefulShutdownTimeout: 250 * time.Millisecond,
		OrphanDetectionInterval: time.Hour,
		OrphanThreshold:         time.Minute,
		HeartbeatInterval:       time.Hour,
	}
}

// buildPlan returns an unpersisted two-step plan for tests that write the
// document directly.
func buildPlan(planID, sessionID string) *models.Plan {
	return models.NewPlan(planID, sessionID, "ops", "restart the ingest service", models.PlanDraft{
		Facts: "service ingest is wedged",
		Steps: []models.StepDraft{
			{AgentName: "Hands", Action: "check current deployment status"},
			{AgentName: "Hands", Action: "restart and verify"},
		},
	}, time.Now().UTC())
}

// testRig wires a full orchestrator over a memstore with scripted agent and
// tool behavior. Tests tweak rig.defaults and rig.queue in place before
// acting; the orchestrator reads both through the shared pointers.
type testRig struct {
	orch     *Orchestrator
	store    persistence.Store
	plans    *services.PlanService
	sessions *services.SessionService
	messages *services.MessageService
	llm      *scriptedLLM
	prompts  *recordingPrompts
	sink     *recordingSink
	notifier *recordingNotifier
	tools    *scriptedToolExecutor
	defaults *config.Defaults
	queue    *config.QueueConfig
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store := persistence.NewMemStore()
	llm := &scriptedLLM{}
	prompts := &recordingPrompts{}
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	tools := &scriptedToolExecutor{
		defs: []agent.ToolDefinition{
			{Name: "kubernetes.get_pods", Description: "list pods", ParametersSchema: `{"type":"object"}`},
		},
	}
	defaults := config.DefaultDefaults()
	queue := testQueueConfig()
	publisher := events.NewEventPublisher(sink)

	factory, err := agent.NewFactory(agent.FactoryParams{
		LLM:       llm,
		Provider:  &config.LLMProviderConfig{Type: "openai", Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"},
		Defaults:  defaults,
		Prompts:   prompts,
		Publisher: publisher,
		Executors: stubExecutorFactory{exec: tools},
	})
	require.NoError(t, err)

	orch, err := New(Params{
		PodID:     "pod-test",
		Defaults:  defaults,
		Queue:     queue,
		Store:     store,
		Registry:  config.NewTeamRegistry(map[string]*models.TeamConfig{"ops": testTeam()}),
		Agents:    factory,
		Publisher: publisher,
		Notifier:  notifier,
	})
	require.NoError(t, err)

	return &testRig{
		orch:     orch,
		store:    store,
		plans:    services.NewPlanService(store),
		sessions: services.NewSessionService(store),
		messages: services.NewMessageService(store),
		llm:      llm,
		prompts:  prompts,
		sink:     sink,
		notifier: notifier,
		tools:    tools,
		defaults: defaults,
		queue:    queue,
	}
}

func (rig *testRig) newSession(t *testing.T) *models.Session {
	t.Helper()
	session, err := rig.sessions.CreateSession(context.Background(), "user-1")
	require.NoError(t, err)
	return session
}

// seedPlan stores a plan document as-is, bypassing planning, so tests
// control every lifecycle field.
func (rig *testRig) seedPlan(t *testing.T, sessionID string, mutate func(*models.Plan)) *models.Plan {
	t.Helper()
	plan := buildPlan(uuid.New().String(), sessionID)
	if mutate != nil {
		mutate(plan)
	}
	require.NoError(t, rig.plans.CreatePlan(context.Background(), plan))
	return plan
}

// seedClaimedPlan stores a running plan already claimed by this pod, the
// shape the executor sees after a worker claims it.
func (rig *testRig) seedClaimedPlan(t *testing.T, sessionID string, mutate func(*models.Plan)) *models.Plan {
	t.Helper()
	return rig.seedPlan(t, sessionID, func(p *models.Plan) {
		p.OverallStatus = models.PlanStatusRunning
		p.Approved = true
		p.ClaimedBy = "pod-test"
		now := time.Now().UTC()
		p.LastHeartbeatAt = &now
		if mutate != nil {
			mutate(p)
		}
	})
}

func (rig *testRig) getPlan(t *testing.T, sessionID, planID string) *models.Plan {
	t.Helper()
	plan, err := rig.plans.GetPlan(context.Background(), sessionID, planID)
	require.NoError(t, err)
	return plan
}

func (rig *testRig) planStatus(sessionID, planID string) models.PlanStatus {
	plan, err := rig.plans.GetPlan(context.Background(), sessionID, planID)
	if err != nil {
		return ""
	}
	return plan.OverallStatus
}

func (rig *testRig) transcript(t *testing.T, sessionID, planID string) []*models.Message {
	t.Helper()
	msgs, err := rig.messages.TranscriptTail(context.Background(), sessionID, planID, 100)
	require.NoError(t, err)
	return msgs
}

// execute runs one claimed plan through a real executor sharing the
// orchestrator's services and clarification desk.
func (rig *testRig) execute(ctx context.Context, plan *models.Plan) *ExecutionResult {
	return newPlanExecutor(rig.orch).Execute(ctx, plan)
}

func kindsOf(msgs []*models.Message) []models.MessageKind {
	kinds := make([]models.MessageKind, 0, len(msgs))
	for _, m := range msgs {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

func decodeBody(t *testing.T, msg *models.Message, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(msg.Body), out))
}

func firstOfKind(msgs []*models.Message, kind models.MessageKind) *models.Message {
	for _, m := range msgs {
		if m.Kind == kind {
			return m
		}
	}
	return nil
}
