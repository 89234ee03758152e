package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// runStep executes one step to Done, or settles the whole plan on failure,
// cancellation, or interruption. A nil result means the step finished and
// the plan loop continues; non-nil means the run is over.
func (r *planRun) runStep(ctx context.Context, step *models.Step) *ExecutionResult {
	logger := r.logger.With("step_id", step.ID, "ordinal", step.Ordinal, "agent", step.AgentName)

	spec, ok := r.team.Agent(step.AgentName)
	if !ok {
		return r.failPlanAtStep(step.ID, models.StepErrorAgent,
			fmt.Sprintf("step %d names agent %q, which is not in team %q", step.Ordinal, step.AgentName, r.team.ID))
	}
	ag, err := r.agentFor(ctx, *spec)
	if err != nil {
		return r.failPlanAtStep(step.ID, models.StepErrorAgent,
			fmt.Sprintf("build agent %q: %v", step.AgentName, err))
	}

	resuming := step.Status != models.StepStatusPending
	if resuming {
		logger.Info("Step resuming", "status", step.Status, "recorded_tool_calls", len(step.ToolCalls))
	} else {
		if err := r.patch(func(p *models.Plan) error {
			s := p.StepByID(step.ID)
			if s == nil {
				return fmt.Errorf("step %s missing from plan", step.ID)
			}
			if s.Status == models.StepStatusPending {
				now := nowUTC()
				s.Status = models.StepStatusRunning
				s.StartedAt = &now
			}
			return nil
		}); err != nil {
			if errors.Is(err, errClaimLost) {
				return r.claimLost()
			}
			return r.failPlanAtStep(step.ID, models.StepErrorPersistence, fmt.Sprintf("mark step running: %v", err))
		}
		if err := r.e.publisher.PublishStepStarted(context.Background(), r.plan.SessionID, r.plan.ID, step.ID, events.StepStartedPayload{
			Ordinal:   step.Ordinal,
			AgentName: step.AgentName,
			Action:    step.Action,
		}); err != nil {
			logger.Warn("Failed to publish StepStarted", "error", err)
		}
		logger.Info("Step started")
	}

	// The step clock covers active execution only; it restarts after each
	// clarification wait so a slow human answer cannot time the step out.
	stepCtx, cancelStep := context.WithTimeout(ctx, r.e.defaults.StepTimeout())
	defer func() { cancelStep() }()

	if err := ag.BeginStep(stepCtx, r.seedFor(step, spec)); err != nil {
		return r.failPlanAtStep(step.ID, models.StepErrorTool, fmt.Sprintf("prepare step tools: %v", err))
	}

	turnsUsed := 0
	if resuming {
		replayed, parkedReq, rerr := r.replayStep(stepCtx, ag, step)
		if rerr != nil {
			return r.failPlanAtStep(step.ID, models.StepErrorPersistence,
				fmt.Sprintf("replay step transcript: %v", rerr))
		}
		turnsUsed = replayed
		if step.Status == models.StepStatusAwaitingClarification {
			if parkedReq == nil {
				return r.failPlanAtStep(step.ID, models.StepErrorPersistence,
					"parked step has no recorded clarification request")
			}
			logger.Info("Step resumed parked, waiting for clarification")
			w := r.e.desk.register(r.plan.ID)
			answer, res := r.awaitAnswer(ctx, w, step)
			r.e.desk.unregister(r.plan.ID, w)
			if res != nil {
				return res
			}
			// The request/answer pair is fed back as one committed exchange
			// so the window converges with an uninterrupted run's.
			ag.ReplayToolResults([]agent.ToolExchange{clarificationExchange(parkedReq, answer)})
			turnsUsed++
			cancelStep()
			stepCtx, cancelStep = context.WithTimeout(ctx, r.e.defaults.StepTimeout())
		}
	}

	for {
		if turnsUsed >= r.e.defaults.PerStepTurnCap {
			return r.failPlanAtStep(step.ID, models.StepErrorTurnCap,
				fmt.Sprintf("step hit the turn cap of %d", r.e.defaults.PerStepTurnCap))
		}

		turnCtx, cancelTurn := context.WithTimeout(stepCtx, r.e.defaults.AgentTurnTimeout())
		result, err := ag.Turn(turnCtx)
		cancelTurn()
		turnsUsed++
		if err != nil {
			// Turn errors are always context errors; attribute the timeout
			// to the innermost expired layer.
			switch {
			case ctx.Err() != nil:
				return r.interrupted(ctx)
			case stepCtx.Err() != nil:
				return r.failPlanAtStep(step.ID, models.StepErrorAgent,
					fmt.Sprintf("step timed out after %s", r.e.defaults.StepTimeout()))
			default:
				return r.failPlanAtStep(step.ID, models.StepErrorAgent,
					fmt.Sprintf("agent turn timed out after %s", r.e.defaults.AgentTurnTimeout()))
			}
		}
		if res := r.cancellationCheck(ctx); res != nil {
			return res
		}

		switch v := result.(type) {
		case *agent.Final:
			return r.finishStep(step, v.Text, turnsUsed, logger)
		case *agent.Failed:
			return r.failPlanAtStep(step.ID, v.Kind, v.Message)
		case *agent.ToolCallRequested:
			if res := r.runToolCalls(ctx, stepCtx, ag, step, v.Calls, logger); res != nil {
				return res
			}
		case *agent.ClarificationRequested:
			res := r.parkForClarification(ctx, ag, step, v, logger)
			if res != nil {
				return res
			}
			cancelStep()
			stepCtx, cancelStep = context.WithTimeout(ctx, r.e.defaults.StepTimeout())
		default:
			return r.failPlanAtStep(step.ID, models.StepErrorAgent,
				fmt.Sprintf("unexpected turn result %T", result))
		}
	}
}

// finishStep commits the Done transition. A nil return continues the plan
// loop; non-nil means even the commit failed and the plan settled.
func (r *planRun) finishStep(step *models.Step, output string, turns int, logger *slog.Logger) *ExecutionResult {
	err := r.patch(func(p *models.Plan) error {
		s := p.StepByID(step.ID)
		if s == nil {
			return fmt.Errorf("step %s missing from plan", step.ID)
		}
		now := nowUTC()
		s.Status = models.StepStatusDone
		s.OutputText = output
		s.FinishedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		return r.failPlanAtStep(step.ID, models.StepErrorPersistence, fmt.Sprintf("persist step output: %v", err))
	}

	bg := context.Background()
	r.e.appendMessage(bg, models.Message{
		SessionID: r.plan.SessionID,
		PlanID:    r.plan.ID,
		StepID:    step.ID,
		Kind:      models.MessageKindAgentOutput,
		AgentName: step.AgentName,
		Body:      output,
	})
	if err := r.e.publisher.PublishStepOutput(bg, r.plan.SessionID, r.plan.ID, step.ID, events.StepOutputPayload{
		Output: output,
	}); err != nil {
		logger.Warn("Failed to publish StepOutput", "error", err)
	}
	logger.Info("Step completed", "turns", turns, "output_chars", len(output))
	return nil
}

// runToolCalls handles one fan-out: commit intent, execute siblings
// concurrently, commit results, feed them back. Any tool error fails the
// step (and the plan); a policy violation gets its own error kind.
func (r *planRun) runToolCalls(ctx, stepCtx context.Context, ag *agent.Agent, step *models.Step, calls []agent.ToolCall, logger *slog.Logger) *ExecutionResult {
	bg := context.Background()

	// Commit intent before any side effect: a crash after this point must
	// find the calls on record so resumption never re-invokes blindly.
	digests := make([]string, len(calls))
	for i, c := range calls {
		digests[i] = mcp.DigestArguments(c.Arguments)
	}
	if err := r.patch(func(p *models.Plan) error {
		s := p.StepByID(step.ID)
		if s == nil {
			return fmt.Errorf("step %s missing from plan", step.ID)
		}
		for i, c := range calls {
			s.ToolCalls = append(s.ToolCalls, models.ToolCallRecord{
				ToolName:        c.Name,
				ArgumentsDigest: digests[i],
			})
		}
		return nil
	}); err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		return r.failPlanAtStep(step.ID, models.StepErrorPersistence, fmt.Sprintf("record tool calls: %v", err))
	}
	for i, c := range calls {
		body, _ := json.Marshal(toolCallBody{CallID: c.ID, ToolName: c.Name, Arguments: c.Arguments})
		r.e.appendMessage(bg, models.Message{
			SessionID: r.plan.SessionID,
			PlanID:    r.plan.ID,
			StepID:    step.ID,
			Kind:      models.MessageKindToolCall,
			AgentName: step.AgentName,
			Body:      string(body),
		})
		if err := r.e.publisher.PublishStepToolInvoked(bg, r.plan.SessionID, r.plan.ID, step.ID, events.StepToolInvokedPayload{
			ToolName:        c.Name,
			ServerID:        serverOf(c.Name),
			ArgumentsDigest: digests[i],
		}); err != nil {
			logger.Warn("Failed to publish StepToolInvoked", "error", err)
		}
	}

	// Fan out. Sibling calls run concurrently, each under its own timeout;
	// all of them are awaited even when one fails early.
	type outcome struct {
		result   *agent.ToolResult
		err      error
		duration time.Duration
	}
	outcomes := make([]outcome, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(stepCtx, r.e.defaults.ToolCallTimeout())
			defer cancel()
			start := time.Now()
			res, err := ag.ExecuteTool(callCtx, calls[i])
			outcomes[i] = outcome{result: res, err: err, duration: time.Since(start)}
		}(i)
	}
	wg.Wait()

	// Commit all results in one patch. The records to fill are the last
	// len(calls) entries: the claim fence makes this run the only writer.
	if err := r.patch(func(p *models.Plan) error {
		s := p.StepByID(step.ID)
		if s == nil {
			return fmt.Errorf("step %s missing from plan", step.ID)
		}
		base := len(s.ToolCalls) - len(calls)
		if base < 0 {
			return fmt.Errorf("step %s lost its tool call records", step.ID)
		}
		for i := range calls {
			rec := &s.ToolCalls[base+i]
			rec.DurationMS = outcomes[i].duration.Milliseconds()
			if outcomes[i].result != nil {
				rec.ResultDigest = resultDigest(outcomes[i].result)
			}
		}
		return nil
	}); err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		return r.failPlanAtStep(step.ID, models.StepErrorPersistence, fmt.Sprintf("record tool results: %v", err))
	}
	for i, c := range calls {
		oc := outcomes[i]
		payload := events.StepToolReturnedPayload{
			ToolName:   c.Name,
			DurationMS: oc.duration.Milliseconds(),
		}
		if oc.err != nil {
			payload.IsError = true
		} else {
			payload.ResultDigest = resultDigest(oc.result)
			body, _ := json.Marshal(toolResultBody{CallID: c.ID, ToolName: c.Name, Content: oc.result.Content})
			r.e.appendMessage(bg, models.Message{
				SessionID: r.plan.SessionID,
				PlanID:    r.plan.ID,
				StepID:    step.ID,
				Kind:      models.MessageKindToolResult,
				AgentName: step.AgentName,
				Body:      string(body),
			})
		}
		if err := r.e.publisher.PublishStepToolReturned(bg, r.plan.SessionID, r.plan.ID, step.ID, payload); err != nil {
			logger.Warn("Failed to publish StepToolReturned", "error", err)
		}
	}

	if res := r.cancellationCheck(ctx); res != nil {
		return res
	}

	for i, c := range calls {
		if outcomes[i].err == nil {
			continue
		}
		err := outcomes[i].err
		kind := models.StepErrorTool
		if mcp.KindOf(err).PolicyViolation() {
			kind = models.StepErrorToolPolicy
		}
		return r.failPlanAtStep(step.ID, kind, fmt.Sprintf("tool %s failed: %v", c.Name, err))
	}

	results := make([]*agent.ToolResult, len(calls))
	for i := range outcomes {
		results[i] = outcomes[i].result
	}
	ag.AddToolResults(results)
	return nil
}

// parkForClarification commits the park transition and blocks until the
// question is answered. A nil return means the answer is in the window and
// the turn loop continues.
func (r *planRun) parkForClarification(ctx context.Context, ag *agent.Agent, step *models.Step, req *agent.ClarificationRequested, logger *slog.Logger) *ExecutionResult {
	// Register before the park patch commits, so an answer racing the park
	// always finds the waiter.
	w := r.e.desk.register(r.plan.ID)
	defer r.e.desk.unregister(r.plan.ID, w)

	parkErr := r.patch(func(p *models.Plan) error {
		s := p.StepByID(step.ID)
		if s == nil {
			return fmt.Errorf("step %s missing from plan", step.ID)
		}
		if s.ClarificationCount >= r.e.defaults.MaxClarificationsPerStep {
			return errClarificationBudget
		}
		s.Status = models.StepStatusAwaitingClarification
		s.ClarificationCount++
		p.OverallStatus = models.PlanStatusAwaitingClarification
		return nil
	})
	switch {
	case parkErr == nil:
	case errors.Is(parkErr, errClarificationBudget):
		return r.failPlanAtStep(step.ID, models.StepErrorClarificationLoop,
			fmt.Sprintf("step asked for clarification more than %d times", r.e.defaults.MaxClarificationsPerStep))
	case errors.Is(parkErr, errClaimLost):
		return r.claimLost()
	default:
		return r.failPlanAtStep(step.ID, models.StepErrorPersistence,
			fmt.Sprintf("park for clarification: %v", parkErr))
	}

	bg := context.Background()
	body, _ := json.Marshal(clarificationBody{CallID: req.CallID, Question: req.Question})
	r.e.appendMessage(bg, models.Message{
		SessionID: r.plan.SessionID,
		PlanID:    r.plan.ID,
		StepID:    step.ID,
		Kind:      models.MessageKindClarificationRequest,
		AgentName: step.AgentName,
		Body:      string(body),
	})
	if err := r.e.publisher.PublishClarificationAsked(bg, r.plan.SessionID, r.plan.ID, step.ID, events.ClarificationAskedPayload{
		AgentName: step.AgentName,
		Question:  req.Question,
	}); err != nil {
		logger.Warn("Failed to publish ClarificationAsked", "error", err)
	}
	logger.Info("Step parked for clarification")

	answer, res := r.awaitAnswer(ctx, w, step)
	if res != nil {
		return res
	}
	ag.AddClarificationAnswer(req.CallID, answer)
	logger.Info("Clarification answered, step resuming")
	return nil
}

// awaitAnswer blocks until the clarification is answered, the plan is
// cancelled, or the plan context ends. The waiter channel is the fast path
// for same-pod answers; the poll covers answers applied by another replica
// and cancellations that raced past the wake-up.
func (r *planRun) awaitAnswer(ctx context.Context, w *planWaiter, step *models.Step) (string, *ExecutionResult) {
	ticker := time.NewTicker(r.e.queueCfg.PollInterval)
	defer ticker.Stop()
	wake := w.wake
	for {
		select {
		case answer := <-w.answer:
			return answer, nil
		case <-wake:
			// One-shot nudge; fall through to the document check.
			wake = nil
		case <-ticker.C:
		case <-ctx.Done():
			return "", r.interrupted(ctx)
		}

		fresh, err := r.e.plans.GetPlan(context.Background(), r.plan.SessionID, r.plan.ID)
		if err != nil {
			r.logger.Warn("Failed to refresh parked plan", "error", err)
			continue
		}
		r.plan = fresh
		if fresh.ClaimedBy != r.e.podID {
			return "", r.claimLost()
		}
		if fresh.CancellationRequested {
			return "", r.cancelPlan("cancelled by user")
		}
		s := fresh.StepByID(step.ID)
		if s != nil && s.Status == models.StepStatusRunning && fresh.OverallStatus == models.PlanStatusRunning {
			// Unparked by another replica; the reply is in the transcript.
			if answer, ok := r.lookupReply(step.ID); ok {
				return answer, nil
			}
			// The status flipped before the reply became readable; next tick.
		}
	}
}

// lookupReply finds the most recent clarification reply for the step.
func (r *planRun) lookupReply(stepID string) (string, bool) {
	msgs, err := r.e.messages.TranscriptTail(context.Background(), r.plan.SessionID, r.plan.ID, 100)
	if err != nil {
		r.logger.Warn("Failed to read transcript for clarification reply", "error", err)
		return "", false
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == models.MessageKindClarificationReply && msgs[i].StepID == stepID {
			return msgs[i].Body, true
		}
	}
	return "", false
}

// replayStep rebuilds the agent window from the committed transcript: tool
// exchanges whose results persisted are fed back without re-invoking, and an
// unanswered clarification request is returned so the caller can re-park.
// Calls recorded without a result are dropped; the model re-requests them if
// they still matter.
func (r *planRun) replayStep(ctx context.Context, ag *agent.Agent, step *models.Step) (int, *clarificationBody, error) {
	msgs, err := r.e.messages.ListMessages(ctx, r.plan.SessionID, persistence.ListOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("load transcript: %w", err)
	}

	calls := make(map[string]toolCallBody)
	var exchanges []agent.ToolExchange
	var parked *clarificationBody

	for _, m := range msgs {
		if m.PlanID != r.plan.ID || m.StepID != step.ID {
			continue
		}
		switch m.Kind {
		case models.MessageKindToolCall:
			var body toolCallBody
			if err := json.Unmarshal([]byte(m.Body), &body); err != nil {
				r.logger.Warn("Skipping undecodable tool_call entry", "message_id", m.ID, "error", err)
				continue
			}
			calls[body.CallID] = body
		case models.MessageKindToolResult:
			var body toolResultBody
			if err := json.Unmarshal([]byte(m.Body), &body); err != nil {
				r.logger.Warn("Skipping undecodable tool_result entry", "message_id", m.ID, "error", err)
				continue
			}
			call := agent.ToolCall{ID: body.CallID, Name: body.ToolName}
			if c, ok := calls[body.CallID]; ok {
				call.Arguments = c.Arguments
				delete(calls, body.CallID)
			}
			exchanges = append(exchanges, agent.ToolExchange{Call: call, Result: body.Content})
		case models.MessageKindClarificationRequest:
			var body clarificationBody
			if err := json.Unmarshal([]byte(m.Body), &body); err != nil {
				r.logger.Warn("Skipping undecodable clarification entry", "message_id", m.ID, "error", err)
				continue
			}
			parked = &body
		case models.MessageKindClarificationReply:
			if parked == nil {
				continue
			}
			exchanges = append(exchanges, clarificationExchange(parked, m.Body))
			parked = nil
		}
	}

	if len(exchanges) > 0 {
		ag.ReplayToolResults(exchanges)
		r.logger.Info("Replayed committed exchanges into the agent window",
			"count", len(exchanges), "step_id", step.ID)
	}
	return len(exchanges), parked, nil
}

// seedFor builds the conversation seed for a step. Dataset handles go to
// each agent once per plan, on the first step it executes.
func (r *planRun) seedFor(step *models.Step, spec *models.AgentSpec) agent.StepSeed {
	seed := agent.StepSeed{
		SystemPrompt: spec.SystemPrompt,
		UserRequest:  r.plan.UserRequest,
		Facts:        r.plan.Facts,
		PriorSteps:   r.priorOutcomes(step.Ordinal),
		Step:         *step,
		TotalSteps:   len(r.plan.Steps),
	}
	if !r.seeded[spec.Name] {
		r.seeded[spec.Name] = true
		seed.Datasets = r.handles
	}
	return seed
}

func (r *planRun) priorOutcomes(before int) []agent.StepOutcome {
	var out []agent.StepOutcome
	for i := range r.plan.Steps {
		s := &r.plan.Steps[i]
		if s.Ordinal >= before || !s.Status.Terminal() {
			continue
		}
		out = append(out, agent.StepOutcome{
			Ordinal:   s.Ordinal,
			AgentName: s.AgentName,
			Action:    s.Action,
			Status:    s.Status,
			Output:    s.OutputText,
		})
	}
	return out
}

// clarificationExchange renders a request/answer pair as the committed tool
// exchange it logically is.
func clarificationExchange(req *clarificationBody, answer string) agent.ToolExchange {
	args, _ := json.Marshal(map[string]string{"question": req.Question})
	return agent.ToolExchange{
		Call: agent.ToolCall{
			ID:        req.CallID,
			Name:      agent.ClarificationToolName,
			Arguments: string(args),
		},
		Result: answer,
	}
}

func resultDigest(res *agent.ToolResult) string {
	if res.ResultDigest != "" {
		return res.ResultDigest
	}
	return mcp.Digest([]byte(res.Content))
}

// serverOf extracts the server half of a namespaced tool name, empty when
// the name does not parse (the clarification pseudo-tool never reaches
// here).
func serverOf(toolName string) string {
	serverID, _, err := mcp.SplitToolName(mcp.NormalizeToolName(toolName))
	if err != nil {
		return ""
	}
	return serverID
}
