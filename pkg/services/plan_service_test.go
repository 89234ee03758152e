package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/models"
)

func TestPlanService_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	service := NewPlanService(store)
	ctx := context.Background()

	session := createTestSession(t, store)
	plan := testPlan(session.ID)
	plan.OverallStatus = models.PlanStatusAwaitingApproval

	require.NoError(t, service.CreatePlan(ctx, plan))

	got, err := service.GetPlan(ctx, session.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, models.PlanStatusAwaitingApproval, got.OverallStatus)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[0].Ordinal)
	assert.Equal(t, models.StepStatusPending, got.Steps[0].Status)

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := service.CreatePlan(ctx, plan)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("wrong session does not see the plan", func(t *testing.T) {
		_, err := service.GetPlan(ctx, "other-session", plan.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("validates ordinals", func(t *testing.T) {
		bad := testPlan(session.ID)
		bad.ID = "plan-bad"
		bad.Steps[1].Ordinal = 5

		err := service.CreatePlan(ctx, bad)
		assert.True(t, IsValidationError(err))
	})
}

func TestPlanService_UpdatePlan(t *testing.T) {
	store := newTestStore(t)
	service := NewPlanService(store)
	ctx := context.Background()

	session := createTestSession(t, store)

	seed := func(t *testing.T, id string, status models.PlanStatus) *models.Plan {
		t.Helper()
		plan := testPlan(session.ID)
		plan.ID = id
		plan.OverallStatus = status
		require.NoError(t, service.CreatePlan(ctx, plan))
		return plan
	}

	t.Run("legal transition commits", func(t *testing.T) {
		seed(t, "plan-approve", models.PlanStatusAwaitingApproval)

		updated, err := service.UpdatePlan(ctx, session.ID, "plan-approve", func(p *models.Plan) error {
			p.OverallStatus = models.PlanStatusRunning
			p.ClaimedBy = "pod-a"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusRunning, updated.OverallStatus)
		assert.Equal(t, "pod-a", updated.ClaimedBy)
		assert.False(t, updated.UpdatedAt.IsZero())
	})

	t.Run("illegal transition rejected", func(t *testing.T) {
		seed(t, "plan-skip", models.PlanStatusAwaitingApproval)

		_, err := service.UpdatePlan(ctx, session.ID, "plan-skip", func(p *models.Plan) error {
			p.OverallStatus = models.PlanStatusCompleted
			return nil
		})
		assert.ErrorIs(t, err, ErrIllegalTransition)

		// Nothing was written
		got, err := service.GetPlan(ctx, session.ID, "plan-skip")
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusAwaitingApproval, got.OverallStatus)
	})

	t.Run("terminal plans are immutable", func(t *testing.T) {
		seed(t, "plan-done", models.PlanStatusCompleted)

		_, err := service.UpdatePlan(ctx, session.ID, "plan-done", func(p *models.Plan) error {
			p.FinalResult = "rewritten history"
			return nil
		})
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("identity update is a no-op on a terminal plan", func(t *testing.T) {
		seed(t, "plan-final", models.PlanStatusFailed)

		before, err := service.GetPlan(ctx, session.ID, "plan-final")
		require.NoError(t, err)

		after, err := service.UpdatePlan(ctx, session.ID, "plan-final", func(p *models.Plan) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	})

	t.Run("same-status body mutation commits", func(t *testing.T) {
		plan := seed(t, "plan-tools", models.PlanStatusAwaitingApproval)
		_, err := service.UpdatePlan(ctx, session.ID, plan.ID, func(p *models.Plan) error {
			p.OverallStatus = models.PlanStatusRunning
			return nil
		})
		require.NoError(t, err)

		updated, err := service.UpdatePlan(ctx, session.ID, plan.ID, func(p *models.Plan) error {
			p.Steps[0].ToolCalls = append(p.Steps[0].ToolCalls, models.ToolCallRecord{
				ToolName:        "search",
				ArgumentsDigest: "sha256:aaaa",
				ResultDigest:    "sha256:bbbb",
				DurationMS:      42,
			})
			return nil
		})
		require.NoError(t, err)
		require.Len(t, updated.Steps[0].ToolCalls, 1)
		assert.Equal(t, "search", updated.Steps[0].ToolCalls[0].ToolName)
	})

	t.Run("fn error aborts without writing", func(t *testing.T) {
		seed(t, "plan-abort", models.PlanStatusAwaitingApproval)
		boom := errors.New("boom")

		_, err := service.UpdatePlan(ctx, session.ID, "plan-abort", func(p *models.Plan) error {
			p.OverallStatus = models.PlanStatusRunning
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := service.GetPlan(ctx, session.ID, "plan-abort")
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusAwaitingApproval, got.OverallStatus)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := service.UpdatePlan(ctx, session.ID, "nonexistent", func(p *models.Plan) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPlanService_ConcurrentToolCallAppends(t *testing.T) {
	store := newTestStore(t)
	service := NewPlanService(store)
	ctx := context.Background()

	session := createTestSession(t, store)
	plan := testPlan(session.ID)
	plan.OverallStatus = models.PlanStatusRunning
	require.NoError(t, service.CreatePlan(ctx, plan))

	const writers = 4
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			_, err := service.UpdatePlan(ctx, session.ID, plan.ID, func(p *models.Plan) error {
				p.Steps[0].ToolCalls = append(p.Steps[0].ToolCalls, models.ToolCallRecord{
					ToolName:        fmt.Sprintf("tool-%d", n),
					ArgumentsDigest: fmt.Sprintf("sha256:%04d", n),
				})
				return nil
			})
			errCh <- err
		}(i)
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errCh)
	}

	got, err := service.GetPlan(ctx, session.ID, plan.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps[0].ToolCalls, writers, "every concurrent append must land")
}

func TestPlanService_Listing(t *testing.T) {
	store := newTestStore(t)
	service := NewPlanService(store)
	ctx := context.Background()

	session := createTestSession(t, store)

	statuses := []models.PlanStatus{
		models.PlanStatusCompleted,
		models.PlanStatusFailed,
		models.PlanStatusAwaitingApproval,
	}
	for i, status := range statuses {
		plan := testPlan(session.ID)
		plan.ID = fmt.Sprintf("plan-%d", i+1)
		plan.OverallStatus = status
		plan.FinalResult = fmt.Sprintf("result %d", i+1)
		require.NoError(t, service.CreatePlan(ctx, plan))
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	t.Run("summaries newest first", func(t *testing.T) {
		summaries, err := service.ListPlanSummaries(ctx, session.ID, 0)
		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, "plan-3", summaries[0].ID)
		assert.Equal(t, 2, summaries[0].StepCount)
	})

	t.Run("non-terminal scan", func(t *testing.T) {
		plans, err := service.ListNonTerminal(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "plan-3", plans[0].ID)
	})

	t.Run("latest terminal plan", func(t *testing.T) {
		plan, err := service.LatestTerminalPlan(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "plan-2", plan.ID)
		assert.Equal(t, "result 2", plan.FinalResult)
	})

	t.Run("latest terminal on empty session", func(t *testing.T) {
		other := createTestSession(t, store)
		_, err := service.LatestTerminalPlan(ctx, other.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPlanService_DeletePlan(t *testing.T) {
	store := newTestStore(t)
	service := NewPlanService(store)
	ctx := context.Background()

	session := createTestSession(t, store)
	plan := testPlan(session.ID)
	require.NoError(t, service.CreatePlan(ctx, plan))

	require.NoError(t, service.DeletePlan(ctx, session.ID, plan.ID))

	_, err := service.GetPlan(ctx, session.ID, plan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
