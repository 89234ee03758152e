package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/planor-ai/planor/pkg/orchestrator"
	"github.com/planor-ai/planor/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("name", "missing field"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "missing field",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "team not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrTeamNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "team not found",
		},
		{
			name:       "plan active maps to 409",
			err:        services.ErrPlanActive,
			expectCode: http.StatusConflict,
			expectMsg:  "active plan",
		},
		{
			name:       "illegal transition maps to 409 with the message intact",
			err:        fmt.Errorf("%w: plan is completed", services.ErrIllegalTransition),
			expectCode: http.StatusConflict,
			expectMsg:  "plan is completed",
		},
		{
			name:       "no pending clarification maps to 409",
			err:        orchestrator.ErrNoPendingClarification,
			expectCode: http.StatusConflict,
			expectMsg:  "no pending clarification",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", services.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectMsg:  "resource already exists",
		},
		{
			name:       "concurrent modification maps to 409",
			err:        fmt.Errorf("wrapped: %w", services.ErrConcurrentModification),
			expectCode: http.StatusConflict,
			expectMsg:  "modified concurrently",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
