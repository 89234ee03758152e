package config

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := NewValidationError("mcp_server", "tools", "transport.url", fmt.Errorf("url required"))

		assert.Equal(t, "mcp_server 'tools': field 'transport.url': url required", err.Error())
	})

	t.Run("without field", func(t *testing.T) {
		err := NewValidationError("team", "ops", "", fmt.Errorf("at least one agent is required"))

		assert.Equal(t, "team 'ops': at least one agent is required", err.Error())
	})

	t.Run("unwraps to underlying error", func(t *testing.T) {
		inner := errors.New("boom")
		err := NewValidationError("defaults", "defaults", "per_step_turn_cap", inner)

		assert.ErrorIs(t, err, inner)
	})

	t.Run("unwraps through sentinel chains", func(t *testing.T) {
		err := NewValidationError("llm_provider", "x", "type",
			fmt.Errorf("%w: abacus", ErrInvalidValue))

		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestLoadError(t *testing.T) {
	inner := fmt.Errorf("%w: /etc/planor/planor.yaml", ErrConfigNotFound)
	err := NewLoadError("planor.yaml", inner)

	assert.Equal(t, "failed to load planor.yaml: configuration file not found: /etc/planor/planor.yaml", err.Error())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}
