package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Run("expands set variables", func(t *testing.T) {
		t.Setenv("TEST_EXPAND_HOST", "db.example.com")
		t.Setenv("TEST_EXPAND_PORT", "5432")

		result := ExpandEnv([]byte("url: {{.TEST_EXPAND_HOST}}:{{.TEST_EXPAND_PORT}}"))

		assert.Equal(t, "url: db.example.com:5432", string(result))
	})

	t.Run("missing variable expands to empty string", func(t *testing.T) {
		result := ExpandEnv([]byte("token: {{.PLANOR_TEST_DEFINITELY_UNSET}}"))

		assert.Equal(t, "token: ", string(result))
	})

	t.Run("content without templates passes through", func(t *testing.T) {
		input := []byte("name: planor\ncount: 3\n")

		assert.Equal(t, input, ExpandEnv(input))
	})

	t.Run("dollar signs in regex patterns are preserved", func(t *testing.T) {
		input := []byte(`pattern: "^secret.*$"` + "\n" + `password: "p@ss$word"`)

		assert.Equal(t, input, ExpandEnv(input))
	})

	t.Run("malformed template passes through unchanged", func(t *testing.T) {
		input := []byte("broken: {{.UNCLOSED")

		assert.Equal(t, input, ExpandEnv(input))
	})

	t.Run("values containing equals signs survive", func(t *testing.T) {
		t.Setenv("TEST_EXPAND_QUERY", "a=1&b=2")

		result := ExpandEnv([]byte("query: {{.TEST_EXPAND_QUERY}}"))

		assert.Equal(t, "query: a=1&b=2", string(result))
	})
}
