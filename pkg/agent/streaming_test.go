package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkChannel(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollectStream_AssemblesResponse(t *testing.T) {
	stream := chunkChannel(
		&ThinkingChunk{Content: "let me think"},
		&TextChunk{Content: "the answer "},
		&TextChunk{Content: "is 42"},
		&ToolCallChunk{CallID: "c1", Name: "data.summarize", Arguments: `{"dataset_id":"ds-1"}`},
		&UsageChunk{InputTokens: 7, OutputTokens: 3, TotalTokens: 10, ThinkingTokens: 2},
	)

	var deltas []string
	resp, err := collectStream(context.Background(), stream, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "the answer is 42", resp.Text)
	assert.Equal(t, "let me think", resp.ThinkingText)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "data.summarize", resp.ToolCalls[0].Name)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, []string{"the answer ", "is 42"}, deltas)
}

func TestCollectStream_NilCallback(t *testing.T) {
	resp, err := collectStream(context.Background(), chunkChannel(&TextChunk{Content: "ok"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestCollectStream_ErrorChunkAborts(t *testing.T) {
	stream := chunkChannel(
		&TextChunk{Content: "partial"},
		&ErrorChunk{Message: "boom", Code: "500", Retryable: false},
	)
	_, err := collectStream(context.Background(), stream, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "500")
}

func TestCollectStream_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unclosed channel: only the context can end collection.
	stream := make(chan Chunk)
	_, err := collectStream(ctx, stream, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenUsage_Add(t *testing.T) {
	total := TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	total.Add(&TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, ThinkingTokens: 5})
	total.Add(nil)

	assert.Equal(t, 11, total.InputTokens)
	assert.Equal(t, 22, total.OutputTokens)
	assert.Equal(t, 33, total.TotalTokens)
	assert.Equal(t, 5, total.ThinkingTokens)
}
