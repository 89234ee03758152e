package agent

import (
	"context"
	"fmt"
	"strings"
)

// TurnResponse holds the fully-collected response from one streaming LLM
// call. Tool calls arrive fully assembled (the provider sidecar buffers
// partial fragments), so no reassembly happens here.
type TurnResponse struct {
	Text         string
	ThinkingText string
	ToolCalls    []ToolCall
	Usage        *TokenUsage
}

// TokenUsage aggregates token consumption across LLM calls.
type TokenUsage struct {
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	ThinkingTokens int
}

// Add accumulates usage from one call into a running total.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.ThinkingTokens += other.ThinkingTokens
}

// StreamCallback receives each text delta as it arrives. Used to re-emit
// model output as StreamDelta events while the turn is still running.
// delta is the new content only; clients concatenate locally. This keeps
// each pg_notify payload small and under PostgreSQL's 8 KB NOTIFY limit.
type StreamCallback func(delta string)

// callLLM performs a single LLM call and collects the complete response.
// The derived context guarantees the producer goroutine inside Generate is
// cleaned up when we return.
func callLLM(ctx context.Context, llm LLMClient, input *GenerateInput, callback StreamCallback) (*TurnResponse, error) {
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := llm.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	return collectStream(ctx, stream, callback)
}

// collectStream drains an LLM chunk channel into a complete TurnResponse.
// The callback is optional (nil = buffered mode). An ErrorChunk aborts
// collection and surfaces as an error.
func collectStream(ctx context.Context, stream <-chan Chunk, callback StreamCallback) (*TurnResponse, error) {
	resp := &TurnResponse{}
	var textBuf, thinkingBuf strings.Builder

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				resp.Text = textBuf.String()
				resp.ThinkingText = thinkingBuf.String()
				return resp, nil
			}
			switch c := chunk.(type) {
			case *TextChunk:
				textBuf.WriteString(c.Content)
				if callback != nil && c.Content != "" {
					callback(c.Content)
				}
			case *ThinkingChunk:
				thinkingBuf.WriteString(c.Content)
			case *ToolCallChunk:
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        c.CallID,
					Name:      c.Name,
					Arguments: c.Arguments,
				})
			case *UsageChunk:
				resp.Usage = &TokenUsage{
					InputTokens:    int(c.InputTokens),
					OutputTokens:   int(c.OutputTokens),
					TotalTokens:    int(c.TotalTokens),
					ThinkingTokens: int(c.ThinkingTokens),
				}
			case *ErrorChunk:
				return nil, fmt.Errorf("LLM error: %s (code: %s, retryable: %v)",
					c.Message, c.Code, c.Retryable)
			}
		}
	}
}
