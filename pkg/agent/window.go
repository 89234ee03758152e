package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokensPerMessage is the per-message framing overhead in the OpenAI chat
// format (<|start|>role ... <|end|>). Other providers differ slightly; the
// budget is a soft limit so the approximation is fine.
const tokensPerMessage = 3

// replyPrimingTokens accounts for the <|start|>assistant<|message|> priming
// every reply begins with.
const replyPrimingTokens = 3

// fallbackEncoding is used when the model has no registered tiktoken
// encoding (Anthropic, Gemini, local models).
const fallbackEncoding = "cl100k_base"

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// encodingForModel resolves a tokenizer for the model, caching per model
// name. Returns nil when no encoding can be loaded at all; callers fall back
// to byte-length estimation.
func encodingForModel(model string) *tiktoken.Tiktoken {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()
	if enc, ok := encodingCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			slog.Warn("No tiktoken encoding available, falling back to byte estimation",
				"model", model, "error", err)
			encodingCache[model] = nil
			return nil
		}
	}
	encodingCache[model] = enc
	return enc
}

// SummarizeFunc condenses a dropped transcript slice into one context entry.
// Implementations call the LLM; errors make Trim fall open to mechanical
// truncation.
type SummarizeFunc func(ctx context.Context, transcript string) (string, error)

// Window is the agent's running conversation. It owns the message sequence
// for one (agent, plan) pairing and compacts itself when the token budget is
// exceeded: system prompt, initial request, the most recent clarification
// pair, and the last K tool results survive; everything in between collapses
// into a single summarized context entry.
//
// Window is not safe for concurrent use. Each executing plan runs on one
// goroutine, which is the only writer.
type Window struct {
	messages []ConversationMessage
	encoding *tiktoken.Tiktoken

	budget          int
	keptToolResults int
}

// NewWindow creates a window sized by the configured token budget.
func NewWindow(model string, budget, keptToolResults int) *Window {
	if budget <= 0 {
		budget = 32000
	}
	if keptToolResults <= 0 {
		keptToolResults = 6
	}
	return &Window{
		encoding:        encodingForModel(model),
		budget:          budget,
		keptToolResults: keptToolResults,
	}
}

// Append adds messages to the end of the window.
func (w *Window) Append(msgs ...ConversationMessage) {
	w.messages = append(w.messages, msgs...)
}

// Messages returns a copy of the current window contents.
func (w *Window) Messages() []ConversationMessage {
	out := make([]ConversationMessage, len(w.messages))
	copy(out, w.messages)
	return out
}

// Len returns the number of messages in the window.
func (w *Window) Len() int {
	return len(w.messages)
}

// countText returns the token count for one text fragment.
func (w *Window) countText(text string) int {
	if text == "" {
		return 0
	}
	if w.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(w.encoding.Encode(text, nil, nil))
}

// countMessage returns the token cost of one message including framing.
func (w *Window) countMessage(m ConversationMessage) int {
	n := tokensPerMessage
	n += w.countText(m.Role)
	n += w.countText(m.Content)
	n += w.countText(m.ToolName)
	for _, tc := range m.ToolCalls {
		n += w.countText(tc.Name)
		n += w.countText(tc.Arguments)
	}
	return n
}

// TokenCount returns the approximate token cost of the whole window.
func (w *Window) TokenCount() int {
	total := replyPrimingTokens
	for _, m := range w.messages {
		total += w.countMessage(m)
	}
	return total
}

// NeedsTrim reports whether the window exceeds its token budget.
func (w *Window) NeedsTrim() bool {
	return w.TokenCount() > w.budget
}

// Trim compacts the window to approach the token budget. The head (system
// prompt + initial request) and a tail covering the last K tool results stay
// verbatim, as does the most recent clarification exchange; the middle is
// replaced by one summarized context entry. summarize may be nil, in which
// case (or on summarizer error) the dropped text is mechanically truncated.
//
// Trim never guarantees the result fits the budget — a pathological tail of
// huge tool results can still exceed it — but the protected set is small by
// construction, so in practice one pass suffices.
func (w *Window) Trim(ctx context.Context, summarize SummarizeFunc) {
	// Head: system prompt + the initial user request. Windows shorter than
	// head+tail have nothing worth dropping.
	const headLen = 2
	if len(w.messages) <= headLen+1 {
		return
	}

	tailStart := w.tailStart(headLen)
	if tailStart <= headLen {
		return // nothing between head and tail
	}

	// Most recent clarification exchange inside the doomed middle.
	clarStart, clarEnd := w.latestClarificationPair(headLen, tailStart)

	var dropped []ConversationMessage
	var kept []ConversationMessage
	for i := headLen; i < tailStart; i++ {
		if clarStart >= 0 && i >= clarStart && i <= clarEnd {
			kept = append(kept, w.messages[i])
			continue
		}
		dropped = append(dropped, w.messages[i])
	}
	if len(dropped) == 0 {
		return
	}

	transcript := renderTranscript(dropped)
	summary := ""
	if summarize != nil {
		s, err := summarize(ctx, transcript)
		if err != nil || strings.TrimSpace(s) == "" {
			slog.Warn("Window summarization failed, falling back to truncation",
				"dropped_messages", len(dropped), "error", err)
		} else {
			summary = s
		}
	}
	if summary == "" {
		summary = truncateTranscript(transcript, w.budget/8*4)
	}

	compacted := make([]ConversationMessage, 0, headLen+1+len(kept)+len(w.messages)-tailStart)
	compacted = append(compacted, w.messages[:headLen]...)
	compacted = append(compacted, ConversationMessage{
		Role: RoleUser,
		Content: "## Earlier conversation (condensed)\n\n" + summary +
			"\n\n(Older turns were condensed to fit the context window. Recent tool results follow verbatim.)",
	})
	compacted = append(compacted, kept...)
	compacted = append(compacted, w.messages[tailStart:]...)
	w.messages = compacted
}

// tailStart returns the index where the protected tail begins: the smallest
// suffix containing the last K tool results, widened so a tool result is
// never separated from the assistant message that requested it.
func (w *Window) tailStart(headLen int) int {
	seen := 0
	start := len(w.messages)
	for i := len(w.messages) - 1; i >= headLen; i-- {
		start = i
		if w.messages[i].Role == RoleTool {
			seen++
			if seen >= w.keptToolResults {
				break
			}
		}
	}
	// Widen to include the owning assistant message so tool results keep
	// their requesting call.
	for start > headLen && w.messages[start].Role == RoleTool {
		if w.messages[start-1].Role == RoleTool || len(w.messages[start-1].ToolCalls) > 0 {
			start--
		} else {
			break
		}
	}
	return start
}

// latestClarificationPair locates the most recent request_clarification
// exchange in [from, to): the assistant message carrying the pseudo-tool
// call and the tool reply right after it. Returns (-1, -1) when none exists.
func (w *Window) latestClarificationPair(from, to int) (int, int) {
	for i := to - 1; i >= from; i-- {
		m := w.messages[i]
		for _, tc := range m.ToolCalls {
			if tc.Name == ClarificationToolName {
				end := i
				if i+1 < to && w.messages[i+1].Role == RoleTool {
					end = i + 1
				}
				return i, end
			}
		}
	}
	return -1, -1
}

// renderTranscript flattens messages into labeled plain text for the
// summarizer.
func renderTranscript(msgs []ConversationMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&sb, "[assistant → tool %s] %s\n", tc.Name, tc.Arguments)
			}
			if m.Content != "" {
				fmt.Fprintf(&sb, "[assistant] %s\n", m.Content)
			}
		case m.Role == RoleTool:
			fmt.Fprintf(&sb, "[tool %s] %s\n", m.ToolName, m.Content)
		default:
			fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Content)
		}
	}
	return sb.String()
}

// truncateTranscript keeps the trailing maxChars of the transcript; the
// most recent context is the most likely to still matter.
func truncateTranscript(transcript string, maxChars int) string {
	if maxChars <= 0 || len(transcript) <= maxChars {
		return transcript
	}
	cut := len(transcript) - maxChars
	if idx := strings.Index(transcript[cut:], "\n"); idx >= 0 {
		cut += idx + 1
	}
	return "[earlier context truncated]\n" + transcript[cut:]
}
