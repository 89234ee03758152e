package e2e

import (
	"fmt"
	"regexp"
	"sync"
)

// Normalizer replaces dynamic values with stable placeholders for golden
// comparison. A UUID that appears multiple times gets the same placeholder,
// so referential integrity survives normalization: a step id derived from
// its plan id still reads as "<ID_1>-step-2" everywhere it occurs.
type Normalizer struct {
	mu    sync.Mutex
	uuids map[string]string // original → placeholder
	count int
}

// Regex patterns for dynamic values.
var (
	uuidRe      = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})`)
	dbEventIDRe = regexp.MustCompile(`"db_event_id":\s*\d+`)
	durationRe  = regexp.MustCompile(`"ms":\s*\d+`)
	digestRe    = regexp.MustCompile(`sha256:[0-9a-f]{64}`)
)

// NewNormalizer creates a normalizer. Session, plan, step, and dataset ids
// all reduce to a stable <ID_n> numbering in first-appearance order.
func NewNormalizer() *Normalizer {
	return &Normalizer{uuids: make(map[string]string)}
}

// Normalize replaces every dynamic value in s with a placeholder.
func (n *Normalizer) Normalize(s string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	s = uuidRe.ReplaceAllStringFunc(s, func(id string) string {
		if ph, ok := n.uuids[id]; ok {
			return ph
		}
		n.count++
		ph := fmt.Sprintf("<ID_%d>", n.count)
		n.uuids[id] = ph
		return ph
	})
	s = timestampRe.ReplaceAllString(s, "<TIMESTAMP>")
	s = dbEventIDRe.ReplaceAllString(s, `"db_event_id": <DB_EVENT_ID>`)
	s = durationRe.ReplaceAllString(s, `"ms": <DURATION>`)
	s = digestRe.ReplaceAllString(s, "<DIGEST>")
	return s
}

// NormalizeBytes is a convenience wrapper for Normalize on byte slices.
func (n *Normalizer) NormalizeBytes(data []byte) []byte {
	return []byte(n.Normalize(string(data)))
}
