package events

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// memBusRetention caps the per-channel event log so a long-running
// in-memory instance cannot grow without bound. Catchup from a cursor
// older than the retained window simply replays what is left; the
// overflow marker still fires when more than catchupLimit events remain.
const memBusRetention = 4096

// MemBus is the in-memory counterpart of PostgresSink plus NotifyListener:
// it assigns event IDs, keeps a per-channel log for catchup, and dispatches
// directly to the local ConnectionManager. Single-process only — there is
// no cross-pod fan-out without PostgreSQL.
type MemBus struct {
	manager *ConnectionManager

	mu        sync.Mutex
	nextID    int
	byChannel map[string][]CatchupEvent
}

// NewMemBus creates an in-memory event bus dispatching to the given manager.
func NewMemBus(manager *ConnectionManager) *MemBus {
	return &MemBus{
		manager:   manager,
		byChannel: make(map[string][]CatchupEvent),
	}
}

// PersistAndNotify appends the envelope to the channel log and broadcasts
// it with db_event_id injected, mirroring the NOTIFY payload shape.
func (b *MemBus) PersistAndNotify(_ context.Context, _ string, channel string, envelope []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(envelope, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	log := append(b.byChannel[channel], CatchupEvent{ID: id, Payload: payload})
	if len(log) > memBusRetention {
		log = log[len(log)-memBusRetention:]
	}
	b.byChannel[channel] = log
	b.mu.Unlock()

	// The stored payload stays free of db_event_id (catchup injects it from
	// the log ID, same as the DB path), so delivery uses a copy.
	delivered := maps.Clone(payload)
	delivered["db_event_id"] = id
	data, err := json.Marshal(delivered)
	if err != nil {
		return fmt.Errorf("failed to marshal enriched envelope: %w", err)
	}

	b.manager.Broadcast(channel, data)
	return nil
}

// NotifyOnly broadcasts the envelope without recording it.
func (b *MemBus) NotifyOnly(_ context.Context, channel string, envelope []byte) error {
	b.manager.Broadcast(channel, envelope)
	return nil
}

// GetCatchupEvents returns events after sinceID for a channel, oldest
// first, capped at limit. Payload maps are cloned because handleCatchup
// mutates them (db_event_id injection) and the log must stay pristine.
func (b *MemBus) GetCatchupEvents(_ context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []CatchupEvent
	for _, evt := range b.byChannel[channel] {
		if evt.ID <= sinceID {
			continue
		}
		result = append(result, CatchupEvent{ID: evt.ID, Payload: maps.Clone(evt.Payload)})
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CleanupChannel drops the retained log for a channel. Called when the
// owning session is deleted.
func (b *MemBus) CleanupChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byChannel, channel)
}
