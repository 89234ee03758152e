package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity: the persisted
// domain-event log that backs persist-before-emit and stream catch-up.
// Rows are written inside the same transaction as pg_notify; the implicit
// auto-increment id is the per-channel ordering clients catch up against.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("session_id").
			Immutable().
			Comment("Owning session, for retention cleanup"),
		field.String("channel").
			Immutable().
			Comment("NOTIFY channel the event was published on"),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("channel"),
		index.Fields("session_id"),
		index.Fields("created_at"),
	}
}
