package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// Document holds the schema definition for the Document entity: one row per
// domain document in a (kind, partition_key, doc_id) keyspace. The body is
// the JSON-encoded entity; rev backs optimistic concurrency; status is a
// promoted filter column so list queries (e.g. non-terminal plans on
// startup) avoid scanning bodies.
type Document struct {
	ent.Schema
}

// Fields of the Document.
func (Document) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("document_pk").
			DefaultFunc(uuid.NewString).
			Unique().
			Immutable(),
		field.Enum("kind").
			Values("sessions", "teams", "plans", "messages", "datasets").
			Immutable(),
		field.String("partition_key").
			Immutable().
			Comment("session_id for plans/messages/datasets/sessions, team_id for teams"),
		field.String("doc_id").
			Immutable(),
		field.Int("schema_version").
			Default(1),
		field.Int64("rev").
			Default(1).
			Comment("Bumped on every effective patch; guards concurrent writers"),
		field.String("status").
			Optional().
			Nillable().
			Comment("Promoted from the body for filterable kinds (plans)"),
		field.Text("body"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now),
	}
}

// Indexes of the Document.
func (Document) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("kind", "partition_key", "doc_id").
			Unique(),
		index.Fields("kind", "partition_key", "created_at"),
		index.Fields("kind", "status"),
	}
}
