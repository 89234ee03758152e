// Code generated by ent, DO NOT EDIT.

package ent

import (
	"time"

	"github.com/planor-ai/planor/ent/document"
	"github.com/planor-ai/planor/ent/event"
	"github.com/planor-ai/planor/ent/schema"
)

// The init function reads all schema descriptors with runtime code
// (default values, validators, hooks and policies) and stitches it
// to their package variables.
func init() {
	documentFields := schema.Document{}.Fields()
	_ = documentFields
	// documentDescSchemaVersion is the schema descriptor for schema_version field.
	documentDescSchemaVersion := documentFields[4].Descriptor()
	// document.DefaultSchemaVersion holds the default value on creation for the schema_version field.
	document.DefaultSchemaVersion = documentDescSchemaVersion.Default.(int)
	// documentDescRev is the schema descriptor for rev field.
	documentDescRev := documentFields[5].Descriptor()
	// document.DefaultRev holds the default value on creation for the rev field.
	document.DefaultRev = documentDescRev.Default.(int64)
	// documentDescCreatedAt is the schema descriptor for created_at field.
	documentDescCreatedAt := documentFields[8].Descriptor()
	// document.DefaultCreatedAt holds the default value on creation for the created_at field.
	document.DefaultCreatedAt = documentDescCreatedAt.Default.(func() time.Time)
	// documentDescUpdatedAt is the schema descriptor for updated_at field.
	documentDescUpdatedAt := documentFields[9].Descriptor()
	// document.DefaultUpdatedAt holds the default value on creation for the updated_at field.
	document.DefaultUpdatedAt = documentDescUpdatedAt.Default.(func() time.Time)
	// documentDescID is the schema descriptor for id field.
	documentDescID := documentFields[0].Descriptor()
	// document.DefaultID holds the default value on creation for the id field.
	document.DefaultID = documentDescID.Default.(func() string)
	eventFields := schema.Event{}.Fields()
	_ = eventFields
	// eventDescCreatedAt is the schema descriptor for created_at field.
	eventDescCreatedAt := eventFields[3].Descriptor()
	// event.DefaultCreatedAt holds the default value on creation for the created_at field.
	event.DefaultCreatedAt = eventDescCreatedAt.Default.(func() time.Time)
}
