// Package entstore implements the persistence port on PostgreSQL through
// Ent. Optimistic patches are conditional updates guarded on the document
// revision, so concurrent writers retry instead of overwriting each other.
package entstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planor-ai/planor/ent"
	"github.com/planor-ai/planor/ent/document"
	"github.com/planor-ai/planor/pkg/persistence"
)

// Store is the Ent-backed persistence.Store.
type Store struct {
	client  *ent.Client
	retries int
}

// Option configures a Store.
type Option func(*Store)

// WithConflictRetries overrides the patch retry bound.
func WithConflictRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retries = n
		}
	}
}

// New creates a Store over an existing Ent client. The caller keeps
// ownership of the client's lifecycle unless Close is used.
func New(client *ent.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		retries: persistence.DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ persistence.Store = (*Store)(nil)

// mapError folds driver and Ent errors into the port's sentinel taxonomy.
func mapError(err error, kind persistence.Kind, id string) error {
	switch {
	case err == nil:
		return nil
	case ent.IsNotFound(err):
		return fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, kind, id)
	case ent.IsConstraintError(err):
		return fmt.Errorf("%w: %s/%s", persistence.ErrAlreadyExists, kind, id)
	case ent.IsValidationError(err):
		return fmt.Errorf("%w: %v", persistence.ErrFatal, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	default:
		// Connection drops, failovers, timeouts: retryable from the
		// caller's point of view.
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	}
}

func toPortDoc(row *ent.Document) persistence.Document {
	status := ""
	if row.Status != nil {
		status = *row.Status
	}
	return persistence.Document{
		Kind:          persistence.Kind(row.Kind),
		ID:            row.DocID,
		PartitionKey:  row.PartitionKey,
		SchemaVersion: row.SchemaVersion,
		Rev:           row.Rev,
		Status:        status,
		Body:          []byte(row.Body),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func (s *Store) keyQuery(kind persistence.Kind, id, partition string) *ent.DocumentQuery {
	return s.client.Document.Query().
		Where(
			document.KindEQ(document.Kind(kind)),
			document.PartitionKeyEQ(partition),
			document.DocIDEQ(id),
		)
}

// Put inserts a new document.
func (s *Store) Put(ctx context.Context, doc persistence.Document) (persistence.Document, error) {
	if err := persistence.ValidateKey(doc.Kind, doc.ID, doc.PartitionKey); err != nil {
		return persistence.Document{}, err
	}
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = persistence.CurrentSchemaVersion
	}
	if err := persistence.CheckSchemaVersion(doc); err != nil {
		return persistence.Document{}, err
	}

	now := time.Now()
	create := s.client.Document.Create().
		SetKind(document.Kind(doc.Kind)).
		SetPartitionKey(doc.PartitionKey).
		SetDocID(doc.ID).
		SetSchemaVersion(doc.SchemaVersion).
		SetRev(1).
		SetBody(string(doc.Body)).
		SetCreatedAt(now).
		SetUpdatedAt(now)
	if doc.Status != "" {
		create.SetStatus(doc.Status)
	}

	row, err := create.Save(ctx)
	if err != nil {
		return persistence.Document{}, mapError(err, doc.Kind, doc.ID)
	}
	return toPortDoc(row), nil
}

// Get returns the document at (kind, partition, id).
func (s *Store) Get(ctx context.Context, kind persistence.Kind, id, partition string) (persistence.Document, error) {
	if err := persistence.ValidateKey(kind, id, partition); err != nil {
		return persistence.Document{}, err
	}

	row, err := s.keyQuery(kind, id, partition).Only(ctx)
	if err != nil {
		return persistence.Document{}, mapError(err, kind, id)
	}
	out := toPortDoc(row)
	if err := persistence.CheckSchemaVersion(out); err != nil {
		return persistence.Document{}, err
	}
	return out, nil
}

// List returns the partition's documents of one kind.
func (s *Store) List(ctx context.Context, kind persistence.Kind, partition string, opts persistence.ListOptions) ([]persistence.Document, error) {
	if partition == "" {
		return nil, fmt.Errorf("%w: empty partition key", persistence.ErrFatal)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", persistence.ErrFatal, kind)
	}
	q := s.client.Document.Query().
		Where(
			document.KindEQ(document.Kind(kind)),
			document.PartitionKeyEQ(partition),
		)
	return s.runList(ctx, q, kind, opts)
}

// ListAll returns documents of one kind across every partition.
func (s *Store) ListAll(ctx context.Context, kind persistence.Kind, opts persistence.ListOptions) ([]persistence.Document, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", persistence.ErrFatal, kind)
	}
	q := s.client.Document.Query().
		Where(document.KindEQ(document.Kind(kind)))
	return s.runList(ctx, q, kind, opts)
}

func (s *Store) runList(ctx context.Context, q *ent.DocumentQuery, kind persistence.Kind, opts persistence.ListOptions) ([]persistence.Document, error) {
	if len(opts.Statuses) > 0 {
		q = q.Where(document.StatusIn(opts.Statuses...))
	}
	if opts.Descending {
		q = q.Order(ent.Desc(document.FieldCreatedAt), ent.Desc(document.FieldDocID))
	} else {
		q = q.Order(ent.Asc(document.FieldCreatedAt), ent.Asc(document.FieldDocID))
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	rows, err := q.All(ctx)
	if err != nil {
		return nil, mapError(err, kind, "")
	}
	out := make([]persistence.Document, 0, len(rows))
	for _, row := range rows {
		d := toPortDoc(row)
		if err := persistence.CheckSchemaVersion(d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Patch re-reads, applies fn, and commits with a revision-guarded update.
func (s *Store) Patch(ctx context.Context, kind persistence.Kind, id, partition string, fn persistence.PatchFunc) (persistence.Document, error) {
	if err := persistence.ValidateKey(kind, id, partition); err != nil {
		return persistence.Document{}, err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		row, err := s.keyQuery(kind, id, partition).Only(ctx)
		if err != nil {
			return persistence.Document{}, mapError(err, kind, id)
		}
		current := toPortDoc(row)
		if err := persistence.CheckSchemaVersion(current); err != nil {
			return persistence.Document{}, err
		}

		updated, err := fn(current)
		if err != nil {
			return persistence.Document{}, err
		}
		if err := persistence.CheckSchemaVersion(updated); err != nil {
			return persistence.Document{}, err
		}

		if string(updated.Body) == string(current.Body) && updated.Status == current.Status {
			return current, nil
		}

		update := s.client.Document.Update().
			Where(
				document.IDEQ(row.ID),
				document.RevEQ(current.Rev),
			).
			SetRev(current.Rev + 1).
			SetBody(string(updated.Body)).
			SetSchemaVersion(updated.SchemaVersion).
			SetUpdatedAt(time.Now())
		if updated.Status != "" {
			update.SetStatus(updated.Status)
		} else {
			update.ClearStatus()
		}

		n, err := update.Save(ctx)
		if err != nil {
			return persistence.Document{}, mapError(err, kind, id)
		}
		if n == 0 {
			// Lost the revision race; re-read and re-apply.
			continue
		}
		return s.Get(ctx, kind, id, partition)
	}
	return persistence.Document{}, fmt.Errorf("%w: %s/%s after %d attempts", persistence.ErrConflict, kind, id, s.retries)
}

// Delete removes the document at (kind, partition, id).
func (s *Store) Delete(ctx context.Context, kind persistence.Kind, id, partition string) error {
	if err := persistence.ValidateKey(kind, id, partition); err != nil {
		return err
	}

	n, err := s.client.Document.Delete().
		Where(
			document.KindEQ(document.Kind(kind)),
			document.PartitionKeyEQ(partition),
			document.DocIDEQ(id),
		).
		Exec(ctx)
	if err != nil {
		return mapError(err, kind, id)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, kind, id)
	}
	return nil
}

// Close closes the underlying Ent client.
func (s *Store) Close() error { return s.client.Close() }
