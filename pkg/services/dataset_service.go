package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// DatasetService manages dataset handles. Contents live in blob storage;
// only the handles pass through here.
type DatasetService struct {
	store persistence.Store
}

// NewDatasetService creates a new DatasetService
func NewDatasetService(store persistence.Store) *DatasetService {
	return &DatasetService{store: store}
}

// RegisterDataset stores a handle for an uploaded dataset. The id is
// assigned here; Location must already point at the stored blob.
func (s *DatasetService) RegisterDataset(_ context.Context, handle models.DatasetHandle) (*models.DatasetHandle, error) {
	if handle.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if handle.Filename == "" {
		return nil, NewValidationError("filename", "required")
	}
	if handle.Location == "" {
		return nil, NewValidationError("location", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handle.ID = uuid.New().String()
	handle.UploadedAt = time.Now().UTC()

	body, err := json.Marshal(&handle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dataset handle: %w", err)
	}

	_, err = s.store.Put(ctx, persistence.Document{
		Kind:         persistence.KindDatasets,
		ID:           handle.ID,
		PartitionKey: handle.SessionID,
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register dataset: %w", mapStoreError(err))
	}

	return &handle, nil
}

// GetDataset retrieves a dataset handle within its session.
func (s *DatasetService) GetDataset(ctx context.Context, sessionID, datasetID string) (*models.DatasetHandle, error) {
	if datasetID == "" {
		return nil, NewValidationError("dataset_id", "required")
	}

	doc, err := s.store.Get(ctx, persistence.KindDatasets, datasetID, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	var handle models.DatasetHandle
	if err := json.Unmarshal(doc.Body, &handle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset %s: %w", datasetID, err)
	}
	return &handle, nil
}

// ListDatasets returns the session's dataset handles, oldest upload first.
func (s *DatasetService) ListDatasets(ctx context.Context, sessionID string) ([]*models.DatasetHandle, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	docs, err := s.store.List(ctx, persistence.KindDatasets, sessionID, persistence.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", mapStoreError(err))
	}

	handles := make([]*models.DatasetHandle, 0, len(docs))
	for _, doc := range docs {
		var handle models.DatasetHandle
		if err := json.Unmarshal(doc.Body, &handle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dataset %s: %w", doc.ID, err)
		}
		handles = append(handles, &handle)
	}
	return handles, nil
}

// DeleteDataset removes a dataset handle. The blob itself is the cleanup
// service's responsibility.
func (s *DatasetService) DeleteDataset(httpCtx context.Context, sessionID, datasetID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, persistence.KindDatasets, datasetID, sessionID); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", mapStoreError(err))
	}
	return nil
}
