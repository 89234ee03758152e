package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	echo "github.com/labstack/echo/v5"

	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/models"
)

// maxMultipartMemory bounds the in-memory portion of multipart parsing;
// larger payloads spill to temp files.
const maxMultipartMemory = 8 << 20

// uploadDatasetHandler handles POST /api/v1/datasets.
// Expects a multipart form with a session_id field, a file part, and an
// optional owner_hint field naming the agent the dataset is intended for.
// The payload goes to blob storage; only the handle is persisted, so
// transcripts and plan documents never carry raw dataset bytes.
func (s *Server) uploadDatasetHandler(c *echo.Context) error {
	// 1. Verify upload dependencies are initialized
	if s.blobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dataset storage is not available")
	}

	// 2. Parse the form with the configured upload cap
	maxBytes := s.gateway.MaxUploadBytes
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBytes)
	if err := c.Request().ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", maxBytes))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	// 3. Validate fields and ownership
	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if _, err := s.loadOwnedSession(c, sessionID); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file name is required")
	}

	// 4. Store the payload
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()

	put, err := s.blobs.Save(c.Request().Context(), sessionID, f)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", maxBytes))
		}
		slog.Error("Failed to store dataset blob", "session_id", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store dataset")
	}

	// 5. Register the handle
	handle, err := s.datasetService.RegisterDataset(c.Request().Context(), models.DatasetHandle{
		SessionID:   sessionID,
		Filename:    filepath.Base(fh.Filename),
		OwnerHint:   c.FormValue("owner_hint"),
		ByteSize:    put.ByteSize,
		ContentType: fh.Header.Get("Content-Type"),
		Location:    put.Location,
	})
	if err != nil {
		// Registration failed after the blob landed; remove it so cleanup
		// never has to chase unreferenced payloads.
		if rmErr := s.blobs.Remove(c.Request().Context(), put.Location); rmErr != nil {
			slog.Warn("Failed to remove orphaned dataset blob",
				"location", put.Location, "error", rmErr)
		}
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, handle)
}
