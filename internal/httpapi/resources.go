package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/models"
)

type createResourceRequest struct {
	CollectionID string                 `json:"collectionId"`
	OwnerID      string                 `json:"ownerId,omitempty"`
	Title        string                 `json:"title,omitempty"`
	URL          string                 `json:"url,omitempty"`
	Content      string                 `json:"content,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	Overrides    *models.ChunkOverrides `json:"chunkOverrides,omitempty"`
}

// createResource registers a resource and kicks off its ingestion with a
// load event. Processing is asynchronous; clients watch /ws or poll status.
func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		writeError(w, http.StatusBadRequest, "validation", "collectionId is required")
		return
	}
	if req.URL == "" && req.Content == "" {
		writeError(w, http.StatusBadRequest, "validation", "one of url or content is required")
		return
	}
	if _, err := s.db.GetCollection(r.Context(), req.CollectionID); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = models.DefaultOwnerID
	}

	now := time.Now().UTC()
	res := models.Resource{
		ID:           uuid.New().String(),
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
		Title:        req.Title,
		URL:          req.URL,
		Content:      req.Content,
		Description:  req.Description,
		Metadata:     req.Metadata,
		Overrides:    req.Overrides,
		RefreshedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateResource(r.Context(), res); err != nil {
		writeStoreError(w, err)
		return
	}

	event := models.IngestEvent{
		Version: models.EventVersion,
		Event:   models.EventLoad,
		Data: models.IngestEventData{
			ResourceID:   res.ID,
			CollectionID: res.CollectionID,
			OwnerID:      res.OwnerID,
			URL:          res.URL,
		},
	}
	if err := s.bus.Publish(r.Context(), broker.QueueIngest, event); err != nil {
		s.log.Error("Ingest event publish failed", zap.String("resource_id", res.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ingestion queue unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.GetResource(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")
	resources, err := s.db.ListResources(r.Context(), collectionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ownerID := r.URL.Query().Get("ownerId")
	withContent := r.URL.Query().Get("content") == "true"
	out := make([]models.Resource, 0, len(resources))
	for _, res := range resources {
		if ownerID != "" && res.OwnerID != ownerID {
			continue
		}
		if !withContent {
			res.Content = ""
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": out,
		"metadata":  map[string]any{"total": len(out)},
	})
}

func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetResource(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	chunks, err := s.db.ListChunks(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

type updateResourceRequest struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Server) updateResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.db.UpdateResourceMeta(r.Context(), id, req.Title, req.Description, req.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	event := models.IngestEvent{
		Version: models.EventVersion,
		Event:   models.EventUpdate,
		Data: models.IngestEventData{
			ResourceID:   res.ID,
			CollectionID: res.CollectionID,
			OwnerID:      res.OwnerID,
		},
	}
	if err := s.bus.Publish(r.Context(), broker.QueueIngest, event); err != nil {
		s.log.Warn("Update event publish failed", zap.String("resource_id", res.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, res)
}

// deleteResource soft-deletes the row and queues the storage cleanup.
func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.db.GetResource(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.db.SoftDeleteResource(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	event := models.IngestEvent{
		Version: models.EventVersion,
		Event:   models.EventDelete,
		Data: models.IngestEventData{
			ResourceID:   res.ID,
			CollectionID: res.CollectionID,
			OwnerID:      res.OwnerID,
		},
	}
	if err := s.bus.Publish(r.Context(), broker.QueueIngest, event); err != nil {
		s.log.Error("Delete event publish failed", zap.String("resource_id", res.ID), zap.Error(err))
	}
	res.IsDeleted = true
	res.Status = models.StatusDeleted
	writeJSON(w, http.StatusOK, res)
}
