package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/embeddings"
	"github.com/vektorlab/passage/internal/models"
)

type createCollectionRequest struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Metadata    map[string]any            `json:"metadata,omitempty"`
	Settings    models.CollectionSettings `json:"settings"`
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation", "name is required")
		return
	}
	if msg := validateSettings(&req.Settings); msg != "" {
		writeError(w, http.StatusBadRequest, "validation", msg)
		return
	}
	if req.Settings.Strategy == models.StrategyCustom {
		if req.Settings.ChunkingURL == "" {
			writeError(w, http.StatusBadRequest, "validation", "custom strategy requires chunkingUrl")
			return
		}
		if err := s.prober.Probe(r.Context(), req.Settings.ChunkingURL); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
	}

	col := models.Collection{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		Settings:    req.Settings,
		CreatedAt:   time.Now().UTC(),
	}
	col.UpdatedAt = col.CreatedAt
	if err := s.db.CreateCollection(r.Context(), col); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("Collection created", zap.String("collection_id", col.ID), zap.String("name", col.Name))
	writeJSON(w, http.StatusCreated, col)
}

// validateSettings normalizes and validates encoder and chunking settings,
// returning a message on failure.
func validateSettings(set *models.CollectionSettings) string {
	if set.DenseModel == "" {
		set.DenseModel = embeddings.DefaultDenseModel
	}
	if !embeddings.IsValidModel(embeddings.KindDense, set.DenseModel) {
		return "unsupported dense model " + set.DenseModel
	}
	if set.SparseModel != "" && !embeddings.IsValidModel(embeddings.KindSparse, set.SparseModel) {
		return "unsupported sparse model " + set.SparseModel
	}
	if set.RerankerModel != "" && !embeddings.IsValidModel(embeddings.KindLateInteraction, set.RerankerModel) {
		return "unsupported reranker model " + set.RerankerModel
	}
	if set.ChunkSize <= 0 {
		set.ChunkSize = 1000
	}
	if set.ChunkSize > models.MaxChunkSize {
		return "chunkSize exceeds maximum"
	}
	if set.ChunkOverlap < 0 || set.ChunkOverlap >= set.ChunkSize {
		return "chunkOverlap must be in [0, chunkSize)"
	}
	switch set.Strategy {
	case "":
		set.Strategy = models.StrategyRecursive
	case models.StrategyRecursive, models.StrategySemantic, models.StrategyAgentic, models.StrategyCustom:
	default:
		return "unknown strategy " + string(set.Strategy)
	}
	return ""
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.engine.Collection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

type updateCollectionRequest struct {
	ChunkSize    int                  `json:"chunkSize,omitempty"`
	ChunkOverlap int                  `json:"chunkOverlap,omitempty"`
	Strategy     models.ChunkStrategy `json:"strategy,omitempty"`
	ChunkingURL  string               `json:"chunkingUrl,omitempty"`
}

// updateCollection changes chunking parameters only; encoder settings are
// immutable once set.
func (s *Server) updateCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateCollectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	current, err := s.db.GetCollection(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	next := current.Settings
	if req.ChunkSize > 0 {
		next.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap > 0 {
		next.ChunkOverlap = req.ChunkOverlap
	}
	if req.Strategy != "" {
		next.Strategy = req.Strategy
	}
	if req.ChunkingURL != "" {
		next.ChunkingURL = req.ChunkingURL
	}
	if msg := validateSettings(&next); msg != "" {
		writeError(w, http.StatusBadRequest, "validation", msg)
		return
	}
	if next.Strategy == models.StrategyCustom {
		if next.ChunkingURL == "" {
			writeError(w, http.StatusBadRequest, "validation", "custom strategy requires chunkingUrl")
			return
		}
		if err := s.prober.Probe(r.Context(), next.ChunkingURL); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
	}

	col, err := s.db.UpdateCollectionChunking(r.Context(), id, next.ChunkSize, next.ChunkOverlap, next.Strategy, next.ChunkingURL)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if s.kv != nil {
		s.kv.InvalidateCollection(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteCollection(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.kv != nil {
		s.kv.InvalidateCollection(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "collection deleted"})
}
