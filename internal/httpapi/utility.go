package httpapi

import (
	"net/http"

	"github.com/vektorlab/passage/internal/embeddings"
)

// encodingModels lists the encoder catalogue so clients can validate
// collection settings up front.
func (s *Server) encodingModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": map[string]any{
			"denseModels":    embeddings.DenseModels(),
			"sparseModels":   embeddings.SparseModels(),
			"rerankerModels": embeddings.RerankerModels(),
		},
	})
}
