package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vektorlab/passage/internal/models"
)

type createEvalCaseRequest struct {
	CollectionID   string   `json:"collectionId"`
	OwnerID        string   `json:"ownerId,omitempty"`
	Query          string   `json:"query"`
	ExpectedChunks []string `json:"expectedChunkIds"`
}

func (s *Server) createEvalCase(w http.ResponseWriter, r *http.Request) {
	var req createEvalCaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CollectionID == "" || req.Query == "" || len(req.ExpectedChunks) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "collectionId, query and expectedChunkIds are required")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = models.DefaultOwnerID
	}
	tc := models.EvalTestCase{
		ID:             uuid.New().String(),
		CollectionID:   req.CollectionID,
		OwnerID:        req.OwnerID,
		Query:          req.Query,
		ExpectedChunks: req.ExpectedChunks,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.CreateEvalCase(r.Context(), tc); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (s *Server) listEvalCases(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("collectionId")
	ownerID := r.PathValue("ownerId")
	cases, err := s.db.ListEvalCases(r.Context(), collectionID, ownerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"testCases": cases,
		"metadata":  map[string]any{"total": len(cases)},
	})
}

// runEval executes the addressed owner's test cases and returns the report.
func (s *Server) runEval(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("datasetId")
	ownerID := r.PathValue("ownerId")
	topK := 0
	if v := r.URL.Query().Get("topK"); v != "" {
		topK, _ = strconv.Atoi(v)
	}
	run, err := s.eval.Run(r.Context(), collectionID, ownerID, topK)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
