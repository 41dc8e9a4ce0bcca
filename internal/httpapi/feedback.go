package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/models"
)

type voteRequest struct {
	CollectionID string `json:"collectionId"`
	Query        string `json:"query"`
	ChunkID      string `json:"chunkId"`
	ResourceID   string `json:"resourceId"`
	Action       string `json:"action"`
	OwnerID      string `json:"ownerId,omitempty"`
}

// postVote queues one vote for the feedback worker and mints a review
// reference so the caller can repeat the vote by link.
func (s *Server) postVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CollectionID == "" || req.Query == "" || req.ChunkID == "" {
		writeError(w, http.StatusBadRequest, "validation", "collectionId, query and chunkId are required")
		return
	}
	if req.Action != models.ActionUpvote && req.Action != models.ActionDownvote {
		writeError(w, http.StatusBadRequest, "validation", "action must be upvote or downvote")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = models.DefaultOwnerID
	}

	if err := s.publishVote(r, models.FeedbackEvent{
		Version:      models.EventVersion,
		Query:        req.Query,
		ChunkID:      req.ChunkID,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "feedback queue unavailable")
		return
	}

	resp := map[string]any{"success": true, "message": "feedback queued"}
	if s.kv != nil {
		referenceID := uuid.New().String()
		err := s.kv.PutFeedbackLink(r.Context(), referenceID, cache.FeedbackLink{
			Query:        req.Query,
			CollectionID: req.CollectionID,
			ChunkID:      req.ChunkID,
			ResourceID:   req.ResourceID,
			OwnerID:      req.OwnerID,
		})
		if err == nil {
			resp["referenceId"] = referenceID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// reviewVote resolves a minted reference and queues the vote. Served as
// text/html so the link works from a browser or mail client.
func (s *Server) reviewVote(w http.ResponseWriter, r *http.Request) {
	refID := r.PathValue("refId")
	action := r.PathValue("action")
	if action != models.ActionUpvote && action != models.ActionDownvote {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	link, err := s.kv.GetFeedbackLink(r.Context(), refID)
	if errors.Is(err, cache.ErrLinkExpired) {
		http.Error(w, "feedback link expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "feedback link lookup failed", http.StatusInternalServerError)
		return
	}

	if err := s.publishVote(r, models.FeedbackEvent{
		Version:      models.EventVersion,
		Query:        link.Query,
		ChunkID:      link.ChunkID,
		ResourceID:   link.ResourceID,
		Action:       action,
		CollectionID: link.CollectionID,
		OwnerID:      link.OwnerID,
	}); err != nil {
		http.Error(w, "feedback queue unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><p>Thanks, your %s was recorded.</p></body></html>", action)
}

func (s *Server) publishVote(r *http.Request, ev models.FeedbackEvent) error {
	if err := s.bus.Publish(r.Context(), broker.QueueFeedback, ev); err != nil {
		s.log.Error("Feedback publish failed",
			zap.String("collection_id", ev.CollectionID), zap.Error(err))
		return err
	}
	return nil
}
