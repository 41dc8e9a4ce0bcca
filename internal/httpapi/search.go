package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/query"
)

type searchRequest struct {
	Query        string  `json:"query"`
	CollectionID string  `json:"collectionId"`
	OwnerID      string  `json:"ownerId,omitempty"`
	ResourceID   string  `json:"resourceId,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	MinScore     float64 `json:"minScore,omitempty"`
	UseFeedback  bool    `json:"useFeedback,omitempty"`
	Analytics    bool    `json:"analytics,omitempty"`
	IsReview     bool    `json:"isReview,omitempty"`
}

type searchHit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Payload  map[string]any    `json:"payload"`
	Feedback map[string]string `json:"feedback,omitempty"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" || req.CollectionID == "" {
		writeError(w, http.StatusBadRequest, "validation", "query and collectionId are required")
		return
	}

	resp, err := s.engine.Search(r.Context(), query.Request{
		Query:        req.Query,
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
		ResourceID:   req.ResourceID,
		TopK:         req.Limit,
		UseFeedback:  req.UseFeedback,
		Analytics:    req.Analytics,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(resp.Results))
	for _, res := range resp.Results {
		if req.MinScore > 0 && res.Score < req.MinScore {
			continue
		}
		hit := searchHit{
			ID:    res.ChunkID,
			Score: res.Score,
			Payload: map[string]any{
				"content":    res.Content,
				"resourceId": res.ResourceID,
				"metadata":   res.Metadata,
			},
		}
		if req.IsReview {
			hit.Feedback = s.mintReviewLinks(r, req, res)
		}
		hits = append(hits, hit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": hits,
		"tookMs": resp.TookMS,
	})
}

// mintReviewLinks stores an opaque reference per result so a reader can vote
// from a link without setting headers. Failure to mint degrades to a result
// without links.
func (s *Server) mintReviewLinks(r *http.Request, req searchRequest, res query.Result) map[string]string {
	if s.kv == nil {
		return nil
	}
	referenceID := uuid.New().String()
	link := cache.FeedbackLink{
		Query:        req.Query,
		CollectionID: req.CollectionID,
		ChunkID:      res.ChunkID,
		ResourceID:   res.ResourceID,
		OwnerID:      req.OwnerID,
	}
	if err := s.kv.PutFeedbackLink(r.Context(), referenceID, link); err != nil {
		s.log.Warn("Review link mint failed", zap.Error(err))
		return nil
	}
	return map[string]string{
		"upvote":   "/feedback/vote/" + referenceID + "/upvote",
		"downvote": "/feedback/vote/" + referenceID + "/downvote",
	}
}
