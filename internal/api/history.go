package api

import (
	"net/http"

	"github.com/tospeech/server/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listHistoryResponse wraps the paginated history response.
type listHistoryResponse struct {
	Artifacts []*model.ArtifactRecord `json:"artifacts"`
	Total     int                     `json:"total"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	recs, total, err := s.history.ListArtifacts(r.Context(), ownerID(r), limit, offset)
	if err != nil {
		s.logger.Error("list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	// Stored paths are unsigned; each listing hands out fresh links.
	signed := make([]*model.ArtifactRecord, len(recs))
	for i, rec := range recs {
		cp := *rec
		cp.StoragePath = s.signer.SignPath(cp.StoragePath)
		signed[i] = &cp
	}

	s.writeJSON(w, http.StatusOK, listHistoryResponse{
		Artifacts: signed,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}
