package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tospeech/server/internal/model"
	"github.com/tospeech/server/internal/queue"
)

const (
	maxBodySize = 1 << 20 // 1 MB

	anonymousOwner = "anonymous"
)

// submitResponse is the body for an accepted POST /v1/generate.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var spec model.JobSpec
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.dispatcher.Submit(spec, ownerID(r))
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidSpec):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrQueueUnavailable):
			s.writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		default:
			s.logger.Error("submit job", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, Status: "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.dispatcher.Status(id)
	if err != nil {
		s.logger.Error("job status", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job status")
		return
	}

	s.writeJSON(w, http.StatusOK, s.signStatus(st))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.dispatcher.Cancel(id)
	if err != nil {
		s.logger.Error("cancel job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	s.writeJSON(w, http.StatusOK, s.signStatus(st))
}

// signStatus attaches a fresh signed download link to a completed job's
// artifact. The stored path is unsigned; every status response gets its own
// expiry window.
func (s *Server) signStatus(st *model.JobStatus) *model.JobStatus {
	if st.Result == nil {
		return st
	}
	signed := *st
	rec := *st.Result
	rec.StoragePath = s.signer.SignPath(rec.StoragePath)
	signed.Result = &rec
	return &signed
}

// ownerID identifies the requesting client. History rows and artifacts are
// scoped to this value; absent the header, everything lands in a shared
// anonymous scope.
func ownerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return anonymousOwner
}
