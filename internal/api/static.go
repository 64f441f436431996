package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tospeech/server/internal/gateway"
)

// handleStatic serves one generated audio file. Every request must carry a
// valid, unexpired signature; the error message distinguishes missing,
// expired, and invalid so clients can re-request a link instead of retrying
// a dead one.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	q := r.URL.Query()

	if err := s.signer.Verify(filename, q.Get("expires"), q.Get("signature")); err != nil {
		switch {
		case errors.Is(err, gateway.ErrLinkMissing):
			s.writeError(w, http.StatusForbidden, "Missing signature or expiry")
		case errors.Is(err, gateway.ErrLinkExpired):
			s.writeError(w, http.StatusForbidden, "Link expired")
		default:
			s.writeError(w, http.StatusForbidden, "Invalid signature")
		}
		return
	}

	path, err := s.signer.Resolve(filename)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}
