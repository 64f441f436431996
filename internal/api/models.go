package api

import (
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tospeech/server/internal/model"
	"github.com/tospeech/server/internal/synth"
)

// Single-file model weights served alongside directory-packaged models.
var weightExtensions = []string{".pt", ".pth", ".safetensors", ".onnx"}

type listModelsResponse struct {
	Models []string `json:"models"`
}

type listVoicesResponse struct {
	Model  string   `json:"model"`
	Voices []string `json:"voices"`
}

// handleListModels reports the models installed under the models directory.
// A model is either a directory or a bare weight file.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.modelsDir)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Error("scan models dir", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	models := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			models = append(models, name)
			continue
		}
		for _, ext := range weightExtensions {
			if strings.HasSuffix(name, ext) {
				models = append(models, strings.TrimSuffix(name, ext))
				break
			}
		}
	}
	sort.Strings(models)

	s.writeJSON(w, http.StatusOK, listModelsResponse{Models: models})
}

// handleListVoices reports the voices usable with a model's family.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "model")
	if name == "" || !model.ValidModelName(name) {
		s.writeError(w, http.StatusBadRequest, "malformed model name")
		return
	}

	voices, err := synth.ListVoices(s.voicesDir, synth.FamilyFor(name))
	if err != nil {
		s.logger.Error("list voices", "model", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list voices")
		return
	}

	s.writeJSON(w, http.StatusOK, listVoicesResponse{Model: name, Voices: voices})
}
