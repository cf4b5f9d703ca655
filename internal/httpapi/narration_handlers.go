package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/tts"
)

const artifactUploadTimeout = 60 * time.Second

// narrationRequest is the JSON body accepted by both narration endpoints.
type narrationRequest struct {
	Text              string  `json:"text"`
	Voice             string  `json:"voice,omitempty"`
	AudioReferenceURL string  `json:"audio_reference_url,omitempty"`
	Title             string  `json:"title,omitempty"`
	SpokenIntro       string  `json:"spoken_intro,omitempty"`
	Exaggeration      float64 `json:"exaggeration,omitempty"`
	IncludeIntro      bool    `json:"include_intro,omitempty"`
}

// narrationResponse is the batch endpoint's reply. Audio is base64 in the
// JSON rendering.
type narrationResponse struct {
	Audio           []byte  `json:"audio_base64"`
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"duration_seconds"`
	Chunks          int     `json:"chunks"`
}

func (b narrationRequest) toCore() core.NarrationRequest {
	return core.NarrationRequest{
		Text:              b.Text,
		Voice:             b.Voice,
		AudioReferenceURL: b.AudioReferenceURL,
		Title:             b.Title,
		SpokenIntro:       b.SpokenIntro,
		Exaggeration:      b.Exaggeration,
		IncludeIntro:      b.IncludeIntro,
	}
}

// handleCreateNarration runs the batch pipeline and replies with the full
// compressed artifact. The object store upload runs in the background; its
// failure is logged, never returned to the caller.
func (r *Router) handleCreateNarration(w http.ResponseWriter, req *http.Request) {
	var body narrationRequest

	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)

		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.jobTimeout)
	defer cancel()

	result, err := r.narrator.Generate(ctx, body.toCore())
	if err != nil {
		r.respondNarrationError(w, req, err)

		return
	}

	if r.store != nil {
		go r.storeArtifact(body.Title, result)
	}

	writeJSON(w, http.StatusOK, narrationResponse{
		Audio:           result.Audio,
		Format:          result.Format,
		DurationSeconds: result.DurationSeconds,
		Chunks:          result.Chunks,
	})
}

// respondNarrationError maps pipeline failures onto HTTP statuses. Invalid
// input becomes 400, a speech engine failure becomes 502, anything else 500.
func (r *Router) respondNarrationError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, core.ErrTextEmpty) || errors.Is(err, core.ErrTextTooLong) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	}

	r.log.Error("Narration request failed: %v", err)

	if _, ok := tts.AsProviderError(err); ok {
		captureError(req, err, "narration: speech engine failure")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})

		return
	}

	captureError(req, err, "narration: pipeline failure")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "narration failed"})
}

// storeArtifact persists the finished audio under a fresh key. It runs
// detached from the request, with its own timeout, after the response may
// already have been written.
func (r *Router) storeArtifact(title string, result *core.NarrationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), artifactUploadTimeout)
	defer cancel()

	key := objectstore.ArtifactKey(title, result.Format)

	err := r.store.Upload(ctx, key, result.Audio)
	if err != nil {
		r.log.Error("Failed to store narration artifact %s: %v", key, err)

		return
	}

	r.log.Info("Stored narration artifact as %s", key)
}
