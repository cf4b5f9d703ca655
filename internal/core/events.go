package core

import "github.com/book-expert/events"

// NarrationRequestedEvent asks the service to narrate one document. Either
// TextKey names an object-store document or Text carries it inline; TextKey
// wins when both are set.
type NarrationRequestedEvent struct {
	Header            events.EventHeader `json:"header"`
	TextKey           string             `json:"text_key,omitempty"`
	Text              string             `json:"text,omitempty"`
	Voice             string             `json:"voice,omitempty"`
	AudioReferenceURL string             `json:"audio_reference_url,omitempty"`
	Title             string             `json:"title,omitempty"`
	SpokenIntro       string             `json:"spoken_intro,omitempty"`
	Exaggeration      float64            `json:"exaggeration"`
	IncludeIntro      bool               `json:"include_intro"`
}

// NarrationCompletedEvent reports the outcome of a narration job. On
// success AudioKey names the stored compressed artifact; on failure Error
// carries the human-readable reason.
type NarrationCompletedEvent struct {
	Header          events.EventHeader `json:"header"`
	Success         bool               `json:"success"`
	Error           string             `json:"error,omitempty"`
	AudioKey        string             `json:"audio_key,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	Format          string             `json:"format,omitempty"`
	Chunks          int                `json:"chunks,omitempty"`
}
