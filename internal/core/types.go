// Package core defines the domain types and interfaces shared across the
// narration-service packages.
package core

import "context"

// MaxTextChars is the hard cap on request text length, applied before any
// provider call. Requests above it fail validation.
const MaxTextChars = 50000

// NarrationRequest is the immutable input for one narration job.
type NarrationRequest struct {
	// Text is the document to narrate. Must be non-empty after
	// normalization and no longer than MaxTextChars.
	Text string

	// Voice optionally names a speaker preset known to the engine.
	Voice string

	// AudioReferenceURL optionally points at a speaker sample the engine
	// clones the timbre from. Voice and AudioReferenceURL may both be set;
	// the engine decides precedence.
	AudioReferenceURL string

	// Title names the narration. It is used for the stored artifact name
	// and as the fallback spoken intro.
	Title string

	// SpokenIntro is narrated before the document when IncludeIntro is set.
	SpokenIntro string

	// Exaggeration is the emotion intensity passed to the engine,
	// clamped to [0, 1].
	Exaggeration float64

	// IncludeIntro prepends a spoken preamble ahead of the document text.
	IncludeIntro bool
}

// Chunk is one bounded slice of the normalized text, the unit of work sent
// to the speech engine. Chunks are immutable once produced.
type Chunk struct {
	Index int
	Text  string
}

// AssembledAudio is the ordered concatenation of every chunk's audio as a
// single WAV payload, created once per request after all chunks resolve.
type AssembledAudio struct {
	WAV             []byte
	DurationSeconds float64
	SampleRate      int
	Channels        int
	BitDepth        int
}

// NarrationResult is the terminal output of the batch path.
type NarrationResult struct {
	Audio           []byte
	Format          string
	DurationSeconds float64
	Chunks          int
}

// ObjectStore is a key-value blob store for narration artifacts and
// workflow text documents.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Narrator runs the narration pipeline. It is implemented by the tts engine
// and consumed by the worker and HTTP surfaces.
type Narrator interface {
	// Generate runs the batch path: normalize, chunk, synthesize,
	// assemble, transcode. It returns a complete result or an error,
	// never a partial one.
	Generate(ctx context.Context, req NarrationRequest) (*NarrationResult, error)

	// Stream runs the streaming path. The returned channel yields a
	// StreamStart, then StreamChunk events in strictly increasing index
	// order, then one terminal StreamComplete or StreamError, and is
	// closed. Errors detected before synthesis starts are returned
	// directly instead.
	Stream(ctx context.Context, req NarrationRequest) (<-chan StreamEvent, error)
}
