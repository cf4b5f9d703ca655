package core

// Stream event type tags as they appear on the wire.
const (
	StreamEventStart    = "start"
	StreamEventChunk    = "chunk"
	StreamEventComplete = "complete"
	StreamEventError    = "error"
)

// StreamEvent is one server-push transition on the streaming path. The
// variants form a closed set; each carries a distinguishing "type" field
// when marshaled.
type StreamEvent interface {
	isStreamEvent()
}

// StreamStart is emitted once, before any synthesis completes.
type StreamStart struct {
	Type                     string  `json:"type"`
	TotalChunks              int     `json:"total_chunks"`
	EstimatedDurationSeconds float64 `json:"estimated_duration"`
}

// StreamChunk carries one chunk's audio. Index is strictly increasing
// across the stream and Progress is a monotonically increasing percentage.
type StreamChunk struct {
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Audio    []byte `json:"audio"`
	Progress int    `json:"progress"`
}

// StreamComplete is the terminal event of a fully delivered stream.
type StreamComplete struct {
	Type        string `json:"type"`
	TotalChunks int    `json:"total_chunks"`
}

// StreamError is the terminal event of a failed stream. A chunk that fails
// fatally or exhausts its retries ends the stream here; it is never
// silently skipped.
type StreamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (StreamStart) isStreamEvent()    {}
func (StreamChunk) isStreamEvent()    {}
func (StreamComplete) isStreamEvent() {}
func (StreamError) isStreamEvent()    {}

// NewStreamStart builds a StreamStart with its type tag set.
func NewStreamStart(totalChunks int, estimatedSeconds float64) StreamStart {
	return StreamStart{
		Type:                     StreamEventStart,
		TotalChunks:              totalChunks,
		EstimatedDurationSeconds: estimatedSeconds,
	}
}

// NewStreamChunk builds a StreamChunk with its type tag set.
func NewStreamChunk(index int, audio []byte, progress int) StreamChunk {
	return StreamChunk{
		Type:     StreamEventChunk,
		Index:    index,
		Audio:    audio,
		Progress: progress,
	}
}

// NewStreamComplete builds a StreamComplete with its type tag set.
func NewStreamComplete(totalChunks int) StreamComplete {
	return StreamComplete{
		Type:        StreamEventComplete,
		TotalChunks: totalChunks,
	}
}

// NewStreamError builds a StreamError with its type tag set.
func NewStreamError(message string) StreamError {
	return StreamError{
		Type:  StreamEventError,
		Error: message,
	}
}
