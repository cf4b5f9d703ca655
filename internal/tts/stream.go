package tts

import (
	"context"

	"github.com/book-expert/narration-service/internal/core"
)

// Stream narrates the request and emits events as audio becomes ready.
// Chunk events always arrive in index order, whatever order synthesis
// finishes in. Failures before any event is produced are returned directly;
// a failure mid-stream arrives as a terminal error event and already
// emitted chunks remain valid.
func (e *Engine) Stream(
	ctx context.Context,
	req core.NarrationRequest,
) (<-chan core.StreamEvent, error) {
	job, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.StreamEvent, len(job.chunks)+2)

	go e.streamChunks(ctx, job, events)

	return events, nil
}

func (e *Engine) streamChunks(
	ctx context.Context,
	job *preparedJob,
	events chan<- core.StreamEvent,
) {
	defer close(events)

	total := len(job.chunks)

	events <- core.NewStreamStart(total, job.estimatedDuration())

	results, errs := e.scheduler.Run(ctx, job.base, job.chunks)

	// Out-of-order completions are held back until every lower index has
	// been emitted.
	held := make(map[int][]byte, total)
	emitted := 0

	for result := range results {
		held[result.Index] = result.Audio

		for {
			audioData, ready := held[emitted]
			if !ready {
				break
			}

			delete(held, emitted)

			emitted++

			events <- core.NewStreamChunk(
				emitted-1,
				audioData,
				emitted*100/total,
			)
		}
	}

	err := <-errs
	if err != nil {
		e.log.Error(
			"Streaming narration failed after %d of %d chunk(s): %v",
			emitted,
			total,
			err,
		)

		events <- core.NewStreamError(err.Error())

		return
	}

	events <- core.NewStreamComplete(total)
}
