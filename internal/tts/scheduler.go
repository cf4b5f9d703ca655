package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
)

// Synthesis modes.
const (
	// ModeSequential synthesizes chunks one at a time in text order, with
	// an optional pause between chunks to avoid hammering the provider.
	ModeSequential = "sequential"

	// ModeParallel synthesizes chunks concurrently under a worker limit.
	ModeParallel = "parallel"
)

// SpeechSynthesizer is the scheduler's view of the speech provider.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Options control how the scheduler drives synthesis.
type Options struct {
	// Mode selects sequential or parallel chunk processing.
	Mode string

	// Concurrency is the worker limit in parallel mode.
	Concurrency int

	// InterChunkDelay is the pause between chunks in sequential mode.
	InterChunkDelay time.Duration

	// MaxAttempts bounds synthesis attempts per chunk, first try included.
	MaxAttempts int

	// RetryBackoff is the base delay before a retry. The delay grows
	// linearly with the attempt number.
	RetryBackoff time.Duration

	// RateLimitBackoff is the minimum delay after a rate-limit response.
	RateLimitBackoff time.Duration
}

// ChunkAudio pairs a chunk index with its synthesized WAV bytes.
type ChunkAudio struct {
	Index int
	Audio []byte
}

// Scheduler synthesizes a chunk sequence against the provider, retrying
// retryable failures per chunk and aborting the whole run on the first
// fatal or exhausted chunk.
type Scheduler struct {
	synth SpeechSynthesizer
	opts  Options
	log   *logger.Logger
}

// NewScheduler creates a Scheduler. Non-positive concurrency and attempt
// settings are raised to one.
func NewScheduler(synth SpeechSynthesizer, opts Options, log *logger.Logger) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	if opts.Mode != ModeParallel {
		opts.Mode = ModeSequential
	}

	return &Scheduler{synth: synth, opts: opts, log: log}
}

// Run synthesizes all chunks. Results arrive on the first channel as each
// chunk finishes, in completion order, and the channel is closed when the
// run ends. The error channel yields at most one error, the failure that
// aborted the run; once a chunk fails no new chunk synthesis is started.
func (s *Scheduler) Run(
	ctx context.Context,
	base SpeechRequest,
	chunks []core.Chunk,
) (<-chan ChunkAudio, <-chan error) {
	results := make(chan ChunkAudio, len(chunks))
	errs := make(chan error, 1)

	go func() {
		defer close(results)
		defer close(errs)

		var err error
		if s.opts.Mode == ModeParallel {
			err = s.runParallel(ctx, base, chunks, results)
		} else {
			err = s.runSequential(ctx, base, chunks, results)
		}

		if err != nil {
			errs <- err
		}
	}()

	return results, errs
}

func (s *Scheduler) runSequential(
	ctx context.Context,
	base SpeechRequest,
	chunks []core.Chunk,
	results chan<- ChunkAudio,
) error {
	for position, chunk := range chunks {
		if position > 0 {
			err := sleepContext(ctx, s.opts.InterChunkDelay)
			if err != nil {
				return err
			}
		}

		audio, err := s.synthesizeChunk(ctx, base, chunk)
		if err != nil {
			return err
		}

		results <- ChunkAudio{Index: chunk.Index, Audio: audio}
	}

	return nil
}

func (s *Scheduler) runParallel(
	ctx context.Context,
	base SpeechRequest,
	chunks []core.Chunk,
	results chan<- ChunkAudio,
) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := make(chan struct{}, s.opts.Concurrency)

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
	)

dispatch:
	for _, chunk := range chunks {
		select {
		case pool <- struct{}{}:
		case <-runCtx.Done():
			break dispatch
		}

		waitGroup.Add(1)

		go func(chunk core.Chunk) {
			defer waitGroup.Done()
			defer func() { <-pool }()

			audio, err := s.synthesizeChunk(runCtx, base, chunk)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()

				cancel()

				return
			}

			results <- ChunkAudio{Index: chunk.Index, Audio: audio}
		}(chunk)
	}

	waitGroup.Wait()

	mu.Lock()
	defer mu.Unlock()

	if firstErr != nil {
		return firstErr
	}

	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("synthesis canceled: %w", err)
	}

	return nil
}

// synthesizeChunk runs the per-chunk retry loop. Fatal provider errors
// abort immediately; retryable failures are retried with backoff until the
// attempt budget runs out.
func (s *Scheduler) synthesizeChunk(
	ctx context.Context,
	base SpeechRequest,
	chunk core.Chunk,
) ([]byte, error) {
	req := base
	req.Text = chunk.Text

	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("chunk %d canceled: %w", chunk.Index, err)
		}

		audio, synthErr := s.synth.Synthesize(ctx, req)
		if synthErr == nil {
			if attempt > 1 {
				s.log.Info(
					"Chunk %d succeeded on attempt %d",
					chunk.Index,
					attempt,
				)
			}

			return audio, nil
		}

		providerErr, classified := AsProviderError(synthErr)
		if classified && providerErr.Fatal() {
			return nil, fmt.Errorf(
				"chunk %d failed permanently: %w",
				chunk.Index,
				synthErr,
			)
		}

		lastErr = synthErr

		if attempt == s.opts.MaxAttempts {
			break
		}

		delay := s.retryDelay(attempt, providerErr)

		s.log.Warn(
			"Chunk %d attempt %d/%d failed, retrying in %s: %v",
			chunk.Index,
			attempt,
			s.opts.MaxAttempts,
			delay,
			synthErr,
		)

		err = sleepContext(ctx, delay)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
		}
	}

	return nil, fmt.Errorf(
		"chunk %d: %w after %d attempt(s): %w",
		chunk.Index,
		ErrAttemptsExhausted,
		s.opts.MaxAttempts,
		lastErr,
	)
}

// retryDelay picks the pause before the next attempt. Rate-limit responses
// wait at least the configured rate-limit backoff, honoring a longer
// provider-requested delay; other retryable failures back off linearly.
func (s *Scheduler) retryDelay(attempt int, providerErr *ProviderError) time.Duration {
	if providerErr != nil && providerErr.RateLimited() {
		delay := s.opts.RateLimitBackoff
		if providerErr.RetryAfter > delay {
			delay = providerErr.RetryAfter
		}

		return delay
	}

	return time.Duration(attempt) * s.opts.RetryBackoff
}

// sleepContext waits for the duration unless the context ends first.
func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
