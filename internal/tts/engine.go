package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/text"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
)

// Default values.
const (
	defaultExaggeration = 0.5

	// charsPerSecond is the speaking-rate estimate used to predict
	// narration duration before any audio exists.
	charsPerSecond = 15.0
)

// Transcoder converts assembled WAV audio into the delivery format.
type Transcoder interface {
	// Transcode converts WAV bytes into the target format.
	Transcode(ctx context.Context, wavData []byte) ([]byte, error)

	// Format names the target format, such as "mp3".
	Format() string
}

// EngineOptions configure an Engine.
type EngineOptions struct {
	// Synthesis controls chunk scheduling and retries.
	Synthesis Options

	// MaxChunkChars is the per-chunk character budget.
	MaxChunkChars int

	// DefaultVoice is used when a request names no voice.
	DefaultVoice string

	// DefaultExaggeration is used when a request leaves expressiveness
	// unset.
	DefaultExaggeration float64
}

// Engine runs the full narration pipeline: normalize, chunk, synthesize,
// assemble and transcode. It implements core.Narrator.
type Engine struct {
	scheduler           *Scheduler
	transcoder          Transcoder
	normalizer          *text.Normalizer
	chunker             *text.Chunker
	defaultVoice        string
	defaultExaggeration float64
	log                 *logger.Logger
}

// NewEngine creates an Engine driving the given synthesizer. A nil
// transcoder leaves the assembled audio in WAV form.
func NewEngine(
	synth SpeechSynthesizer,
	transcoder Transcoder,
	opts EngineOptions,
	log *logger.Logger,
) *Engine {
	if opts.DefaultExaggeration <= 0 {
		opts.DefaultExaggeration = defaultExaggeration
	}

	return &Engine{
		scheduler:           NewScheduler(synth, opts.Synthesis, log),
		transcoder:          transcoder,
		normalizer:          text.NewNormalizer(log),
		chunker:             text.NewChunker(opts.MaxChunkChars, log),
		defaultVoice:        opts.DefaultVoice,
		defaultExaggeration: opts.DefaultExaggeration,
		log:                 log,
	}
}

// preparedJob is the validated, chunked form of a narration request.
type preparedJob struct {
	base   SpeechRequest
	chunks []core.Chunk
	runes  int
}

// Generate narrates the request and returns the finished audio. The text is
// validated and chunked before the provider is contacted.
func (e *Engine) Generate(
	ctx context.Context,
	req core.NarrationRequest,
) (*core.NarrationResult, error) {
	started := time.Now()

	job, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	e.log.Info(
		"Narration started: %d chunk(s), %d character(s)",
		len(job.chunks),
		job.runes,
	)

	results, errs := e.scheduler.Run(ctx, job.base, job.chunks)

	table, err := collectChunkAudio(results, errs, len(job.chunks))
	if err != nil {
		return nil, err
	}

	assembled, err := audio.Assemble(table)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble audio: %w", err)
	}

	output := assembled.WAV
	format := audio.FormatWAV

	if e.transcoder != nil {
		output, err = e.transcoder.Transcode(ctx, assembled.WAV)
		if err != nil {
			return nil, fmt.Errorf("failed to transcode audio: %w", err)
		}

		format = e.transcoder.Format()
	}

	e.log.Info(
		"Narration finished: %d chunk(s), %s of audio in %s",
		len(job.chunks),
		ttsutils.FormatDuration(assembled.DurationSeconds),
		time.Since(started).Round(time.Millisecond),
	)

	return &core.NarrationResult{
		Audio:           output,
		Format:          format,
		DurationSeconds: assembled.DurationSeconds,
		Chunks:          len(job.chunks),
	}, nil
}

// prepare validates the request, prepends the spoken intro when asked for,
// normalizes the text and splits it into chunks.
func (e *Engine) prepare(req core.NarrationRequest) (*preparedJob, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, core.ErrTextEmpty
	}

	runeCount := utf8.RuneCountInString(req.Text)
	if runeCount > core.MaxTextChars {
		return nil, fmt.Errorf(
			"%w: text is %d characters, limit is %d",
			core.ErrTextTooLong,
			runeCount,
			core.MaxTextChars,
		)
	}

	raw := req.Text

	intro := spokenIntro(req)
	if intro != "" {
		raw = intro + " " + raw
	}

	normalized := e.normalizer.Normalize(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: nothing speakable remains", core.ErrTextEmpty)
	}

	chunks := e.chunker.Split(normalized)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: nothing speakable remains", core.ErrTextEmpty)
	}

	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}

	exaggeration := req.Exaggeration
	if exaggeration == 0 {
		exaggeration = e.defaultExaggeration
	}

	base := SpeechRequest{
		Text:              "",
		Voice:             voice,
		AudioReferenceURL: req.AudioReferenceURL,
		Exaggeration:      clampExaggeration(exaggeration),
	}

	return &preparedJob{
		base:   base,
		chunks: chunks,
		runes:  utf8.RuneCountInString(normalized),
	}, nil
}

// spokenIntro picks the announcement read before the text body: the
// explicit intro when given, otherwise the title. The intro is always
// terminated so it is narrated as its own sentence.
func spokenIntro(req core.NarrationRequest) string {
	if !req.IncludeIntro {
		return ""
	}

	intro := strings.TrimSpace(req.SpokenIntro)
	if intro == "" {
		intro = strings.TrimSpace(req.Title)
	}

	if intro == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(intro)
	if !strings.ContainsRune(".!?", last) {
		intro += "."
	}

	return intro
}

// estimatedDuration predicts narration length from the normalized text.
func (job *preparedJob) estimatedDuration() float64 {
	return float64(job.runes) / charsPerSecond
}

func clampExaggeration(value float64) float64 {
	if value < 0 {
		return 0
	}

	if value > 1 {
		return 1
	}

	return value
}

// collectChunkAudio drains the scheduler's result channel into an
// index-ordered table, then reports the run error if there was one.
func collectChunkAudio(
	results <-chan ChunkAudio,
	errs <-chan error,
	total int,
) ([][]byte, error) {
	table := make([][]byte, total)

	for result := range results {
		table[result.Index] = result.Audio
	}

	err := <-errs
	if err != nil {
		return nil, err
	}

	return table, nil
}
