package tts_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/tts"
)

const testWAVHeaderSize = 44

// makeTestWAV builds an 8 kHz mono 16-bit WAV whose PCM payload repeats the
// fill byte. At that format one second of audio is 16000 PCM bytes.
func makeTestWAV(fill byte, pcmBytes int) []byte {
	const (
		sampleRate = 8000
		byteRate   = 16000
		blockAlign = 2
	)

	out := make([]byte, testWAVHeaderSize+pcmBytes)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+pcmBytes))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], 1)
	binary.LittleEndian.PutUint32(out[24:28], sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], byteRate)
	binary.LittleEndian.PutUint16(out[32:34], blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(pcmBytes))

	for i := testWAVHeaderSize; i < len(out); i++ {
		out[i] = fill
	}

	return out
}

// wavPerChunk answers every synthesis call with a small WAV whose fill byte
// is the first byte of the chunk text, so assembly order is visible in the
// output PCM.
func wavPerChunk(pcmBytes int) func(tts.SpeechRequest, int) ([]byte, error) {
	return func(req tts.SpeechRequest, _ int) ([]byte, error) {
		return makeTestWAV(req.Text[0], pcmBytes), nil
	}
}

type fakeTranscoder struct {
	mu     sync.Mutex
	input  []byte
	output []byte
	err    error
}

func (f *fakeTranscoder) Transcode(_ context.Context, wavData []byte) ([]byte, error) {
	f.mu.Lock()
	f.input = wavData
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return f.output, nil
}

func (f *fakeTranscoder) Format() string {
	return "mp3"
}

func (f *fakeTranscoder) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.input
}

func testEngineOptions() tts.EngineOptions {
	return tts.EngineOptions{
		Synthesis:           testOptions(),
		MaxChunkChars:       300,
		DefaultVoice:        "narrator-1",
		DefaultExaggeration: 0,
	}
}

func narrationRequest(text string) core.NarrationRequest {
	return core.NarrationRequest{
		Text:              text,
		Voice:             "",
		AudioReferenceURL: "",
		Title:             "",
		SpokenIntro:       "",
		Exaggeration:      0,
		IncludeIntro:      false,
	}
}

func longSentence(letter string) string {
	return strings.Repeat(letter, 249) + "."
}

func TestGenerateNarratesLongTextInChunks(t *testing.T) {
	t.Parallel()

	synth := newScriptedSynthesizer(wavPerChunk(4000))
	engine := tts.NewEngine(synth, nil, testEngineOptions(), newTestLogger(t))

	input := strings.Join([]string{
		longSentence("a"),
		longSentence("b"),
		longSentence("c"),
		longSentence("d"),
	}, " ")

	result, err := engine.Generate(context.Background(), narrationRequest(input))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Chunks)
	assert.Equal(t, "wav", result.Format)
	assert.Equal(t, 4, synth.total())

	// Four 4000-byte PCM payloads at 16000 bytes per second.
	assert.InDelta(t, 1.0, result.DurationSeconds, 0.0001)
	assert.Len(t, result.Audio, testWAVHeaderSize+16000)

	var wantPCM []byte
	for _, fill := range []byte{'a', 'b', 'c', 'd'} {
		wantPCM = append(wantPCM, bytes.Repeat([]byte{fill}, 4000)...)
	}

	assert.Equal(t, wantPCM, result.Audio[testWAVHeaderSize:])

	for _, req := range synth.recorded() {
		assert.Equal(t, "narrator-1", req.Voice)
	}
}

func TestGenerateValidatesBeforeSynthesis(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "empty", text: "", wantErr: core.ErrTextEmpty},
		{name: "whitespace only", text: "  \n\t ", wantErr: core.ErrTextEmpty},
		{name: "unspeakable only", text: "^^^", wantErr: core.ErrTextEmpty},
		{
			name:    "over the limit",
			text:    strings.Repeat("a", core.MaxTextChars+1),
			wantErr: core.ErrTextTooLong,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			synth := newScriptedSynthesizer(wavPerChunk(2000))
			engine := tts.NewEngine(
				synth,
				nil,
				testEngineOptions(),
				newTestLogger(t),
			)

			_, err := engine.Generate(
				context.Background(),
				narrationRequest(testCase.text),
			)

			require.ErrorIs(t, err, testCase.wantErr)
			assert.Equal(t, 0, synth.total())
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	synth := newScriptedSynthesizer(wavPerChunk(2000))
	engine := tts.NewEngine(synth, nil, testEngineOptions(), newTestLogger(t))

	input := longSentence("a") + " " + longSentence("b")

	first, err := engine.Generate(context.Background(), narrationRequest(input))
	require.NoError(t, err)

	second, err := engine.Generate(context.Background(), narrationRequest(input))
	require.NoError(t, err)

	assert.Equal(t, first.Audio, second.Audio)
	assert.Equal(t, first.Chunks, second.Chunks)

	recorded := synth.recorded()
	require.Len(t, recorded, 4)
	assert.Equal(t, recorded[0].Text, recorded[2].Text)
	assert.Equal(t, recorded[1].Text, recorded[3].Text)
}

func TestGenerateAssemblesParallelCompletionsInOrder(t *testing.T) {
	t.Parallel()

	input := longSentence("a") + " " + longSentence("b") + " " + longSentence("c")

	sequential := tts.NewEngine(
		newScriptedSynthesizer(wavPerChunk(600)),
		nil,
		testEngineOptions(),
		newTestLogger(t),
	)

	want, err := sequential.Generate(context.Background(), narrationRequest(input))
	require.NoError(t, err)
	require.Equal(t, 3, want.Chunks)

	// The parallel synthesizer forces completion in reverse index order.
	doneC := make(chan struct{})
	doneB := make(chan struct{})
	gated := newScriptedSynthesizer(
		func(req tts.SpeechRequest, _ int) ([]byte, error) {
			switch req.Text[0] {
			case 'c':
				close(doneC)
			case 'b':
				<-doneC
				close(doneB)
			case 'a':
				<-doneB
			}

			return makeTestWAV(req.Text[0], 600), nil
		},
	)

	opts := testEngineOptions()
	opts.Synthesis.Mode = tts.ModeParallel
	opts.Synthesis.Concurrency = 3

	parallel := tts.NewEngine(gated, nil, opts, newTestLogger(t))

	got, err := parallel.Generate(context.Background(), narrationRequest(input))
	require.NoError(t, err)

	assert.Equal(t, want.Audio, got.Audio)
	assert.Equal(t, want.Chunks, got.Chunks)
}

func TestGeneratePrependsIntro(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		request  core.NarrationRequest
		wantText string
	}{
		{
			name: "title as intro",
			request: core.NarrationRequest{
				Text:              "The story begins here.",
				Voice:             "",
				AudioReferenceURL: "",
				Title:             "Chapter One",
				SpokenIntro:       "",
				Exaggeration:      0,
				IncludeIntro:      true,
			},
			wantText: "Chapter One. The story begins here.",
		},
		{
			name: "explicit intro wins",
			request: core.NarrationRequest{
				Text:              "The story begins here.",
				Voice:             "",
				AudioReferenceURL: "",
				Title:             "Chapter One",
				SpokenIntro:       "Now reading Chapter One",
				Exaggeration:      0,
				IncludeIntro:      true,
			},
			wantText: "Now reading Chapter One. The story begins here.",
		},
		{
			name: "intro disabled",
			request: core.NarrationRequest{
				Text:              "The story begins here.",
				Voice:             "",
				AudioReferenceURL: "",
				Title:             "Chapter One",
				SpokenIntro:       "Now reading Chapter One",
				Exaggeration:      0,
				IncludeIntro:      false,
			},
			wantText: "The story begins here.",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			synth := newScriptedSynthesizer(wavPerChunk(2000))
			engine := tts.NewEngine(
				synth,
				nil,
				testEngineOptions(),
				newTestLogger(t),
			)

			_, err := engine.Generate(context.Background(), testCase.request)
			require.NoError(t, err)

			recorded := synth.recorded()
			require.Len(t, recorded, 1)
			assert.Equal(t, testCase.wantText, recorded[0].Text)
		})
	}
}

func TestGenerateAppliesVoiceDefaults(t *testing.T) {
	t.Parallel()

	synth := newScriptedSynthesizer(wavPerChunk(2000))
	engine := tts.NewEngine(synth, nil, testEngineOptions(), newTestLogger(t))

	req := narrationRequest("Using every default value here.")

	_, err := engine.Generate(context.Background(), req)
	require.NoError(t, err)

	req.Voice = "custom-voice"
	req.Exaggeration = 0.9

	_, err = engine.Generate(context.Background(), req)
	require.NoError(t, err)

	req.Exaggeration = 1.7

	_, err = engine.Generate(context.Background(), req)
	require.NoError(t, err)

	recorded := synth.recorded()
	require.Len(t, recorded, 3)

	assert.Equal(t, "narrator-1", recorded[0].Voice)
	assert.InDelta(t, 0.5, recorded[0].Exaggeration, 0.0001)

	assert.Equal(t, "custom-voice", recorded[1].Voice)
	assert.InDelta(t, 0.9, recorded[1].Exaggeration, 0.0001)

	// Out-of-range expressiveness is clamped, not rejected.
	assert.InDelta(t, 1.0, recorded[2].Exaggeration, 0.0001)
}

func TestGenerateTranscodesWhenConfigured(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{
		mu:     sync.Mutex{},
		input:  nil,
		output: []byte("mp3 payload"),
		err:    nil,
	}

	synth := newScriptedSynthesizer(wavPerChunk(2000))
	engine := tts.NewEngine(synth, transcoder, testEngineOptions(), newTestLogger(t))

	result, err := engine.Generate(
		context.Background(),
		narrationRequest("Convert this narration to the delivery format."),
	)
	require.NoError(t, err)

	assert.Equal(t, []byte("mp3 payload"), result.Audio)
	assert.Equal(t, "mp3", result.Format)

	// The transcoder receives the assembled WAV, header included.
	received := transcoder.received()
	require.NotEmpty(t, received)
	assert.Equal(t, []byte("RIFF"), received[0:4])
	assert.Len(t, received, testWAVHeaderSize+2000)
}

func TestGenerateReportsTranscodeFailure(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{
		mu:     sync.Mutex{},
		input:  nil,
		output: nil,
		err:    errors.New("encoder missing"),
	}

	synth := newScriptedSynthesizer(wavPerChunk(2000))
	engine := tts.NewEngine(synth, transcoder, testEngineOptions(), newTestLogger(t))

	_, err := engine.Generate(
		context.Background(),
		narrationRequest("This narration will fail to convert."),
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder missing")
}

func TestGeneratePropagatesSynthesisFailure(t *testing.T) {
	t.Parallel()

	synth := newScriptedSynthesizer(
		func(_ tts.SpeechRequest, _ int) ([]byte, error) {
			return nil, &tts.ProviderError{
				StatusCode: 401,
				Code:       "auth_failed",
				Message:    "bad key",
				RetryAfter: 0,
			}
		},
	)

	engine := tts.NewEngine(synth, nil, testEngineOptions(), newTestLogger(t))

	_, err := engine.Generate(
		context.Background(),
		narrationRequest("Doomed narration."),
	)
	require.Error(t, err)

	providerErr, ok := tts.AsProviderError(err)
	require.True(t, ok)
	assert.True(t, providerErr.Fatal())
}
