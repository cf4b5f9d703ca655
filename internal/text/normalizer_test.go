package text_test

import (
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/text"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func normalizeCases() []struct {
	name  string
	input string
	want  string
} {
	return []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips markdown heading and emphasis",
			input: "# Chapter One\n\nThe **quick** fox. See [docs](https://example.com/guide) for more.",
			want:  "Chapter One The quick fox. See docs for more.",
		},
		{
			name:  "replaces image with alt text",
			input: "![state diagram](img/state.png) shows the flow",
			want:  "state diagram shows the flow.",
		},
		{
			name:  "keeps inline code text and drops fences",
			input: "Run `go build` first.\n```\nmake install\n```\nThen restart.",
			want:  "Run go build first. Then restart.",
		},
		{
			name:  "removes html tags",
			input: "Hello <b>world</b>, this is <br/> fine",
			want:  "Hello world, this is fine.",
		},
		{
			name:  "removes bullet markers",
			input: "Steps:\n- unplug it\n- plug it back in",
			want:  "Steps: unplug it plug it back in.",
		},
		{
			name:  "converts typographic quotes and dashes",
			input: "“Stop” he said — ‘now’…",
			want:  "\"Stop\" he said - 'now'.",
		},
		{
			name:  "drops unspeakable symbols",
			input: "Cost: 100% of $5 & 3/4 €10 ©",
			want:  "Cost: 100% of $5 & 3/4 10.",
		},
		{
			name:  "collapses whitespace",
			input: "one\t\ttwo\n\n\nthree   four",
			want:  "one two three four.",
		},
		{
			name:  "collapses repeated punctuation",
			input: "Wait!!! Really?? Yes?! Fine...",
			want:  "Wait! Really? Yes?! Fine.",
		},
		{
			name:  "removes consecutive duplicate sentences",
			input: "It rains. It rains. The sun returns.",
			want:  "It rains. The sun returns.",
		},
		{
			name:  "keeps non-consecutive repeats",
			input: "Go on. Stop here. Go on.",
			want:  "Go on. Stop here. Go on.",
		},
		{
			name:  "appends missing terminal punctuation",
			input: "it just ends",
			want:  "it just ends.",
		},
		{
			name:  "replaces dangling connector punctuation",
			input: "and then,",
			want:  "and then.",
		},
		{
			name:  "keeps decimal numbers intact",
			input: "Version 2.5 landed at 10:15. Enjoy.",
			want:  "Version 2.5 landed at 10:15. Enjoy.",
		},
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer(newTestLogger(t))

	for _, testCase := range normalizeCases() {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := normalizer.Normalize(testCase.input)
			assert.Equal(t, testCase.want, got)
		})
	}
}

// Normalizing already-normalized text must be a no-op, so retried jobs
// never drift.
func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer(newTestLogger(t))

	for _, testCase := range normalizeCases() {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			once := normalizer.Normalize(testCase.input)
			twice := normalizer.Normalize(once)
			assert.Equal(t, once, twice)
		})
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer(newTestLogger(t))

	assert.Empty(t, normalizer.Normalize(""))
	assert.Empty(t, normalizer.Normalize("   \n\t  "))
	assert.Empty(t, normalizer.Normalize("^^^"))
}

func TestNormalizeLongDuplicateRun(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer(newTestLogger(t))

	repeated := strings.TrimSpace(strings.Repeat("The model repeats itself. ", 40))
	got := normalizer.Normalize(repeated)

	assert.Equal(t, "The model repeats itself.", got)
}
