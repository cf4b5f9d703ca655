package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
)

// Bounds for the per-chunk character budget. Chunks shorter than the
// minimum waste synthesis round-trips; chunks longer than the maximum
// degrade engine prosody.
const (
	MinChunkChars = 120
	MaxChunkChars = 300
)

// Chunker splits normalized text into sentence-aligned chunks whose rune
// count never exceeds the configured budget.
type Chunker struct {
	maxChars int
	log      *logger.Logger
}

// NewChunker creates a Chunker with the given per-chunk budget, clamped to
// [MinChunkChars, MaxChunkChars].
func NewChunker(maxChars int, log *logger.Logger) *Chunker {
	clamped := maxChars
	if clamped < MinChunkChars {
		clamped = MinChunkChars
	}

	if clamped > MaxChunkChars {
		clamped = MaxChunkChars
	}

	if clamped != maxChars {
		log.Warn("Chunk budget %d out of range, clamped to %d", maxChars, clamped)
	}

	return &Chunker{maxChars: clamped, log: log}
}

// Split breaks text into chunks, packing whole sentences greedily up to the
// budget. A sentence longer than the budget is split at word boundaries,
// mid-word only when a single word exceeds the budget. When the sentence
// ending one chunk is repeated at the start of the next, the repeat is
// dropped so it is narrated once. Chunk indices are assigned in text order
// starting at zero.
func (c *Chunker) Split(text string) []core.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	parts := c.packSentences(splitSentences(trimmed))
	parts = c.dropBoundaryRepeats(parts)

	chunks := make([]core.Chunk, 0, len(parts))
	for index, part := range parts {
		chunks = append(chunks, core.Chunk{Index: index, Text: part})
	}

	return chunks
}

func (c *Chunker) packSentences(sentences []string) []string {
	var parts []string

	current := ""
	currentLen := 0

	flush := func() {
		if current != "" {
			parts = append(parts, current)
		}

		current = ""
		currentLen = 0
	}

	for _, sentence := range sentences {
		sentenceLen := utf8.RuneCountInString(sentence)

		if sentenceLen > c.maxChars {
			flush()

			parts = append(parts, splitAtWords(sentence, c.maxChars)...)

			continue
		}

		switch {
		case currentLen == 0:
			current = sentence
			currentLen = sentenceLen
		case currentLen+1+sentenceLen <= c.maxChars:
			current += " " + sentence
			currentLen += 1 + sentenceLen
		default:
			flush()

			current = sentence
			currentLen = sentenceLen
		}
	}

	flush()

	return parts
}

// splitAtWords breaks an oversized sentence into pieces of at most maxChars
// runes, cutting at the last space inside the window when one exists.
func splitAtWords(sentence string, maxChars int) []string {
	runes := []rune(sentence)

	var parts []string

	for len(runes) > maxChars {
		cut := maxChars
		rest := maxChars

		for i := maxChars; i >= 1; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				rest = i + 1

				break
			}
		}

		part := strings.TrimSpace(string(runes[:cut]))
		if part != "" {
			parts = append(parts, part)
		}

		runes = runes[rest:]
	}

	tail := strings.TrimSpace(string(runes))
	if tail != "" {
		parts = append(parts, tail)
	}

	return parts
}

// dropBoundaryRepeats removes the first sentence of a chunk when it exactly
// repeats the last sentence of the chunk before it. A chunk left empty by
// the removal is dropped entirely.
func (c *Chunker) dropBoundaryRepeats(parts []string) []string {
	if len(parts) < 2 {
		return parts
	}

	kept := []string{parts[0]}
	removed := 0

	for _, part := range parts[1:] {
		previous := splitSentences(kept[len(kept)-1])
		current := splitSentences(part)

		if len(previous) > 0 && len(current) > 0 &&
			current[0] == previous[len(previous)-1] {
			removed++

			part = strings.Join(current[1:], " ")
			if part == "" {
				continue
			}
		}

		kept = append(kept, part)
	}

	if removed > 0 {
		c.log.Warn("Removed %d sentence(s) repeated across chunk boundaries", removed)
	}

	return kept
}
