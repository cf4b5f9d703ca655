// Package text prepares raw narration text for speech synthesis. The
// normalizer strips markup and unpronounceable symbols and removes
// consecutive duplicate sentences; the chunker splits normalized text into
// bounded, sentence-aligned chunks.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/logger"
)

// Markup patterns removed before synthesis.
const (
	codeFencePattern  = "(?s)```.*?```"
	inlineCodePattern = "`([^`]+)`"
	imagePattern      = `!\[([^\]]*)\]\([^)]*\)`
	linkPattern       = `\[([^\]]+)\]\([^)]*\)`
	htmlTagPattern    = `<[^>]+>`
	headingPattern    = `(?m)^#{1,6}\s+`
	bulletPattern     = `(?m)^\s*[-*+]\s+`
	whitespacePattern = `\s+`
)

// Punctuation that reads poorly right before end-of-text silence.
const danglingPunctuation = ",;:-"

// Normalizer converts raw input text into clean, speakable prose.
//
// Normalization is idempotent: running it on its own output returns the
// output unchanged.
type Normalizer struct {
	codeFenceRegex  *regexp.Regexp
	inlineCodeRegex *regexp.Regexp
	imageRegex      *regexp.Regexp
	linkRegex       *regexp.Regexp
	htmlTagRegex    *regexp.Regexp
	headingRegex    *regexp.Regexp
	bulletRegex     *regexp.Regexp
	whitespaceRegex *regexp.Regexp
	log             *logger.Logger
}

// NewNormalizer creates a Normalizer with all patterns precompiled.
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{
		codeFenceRegex:  regexp.MustCompile(codeFencePattern),
		inlineCodeRegex: regexp.MustCompile(inlineCodePattern),
		imageRegex:      regexp.MustCompile(imagePattern),
		linkRegex:       regexp.MustCompile(linkPattern),
		htmlTagRegex:    regexp.MustCompile(htmlTagPattern),
		headingRegex:    regexp.MustCompile(headingPattern),
		bulletRegex:     regexp.MustCompile(bulletPattern),
		whitespaceRegex: regexp.MustCompile(whitespacePattern),
		log:             log,
	}
}

// Normalize cleans text for narration: markup is stripped, typographic
// quotes and dashes are replaced with their ASCII forms, symbols that have
// no spoken rendering are dropped, whitespace and repeated punctuation are
// collapsed, consecutive duplicate sentences are removed, and the result
// ends with terminal punctuation. Returns the empty string when nothing
// speakable remains.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	cleaned := n.stripMarkup(text)
	cleaned = replaceTypography(cleaned)
	cleaned = removeUnspeakableRunes(cleaned)
	cleaned = n.collapseWhitespace(cleaned)
	cleaned = collapsePunctuationRuns(cleaned)

	cleaned, removed := collapseDuplicateSentences(cleaned)
	if removed > 0 {
		n.log.Info("Removed %d consecutive duplicate sentence(s)", removed)
	}

	return ensureTerminalPunctuation(cleaned)
}

func (n *Normalizer) stripMarkup(text string) string {
	stripped := n.codeFenceRegex.ReplaceAllString(text, "")
	stripped = n.inlineCodeRegex.ReplaceAllString(stripped, "$1")
	stripped = n.imageRegex.ReplaceAllString(stripped, "$1")
	stripped = n.linkRegex.ReplaceAllString(stripped, "$1")
	stripped = n.htmlTagRegex.ReplaceAllString(stripped, "")
	stripped = n.headingRegex.ReplaceAllString(stripped, "")
	stripped = n.bulletRegex.ReplaceAllString(stripped, "")

	return stripped
}

func (n *Normalizer) collapseWhitespace(text string) string {
	return strings.TrimSpace(n.whitespaceRegex.ReplaceAllString(text, " "))
}

// replaceTypography maps typographic quotes, dashes and ellipses to the
// ASCII forms speech engines handle reliably.
func replaceTypography(text string) string {
	replacer := strings.NewReplacer(
		"“", `"`, // left double quote
		"”", `"`, // right double quote
		"‘", "'", // left single quote
		"’", "'", // right single quote
		"—", "-", // em dash
		"–", "-", // en dash
		"‒", "-", // figure dash
		"…", "...", // ellipsis
	)

	return replacer.Replace(text)
}

// removeUnspeakableRunes drops every rune outside the speakable set:
// letters, digits, whitespace and common punctuation.
func removeUnspeakableRunes(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	for _, r := range text {
		if isSpeakableRune(r) {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

func isSpeakableRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return true
	}

	switch r {
	case '.', ',', '!', '?', ';', ':', '\'', '"', '(', ')', '-',
		'%', '$', '&', '/', '@', '+':
		return true
	}

	return false
}

// collapsePunctuationRuns reduces runs of the same punctuation or symbol
// rune to a single occurrence, so "!!!" becomes "!" and "..." becomes ".".
// Runs of different runes such as "?!" are preserved.
func collapsePunctuationRuns(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	var previous rune

	for _, r := range text {
		if r == previous && (unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			continue
		}

		builder.WriteRune(r)

		previous = r
	}

	return builder.String()
}

// collapseDuplicateSentences removes each sentence that exactly repeats the
// sentence immediately before it, returning the cleaned text and the number
// of sentences removed.
func collapseDuplicateSentences(text string) (string, int) {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return text, 0
	}

	kept := sentences[:1]
	removed := 0

	for _, sentence := range sentences[1:] {
		if sentence == kept[len(kept)-1] {
			removed++

			continue
		}

		kept = append(kept, sentence)
	}

	if removed == 0 {
		return text, 0
	}

	return strings.Join(kept, " "), removed
}

// ensureTerminalPunctuation makes the text end with '.', '!' or '?',
// trimming punctuation that cannot close a sentence first.
func ensureTerminalPunctuation(text string) string {
	trimmed := strings.TrimSpace(strings.TrimRight(text, danglingPunctuation))
	if trimmed == "" {
		return ""
	}

	last, size := utf8.DecodeLastRuneInString(trimmed)
	if isClosingRune(last) {
		last, _ = utf8.DecodeLastRuneInString(trimmed[:len(trimmed)-size])
	}

	if isTerminalRune(last) {
		return trimmed
	}

	return trimmed + "."
}
