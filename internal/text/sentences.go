package text

import (
	"strings"
	"unicode"
)

// Sentence-terminal runes. A boundary is only recognized when the terminal
// run (plus any closing quotes or parentheses) is followed by whitespace or
// the end of the text, so decimals ("9.9"), times ("10:15") and dotted
// abbreviations never end a sentence.
const (
	terminalRunes = ".!?"
	closingRunes  = `"')`
)

func isTerminalRune(r rune) bool {
	return strings.ContainsRune(terminalRunes, r)
}

func isClosingRune(r rune) bool {
	return strings.ContainsRune(closingRunes, r)
}

// splitSentences splits text into sentences, keeping the terminal
// punctuation (and any closing quote) with its sentence. Text after the
// last boundary is returned as a final sentence even without terminal
// punctuation. Sentences are trimmed of surrounding whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)

	var sentences []string

	start := 0
	index := 0

	for index < len(runes) {
		if !isTerminalRune(runes[index]) {
			index++

			continue
		}

		end := index
		for end+1 < len(runes) && isTerminalRune(runes[end+1]) {
			end++
		}

		for end+1 < len(runes) && isClosingRune(runes[end+1]) {
			end++
		}

		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			index = end + 1

			continue
		}

		sentence := strings.TrimSpace(string(runes[start : end+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		start = end + 1
		index = end + 1
	}

	tail := strings.TrimSpace(string(runes[start:]))
	if tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}
