package service

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/vectis/internal/domain"
)

// ChunkText splits extracted text into ordered, bounded chunks using the
// knowledge base's configured chunker. Sizes and overlap are measured in
// whitespace tokens. The overlap < size precondition is validated when the
// knowledge base is configured, not here.
func ChunkText(text string, kind domain.ChunkerKind, targetSize, overlap int) []domain.Chunk {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if targetSize <= 0 {
		targetSize = 200
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = 0
	}

	var pieces []string
	switch kind {
	case domain.ChunkerKindSentence:
		pieces = packPieces(splitSentences(clean), targetSize)
	case domain.ChunkerKindRecursive:
		pieces = packPieces(splitRecursive(clean, targetSize), targetSize)
	default:
		pieces = tokenWindows(clean, targetSize, overlap)
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			Index:      len(chunks),
			Text:       p,
			TokenCount: len(strings.Fields(p)),
		})
	}
	return chunks
}

// tokenWindows slides a fixed-size token window over the text, stepping by
// size-overlap so consecutive chunks share overlap tokens.
func tokenWindows(text string, size, overlap int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= size {
		return []string{strings.Join(tokens, " ")}
	}

	step := size - overlap
	windows := make([]string, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, strings.Join(tokens[start:end], " "))
		if end >= len(tokens) {
			break
		}
	}
	return windows
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace. Good enough for prose; abbreviation handling is not attempted.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		s := strings.TrimSpace(string(runes[start : i+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// splitRecursive splits structurally: paragraphs first, then lines, then
// sentences, then a raw token window for anything still over budget.
func splitRecursive(text string, targetSize int) []string {
	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if tokenCount(para) <= targetSize {
			pieces = append(pieces, para)
			continue
		}
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if tokenCount(line) <= targetSize {
				pieces = append(pieces, line)
				continue
			}
			for _, sentence := range splitSentences(line) {
				if tokenCount(sentence) <= targetSize {
					pieces = append(pieces, sentence)
					continue
				}
				pieces = append(pieces, tokenWindows(sentence, targetSize, 0)...)
			}
		}
	}
	return pieces
}

// packPieces greedily merges consecutive pieces into chunks no larger than
// targetSize tokens. A single oversized piece is window-split rather than
// dropped.
func packPieces(pieces []string, targetSize int) []string {
	var packed []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			packed = append(packed, strings.Join(current, " "))
			current = nil
			currentTokens = 0
		}
	}

	for _, p := range pieces {
		n := tokenCount(p)
		if n > targetSize {
			flush()
			packed = append(packed, tokenWindows(p, targetSize, 0)...)
			continue
		}
		if currentTokens+n > targetSize {
			flush()
		}
		current = append(current, p)
		currentTokens += n
	}
	flush()
	return packed
}

func tokenCount(s string) int {
	return len(strings.Fields(s))
}
