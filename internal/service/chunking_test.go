package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/vectis/internal/domain"
)

func TestChunkText_EmptyInput(t *testing.T) {
	assert.Nil(t, ChunkText("", domain.ChunkerKindTokenWindow, 50, 10))
	assert.Nil(t, ChunkText("   \n\t  ", domain.ChunkerKindTokenWindow, 50, 10))
}

func TestChunkText_TokenWindow_ShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("one two three", domain.ChunkerKindTokenWindow, 50, 10)

	assert.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "one two three", chunks[0].Text)
	assert.Equal(t, 3, chunks[0].TokenCount)
}

func TestChunkText_TokenWindow_OverlapSharedBetweenChunks(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	text := strings.Join(words, " ")

	chunks := ChunkText(text, domain.ChunkerKindTokenWindow, 10, 3)

	// step = 7: windows at 0, 7, 14, 21
	assert.Len(t, chunks, 4)
	assert.Equal(t, 10, chunks[0].TokenCount)
	assert.Equal(t, 10, chunks[1].TokenCount)

	// Last 3 tokens of chunk 0 are the first 3 tokens of chunk 1.
	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	assert.Equal(t, first[7:], second[:3])

	// Every token is covered and indices are sequential.
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	last := strings.Fields(chunks[3].Text)
	assert.Equal(t, "w24", last[len(last)-1])
}

func TestChunkText_TokenWindow_Deterministic(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)

	a := ChunkText(text, domain.ChunkerKindTokenWindow, 12, 4)
	b := ChunkText(text, domain.ChunkerKindTokenWindow, 12, 4)

	assert.Equal(t, a, b)
}

func TestChunkText_Sentence_PacksUpToTarget(t *testing.T) {
	text := "First sentence here. Second sentence follows! Third one asks? Fourth ends it."

	chunks := ChunkText(text, domain.ChunkerKindSentence, 6, 0)

	assert.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 6)
	}
	// Sentence boundaries are respected: every chunk ends on punctuation.
	for _, c := range chunks {
		assert.Regexp(t, `[.!?]$`, c.Text)
	}
}

func TestChunkText_Sentence_OversizedSentenceStillChunked(t *testing.T) {
	long := strings.Repeat("word ", 30) + "end."

	chunks := ChunkText(long, domain.ChunkerKindSentence, 10, 0)

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 10)
	}
}

func TestChunkText_Recursive_SplitsParagraphsFirst(t *testing.T) {
	text := "short paragraph one\n\nshort paragraph two\n\nshort paragraph three"

	chunks := ChunkText(text, domain.ChunkerKindRecursive, 10, 0)

	assert.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 10)
	}
}

func TestChunkText_InvalidOverlapIgnored(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("t%d", i)
	}
	text := strings.Join(words, " ")

	// overlap >= size would loop forever if honored; it is dropped instead.
	chunks := ChunkText(text, domain.ChunkerKindTokenWindow, 10, 10)

	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, 10, c.TokenCount)
	}
}
