package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      40,
		ChunkOverlap:   10,
		MinChunkLength: 1,
	})
	require.NoError(t, err)

	docs := []models.Article{{
		ID:    "essay",
		Title: "Essay",
		Sections: []models.Section{
			{Text: "Alpha beta gamma. Delta epsilon zeta. Eta theta iota kappa lambda."},
			{Heading: "Second", Level: 2, Breadcrumb: []string{"Second"}, Text: "Short tail."},
		},
	}}

	processed, err := p.Process(docs)
	require.NoError(t, err)
	require.Len(t, processed, 1)

	chunks := processed[0].Chunks
	require.Len(t, chunks, 3)

	assert.Equal(t, "Alpha beta gamma. Delta epsilon zeta.", chunks[0].Text)
	assert.Equal(t, "zeta. Eta theta iota kappa lambda.", chunks[1].Text)
	assert.Equal(t, "Short tail.", chunks[2].Text)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "essay", chunk.ArticleID)
	}
	assert.Equal(t, "essay_2", chunks[2].ID)
	assert.Equal(t, []string{"Essay"}, chunks[0].Breadcrumb)
	assert.Equal(t, []string{"Essay", "Second"}, chunks[2].Breadcrumb)
}

func TestProcessor_ChunkSizeBound(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      60,
		ChunkOverlap:   15,
		MinChunkLength: 1,
	})
	require.NoError(t, err)

	text := strings.Repeat("The essay argues a point at length without pausing ", 20) +
		strings.Repeat("x", 150) + ". Done."

	chunks := p.ChunkArticle(models.Article{ID: "long", Sections: []models.Section{{Text: text}}})
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 60, chunk.Text)
	}

	joined := ""
	for _, chunk := range chunks {
		joined += " " + chunk.Text
	}
	assert.Contains(t, joined, "Done.")
	assert.Contains(t, joined, "pausing")
}

func TestProcessor_MergesShortChunksWithinSection(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      60,
		ChunkOverlap:   0,
		MinChunkLength: 20,
	})
	require.NoError(t, err)

	chunks := p.ChunkArticle(models.Article{
		ID:    "a",
		Title: "Essay",
		Sections: []models.Section{
			{Text: "Tiny lead."},
			{Heading: "Body", Breadcrumb: []string{"Body"}, Text: "A sentence that fills most of the chunk budget very nicely. Bye."},
			{Heading: "End", Breadcrumb: []string{"End"}, Text: "Bye."},
		},
	})

	require.Len(t, chunks, 3)

	assert.Equal(t, "Tiny lead.", chunks[0].Text)
	assert.Equal(t, []string{"Essay"}, chunks[0].Breadcrumb)

	assert.Equal(t, "A sentence that fills most of the chunk budget very nicely. Bye.", chunks[1].Text)
	assert.Equal(t, []string{"Essay", "Body"}, chunks[1].Breadcrumb)

	assert.Equal(t, "Bye.", chunks[2].Text)
	assert.Equal(t, []string{"Essay", "End"}, chunks[2].Breadcrumb)
	assert.Equal(t, "a_2", chunks[2].ID)
}

func TestProcessor_RepeatedSentencesKept(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      8,
		ChunkOverlap:   0,
		MinChunkLength: 1,
	})
	require.NoError(t, err)

	chunks := p.ChunkArticle(models.Article{ID: "r", Content: "Go now. Go now."})
	require.Len(t, chunks, 2)
	assert.Equal(t, "Go now.", chunks[0].Text)
	assert.Equal(t, "Go now.", chunks[1].Text)
}

func TestProcessor_Stopwords(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:       100,
		MinChunkLength:  1,
		RemoveStopwords: true,
		CustomStopwords: []string{"Document"},
	})
	require.NoError(t, err)

	chunks := p.ChunkArticle(models.Article{Content: "This is a test document. It contains several sentences."})
	require.Len(t, chunks, 1)
	assert.Equal(t, "This test contains several sentences.", chunks[0].Text)
}

func TestProcessor_Lowercase(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, MinChunkLength: 1, Lowercase: true})
	require.NoError(t, err)

	chunks := p.ChunkArticle(models.Article{Content: "Mixed   CASE\ntext."})
	require.Len(t, chunks, 1)
	assert.Equal(t, "mixed case text.", chunks[0].Text)
}

func TestProcessor_InvalidOverlap(t *testing.T) {
	_, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 50})
	assert.Error(t, err)

	_, err = processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: -1})
	assert.Error(t, err)
}

func TestProcessor_EmptyArticle(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)

	processed, err := p.Process([]models.Article{{ID: "empty"}})
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Empty(t, processed[0].Chunks)
}
