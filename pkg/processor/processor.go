package processor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/corpus/internal/models"
)

type ProcessorConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkLength  int
	RemoveStopwords bool
	CustomStopwords []string
	Lowercase       bool
}

type Processor struct {
	config    ProcessorConfig
	stopwords map[string]struct{}
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = 200
		}
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = config.ChunkSize / 10
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be non-negative and less than chunk size %d",
			config.ChunkOverlap, config.ChunkSize)
	}

	stopwords := make(map[string]struct{})
	if config.RemoveStopwords {
		for _, word := range getStopwords() {
			stopwords[word] = struct{}{}
		}
		for _, word := range config.CustomStopwords {
			stopwords[strings.ToLower(word)] = struct{}{}
		}
	}

	return &Processor{
		config:    config,
		stopwords: stopwords,
	}, nil
}

func (p *Processor) Process(docs []models.Article) ([]models.ProcessedArticle, error) {
	processed := make([]models.ProcessedArticle, 0, len(docs))

	for _, doc := range docs {
		processed = append(processed, models.ProcessedArticle{
			Article: doc,
			Chunks:  p.ChunkArticle(doc),
		})
	}

	return processed, nil
}

// ChunkArticle chunks every section of doc and numbers the chunks in
// reading order.
func (p *Processor) ChunkArticle(doc models.Article) []models.Chunk {
	var chunks []models.Chunk

	sections := doc.Sections
	if len(sections) == 0 && doc.Content != "" {
		sections = []models.Section{{Text: doc.Content}}
	}

	for _, section := range sections {
		text := p.cleanText(section.Text)
		if text == "" {
			continue
		}
		breadcrumb := append([]string{doc.Title}, section.Breadcrumb...)
		var sectionChunks []models.Chunk
		for _, piece := range p.splitIntoChunks(text) {
			sectionChunks = append(sectionChunks, models.Chunk{
				ArticleID:  doc.ID,
				Breadcrumb: breadcrumb,
				Text:       piece,
			})
		}
		// Merging stays inside the section so every chunk keeps its own
		// heading path.
		chunks = append(chunks, p.mergeShort(sectionChunks)...)
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].ID = fmt.Sprintf("%s_%d", doc.ID, i)
	}
	return chunks
}

func (p *Processor) cleanText(text string) string {
	if p.config.Lowercase {
		text = strings.ToLower(text)
	}

	// Replace multiple spaces with single space
	text = strings.Join(strings.Fields(text), " ")

	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return strings.TrimSpace(text)
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string
	current := strings.Builder{}
	size := 0
	// fresh is set once the buffer holds text that no emitted chunk has.
	fresh := false

	emit := func() {
		fresh = false
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		size = 0
		if p.config.ChunkOverlap > 0 && chunk != "" {
			overlap := tail(chunk, p.config.ChunkOverlap)
			if overlap != "" && overlap != chunk {
				current.WriteString(overlap)
				current.WriteString(" ")
				size = utf8.RuneCountInString(overlap) + 1
			}
		}
	}

	for _, sentence := range p.splitIntoSentences(text) {
		for _, piece := range p.splitLong(sentence) {
			n := utf8.RuneCountInString(piece)
			if size > 0 && size+n > p.config.ChunkSize && current.Len() > 0 {
				emit()
			}
			current.WriteString(piece)
			current.WriteString(" ")
			size += n + 1
			fresh = true
		}
	}

	// A trailing buffer holding only the overlap adds nothing new.
	if last := strings.TrimSpace(current.String()); last != "" && fresh {
		chunks = append(chunks, last)
	}

	return chunks
}

func (p *Processor) splitIntoSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}

	if start < len(runes) {
		if sentence := strings.TrimSpace(string(runes[start:])); sentence != "" {
			sentences = append(sentences, sentence)
		}
	}

	return sentences
}

// splitLong breaks a sentence longer than the chunk size on word
// boundaries. A single word longer than the chunk size is cut by runes.
func (p *Processor) splitLong(sentence string) []string {
	limit := p.config.ChunkSize - p.config.ChunkOverlap - 1
	if limit < 1 {
		limit = 1
	}
	if utf8.RuneCountInString(sentence) <= limit {
		return []string{sentence}
	}

	var pieces []string
	current := strings.Builder{}
	size := 0
	for _, word := range strings.Fields(sentence) {
		for utf8.RuneCountInString(word) > limit {
			if size > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
				size = 0
			}
			runes := []rune(word)
			pieces = append(pieces, string(runes[:limit]))
			word = string(runes[limit:])
		}
		n := utf8.RuneCountInString(word)
		if size > 0 && size+1+n > limit {
			pieces = append(pieces, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteString(" ")
			size++
		}
		current.WriteString(word)
		size += n
	}
	if size > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// mergeShort folds chunks below MinChunkLength into a neighbour so no text
// is lost. chunks must all belong to one section.
func (p *Processor) mergeShort(chunks []models.Chunk) []models.Chunk {
	if len(chunks) < 2 {
		return chunks
	}

	merged := make([]models.Chunk, 0, len(chunks))
	var carry string
	for _, chunk := range chunks {
		if carry != "" {
			chunk.Text = carry + " " + chunk.Text
			carry = ""
		}
		if utf8.RuneCountInString(chunk.Text) >= p.config.MinChunkLength {
			merged = append(merged, chunk)
			continue
		}
		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			prev.Text = prev.Text + " " + chunk.Text
			continue
		}
		carry = chunk.Text
	}
	if carry != "" {
		merged = append(merged, models.Chunk{
			ArticleID:  chunks[len(chunks)-1].ArticleID,
			Breadcrumb: chunks[len(chunks)-1].Breadcrumb,
			Text:       carry,
		})
	}
	return merged
}

// tail returns the last n runes of s, advanced to the next word boundary.
func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	cut := runes[len(runes)-n:]
	if !unicode.IsSpace(runes[len(runes)-n-1]) {
		for i, r := range cut {
			if unicode.IsSpace(r) {
				cut = cut[i+1:]
				break
			}
			if i == len(cut)-1 {
				return ""
			}
		}
	}
	return strings.TrimSpace(string(cut))
}

func (p *Processor) removeStopwords(text string) string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		key := strings.ToLower(strings.TrimFunc(word, unicode.IsPunct))
		if _, ok := p.stopwords[key]; !ok {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}
