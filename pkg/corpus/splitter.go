package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xhad/corpus/internal/models"
)

const (
	DefaultPrefix         = "<|RELATED_DOC_SEP-"
	DefaultSuffix         = "|>"
	DefaultMaxLabelLength = 128
	DefaultMaxArticleSize = 8 << 20
)

// scanSlack is the whitespace allowed around an article of MaxArticleSize.
const scanSlack = 4096

// ErrArticleTooLarge is returned when a single article exceeds MaxArticleSize.
var ErrArticleTooLarge = errors.New("article exceeds maximum size")

type SplitterConfig struct {
	Prefix         string
	Suffix         string
	MaxLabelLength int
	MaxArticleSize int
	KeepEmpty      bool
	Source         string
}

// Splitter cuts a corpus stream into articles at separator tokens.
type Splitter struct {
	config SplitterConfig
	prefix []byte
	suffix []byte
}

func NewWithConfig(config SplitterConfig) *Splitter {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Suffix == "" {
		config.Suffix = DefaultSuffix
	}
	if config.MaxLabelLength <= 0 {
		config.MaxLabelLength = DefaultMaxLabelLength
	}
	if config.MaxArticleSize <= 0 {
		config.MaxArticleSize = DefaultMaxArticleSize
	}

	return &Splitter{
		config: config,
		prefix: []byte(config.Prefix),
		suffix: []byte(config.Suffix),
	}
}

func New() *Splitter {
	return NewWithConfig(SplitterConfig{})
}

// WithSource returns a copy of the splitter that stamps articles with source.
func (s *Splitter) WithSource(source string) *Splitter {
	config := s.config
	config.Source = source
	return NewWithConfig(config)
}

func (s *Splitter) Split(r io.Reader) ([]models.RawArticle, error) {
	var articles []models.RawArticle
	err := s.Scan(r, func(article models.RawArticle) error {
		articles = append(articles, article)
		return nil
	})
	return articles, err
}

func (s *Splitter) SplitString(text string) ([]models.RawArticle, error) {
	return s.Split(strings.NewReader(text))
}

// Scan streams r and calls fn for every article in corpus order. Scanning
// stops at the first error returned by fn.
func (s *Splitter) Scan(r io.Reader, fn func(models.RawArticle) error) error {
	scanner := bufio.NewScanner(r)
	// A token holds the leading separator, the article body and the
	// whitespace around it. The buffer must also fit the next separator
	// while it is being matched.
	separator := len(s.prefix) + s.config.MaxLabelLength + len(s.suffix)
	limit := s.config.MaxArticleSize + 2*separator + scanSlack
	initial := 64 * 1024
	if initial > limit {
		initial = limit
	}
	scanner.Buffer(make([]byte, 0, initial), limit)
	scanner.Split(s.splitFunc)

	index := 0
	for scanner.Scan() {
		label, body := s.parseSegment(scanner.Bytes())
		if len(body) == 0 && !s.config.KeepEmpty {
			continue
		}
		if len(body) > s.config.MaxArticleSize {
			return fmt.Errorf("%s: article %d: %w", s.sourceName(), index, ErrArticleTooLarge)
		}

		article := models.RawArticle{
			Index:  index,
			Label:  label,
			Source: s.config.Source,
			Body:   body,
		}
		if err := fn(article); err != nil {
			return err
		}
		index++
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%s: article %d: %w", s.sourceName(), index, ErrArticleTooLarge)
		}
		return fmt.Errorf("%s: read corpus: %w", s.sourceName(), err)
	}
	return nil
}

func (s *Splitter) sourceName() string {
	if s.config.Source == "" {
		return "corpus"
	}
	return s.config.Source
}

// splitFunc yields segments that start with their separator (except the
// preamble) and run up to the next valid separator.
func (s *Splitter) splitFunc(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	from := 0
	end, ok, more := s.matchAt(data, 0, atEOF)
	if more {
		return 0, nil, nil
	}
	if ok {
		from = end
	}

	for {
		i := bytes.Index(data[from:], s.prefix)
		if i < 0 {
			break
		}
		at := from + i
		_, ok, more := s.matchAt(data, at, atEOF)
		if more {
			return 0, nil, nil
		}
		if ok {
			return at, data[:at], nil
		}
		from = at + len(s.prefix)
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// matchAt reports whether a complete separator starts at data[at:]. more is
// set when the buffer ends before the answer is known.
func (s *Splitter) matchAt(data []byte, at int, atEOF bool) (end int, ok bool, more bool) {
	rest := data[at:]
	if !bytes.HasPrefix(rest, s.prefix) {
		if !atEOF && len(rest) < len(s.prefix) && bytes.HasPrefix(s.prefix, rest) {
			return 0, false, true
		}
		return 0, false, false
	}

	rest = rest[len(s.prefix):]
	window := s.config.MaxLabelLength + len(s.suffix)
	if len(rest) < window {
		window = len(rest)
	}

	j := bytes.Index(rest[:window], s.suffix)
	nl := bytes.IndexByte(rest[:window], '\n')
	switch {
	case j >= 0 && (nl < 0 || nl > j):
		return at + len(s.prefix) + j + len(s.suffix), true, false
	case nl >= 0:
		return 0, false, false
	case !atEOF && len(rest) < s.config.MaxLabelLength+len(s.suffix):
		return 0, false, true
	}
	return 0, false, false
}

func (s *Splitter) parseSegment(segment []byte) (string, []byte) {
	label := ""
	if end, ok, _ := s.matchAt(segment, 0, true); ok {
		label = string(segment[len(s.prefix) : end-len(s.suffix)])
		segment = segment[end:]
	}

	body := bytes.ReplaceAll(segment, []byte("\r\n"), []byte("\n"))
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return strings.TrimSpace(label), nil
	}
	return strings.TrimSpace(label), body
}
