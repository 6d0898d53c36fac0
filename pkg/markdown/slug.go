package markdown

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-slug"
	"github.com/google/uuid"
)

var articleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/xhad/corpus/articles"))

// ArticleID derives a stable identifier from a slug.
func ArticleID(slugValue string) string {
	return uuid.NewSHA1(articleNamespace, []byte(slugValue)).String()
}

// Slugger hands out unique slugs for one ingestion run.
type Slugger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSlugger() *Slugger {
	return &Slugger{seen: make(map[string]struct{})}
}

// Assign normalizes preferred (or title when preferred is empty) and
// suffixes it until it is unique. index is the fallback when neither
// normalizes to anything.
func (s *Slugger) Assign(preferred, title string, index int) string {
	base := normalize(preferred)
	if base == "" {
		base = normalize(title)
	}
	if base == "" {
		base = fmt.Sprintf("article-%d", index+1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := base
	for n := 2; s.taken(candidate); n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	s.seen[candidate] = struct{}{}
	return candidate
}

func (s *Slugger) taken(value string) bool {
	_, ok := s.seen[value]
	return ok
}

func (s *Slugger) Reset() {
	s.mu.Lock()
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
}

func normalize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	normalized, err := slug.Normalize(value)
	if err != nil || !slug.IsValid(normalized) {
		return ""
	}
	return normalized
}
