package markdown

import (
	"bytes"
	"fmt"
	"time"

	"github.com/adrg/frontmatter"
)

// FrontMatter is the metadata block that may open an article.
type FrontMatter struct {
	Title   string
	Slug    string
	Summary string
	Author  string
	Tags    []string
	Date    time.Time
	Draft   bool
	Custom  map[string]interface{}
}

type frontMatterEnvelope struct {
	Title   string                 `yaml:"title" toml:"title" json:"title"`
	Slug    string                 `yaml:"slug" toml:"slug" json:"slug"`
	Summary string                 `yaml:"summary" toml:"summary" json:"summary"`
	Author  string                 `yaml:"author" toml:"author" json:"author"`
	Tags    []string               `yaml:"tags" toml:"tags" json:"tags"`
	Date    time.Time              `yaml:"date" toml:"date" json:"date"`
	Draft   bool                   `yaml:"draft" toml:"draft" json:"draft"`
	Custom  map[string]interface{} `yaml:",inline" toml:"-" json:"-"`
}

// ParseFrontMatter splits source into its metadata and markdown body.
// Sources without a front matter block are returned unchanged.
func ParseFrontMatter(source []byte) (FrontMatter, []byte, error) {
	var env frontMatterEnvelope

	body, err := frontmatter.Parse(bytes.NewReader(source), &env)
	if err != nil {
		return FrontMatter{}, nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	custom := make(map[string]interface{}, len(env.Custom))
	for key, value := range env.Custom {
		custom[key] = normalizeValue(value)
	}

	return FrontMatter{
		Title:   env.Title,
		Slug:    env.Slug,
		Summary: env.Summary,
		Author:  env.Author,
		Tags:    append([]string(nil), env.Tags...),
		Date:    env.Date,
		Draft:   env.Draft,
		Custom:  custom,
	}, body, nil
}

// normalizeValue converts YAML maps keyed by interface{} into string-keyed
// maps so metadata stays JSON encodable.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return value
	}
}
