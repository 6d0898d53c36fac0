package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/corpus/internal/models"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
}

// ChatEngine answers questions about the corpus from retrieved chunks.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

func applyChatDefaults(config *ChatConfig) error {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a careful reader of an essay collection. Answer questions using only the excerpts provided and cite the article titles you rely on."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Relevant excerpts:\n%s\nQuestion: %s"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return nil
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func (ce *ChatEngine) messages(query string, hits []models.SearchResult) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, ce.BuildPrompt(query, hits)),
	}
}

// BuildPrompt renders the retrieved excerpts and the question through the
// context template.
func (ce *ChatEngine) BuildPrompt(query string, hits []models.SearchResult) string {
	var contextBuilder strings.Builder
	for i, hit := range hits {
		source := hit.URL
		if source == "" {
			source = hit.ArticleSlug
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] %s (%s)\n", i+1, hit.ArticleTitle, source))
		if len(hit.Breadcrumb) > 1 {
			contextBuilder.WriteString("Section: " + strings.Join(hit.Breadcrumb[1:], " > ") + "\n")
		}
		contextBuilder.WriteString(hit.Text)
		contextBuilder.WriteString("\n\n")
	}
	return fmt.Sprintf(ce.config.ContextTemplate, contextBuilder.String(), query)
}

func (ce *ChatEngine) callOptions(extra ...llms.CallOption) []llms.CallOption {
	options := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	return append(options, extra...)
}

// Chat generates a response based on the query and retrieved chunks.
func (ce *ChatEngine) Chat(ctx context.Context, query string, hits []models.SearchResult) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(query, hits), ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// ChatStream streams the response as it is generated. The text channel is
// closed when generation ends; at most one error is sent on the error
// channel.
func (ce *ChatEngine) ChatStream(ctx context.Context, query string, hits []models.SearchResult) (<-chan string, <-chan error) {
	resultChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(resultChan)
		defer close(errChan)

		streamed := false
		stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		response, err := ce.llm.GenerateContent(ctx, ce.messages(query, hits), ce.callOptions(stream)...)
		if err != nil {
			errChan <- fmt.Errorf("chat error: %w", err)
			return
		}

		// Models that ignore the streaming callback still return the full text.
		if !streamed && response != nil {
			for _, choice := range response.Choices {
				if choice == nil || choice.Content == "" {
					continue
				}
				select {
				case resultChan <- choice.Content:
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}
			}
		}
	}()

	return resultChan, errChan
}

// FormatSources lists the distinct articles behind a set of hits.
func FormatSources(hits []models.SearchResult) string {
	var sources []string
	seen := make(map[string]bool)

	for _, hit := range hits {
		key := hit.ArticleSlug
		if seen[key] {
			continue
		}
		seen[key] = true
		if hit.URL != "" {
			sources = append(sources, fmt.Sprintf("%s <%s>", hit.ArticleTitle, hit.URL))
		} else {
			sources = append(sources, fmt.Sprintf("%s (%s)", hit.ArticleTitle, hit.ArticleSlug))
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(sources, "\n"))
}
