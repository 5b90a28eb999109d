package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/umputun/newsflux/pkg/config"
)

// Client is the LLM completion capability used by the classification and
// title cascades. All calls share a single rate limiter enforcing minimum
// inter-call spacing, independent of how many workers run concurrently.
type Client struct {
	client  *openai.Client
	config  config.LLMConfig
	limiter *rate.Limiter
}

// NewClient creates an LLM client for an OpenAI-compatible endpoint
func NewClient(cfg config.LLMConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	// no configured spacing makes the limiter a no-op
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateInterval), 1)
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: limiter,
	}
}

const classifySystemPrompt = `You are an AI assistant that assigns a single category to news articles.
Respond with a JSON object: {"category": "<category>", "confidence": <0.0-1.0>}.
Pick the category from the provided list when one fits, use "general" otherwise.
Confidence reflects how certain you are about the category.`

const titleSystemPrompt = `You are an AI assistant that writes a headline for an article from its text.
Respond with a JSON object: {"title": "<headline>", "summary": "<1-2 sentence summary>"}.
The headline must be factual, 10-120 characters, in the same language as the article.
Never start with phrases like "The article" or "This piece".`

// Classify asks the LLM for a category for the article. The returned
// confidence is the model's own estimate.
func (c *Client) Classify(ctx context.Context, title, content string, categories []string) (string, float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("rate limit wait: %w", err)
	}

	var sb strings.Builder
	if len(categories) > 0 {
		sb.WriteString("Available categories: ")
		sb.WriteString(strings.Join(categories, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n\nContent: ")
	sb.WriteString(truncate(content, 1500))

	resp, err := c.complete(ctx, classifySystemPrompt, sb.String())
	if err != nil {
		return "", 0, err
	}

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp)), &parsed); err != nil {
		return "", 0, fmt.Errorf("failed to parse json response: %w", err)
	}
	if parsed.Category == "" {
		return "", 0, fmt.Errorf("no category in response")
	}

	// clamp reported confidence to a valid range
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return strings.ToLower(strings.TrimSpace(parsed.Category)), parsed.Confidence, nil
}

// GenerateTitle asks the LLM for a headline derived from the article text
func (c *Client) GenerateTitle(ctx context.Context, content string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.complete(ctx, titleSystemPrompt, truncate(content, 2000))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp)), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse json response: %w", err)
	}
	if parsed.Title == "" {
		return "", fmt.Errorf("no title in response")
	}
	return strings.TrimSpace(parsed.Title), nil
}

// complete performs a chat completion, retrying up to 3 times when the
// model returns something that isn't parseable JSON
func (c *Client) complete(ctx context.Context, systemMsg, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req := openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Temperature: float32(c.config.Temperature),
			MaxTokens:   c.config.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemMsg},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("llm request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no response from llm")
		}

		content := resp.Choices[0].Message.Content
		if extractJSON(content) != "" {
			return content, nil
		}
		lastErr = fmt.Errorf("no json object found in response")
	}
	return "", fmt.Errorf("failed after 3 attempts: %w", lastErr)
}

// extractJSON pulls the first JSON object out of a possibly chatty response
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start >= end {
		return ""
	}
	return content[start : end+1]
}

// truncate limits content to n characters for prompt building
func truncate(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n] + "..."
}
