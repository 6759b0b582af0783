// Package explain provides AI-powered summaries of merge feedback and
// entity timelines using Claude Haiku.
package explain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/untoldecay/EraDB/internal/types"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// Client wraps the Anthropic API for summarization.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	feedbackTmpl   *template.Template
	timelineTmpl   *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewClient creates a summarization client. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey; model defaults to Haiku.
func NewClient(apiKey, model string) (*Client, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure explain.api-key", ErrAPIKeyRequired)
	}
	if model == "" {
		model = defaultModel
	}

	fbTmpl, err := template.New("feedback").Parse(feedbackPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feedback template: %w", err)
	}
	tlTmpl, err := template.New("timeline").Parse(timelinePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timeline template: %w", err)
	}

	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		feedbackTmpl:   fbTmpl,
		timelineTmpl:   tlTmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

const feedbackPromptTemplate = `You are summarizing the outcome of a temporal merge into table {{.Table}} (mode {{.Mode}}).

Per-row outcomes:
{{range .Feedback}}- row {{.SourceOrdinal}}{{if .SourceRowID}} ({{.SourceRowID}}){{end}}: {{.Status}}{{if .Message}} — {{.Message}}{{end}}
{{end}}
Write a short plain-language summary: how many rows were applied, skipped, or failed, and what a user should look at next. No preamble.`

const timelinePromptTemplate = `You are summarizing the validity timeline of one entity in table {{.Table}}.

Timeline rows, oldest first:
{{range .Rows}}- {{.}}
{{end}}
Describe, in a few sentences, how this entity evolved over time and whether the timeline has gaps. No preamble.`

// SummarizeFeedback produces a human summary of a merge's feedback batch.
func (c *Client) SummarizeFeedback(ctx context.Context, table string, mode types.MergeMode, feedback []types.Feedback) (string, error) {
	var b strings.Builder
	err := c.feedbackTmpl.Execute(&b, struct {
		Table    string
		Mode     types.MergeMode
		Feedback []types.Feedback
	}{table, mode, feedback})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return c.callWithRetry(ctx, b.String())
}

// SummarizeTimeline produces a human summary of an entity's timeline rows.
func (c *Client) SummarizeTimeline(ctx context.Context, table string, rows []string) (string, error) {
	var b strings.Builder
	err := c.timelineTmpl.Execute(&b, struct {
		Table string
		Rows  []string
	}{table, rows})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return c.callWithRetry(ctx, b.String())
}

// callWithRetry calls the API with exponential backoff on transient errors.
func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 512,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		var out strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				out.WriteString(block.Text)
			}
		}
		return strings.TrimSpace(out.String()), nil
	}
	return "", fmt.Errorf("summarization failed after %d attempts: %w", c.maxRetries, lastErr)
}
