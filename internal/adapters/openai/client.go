package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/textutil"
)

// Client is a hosted-LLM refine backend. It asks the model to pick one of the
// user's category names and parses the structured JSON reply.
type Client struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	maxBodySize int
	categories  func(ctx context.Context, userID string) ([]string, error)
	logger      *zap.Logger
}

type labelResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

const promptFormat = `You are an email categorization system. Assign the email below to exactly one of these categories:
%s

Respond with a JSON object containing:
- label: string (one of the category names above, verbatim)
- confidence: number between 0 and 1

Email:
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// NewClient creates an OpenAI-backed refine client. categories supplies the
// allowed label set per user.
func NewClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	maxBodySize int,
	categories func(ctx context.Context, userID string) ([]string, error),
	logger *zap.Logger,
) *Client {
	return &Client{
		client:      openai.NewClient(apiKey),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		maxBodySize: maxBodySize,
		categories:  categories,
		logger:      logger,
	}
}

// Name identifies the backend in logs.
func (c *Client) Name() string {
	return "openai"
}

// Classify asks the model for a label constrained to the user's categories.
func (c *Client) Classify(ctx context.Context, subject, body, userID string) (*core.Classification, error) {
	names, err := c.categories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load category names: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("user has no categories: %w", core.ErrInvalidResponse)
	}

	prompt := fmt.Sprintf(promptFormat,
		"- "+strings.Join(names, "\n- "),
		subject,
		textutil.Truncate(body, c.maxBodySize))

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email categorization system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: "json_object"}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", core.ErrUpstreamUnavailable)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response: %w", core.ErrInvalidResponse)
	}

	decoded, err := parseLabelResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	// Reject labels the model invented.
	label := ""
	for _, name := range names {
		if strings.EqualFold(name, decoded.Label) {
			label = name
			break
		}
	}
	if label == "" {
		return nil, fmt.Errorf("model returned unknown label %q: %w", decoded.Label, core.ErrInvalidResponse)
	}

	return &core.Classification{
		Label:        label,
		Confidence:   core.ClampConfidence(decoded.Confidence),
		Method:       core.MethodPhase2ML,
		ModelVersion: c.modelName,
		ClassifiedAt: time.Now(),
	}, nil
}

// Healthy verifies the API is reachable with the configured credentials.
func (c *Client) Healthy(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai not reachable: %w", core.ErrUpstreamUnavailable)
	}
	return nil
}

// parseLabelResponse decodes the model reply, tolerating prose around the
// JSON object.
func parseLabelResponse(text string) (*labelResponse, error) {
	var decoded labelResponse
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("completion is not JSON: %w", core.ErrInvalidResponse)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &decoded); err != nil {
			return nil, fmt.Errorf("failed to parse completion JSON: %w", core.ErrInvalidResponse)
		}
	}
	if decoded.Label == "" {
		return nil, fmt.Errorf("completion has no label: %w", core.ErrInvalidResponse)
	}
	return &decoded, nil
}
