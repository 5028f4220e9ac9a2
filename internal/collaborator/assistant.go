// Package collaborator holds the concrete implementations of the dispatcher's
// collaborators: the assistant platform HTTP API and the Redis reminder queue.
package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const sdkPrefix = "/api/sdk"

type chatRequest struct {
	Message      string `json:"message"`
	Context      string `json:"context,omitempty"`
	UseTools     bool   `json:"useTools"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type chatResponse struct {
	Content   string   `json:"content"`
	ToolsUsed []string `json:"toolsUsed"`
	Usage     struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

type memoryRequest struct {
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Importance int            `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type memoryResponse struct {
	ID string `json:"id"`
}

type toolRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// AssistantClient talks to the assistant platform SDK API. It serves as the
// dispatcher's ChatAssistant, MemoryStore and ToolRunner.
type AssistantClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

var (
	_ dispatch.ChatAssistant = (*AssistantClient)(nil)
	_ dispatch.MemoryStore   = (*AssistantClient)(nil)
	_ dispatch.ToolRunner    = (*AssistantClient)(nil)
)

// NewAssistantClient builds a client for cfg.BaseURL. Requests are not retried.
func NewAssistantClient(cfg *config.AssistantConfig, logger *zap.Logger) *AssistantClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &AssistantClient{httpClient: client, logger: logger}
}

// Converse sends message to the chat endpoint and returns the reply text.
func (c *AssistantClient) Converse(ctx context.Context, userID, message, systemPrompt string) (string, error) {
	req := chatRequest{
		Message:      message,
		Context:      "user_id=" + userID,
		UseTools:     true,
		SystemPrompt: systemPrompt,
	}

	var result chatResponse
	if err := c.post(ctx, sdkPrefix+"/chat", req, &result); err != nil {
		return "", err
	}

	c.logger.Debug("Assistant chat completed",
		zap.String("user_id", userID),
		zap.Strings("tools_used", result.ToolsUsed),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
	)
	return result.Content, nil
}

// Store saves m as a memory and returns its id.
func (c *AssistantClient) Store(ctx context.Context, m dispatch.Memory) (string, error) {
	metadata := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	if m.UserID != "" {
		metadata["userId"] = m.UserID
	}

	memType := m.Type
	if memType == "" {
		memType = "episodic"
	}

	req := memoryRequest{
		Content:    m.Content,
		Type:       memType,
		Importance: m.Importance,
		Metadata:   metadata,
	}

	var result memoryResponse
	if err := c.post(ctx, sdkPrefix+"/memory", req, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Execute runs tool and returns the raw JSON result.
func (c *AssistantClient) Execute(ctx context.Context, tool string, input map[string]any) (string, error) {
	if input == nil {
		input = map[string]any{}
	}

	var result json.RawMessage
	if err := c.post(ctx, sdkPrefix+"/tools/execute", toolRequest{Tool: tool, Input: input}, &result); err != nil {
		return "", err
	}
	return string(result), nil
}

// Available reports whether the platform health endpoint answers 200.
func (c *AssistantClient) Available(ctx context.Context) bool {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	return err == nil && resp.StatusCode() == 200
}

func (c *AssistantClient) post(ctx context.Context, path string, body, result any) error {
	var apiErr errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		c.logger.Error("Assistant API call failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call %s: %w", path, err)
	}

	if resp.IsError() {
		c.logger.Error("Assistant API returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", apiErr.text()),
		)
		if msg := apiErr.text(); msg != "" {
			return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode(), msg)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode())
	}
	return nil
}
