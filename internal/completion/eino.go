package completion

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// EinoClient adapts an eino chat model to the Completer interface.
type EinoClient struct {
	chatModel model.BaseChatModel
}

// NewEinoClient wraps an existing eino chat model.
func NewEinoClient(chatModel model.BaseChatModel) *EinoClient {
	return &EinoClient{chatModel: chatModel}
}

// OpenAIConfig holds configuration for the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewOpenAIClient creates an EinoClient backed by an OpenAI-compatible API.
func NewOpenAIClient(ctx context.Context, config OpenAIConfig) (*EinoClient, error) {
	cfg, err := openAIModelConfig(config)
	if err != nil {
		return nil, err
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return NewEinoClient(chatModel), nil
}

// openAIModelConfig fills in environment fallbacks and defaults.
func openAIModelConfig(config OpenAIConfig) (*openai.ChatModelConfig, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o-mini"
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
		Timeout:             timeout,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	return cfg, nil
}

// Complete generates one reply. Failures are reported with the same
// transport-kind error the HTTP client uses.
func (c *EinoClient) Complete(ctx context.Context, turns []Turn) (string, error) {
	resp, err := c.chatModel.Generate(ctx, toSchemaMessages(turns))
	if err != nil {
		return "", transportError(err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", transportError(types.ErrEmptyCompletion)
	}
	return resp.Content, nil
}

func toSchemaMessages(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		var role schema.RoleType
		switch t.Role {
		case types.RoleSystem:
			role = schema.System
		case types.RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: t.Content})
	}
	return msgs
}
