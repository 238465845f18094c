// Package ark wraps a Volcengine Ark (OpenAI-compatible) chat
// completions endpoint as a runtime.AgentExecutor.
package ark

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// EnvAPIKey is the environment variable this provider registers under.
const EnvAPIKey = "ARK_API_KEY"

// DefaultBaseURL is Volcengine's Ark OpenAI-compatible endpoint.
const DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// Config configures the Ark executor.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return errs.ProviderError(fmt.Errorf("ark: api key is required"))
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		return errs.ProviderError(fmt.Errorf("ark: model is required"))
	}
	return nil
}

// chatClient is the slice of *openai.Client this provider calls. Ark
// speaks the OpenAI chat completions wire format, so the same client
// type serves both providers pointed at different base URLs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Provider implements runtime.AgentExecutor over an Ark endpoint.
type Provider struct {
	config Config
	client chatClient
}

var _ runtime.AgentExecutor = (*Provider)(nil)

// New returns an Ark-backed executor for config.
func New(config Config) (*Provider, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	return &Provider{config: config, client: openai.NewClientWithConfig(clientConfig)}, nil
}

// Registered reports whether ARK_API_KEY is set in the process
// environment.
func Registered() bool {
	return os.Getenv(EnvAPIKey) != ""
}

// Execute sends agentCtx's history plus lastMessage as a single chat
// completion request and returns the model's reply as plain text.
func (p *Provider) Execute(ctx context.Context, agent *runtime.Agent, lastMessage corekit.Message, agentCtx *runtime.AgentContext) (runtime.AgentResponse, error) {
	history := append(append([]corekit.Message{}, agentCtx.History...), lastMessage)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if agent.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: agent.SystemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    arkRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.config.Model,
		Messages: messages,
	})
	if err != nil {
		return runtime.AgentResponse{}, errs.ProviderError(fmt.Errorf("ark: create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return runtime.AgentResponse{}, errs.ProviderError(fmt.Errorf("ark: no choices returned"))
	}

	return runtime.AgentResponse{
		Message:    corekit.Message{Role: corekit.RoleAssistant, Content: resp.Choices[0].Message.Content},
		IsComplete: true,
	}, nil
}

func arkRole(role corekit.Role) string {
	switch role {
	case corekit.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case corekit.RoleSystem:
		return openai.ChatMessageRoleSystem
	case corekit.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}
