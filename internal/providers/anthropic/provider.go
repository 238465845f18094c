// Package anthropic wraps the Anthropic Messages API as a
// runtime.AgentExecutor, translating the accumulated turn history into
// a single completion request per turn.
package anthropic

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// EnvAPIKey is the environment variable this provider registers under.
const EnvAPIKey = "ANTHROPIC_API_KEY"

// Config configures the Anthropic executor.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return errs.ProviderError(fmt.Errorf("anthropic: api key is required"))
	}
	if c.Model == "" {
		c.Model = string(anthropic.ModelClaudeSonnet4_5)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	return nil
}

// messageClient is the slice of anthropic.Client this provider calls.
type messageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Provider implements runtime.AgentExecutor over the Anthropic API.
type Provider struct {
	config Config
	client messageClient
}

var _ runtime.AgentExecutor = (*Provider)(nil)

// New returns an Anthropic-backed executor for config.
func New(config Config) (*Provider, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))
	return &Provider{config: config, client: client.Messages}, nil
}

// Registered reports whether ANTHROPIC_API_KEY is set in the process
// environment, the signal this provider uses to opt into a running
// agent's provider set.
func Registered() bool {
	return os.Getenv(EnvAPIKey) != ""
}

// Execute sends agentCtx's history plus lastMessage as a single
// Messages API turn and returns the model's reply as plain text.
func (p *Provider) Execute(ctx context.Context, agent *runtime.Agent, lastMessage corekit.Message, agentCtx *runtime.AgentContext) (runtime.AgentResponse, error) {
	history := append(append([]corekit.Message{}, agentCtx.History...), lastMessage)

	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case corekit.RoleUser, corekit.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case corekit.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: p.config.MaxTokens,
		Messages:  messages,
	}
	if agent.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: agent.SystemPrompt}}
	}

	resp, err := p.client.New(ctx, params)
	if err != nil {
		return runtime.AgentResponse{}, errs.ProviderError(fmt.Errorf("anthropic: messages.new: %w", err))
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return runtime.AgentResponse{
		Message:    corekit.Message{Role: corekit.RoleAssistant, Content: text},
		IsComplete: true,
	}, nil
}
