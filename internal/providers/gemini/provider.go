// Package gemini wraps the Google Gen AI SDK as a runtime.AgentExecutor,
// translating the accumulated turn history into a single
// GenerateContent call per turn.
package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// EnvAPIKey is the environment variable this provider registers under.
const EnvAPIKey = "GEMINI_API_KEY"

// Config configures the Gemini executor.
type Config struct {
	APIKey string
	Model  string
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return errs.ProviderError(fmt.Errorf("gemini: api key is required"))
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	return nil
}

// contentGenerator is the slice of genai.Models this provider calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements runtime.AgentExecutor over the Gemini API.
type Provider struct {
	config Config
	models contentGenerator
}

var _ runtime.AgentExecutor = (*Provider)(nil)

// New returns a Gemini-backed executor for config.
func New(ctx context.Context, config Config) (*Provider, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.ProviderError(fmt.Errorf("gemini: new client: %w", err))
	}
	return &Provider{config: config, models: client.Models}, nil
}

// Registered reports whether GEMINI_API_KEY is set in the process
// environment.
func Registered() bool {
	return os.Getenv(EnvAPIKey) != ""
}

// Execute sends agentCtx's history plus lastMessage as a single
// GenerateContent turn and returns the model's reply as plain text.
func (p *Provider) Execute(ctx context.Context, agent *runtime.Agent, lastMessage corekit.Message, agentCtx *runtime.AgentContext) (runtime.AgentResponse, error) {
	history := append(append([]corekit.Message{}, agentCtx.History...), lastMessage)

	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if m.Role == corekit.RoleSystem {
			continue
		}
		role := genai.RoleUser
		if m.Role == corekit.RoleAssistant {
			role = genai.RoleModel
		}
		if m.Content == "" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if agent.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: agent.SystemPrompt}},
		}
	}

	resp, err := p.models.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		return runtime.AgentResponse{}, errs.ProviderError(fmt.Errorf("gemini: generate content: %w", err))
	}

	var text string
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil {
				text += part.Text
			}
		}
	}

	return runtime.AgentResponse{
		Message:    corekit.Message{Role: corekit.RoleAssistant, Content: text},
		IsComplete: true,
	}, nil
}
