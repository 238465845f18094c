package gemini

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

type fakeContentGenerator struct {
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
	reply        string
}

func (f *fakeContentGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastContents = contents
	f.lastConfig = config
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}}},
		},
	}, nil
}

func TestConfigValidateRequiresAPIKey(t *testing.T) {
	if err := (&Config{}).validate(); err == nil {
		t.Error("expected missing api key to fail validation")
	}
}

func TestConfigValidateAppliesDefaultModel(t *testing.T) {
	c := &Config{APIKey: "k"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Model == "" {
		t.Error("expected a default model to be applied")
	}
}

func TestExecuteReturnsAssistantText(t *testing.T) {
	fake := &fakeContentGenerator{reply: "hello there"}
	p := &Provider{config: Config{Model: "gemini-2.0-flash"}, models: fake}

	agent := &runtime.Agent{SystemPrompt: "be concise"}
	agentCtx := runtime.NewAgentContext("s1", nil)

	resp, err := p.Execute(context.Background(), agent, corekit.Message{Role: corekit.RoleUser, Content: "hi"}, agentCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Message.Content != "hello there" || !resp.IsComplete {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(fake.lastContents) != 1 {
		t.Errorf("expected one content entry, got %d", len(fake.lastContents))
	}
	if fake.lastConfig == nil || fake.lastConfig.SystemInstruction == nil {
		t.Error("expected the system prompt to be carried as a system instruction")
	}
}

func TestExecuteSkipsEmptyMessages(t *testing.T) {
	fake := &fakeContentGenerator{reply: "ok"}
	p := &Provider{config: Config{Model: "gemini-2.0-flash"}, models: fake}

	agentCtx := runtime.NewAgentContext("s1", []corekit.Message{{Role: corekit.RoleUser, Content: ""}})
	if _, err := p.Execute(context.Background(), &runtime.Agent{}, corekit.Message{Role: corekit.RoleUser, Content: "hi"}, agentCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fake.lastContents) != 1 {
		t.Errorf("expected the empty history message to be skipped, got %d contents", len(fake.lastContents))
	}
}
