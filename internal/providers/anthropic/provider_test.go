package anthropic

import (
	"context"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

type fakeMessageClient struct {
	lastParams anthropic.MessageNewParams
	reply      string
}

func (f *fakeMessageClient) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	f.lastParams = params
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}},
	}, nil
}

func TestConfigValidateRequiresAPIKey(t *testing.T) {
	if err := (&Config{}).validate(); err == nil {
		t.Error("expected missing api key to fail validation")
	}
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	c := &Config{APIKey: "k"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Model == "" || c.MaxTokens == 0 {
		t.Errorf("expected defaults to be applied, got %+v", c)
	}
}

func TestExecuteReturnsAssistantText(t *testing.T) {
	fake := &fakeMessageClient{reply: "hello there"}
	p := &Provider{config: Config{Model: "claude", MaxTokens: 100}, client: fake}

	agent := &runtime.Agent{SystemPrompt: "be concise"}
	agentCtx := runtime.NewAgentContext("s1", nil)

	resp, err := p.Execute(context.Background(), agent, corekit.Message{Role: corekit.RoleUser, Content: "hi"}, agentCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Message.Content != "hello there" || !resp.IsComplete {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(fake.lastParams.Messages) != 1 {
		t.Errorf("expected one message sent, got %d", len(fake.lastParams.Messages))
	}
}
