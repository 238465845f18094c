package ark

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

type fakeChatClient struct {
	lastReq openai.ChatCompletionRequest
	reply   string
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}},
		},
	}, nil
}

func TestConfigValidateRequiresAPIKeyAndModel(t *testing.T) {
	if err := (&Config{}).validate(); err == nil {
		t.Error("expected missing api key to fail validation")
	}
	if err := (&Config{APIKey: "k"}).validate(); err == nil {
		t.Error("expected missing model to fail validation")
	}
}

func TestConfigValidateAppliesDefaultBaseURL(t *testing.T) {
	c := &Config{APIKey: "k", Model: "doubao-pro"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.BaseURL != DefaultBaseURL {
		t.Errorf("expected default base url, got %q", c.BaseURL)
	}
}

func TestExecuteReturnsAssistantText(t *testing.T) {
	fake := &fakeChatClient{reply: "hello there"}
	p := &Provider{config: Config{Model: "doubao-pro"}, client: fake}

	agent := &runtime.Agent{SystemPrompt: "be concise"}
	agentCtx := runtime.NewAgentContext("s1", nil)

	resp, err := p.Execute(context.Background(), agent, corekit.Message{Role: corekit.RoleUser, Content: "hi"}, agentCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Message.Content != "hello there" || !resp.IsComplete {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(fake.lastReq.Messages) != 2 {
		t.Errorf("expected system + user messages, got %d", len(fake.lastReq.Messages))
	}
}
