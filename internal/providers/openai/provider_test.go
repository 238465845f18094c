package openai

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
	fake := &fakeChatClient{reply: "hello there"}
	p := &Provider{config: Config{Model: "gpt-4o"}, client: fake}

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
	if fake.lastReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("expected first message to carry the system prompt, got role %q", fake.lastReq.Messages[0].Role)
	}
}

func TestExecuteReturnsErrorOnNoChoices(t *testing.T) {
	p := &Provider{config: Config{Model: "gpt-4o"}, client: &emptyChatClient{}}
	agentCtx := runtime.NewAgentContext("s1", nil)
	if _, err := p.Execute(context.Background(), &runtime.Agent{}, corekit.Message{Role: corekit.RoleUser, Content: "hi"}, agentCtx); err == nil {
		t.Error("expected an error when the API returns no choices")
	}
}

type emptyChatClient struct{}

func (e *emptyChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}
