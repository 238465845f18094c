package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// fakeSubmitter mimics RunLoop.Submit: it returns immediately and
// delivers a reply asynchronously through the given ReplyAdapter.
type fakeSubmitter struct {
	replies *ReplyAdapter
	reply   string
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, inbound corekit.InboundMessage) error {
	if f.err != nil {
		return f.err
	}
	go func() {
		_ = f.replies.Send(context.Background(), inbound.ReplyTo, corekit.TextMessage(f.reply))
	}()
	return nil
}

func TestRunLoopExecutorReturnsCapturedReply(t *testing.T) {
	replies := NewReplyAdapter()
	submitter := &fakeSubmitter{replies: replies, reply: "the answer"}
	executor := NewRunLoopExecutor(submitter, replies, nil)

	task := &ScheduledTask{ID: "t1", Prompt: "question"}
	exec := &TaskExecution{ID: "e1", TaskID: "t1", Prompt: "question"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	response, err := executor.Execute(ctx, task, exec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if response != "the answer" {
		t.Errorf("response = %q, want %q", response, "the answer")
	}
}

func TestRunLoopExecutorPropagatesSubmitError(t *testing.T) {
	replies := NewReplyAdapter()
	submitter := &fakeSubmitter{replies: replies, err: context.Canceled}
	executor := NewRunLoopExecutor(submitter, replies, nil)

	task := &ScheduledTask{ID: "t1", Prompt: "question"}
	exec := &TaskExecution{ID: "e1", TaskID: "t1", Prompt: "question"}

	_, err := executor.Execute(context.Background(), task, exec)
	if err == nil {
		t.Error("expected an error when Submit fails")
	}
}

func TestRunLoopExecutorTimesOutWhenNoReplyArrives(t *testing.T) {
	replies := NewReplyAdapter()

	blockingSubmitter := blockingSubmitterFunc(func(ctx context.Context, inbound corekit.InboundMessage) error {
		return nil // never sends a reply
	})
	executor := NewRunLoopExecutor(blockingSubmitter, replies, nil)

	task := &ScheduledTask{ID: "t1", Prompt: "question"}
	exec := &TaskExecution{ID: "e1", TaskID: "t1", Prompt: "question"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := executor.Execute(ctx, task, exec)
	if err == nil {
		t.Error("expected a context deadline error when no reply arrives")
	}
}

type blockingSubmitterFunc func(ctx context.Context, inbound corekit.InboundMessage) error

func (f blockingSubmitterFunc) Submit(ctx context.Context, inbound corekit.InboundMessage) error {
	return f(ctx, inbound)
}

// fakeOutboundAdapter records forwarded messages for forward() tests.
type fakeOutboundAdapter struct {
	sent []corekit.OutboundMessage
}

func (f *fakeOutboundAdapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

// namedAdapter adapts fakeOutboundAdapter into a channels.Adapter for Registry.Register.
type namedAdapter struct {
	*fakeOutboundAdapter
	name string
}

func (n *namedAdapter) Type() string { return n.name }

func TestRunLoopExecutorForwardsToConfiguredChannel(t *testing.T) {
	replies := NewReplyAdapter()
	submitter := &fakeSubmitter{replies: replies, reply: "forwarded answer"}

	registry := channels.NewRegistry()
	target := &namedAdapter{fakeOutboundAdapter: &fakeOutboundAdapter{}, name: "telegram"}
	registry.Register(target)

	executor := NewRunLoopExecutor(submitter, replies, registry)

	task := &ScheduledTask{ID: "t1", Prompt: "question", ReplyChannelID: "telegram", ReplyTarget: "user-1"}
	exec := &TaskExecution{ID: "e1", TaskID: "t1", Prompt: "question"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := executor.Execute(ctx, task, exec); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(target.sent) != 1 || target.sent[0].Content != "forwarded answer" {
		t.Errorf("expected the reply forwarded to telegram, got %+v", target.sent)
	}
}
