package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Submitter is the slice of RunLoop the scheduler depends on, narrowed
// so the package can be tested without constructing a full runtime.
type Submitter interface {
	Submit(ctx context.Context, inbound corekit.InboundMessage) error
}

// RunLoopExecutor is the Executor wired to a live RunLoop. Submit is
// fire-and-forget: it spawns its own goroutine and only ever delivers
// a reply through the channels.Registry. RunLoopExecutor bridges that
// back into a synchronous call by registering the execution's ID as a
// waiter on a ReplyAdapter before submitting, and blocking on it.
type RunLoopExecutor struct {
	submitter Submitter
	replies   *ReplyAdapter
	registry  *channels.Registry
}

// NewRunLoopExecutor builds an Executor that submits through submitter
// and captures replies via replies. registry is optional: when a task
// sets ReplyChannelID/ReplyTarget, the captured reply is additionally
// forwarded to that channel's OutboundAdapter after the execution
// completes; leave registry nil to only ever record replies on the
// TaskExecution.
func NewRunLoopExecutor(submitter Submitter, replies *ReplyAdapter, registry *channels.Registry) *RunLoopExecutor {
	return &RunLoopExecutor{submitter: submitter, replies: replies, registry: registry}
}

// Execute satisfies Executor: it submits exec.Prompt to the RunLoop,
// waits for the asynchronous reply, and optionally forwards it to the
// task's configured reply destination.
func (e *RunLoopExecutor) Execute(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (string, error) {
	waiter := e.replies.Await(exec.ID)
	defer e.replies.Release(exec.ID)

	inbound := corekit.InboundMessage{
		ID:        uuid.NewString(),
		Content:   exec.Prompt,
		ReplyTo:   corekit.NewReplyAddress(ChannelID, exec.ID),
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"task_id":      task.ID,
			"execution_id": exec.ID,
		},
	}

	if err := e.submitter.Submit(ctx, inbound); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	select {
	case msg := <-waiter:
		e.forward(ctx, task, msg)
		return msg.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// forward delivers the captured reply to the task's configured
// external destination, if any. Forwarding failures are not fatal to
// the execution: the response is already recorded via the scheduler's
// own completion path.
func (e *RunLoopExecutor) forward(ctx context.Context, task *ScheduledTask, msg corekit.OutboundMessage) {
	if e.registry == nil || task.ReplyChannelID == "" || task.ReplyChannelID == ChannelID {
		return
	}
	outbound, ok := e.registry.GetOutbound(task.ReplyChannelID)
	if !ok {
		return
	}
	dest := corekit.NewReplyAddress(task.ReplyChannelID, task.ReplyTarget)
	_ = outbound.Send(ctx, dest, msg)
}
