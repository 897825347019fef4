package notification

import (
	"context"
	"log"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/google/uuid"

	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/internal/queue"
)

// Publisher enqueues repo state changes as callback tasks.
type Publisher struct {
	sender      queue.Sender
	maxAttempts int
}

// NewPublisher creates a publisher whose callbacks are attempted at most
// maxAttempts times.
func NewPublisher(sender queue.Sender, maxAttempts int) *Publisher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Publisher{sender: sender, maxAttempts: maxAttempts}
}

// CallbackSignature builds the callback task for a state change of repo.
func (p *Publisher) CallbackSignature(state model.State, repo *model.Repo) (*tasks.Signature, error) {
	payload, err := model.NewStatusPayload(state, repo).Encode()
	if err != nil {
		return nil, err
	}
	return &tasks.Signature{
		UUID: "task_" + uuid.New().String(),
		Name: queue.TaskCallback,
		Args: []tasks.Arg{
			{
				Type:  "string",
				Value: payload,
			},
			{
				Type:  "string",
				Value: repo.Project,
			},
			{
				Type:  "string",
				Value: "",
			},
		},
		RetryCount: p.maxAttempts - 1,
	}, nil
}

// PostStatus enqueues one callback. Failures are only logged so a broken
// notification path never blocks the caller.
func (p *Publisher) PostStatus(ctx context.Context, state model.State, repo *model.Repo) {
	signature, err := p.CallbackSignature(state, repo)
	if err != nil {
		log.Printf("Failed to encode %s callback for repo %d: %v\n", state, repo.ID, err)
		return
	}
	if _, err := p.sender.SendTask(signature); err != nil {
		log.Printf("Failed to enqueue %s callback for repo %d: %v\n", state, repo.ID, err)
	}
}
