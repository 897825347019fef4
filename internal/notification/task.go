package notification

import (
	"context"
	"log"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"

	"github.com/blankon/irgsh-repod/internal/metrics"
)

// DefaultRetryDelay separates two delivery attempts of the same callback.
const DefaultRetryDelay = 30 * time.Second

// Handler runs the callback task.
type Handler struct {
	client     *Client
	retryDelay time.Duration
	recorder   metrics.Recorder
}

// NewHandler creates the callback task handler.
func NewHandler(client *Client, retryDelay time.Duration, recorder metrics.Recorder) *Handler {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Handler{
		client:     client,
		retryDelay: retryDelay,
		recorder:   metrics.OrNoop(recorder),
	}
}

// CallbackTask is registered as the callback task. Remote failures are
// rescheduled while the signature has retries left, local failures are
// returned with retries disabled.
func (h *Handler) CallbackTask(ctx context.Context, payload, project, url string) error {
	return h.handle(ctx, tasks.SignatureFromContext(ctx), payload, project, url)
}

func (h *Handler) handle(ctx context.Context, sig *tasks.Signature, payload, project, url string) error {
	target := h.client.TargetURL(project, url)
	if target == "" {
		h.recorder.IncCallbackResult(metrics.CallbackSkipped)
		return nil
	}

	err := h.client.Send(ctx, payload, project, url)
	if err == nil {
		h.recorder.IncCallbackResult(metrics.CallbackDelivered)
		return nil
	}

	if !IsRetryable(err) {
		log.Printf("Fatal error trying to POST callback to %s: %v\n", target, err)
		h.recorder.IncCallbackResult(metrics.CallbackPermanent)
		if sig != nil {
			sig.RetryCount = 0
		}
		return err
	}

	if sig == nil || sig.RetryCount <= 0 {
		log.Printf("Callback to %s failed, giving up: %v\n", target, err)
		h.recorder.IncCallbackResult(metrics.CallbackExhausted)
		return err
	}

	log.Printf("Callback to %s failed, retrying in %v: %v\n", target, h.retryDelay, err)
	h.recorder.IncCallbackResult(metrics.CallbackRetried)
	sig.RetryCount--
	return tasks.NewErrRetryTaskLater(err.Error(), h.retryDelay)
}
