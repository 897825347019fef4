package notification

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blankon/irgsh-repod/internal/metrics"
)

type countingRecorder struct {
	metrics.NoopRecorder
	results map[metrics.CallbackResult]int
}

func (r *countingRecorder) IncCallbackResult(result metrics.CallbackResult) {
	if r.results == nil {
		r.results = map[metrics.CallbackResult]int{}
	}
	r.results[result]++
}

// deliver mimics the queue: the same signature is handed back until the
// handler stops asking for a retry.
func deliver(h *Handler, sig *tasks.Signature, payload, project, url string) (attempts int, err error) {
	for {
		attempts++
		err = h.handle(context.Background(), sig, payload, project, url)
		if _, retry := err.(tasks.ErrRetryTaskLater); retry {
			continue
		}
		return attempts, err
	}
}

func TestHandler_RetriesUpToCap(t *testing.T) {
	srv, hits, _ := newCallbackServer(t, http.StatusInternalServerError)
	rec := &countingRecorder{}
	h := NewHandler(NewClient(ClientConfig{URL: srv.URL, User: "u", Key: "k"}), 0, rec)

	sig := &tasks.Signature{Name: "callback", RetryCount: 2}
	attempts, err := deliver(h, sig, `{"state":"ready"}`, "ceph", "")

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	assert.Equal(t, 0, sig.RetryCount)
	assert.Equal(t, 2, rec.results[metrics.CallbackRetried])
	assert.Equal(t, 1, rec.results[metrics.CallbackExhausted])
}

func TestHandler_RetryDelay(t *testing.T) {
	srv, _, _ := newCallbackServer(t, http.StatusServiceUnavailable)
	h := NewHandler(NewClient(ClientConfig{URL: srv.URL, User: "u", Key: "k"}), 0, nil)

	err := h.handle(context.Background(), &tasks.Signature{RetryCount: 1}, "{}", "ceph", "")
	retry, ok := err.(tasks.ErrRetryTaskLater)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, retry.RetryIn())
}

func TestHandler_PermanentErrorNeverRetried(t *testing.T) {
	srv, hits, _ := newCallbackServer(t, http.StatusInternalServerError)
	rec := &countingRecorder{}
	// no credentials configured
	h := NewHandler(NewClient(ClientConfig{URL: srv.URL}), time.Second, rec)

	sig := &tasks.Signature{Name: "callback", RetryCount: 2}
	attempts, err := deliver(h, sig, "{}", "ceph", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, sig.RetryCount)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
	assert.Equal(t, 1, rec.results[metrics.CallbackPermanent])
}

func TestHandler_Delivered(t *testing.T) {
	srv, hits, _ := newCallbackServer(t, http.StatusOK)
	rec := &countingRecorder{}
	h := NewHandler(NewClient(ClientConfig{URL: srv.URL, User: "u", Key: "k"}), time.Second, rec)

	sig := &tasks.Signature{RetryCount: 2}
	attempts, err := deliver(h, sig, "{}", "ceph", "")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, 2, sig.RetryCount)
	assert.Equal(t, 1, rec.results[metrics.CallbackDelivered])
}

func TestHandler_Disabled(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHandler(NewClient(ClientConfig{}), time.Second, rec)

	require.NoError(t, h.CallbackTask(context.Background(), "{}", "ceph", ""))
	assert.Equal(t, 1, rec.results[metrics.CallbackSkipped])
}

func TestHandler_NoSignatureInContext(t *testing.T) {
	srv, hits, _ := newCallbackServer(t, http.StatusBadGateway)
	h := NewHandler(NewClient(ClientConfig{URL: srv.URL, User: "u", Key: "k"}), time.Second, nil)

	err := h.CallbackTask(context.Background(), "{}", "ceph", "")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}
