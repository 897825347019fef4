package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repod"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	pollDecisions   *prom.CounterVec
	pollDuration    prom.Histogram
	purgedRepos     prom.Counter
	buildOutcomes   *prom.CounterVec
	buildDuration   *prom.HistogramVec
	callbackResults *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		pollDecisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "poll_decisions_total",
			Help:      "Per-repo decisions taken by poll cycles",
		}, []string{"decision"}),
		pollDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of poll cycles",
			Buckets:   prom.DefBuckets,
		}),
		purgedRepos: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "purged_repos_total",
			Help:      "Repos deleted by purge cycles",
		}),
		buildOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Repo builds by type and result",
		}, []string{"type", "result"}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of repo builds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"type"}),
		callbackResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "callback_results_total",
			Help:      "Callback delivery attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.pollDecisions, pr.pollDuration, pr.purgedRepos, pr.buildOutcomes, pr.buildDuration, pr.callbackResults)
	return pr
}

func (p *PrometheusRecorder) IncPollDecision(decision PollDecision) {
	if p == nil {
		return
	}
	p.pollDecisions.WithLabelValues(string(decision)).Inc()
}

func (p *PrometheusRecorder) ObservePollDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.pollDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPurgedRepos(n int) {
	if p == nil {
		return
	}
	p.purgedRepos.Add(float64(n))
}

func (p *PrometheusRecorder) IncBuildOutcome(repoType string, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.buildOutcomes.WithLabelValues(repoType, res).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(repoType string, d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.WithLabelValues(repoType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCallbackResult(result CallbackResult) {
	if p == nil {
		return
	}
	p.callbackResults.WithLabelValues(string(result)).Inc()
}

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
