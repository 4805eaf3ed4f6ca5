package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pullhookd"
	subsystem = "webhook"

	StatusOK    = "ok"
	StatusError = "error"

	ResultRejected   = "rejected"
	ResultIgnored    = "ignored"
	ResultDispatched = "dispatched"
	ResultFailed     = "failed"

	DumpWritten = "written"
	DumpSkipped = "skipped"
	DumpFailed  = "failed"

	UnknownProvider = "unknown"

	LabelStatus     = "status"
	LabelResult     = "result"
	LabelProvider   = "provider"
	LabelRepository = "repository"
)

func statusLabel(err error) string {
	if err == nil {
		return StatusOK
	}
	return StatusError
}

// WebhookRequest counts a handled webhook by provider and result.
func WebhookRequest(provider, result string) {
	if len(provider) == 0 {
		provider = UnknownProvider
	}
	webhookRequests.With(prometheus.Labels{
		LabelProvider: provider,
		LabelResult:   result,
	}).Inc()
}

// SyncInvocation records the duration of a finished sync script run.
func SyncInvocation(t time.Time, repository string, err error) {
	elapsed := time.Since(t)
	syncDuration.With(prometheus.Labels{
		LabelRepository: repository,
		LabelStatus:     statusLabel(err),
	}).Observe(elapsed.Seconds())
}

func SyncStarted() {
	syncsRunning.Inc()
}

func SyncFinished() {
	syncsRunning.Dec()
}

func Dump(status string) {
	dumps.With(prometheus.Labels{
		LabelStatus: status,
	}).Inc()
}

var (
	webhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests",
		Help:      "number of webhook requests handled, by outcome",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelProvider,
			LabelResult,
		},
	)

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "sync_duration_seconds",
		Help:      "time spent running the sync script",
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	},
		[]string{
			LabelRepository,
			LabelStatus,
		},
	)

	syncsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "syncs_running",
		Help:      "number of sync scripts currently running",
		Namespace: namespace,
		Subsystem: subsystem,
	})

	dumps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "dumps",
		Help:      "number of request dump attempts, by status",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStatus,
		},
	)
)

func init() {
	prometheus.MustRegister(webhookRequests)
	prometheus.MustRegister(syncDuration)
	prometheus.MustRegister(syncsRunning)
	prometheus.MustRegister(dumps)
}
