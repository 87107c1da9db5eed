package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	jobsEnqueuedCounter    *prometheus.CounterVec
	jobsProcessedCounter   *prometheus.CounterVec
	jobDurationHistogram   *prometheus.HistogramVec
	jobsByStatusGauge      *prometheus.GaugeVec
	staleJobsCounter       prometheus.Counter
	ledgerAccrualCounter   *prometheus.CounterVec
	feeDistributionCounter *prometheus.CounterVec
	poolImbalanceCounter   *prometheus.CounterVec
	notificationCounter    *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		jobsEnqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_jobs_enqueued_total",
			Help: "Settlement jobs written to the outbox",
		}, []string{"job_type"})

		jobsProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_jobs_processed_total",
			Help: "Settlement job execution outcomes",
		}, []string{"job_type", "outcome"})

		jobDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Settlement job handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"})

		jobsByStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_jobs",
			Help: "Current number of settlement jobs per status",
		}, []string{"status"})

		staleJobsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_stale_jobs_recovered_total",
			Help: "Processing jobs whose lease expired and were recovered",
		})

		ledgerAccrualCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_ledger_accruals_total",
			Help: "Revenue ledger accrual outcomes",
		}, []string{"outcome"})

		feeDistributionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_distributions_total",
			Help: "Fee distribution outcomes",
		}, []string{"outcome"})

		poolImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_pool_imbalance_total",
			Help: "Number of times a fee pool diverged from its transaction history",
		}, []string{"pool"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_notifications_total",
			Help: "Settlement notification publish outcomes",
		}, []string{"sink", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			jobsEnqueuedCounter,
			jobsProcessedCounter,
			jobDurationHistogram,
			jobsByStatusGauge,
			staleJobsCounter,
			ledgerAccrualCounter,
			feeDistributionCounter,
			poolImbalanceCounter,
			notificationCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementJobsEnqueued(jobType string) {
	if jobsEnqueuedCounter == nil {
		return
	}
	jobsEnqueuedCounter.WithLabelValues(jobType).Inc()
}

// ObserveJobProcessed records the outcome of one handler execution.
func ObserveJobProcessed(jobType, outcome string, duration time.Duration) {
	if jobsProcessedCounter == nil {
		return
	}
	jobsProcessedCounter.WithLabelValues(jobType, outcome).Inc()
	jobDurationHistogram.WithLabelValues(jobType).Observe(duration.Seconds())
}

func SetJobsByStatus(status string, count int64) {
	if jobsByStatusGauge == nil {
		return
	}
	jobsByStatusGauge.WithLabelValues(status).Set(float64(count))
}

func AddStaleJobsRecovered(n int) {
	if staleJobsCounter == nil || n <= 0 {
		return
	}
	staleJobsCounter.Add(float64(n))
}

func IncrementLedgerAccrual(outcome string) {
	if ledgerAccrualCounter == nil {
		return
	}
	ledgerAccrualCounter.WithLabelValues(outcome).Inc()
}

func IncrementFeeDistribution(outcome string) {
	if feeDistributionCounter == nil {
		return
	}
	feeDistributionCounter.WithLabelValues(outcome).Inc()
}

func IncrementPoolImbalance(pool string) {
	if poolImbalanceCounter == nil {
		return
	}
	poolImbalanceCounter.WithLabelValues(pool).Inc()
}

func IncrementNotification(sink, result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(sink, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
