package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Vote Store
	MetricVotesCast        = "contest_votes_cast_total"
	MetricVotesRemoved     = "contest_votes_removed_total"
	MetricVotesRejected    = "contest_votes_rejected_total"
	MetricSnapshotRequests = "contest_snapshot_requests_total"
	MetricSnapshotSource   = "contest_snapshot_source_total"
	MetricCacheErrors      = "contest_counter_cache_errors_total"
	MetricVoteDuration     = "contest_vote_duration_seconds"
)

// MetricService 持有投票服务暴露的所有指标。
// 使用独立的Registry，测试中可以重复创建而不会重复注册。
type MetricService struct {
	registry *prometheus.Registry

	VotesCast        prometheus.Counter
	VotesRemoved     prometheus.Counter
	VotesRejected    *prometheus.CounterVec
	SnapshotRequests prometheus.Counter
	SnapshotSource   *prometheus.CounterVec
	CacheErrors      prometheus.Counter
	VoteDuration     prometheus.Histogram
}

func NewMetricService() *MetricService {
	ms := &MetricService{
		registry: prometheus.NewRegistry(),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVotesCast,
			Help: "Votes committed to the vote store",
		}),
		VotesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVotesRemoved,
			Help: "Votes removed from the vote store",
		}),
		VotesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricVotesRejected,
			Help: "Vote and unvote requests rejected, by reason",
		}, []string{"reason"}),
		SnapshotRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshotRequests,
			Help: "Contestant snapshot requests served",
		}),
		SnapshotSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSnapshotSource,
			Help: "Where snapshot vote counts were read from (cache or database)",
		}, []string{"source"}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheErrors,
			Help: "Failed counter cache operations",
		}),
		VoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricVoteDuration,
			Help:    "Duration of vote store transactions",
			Buckets: prometheus.DefBuckets,
		}),
	}

	ms.registry.MustRegister(
		ms.VotesCast,
		ms.VotesRemoved,
		ms.VotesRejected,
		ms.SnapshotRequests,
		ms.SnapshotSource,
		ms.CacheErrors,
		ms.VoteDuration,
		collectors.NewGoCollector(),
	)
	return ms
}

// Handler 返回 /metrics 的HTTP处理器
func (m *MetricService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
