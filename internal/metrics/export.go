package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the per-subsystem counters into one
// prometheus.Collector, matching the sibling fleet repo's metrics
// export pattern: the hot-path structs stay plain atomics, and only
// the scrape path talks to the prometheus client library.
type Registry struct {
	Hub      *Hub
	RHMap    *RHMap
	Resolver *Resolver
}

// NewRegistry constructs a Registry with fresh, zeroed subsystem counters.
func NewRegistry() *Registry {
	return &Registry{Hub: &Hub{}, RHMap: &RHMap{}, Resolver: &Resolver{}}
}

var (
	descHubResumes     = prometheus.NewDesc("crux_hub_resumes_total", "Total task resumes performed by the hub.", nil, nil)
	descHubTimeouts    = prometheus.NewDesc("crux_hub_timeouts_total", "Total blocking primitives that completed via timeout.", nil, nil)
	descHubPollWaits   = prometheus.NewDesc("crux_hub_poll_waits_total", "Total calls into poll.wait.", nil, nil)
	descHubReadyDepth  = prometheus.NewDesc("crux_hub_ready_depth", "Most recently observed ready-list depth.", nil, nil)
	descHubLatencyP50  = prometheus.NewDesc("crux_hub_resume_latency_p50_ns", "Estimated p50 resume latency in nanoseconds.", nil, nil)
	descHubLatencyP99  = prometheus.NewDesc("crux_hub_resume_latency_p99_ns", "Estimated p99 resume latency in nanoseconds.", nil, nil)
	descMapRehashes    = prometheus.NewDesc("crux_rhmap_rehashes_total", "Total tier-0 rehash cycles started.", nil, nil)
	descMapPromotions  = prometheus.NewDesc("crux_rhmap_promotions_total", "Total opportunistic tier-1 to tier-0 promotions.", nil, nil)
	descResolverHits   = prometheus.NewDesc("crux_resolver_cache_hits_total", "Total DNS cache hits.", nil, nil)
	descResolverMisses = prometheus.NewDesc("crux_resolver_cache_misses_total", "Total DNS cache misses.", nil, nil)
	descResolverRetry  = prometheus.NewDesc("crux_resolver_retries_total", "Total resolver query retries.", nil, nil)
)

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descHubResumes, descHubTimeouts, descHubPollWaits, descHubReadyDepth,
		descHubLatencyP50, descHubLatencyP99, descMapRehashes, descMapPromotions,
		descResolverHits, descResolverMisses, descResolverRetry,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector, snapshotting the atomics
// at scrape time.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descHubResumes, prometheus.CounterValue, float64(r.Hub.Resumes.Load()))
	ch <- prometheus.MustNewConstMetric(descHubTimeouts, prometheus.CounterValue, float64(r.Hub.Timeouts.Load()))
	ch <- prometheus.MustNewConstMetric(descHubPollWaits, prometheus.CounterValue, float64(r.Hub.PollWaits.Load()))
	ch <- prometheus.MustNewConstMetric(descHubReadyDepth, prometheus.GaugeValue, float64(r.Hub.ReadyDepth.Load()))
	ch <- prometheus.MustNewConstMetric(descHubLatencyP50, prometheus.GaugeValue, float64(r.Hub.Percentile(0.50)))
	ch <- prometheus.MustNewConstMetric(descHubLatencyP99, prometheus.GaugeValue, float64(r.Hub.Percentile(0.99)))
	ch <- prometheus.MustNewConstMetric(descMapRehashes, prometheus.CounterValue, float64(r.RHMap.Rehashes.Load()))
	ch <- prometheus.MustNewConstMetric(descMapPromotions, prometheus.CounterValue, float64(r.RHMap.Promotions.Load()))
	ch <- prometheus.MustNewConstMetric(descResolverHits, prometheus.CounterValue, float64(r.Resolver.CacheHits.Load()))
	ch <- prometheus.MustNewConstMetric(descResolverMisses, prometheus.CounterValue, float64(r.Resolver.CacheMisses.Load()))
	ch <- prometheus.MustNewConstMetric(descResolverRetry, prometheus.CounterValue, float64(r.Resolver.Retries.Load()))
}

var _ prometheus.Collector = (*Registry)(nil)
