package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kimp"

// Drop reasons for feed messages.
const (
	ReasonParse    = "parse"
	ReasonUnmapped = "unmapped"
	ReasonPrice    = "price"
)

// Metrics 进程内所有 prometheus 指标。nil *Metrics 可以安全调用（测试中不需要注册）。
type Metrics struct {
	Registry *prometheus.Registry

	feedMessages   *prometheus.CounterVec
	feedDropped    *prometheus.CounterVec
	feedReconnects *prometheus.CounterVec
	feedConnected  *prometheus.GaugeVec

	fxRefresh *prometheus.CounterVec
	fxRate    prometheus.Gauge

	broadcastTicks  prometheus.Counter
	broadcastAssets prometheus.Gauge
	assetFaults     *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec

	sessionsActive prometheus.Gauge
	sessionDrops   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_messages_total",
			Help: "Quotes written to the price cache per feed.",
		}, []string{"feed"}),
		feedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_messages_dropped_total",
			Help: "Inbound feed frames dropped before reaching the cache.",
		}, []string{"feed", "reason"}),
		feedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_reconnects_total",
			Help: "Feed connection attempts after a failure.",
		}, []string{"feed"}),
		feedConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_connected",
			Help: "1 while the feed has a live subscribed connection.",
		}, []string{"feed"}),
		fxRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fx_refresh_total",
			Help: "FX source calls by outcome.",
		}, []string{"source", "result"}),
		fxRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fx_rate",
			Help: "Currently applied KRW per USD rate.",
		}),
		broadcastTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_ticks_total",
			Help: "Broadcast loop iterations.",
		}),
		broadcastAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "broadcast_assets",
			Help: "Assets included in the last snapshot.",
		}),
		assetFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_asset_faults_total",
			Help: "Per-asset computation faults skipped during a tick.",
		}, []string{"coin"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Snapshot sink publish failures.",
		}, []string{"sink"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Connected subscriber sessions.",
		}),
		sessionDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_drops_total",
			Help: "Subscriber sessions torn down by the server.",
		}, []string{"reason"}),
	}

	m.Registry.MustRegister(
		m.feedMessages, m.feedDropped, m.feedReconnects, m.feedConnected,
		m.fxRefresh, m.fxRate,
		m.broadcastTicks, m.broadcastAssets, m.assetFaults, m.sinkErrors,
		m.sessionsActive, m.sessionDrops,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) FeedMessage(feed string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(feed).Inc()
}

func (m *Metrics) FeedDropped(feed, reason string) {
	if m == nil {
		return
	}
	m.feedDropped.WithLabelValues(feed, reason).Inc()
}

func (m *Metrics) FeedReconnect(feed string) {
	if m == nil {
		return
	}
	m.feedReconnects.WithLabelValues(feed).Inc()
}

func (m *Metrics) FeedConnected(feed string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.feedConnected.WithLabelValues(feed).Set(v)
}

func (m *Metrics) FxRefresh(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.fxRefresh.WithLabelValues(source, result).Inc()
}

func (m *Metrics) FxRate(v float64) {
	if m == nil {
		return
	}
	m.fxRate.Set(v)
}

func (m *Metrics) BroadcastTick(assets int) {
	if m == nil {
		return
	}
	m.broadcastTicks.Inc()
	m.broadcastAssets.Set(float64(assets))
}

func (m *Metrics) AssetFault(coin string) {
	if m == nil {
		return
	}
	m.assetFaults.WithLabelValues(coin).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	if reason != "" {
		m.sessionDrops.WithLabelValues(reason).Inc()
	}
}
