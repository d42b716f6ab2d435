package monitoring

import (
	"strconv"
	"time"

	"sfugate/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records session metrics. It satisfies ports.MetricsRecorder.
type PrometheusCollector struct {
	roomsActive      prometheus.Gauge
	peersConnected   prometheus.Gauge
	transportsActive prometheus.Gauge
	producersActive  *prometheus.GaugeVec
	consumersActive  *prometheus.GaugeVec

	roomsCreatedTotal *prometheus.CounterVec
	roomsEvictedTotal prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	workerDeathsTotal *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collectors on reg, or on the default
// registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfugate_rooms_active",
			Help: "Number of rooms currently registered",
		}),

		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfugate_peers_connected",
			Help: "Number of peers joined to a room",
		}),

		transportsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfugate_transports_active",
			Help: "Number of open WebRTC transports",
		}),

		producersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfugate_producers_active",
			Help: "Number of open producers by media kind",
		}, []string{"kind"}),

		consumersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfugate_consumers_active",
			Help: "Number of open consumers by media kind",
		}, []string{"kind"}),

		roomsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfugate_rooms_created_total",
			Help: "Rooms created, by the worker the router was placed on",
		}, []string{"worker_pid"}),

		roomsEvictedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sfugate_rooms_evicted_total",
			Help: "Empty rooms evicted from the registry",
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfugate_signal_requests_total",
			Help: "Signaling requests handled, by method and result code",
		}, []string{"method", "code"}),

		workerDeathsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfugate_worker_deaths_total",
			Help: "Media engine worker deaths",
		}, []string{"worker_pid"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sfugate_signal_request_duration_seconds",
			Help:    "Time spent handling a signaling request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method"}),
	}
}

func (p *PrometheusCollector) RoomCreated(workerPID int) {
	p.roomsActive.Inc()
	p.roomsCreatedTotal.WithLabelValues(strconv.Itoa(workerPID)).Inc()
}

func (p *PrometheusCollector) RoomEvicted() {
	p.roomsActive.Dec()
	p.roomsEvictedTotal.Inc()
}

func (p *PrometheusCollector) PeerJoined() { p.peersConnected.Inc() }

func (p *PrometheusCollector) PeerLeft() { p.peersConnected.Dec() }

func (p *PrometheusCollector) TransportOpened() { p.transportsActive.Inc() }

func (p *PrometheusCollector) TransportClosed() { p.transportsActive.Dec() }

func (p *PrometheusCollector) ProducerOpened(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ProducerClosed(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) ConsumerOpened(kind domain.MediaKind) {
	p.consumersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ConsumerClosed(kind domain.MediaKind) {
	p.consumersActive.WithLabelValues(string(kind)).Dec()
}

// RequestHandled counts a request. code is "OK" for successful requests.
func (p *PrometheusCollector) RequestHandled(method, code string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, code).Inc()
	p.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (p *PrometheusCollector) WorkerDied(pid int) {
	p.workerDeathsTotal.WithLabelValues(strconv.Itoa(pid)).Inc()
}
