package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters about a Session. A nil *Metrics records nothing.
type Metrics struct {
	pushed     prometheus.Counter
	pushErrors prometheus.Counter
	closed     *prometheus.CounterVec
	live       prometheus.Gauge
	queued     prometheus.Gauge
	connects   prometheus.Counter
	purges     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pushed: f.NewCounter(prometheus.CounterOpts{
			Name: "desknotify_notifications_pushed_total",
			Help: "The total number of Notify calls acknowledged by the notification server",
		}),
		pushErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "desknotify_push_errors_total",
			Help: "The total number of Notify calls that returned an error",
		}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "desknotify_notifications_closed_total",
			Help: "The total number of tracked notifications that reached the closed state",
		},
			[]string{"reason"},
		),
		live: f.NewGauge(prometheus.GaugeOpts{
			Name: "desknotify_live_notifications",
			Help: "Pushed notifications whose close has not been observed yet",
		}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "desknotify_flood_queue_depth",
			Help: "Pushes waiting for the flood controller to release them",
		}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Name: "desknotify_bus_connects_total",
			Help: "The total number of session bus connection attempts",
		}),
		purges: f.NewCounter(prometheus.CounterOpts{
			Name: "desknotify_purges_total",
			Help: "The total number of flood queue purges",
		}),
	}
}

func (m *Metrics) pushSucceeded() {
	if m != nil {
		m.pushed.Inc()
	}
}

func (m *Metrics) pushFailed() {
	if m != nil {
		m.pushErrors.Inc()
	}
}

func (m *Metrics) notificationClosed(r Reason) {
	if m != nil {
		m.closed.WithLabelValues(string(r)).Inc()
	}
}

func (m *Metrics) setLive(n int) {
	if m != nil {
		m.live.Set(float64(n))
	}
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.queued.Set(float64(n))
	}
}

func (m *Metrics) connectAttempted() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) purged() {
	if m != nil {
		m.purges.Inc()
	}
}
