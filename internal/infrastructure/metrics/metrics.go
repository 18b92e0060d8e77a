// Package metrics exposes Prometheus collectors for the HTTP layer and for
// progress events (points, achievements, sessions, level ups).
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "studyhub"

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP METRICS
// ══════════════════════════════════════════════════════════════════════════════

// HTTP holds request counters and latency histograms.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewHTTP registers the HTTP collectors on reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.inflight)
	}
	return m
}

// Begin marks a request as in flight and returns a function that records it.
func (m *HTTP) Begin() func(method, route string, status int) {
	start := time.Now()
	m.inflight.Inc()
	return func(method, route string, status int) {
		m.inflight.Dec()
		m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Progress counts gamification events. It satisfies command.Metrics.
type Progress struct {
	points       *prometheus.CounterVec
	awards       *prometheus.CounterVec
	achievements *prometheus.CounterVec
	sessions     prometheus.Counter
	levelUps     *prometheus.CounterVec
}

// NewProgress registers the progress collectors on reg.
func NewProgress(reg prometheus.Registerer) *Progress {
	m := &Progress{
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "points_awarded_total",
			Help:      "Points awarded by reason.",
		}, []string{"reason"}),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "awards_total",
			Help:      "Point awards by reason.",
		}, []string{"reason"}),
		achievements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked by id.",
		}, []string{"achievement"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pomodoro_sessions_completed_total",
			Help:      "Completed pomodoro sessions.",
		}),
		levelUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "level_ups_total",
			Help:      "Level ups by the level reached.",
		}, []string{"level"}),
	}
	if reg != nil {
		reg.MustRegister(m.points, m.awards, m.achievements, m.sessions, m.levelUps)
	}
	return m
}

// PointsAwarded records an award.
func (m *Progress) PointsAwarded(reason string, points int) {
	m.awards.WithLabelValues(reason).Inc()
	if points > 0 {
		m.points.WithLabelValues(reason).Add(float64(points))
	}
}

// AchievementUnlocked records an unlock.
func (m *Progress) AchievementUnlocked(id string) {
	m.achievements.WithLabelValues(id).Inc()
}

// SessionCompleted records a finished pomodoro.
func (m *Progress) SessionCompleted() {
	m.sessions.Inc()
}

// LevelUp records reaching level.
func (m *Progress) LevelUp(level int) {
	m.levelUps.WithLabelValues(strconv.Itoa(level)).Inc()
}
