// Package observability exposes heliostat metrics to Prometheus.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/heliostat/pkg/tracker"
)

// GPS sentence results for FixReceived.
const (
	FixAccepted = "fix"
	FixNoFix    = "no_fix"
	FixIgnored  = "ignored"
	FixRejected = "rejected"
)

// Collector bundles the heliostat metrics. It implements tracker.Metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Commands    *prometheus.CounterVec
	Replies     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	State       *prometheus.GaugeVec
	Sentences   *prometheus.CounterVec

	SunAltitude prometheus.Gauge
	SunAzimuth  prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

var _ tracker.Metrics = (*Collector)(nil)

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heliostat_commands_total",
		Help: "Commands sent to the motion controller, labeled by kind.",
	}, []string{"kind"}), "heliostat_commands_total"); err != nil {
		return nil, err
	}
	if c.Replies, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heliostat_replies_total",
		Help: "Lines received from the motion controller, labeled by reply kind.",
	}, []string{"kind"}), "heliostat_replies_total"); err != nil {
		return nil, err
	}
	if c.Transitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heliostat_state_transitions_total",
		Help: "Tracker state transitions, labeled by the state entered.",
	}, []string{"state"}), "heliostat_state_transitions_total"); err != nil {
		return nil, err
	}
	if c.State, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heliostat_state",
		Help: "1 for the current tracker state, 0 otherwise.",
	}, []string{"state"}), "heliostat_state"); err != nil {
		return nil, err
	}
	if c.Sentences, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heliostat_gps_sentences_total",
		Help: "NMEA lines from the GPS receiver, labeled by result.",
	}, []string{"result"}), "heliostat_gps_sentences_total"); err != nil {
		return nil, err
	}
	if c.SunAltitude, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heliostat_sun_altitude_degrees",
		Help: "Last computed apparent sun altitude.",
	}), "heliostat_sun_altitude_degrees"); err != nil {
		return nil, err
	}
	if c.SunAzimuth, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heliostat_sun_azimuth_degrees",
		Help: "Last computed sun azimuth, clockwise from north.",
	}), "heliostat_sun_azimuth_degrees"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heliostat_http_requests_total",
		Help: "Operator API requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "heliostat_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heliostat_http_request_duration_seconds",
		Help:    "Operator API latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"}), "heliostat_http_request_duration_seconds"); err != nil {
		return nil, err
	}

	for _, s := range tracker.States {
		c.State.WithLabelValues(s.String()).Set(0)
	}
	c.State.WithLabelValues(tracker.StateInitial.String()).Set(1)
	return c, nil
}

func (c *Collector) CommandSent(kind string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(kind).Inc()
}

func (c *Collector) ReplyReceived(kind string) {
	if c == nil {
		return
	}
	c.Replies.WithLabelValues(kind).Inc()
}

func (c *Collector) StateChanged(state string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(state).Inc()
	for _, s := range tracker.States {
		v := 0.0
		if s.String() == state {
			v = 1
		}
		c.State.WithLabelValues(s.String()).Set(v)
	}
}

func (c *Collector) SunPosition(altitude, azimuth float64) {
	if c == nil {
		return
	}
	c.SunAltitude.Set(altitude)
	c.SunAzimuth.Set(azimuth)
}

// FixReceived counts one GPS line by result (FixAccepted, FixNoFix, ...).
func (c *Collector) FixReceived(result string) {
	if c == nil {
		return
	}
	c.Sentences.WithLabelValues(result).Inc()
}

// Middleware records request counts and durations by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
