package obs

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

type Metrics struct {
	UpdatesTotal   *prometheus.CounterVec
	UpdateDuration *prometheus.HistogramVec
	Throttled      *prometheus.CounterVec
	LimiterErrors  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgbot_updates_total",
				Help: "Total updates handled by the bot pipeline",
			},
			[]string{"route", "outcome"},
		),
		UpdateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgbot_update_duration_seconds",
				Help:    "Update handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		Throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgbot_throttled_total",
				Help: "Total updates suppressed by rate limiting",
			},
			[]string{"policy"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgbot_limiter_errors_total",
				Help: "Total rate limiter errors",
			},
			[]string{"policy"},
		),
	}

	reg.MustRegister(m.UpdatesTotal, m.UpdateDuration, m.Throttled, m.LimiterErrors)
	return m
}

func (m *Metrics) OnThrottled(policy string)    { m.Throttled.WithLabelValues(policy).Inc() }
func (m *Metrics) OnLimiterError(policy string) { m.LimiterErrors.WithLabelValues(policy).Inc() }

// Middleware records per-update metrics. It must run after RouteMatcher;
// outcome is "error", or whatever later middlewares set with
// dispatch.SetOutcome ("ok" by default).
func (m *Metrics) Middleware() dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			start := time.Now()
			ctx, out := dispatch.WithOutcome(ctx)
			err := next.Handle(ctx, ev)

			route := "unknown"
			if rt, ok := routing.RouteFrom(ctx); ok && rt.ID != "" {
				route = rt.ID
			}
			outcome := out.Value()
			if err != nil {
				outcome = "error"
			}

			m.UpdateDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			m.UpdatesTotal.WithLabelValues(route, outcome).Inc()
			return err
		})
	}
}
