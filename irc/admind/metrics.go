package admind

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	// duration measures request latency
	duration *prometheus.HistogramVec

	// requests counts requests by route and status code
	requests *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	factory := promauto.With(reg)
	return &httpMetrics{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ircd_admin_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircd_admin_requests_total",
				Help: "Total number of admin HTTP requests by status code",
			},
			[]string{"path", "method", "code"},
		),
	}
}

// middleware records latency and status per route pattern. Route patterns
// such as /channels/:name/notice keep label cardinality bounded.
func (m *httpMetrics) middleware(skip func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			m.duration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(path, method, strconv.Itoa(c.Response().Status)).Inc()

			return nil
		}
	}
}
