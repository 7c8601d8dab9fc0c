// Package telemetry records HTTP server metrics and database pool gauges on
// a Prometheus registry.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/labopti/labopti/internal/platform/db"
)

// Config describes the running service. The values become labels on the
// build info gauge.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "labopti-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// durationBuckets follow the OTel HTTP semantic conventions, in seconds.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

var sizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// unmatchedRoute labels requests that hit no registered route, keeping raw
// paths out of label values.
const unmatchedRoute = "unmatched"

// Provider owns the HTTP collectors.
type Provider struct {
	reg      prometheus.Registerer
	active   prometheus.Gauge
	duration *prometheus.HistogramVec
	reqSize  prometheus.Histogram
	respSize prometheus.Histogram
}

// NewProvider registers the HTTP collectors and a build info gauge on reg.
func NewProvider(reg prometheus.Registerer, cfg Config) *Provider {
	cfg.applyDefaults()
	p := &Provider{
		reg: reg,
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of in-flight HTTP requests.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: durationBuckets,
		}, []string{"method", "route", "status"}),
		reqSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_server_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes.",
			Buckets: sizeBuckets,
		}),
		respSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_server_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes.",
			Buckets: sizeBuckets,
		}),
	}
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "labopti_build_info",
		Help: "Service build information.",
		ConstLabels: prometheus.Labels{
			"service_name":           cfg.ServiceName,
			"service_version":        cfg.ServiceVersion,
			"deployment_environment": cfg.Environment,
		},
	})
	info.Set(1)
	reg.MustRegister(p.active, p.duration, p.reqSize, p.respSize, info)
	return p
}

// Middleware records one observation per request. It must run outside the
// request logger so the final status code is known when it reads it.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.active.Inc()
			defer p.active.Dec()

			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			status := res.Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" || route == "/*" {
				route = unmatchedRoute
			}
			p.duration.WithLabelValues(req.Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			if req.ContentLength > 0 {
				p.reqSize.Observe(float64(req.ContentLength))
			}
			if res.Size > 0 {
				p.respSize.Observe(float64(res.Size))
			}
			return err
		}
	}
}

// RegisterPoolStats exposes connection pool gauges read from stats on every
// scrape.
func (p *Provider) RegisterPoolStats(stats func() *db.PoolStats) {
	gauge := func(name, help string, pick func(*db.PoolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	p.reg.MustRegister(
		gauge("db_pool_acquired_connections", "Connections currently in use.",
			func(s *db.PoolStats) int32 { return s.AcquiredConns }),
		gauge("db_pool_idle_connections", "Idle connections in the pool.",
			func(s *db.PoolStats) int32 { return s.IdleConns }),
		gauge("db_pool_max_connections", "Configured pool size.",
			func(s *db.PoolStats) int32 { return s.MaxConns }),
	)
}
