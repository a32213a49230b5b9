// Package admin implements the externally-scraped Prometheus metrics
// endpoint, the gorilla/mux-routed web admin UI, and the echo-based bot
// API — the three external HTTP collaborators spec.md §1 names
// ("admin console", "metrics") generalized from the teacher's WebPortal/
// Bots/admind surfaces.
package admin

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sampler is the narrow read-only surface Metrics polls; satisfied by a
// small adapter cmd/ircd constructs over *matrix.Matrix and
// *sync6.Manager, keeping this package free of a direct dependency on
// either (the same narrow-interface discipline chanactor.Router and
// matrix.ChannelHandle already use elsewhere in this module).
type Sampler interface {
	ClientCount() int
	ChannelCount() int
	PeerLinkCount() int
}

// Metrics registers the gauges/counters named in the supplemented
// Prometheus metrics surface (recovered from original_source's
// metrics.rs / prometheus/server.rs): ircd_clients, ircd_channels,
// ircd_peer_links as live gauges sampled on each scrape, and the
// ircd_messages_total and ircd_connections_total counters exposed as
// MessagesTotal and ConnectionsTotal. Nothing in this module calls Inc()
// on either counter, so both stay at zero.
type Metrics struct {
	MessagesTotal   prometheus.Counter
	ConnectionsTotal prometheus.Counter
}

// NewMetrics constructs and registers every metric against reg (pass
// prometheus.DefaultRegisterer from cmd/ircd, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across test
// runs). sampler supplies the live gauge values at scrape time.
func NewMetrics(reg prometheus.Registerer, sampler Sampler) *Metrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ircd_clients",
		Help: "Number of currently connected clients.",
	}, func() float64 { return float64(sampler.ClientCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ircd_channels",
		Help: "Number of currently registered channels.",
	}, func() float64 { return float64(sampler.ChannelCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ircd_peer_links",
		Help: "Number of currently linked peer servers.",
	}, func() float64 { return float64(sampler.PeerLinkCount()) })

	return &Metrics{
		MessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_messages_total",
			Help: "Total number of PRIVMSG/NOTICE messages delivered.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_connections_total",
			Help: "Total number of accepted client connections.",
		}),
	}
}

// ListenMetrics blocks serving prometheus.DefaultGatherer's metrics as
// Prometheus text exposition on addr's "/metrics" path, matching the
// prometheus/client_golang idiom every exporter in the ecosystem uses.
// Metrics that NewMetrics registered against any registry other than
// prometheus.DefaultRegisterer are not served.
func ListenMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, mux)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
