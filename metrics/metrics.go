// Package metrics exposes the replica's prometheus registry, grounded on
// the teacher's engine/chain/poll metric pattern of a handful of gauges
// and counters read by an external scraper rather than logged inline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters and gauges served by Handler. Neither the
// protocol cores nor the mempool update them, so they keep their initial
// values.
type Registry struct {
	reg *prometheus.Registry

	BlocksCommitted prometheus.Counter
	VotesReceived   prometheus.Counter
	TimeoutsFired   prometheus.Counter
	CurrentRound    prometheus.Gauge
	PayloadsStored  prometheus.Counter
	MempoolQueueLen prometheus.Gauge
}

// New builds a Registry with every metric registered under the given
// node name, so a multi-replica deployment can distinguish series by
// label without needing a separate registry per process.
func New(nodeName string) *Registry {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"node": nodeName}

	r := &Registry{
		reg: reg,
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vanguard_blocks_committed_total", Help: "Blocks committed by the local replica.", ConstLabels: constLabels,
		}),
		VotesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vanguard_votes_received_total", Help: "Votes received and accepted.", ConstLabels: constLabels,
		}),
		TimeoutsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vanguard_timeouts_fired_total", Help: "Local pacemaker expirations.", ConstLabels: constLabels,
		}),
		CurrentRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vanguard_current_round", Help: "Current consensus round.", ConstLabels: constLabels,
		}),
		PayloadsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vanguard_payloads_stored_total", Help: "Payloads persisted by the mempool.", ConstLabels: constLabels,
		}),
		MempoolQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vanguard_mempool_queue_length", Help: "Unproposed payload digests queued.", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(r.BlocksCommitted, r.VotesReceived, r.TimeoutsFired, r.CurrentRound, r.PayloadsStored, r.MempoolQueueLen)
	return r
}

// Handler returns the HTTP handler a replica mounts for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
