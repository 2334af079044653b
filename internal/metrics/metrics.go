// Package metrics is a thin Prometheus abstraction so every long-running
// component (generator, prover service, auditor loop, file sharder) can be
// used with or without metrics, following the Sink/noop split of
// Voskan/arena-cache's pkg/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the internal interface every component depends on; Prometheus is
// one implementation, noopSink the zero-cost default.
type Sink interface {
	IncChallengeSuccess(peer string)
	IncChallengeFailure(peer string)
	SetAllocation(peer string, nChunks uint64)
	IncShardGenerateRows(rows int)
	IncPlacementSuccess()
	IncPlacementFailure()
}

type noopSink struct{}

func (noopSink) IncChallengeSuccess(string)     {}
func (noopSink) IncChallengeFailure(string)     {}
func (noopSink) SetAllocation(string, uint64)   {}
func (noopSink) IncShardGenerateRows(int)        {}
func (noopSink) IncPlacementSuccess()           {}
func (noopSink) IncPlacementFailure()           {}

// Noop returns the zero-cost Sink used when no registry is supplied.
func Noop() Sink { return noopSink{} }

// prometheusSink registers a small, fixed set of subnet metrics against a
// caller-supplied registry.
type prometheusSink struct {
	challengeSuccess *prometheus.CounterVec
	challengeFailure *prometheus.CounterVec
	allocation       *prometheus.GaugeVec
	generatedRows    prometheus.Counter
	placementSuccess prometheus.Counter
	placementFailure prometheus.Counter
}

// NewPrometheus registers metrics on reg and returns a Sink backed by them.
func NewPrometheus(reg *prometheus.Registry) Sink {
	s := &prometheusSink{
		challengeSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storasub_challenge_success_total",
			Help: "Number of successful auditor challenges per prover.",
		}, []string{"peer"}),
		challengeFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storasub_challenge_failure_total",
			Help: "Number of failed auditor challenges per prover.",
		}, []string{"peer"}),
		allocation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storasub_allocation_n_chunks",
			Help: "Current per-prover capacity estimate (n_chunks).",
		}, []string{"peer"}),
		generatedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storasub_shard_rows_generated_total",
			Help: "Total shard rows generated by the shard generator.",
		}),
		placementSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storasub_placement_success_total",
			Help: "Total chunk placements accepted by a prover.",
		}),
		placementFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storasub_placement_failure_total",
			Help: "Total chunk placements rejected by all candidates.",
		}),
	}
	reg.MustRegister(s.challengeSuccess, s.challengeFailure, s.allocation,
		s.generatedRows, s.placementSuccess, s.placementFailure)
	return s
}

func (s *prometheusSink) IncChallengeSuccess(peer string) { s.challengeSuccess.WithLabelValues(peer).Inc() }
func (s *prometheusSink) IncChallengeFailure(peer string) { s.challengeFailure.WithLabelValues(peer).Inc() }
func (s *prometheusSink) SetAllocation(peer string, nChunks uint64) {
	s.allocation.WithLabelValues(peer).Set(float64(nChunks))
}
func (s *prometheusSink) IncShardGenerateRows(rows int) { s.generatedRows.Add(float64(rows)) }
func (s *prometheusSink) IncPlacementSuccess()          { s.placementSuccess.Inc() }
func (s *prometheusSink) IncPlacementFailure()          { s.placementFailure.Inc() }
