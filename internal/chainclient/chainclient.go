// Package chainclient pins the external weight-emission boundary of §6:
// delivering the normalized per-uid score vector to the chain. Out of
// scope per §1 ("the chain client... is an external collaborator whose
// contract we only pin down at the boundary").
package chainclient

import "context"

// WeightEmitter accepts a normalized weight vector indexed by uid.
type WeightEmitter interface {
	EmitWeights(ctx context.Context, weights []float64) error
}

// LoggingEmitter is a WeightEmitter fixture for tests and for running
// cmd/auditor without a real chain backend configured: it records the last
// emitted vector instead of calling out anywhere.
type LoggingEmitter struct {
	Last []float64
	Log  func(weights []float64)
}

// EmitWeights satisfies WeightEmitter by recording weights locally.
func (e *LoggingEmitter) EmitWeights(ctx context.Context, weights []float64) error {
	cp := make([]float64, len(weights))
	copy(cp, weights)
	e.Last = cp
	if e.Log != nil {
		e.Log(cp)
	}
	return nil
}
