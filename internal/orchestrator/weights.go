package orchestrator

import (
	"maps"
	"sync"
)

// DefaultWeightAlpha is the smoothing factor of agent weight updates.
const DefaultWeightAlpha = 0.1

// Weights is the per-agent track record. Each finished deliberation moves an
// agent's weight toward 1 when it backed the final winner and toward 0 when
// it did not. Unknown agents start at 1.
//
// Weights belongs to one Orchestrator; two orchestrators never share it.
type Weights struct {
	mu     sync.RWMutex
	alpha  float64
	values map[string]float64
}

// NewWeights creates empty weights. alpha outside (0, 1] falls back to
// DefaultWeightAlpha.
func NewWeights(alpha float64) *Weights {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultWeightAlpha
	}
	return &Weights{alpha: alpha, values: make(map[string]float64)}
}

// Get returns agentID's weight.
func (w *Weights) Get(agentID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.values[agentID]; ok {
		return v
	}
	return 1
}

// Snapshot returns a copy safe to hand to a deliberation.
func (w *Weights) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.values)
}

// Update applies one deliberation outcome. votes maps agent id to the
// winner its final anchor chose.
func (w *Weights) Update(votes map[string]string, winner string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for agentID, choice := range votes {
		prev, ok := w.values[agentID]
		if !ok {
			prev = 1
		}
		target := 0.0
		if choice == winner {
			target = 1
		}
		w.values[agentID] = prev + w.alpha*(target-prev)
	}
}
