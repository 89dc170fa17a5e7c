// Package loadbalance selects which registered executor endpoint the
// coordinator dials.
//
// Exactly one connection is current at a time, so a Picker runs once per
// (re)connect — it chooses the endpoint, it never fans individual requests out
// across executors.
//
// Two strategies:
//   - RoundRobin:     equal-capacity executors, spread coordinators evenly
//   - WeightedRandom: heterogeneous executors (different CPU/memory)
package loadbalance

import "opbridge/registry"

// Picker selects one executor instance from the discovered list.
// Must be goroutine-safe: reconnects may race with manual connects.
type Picker interface {
	// Pick selects one instance from the available list.
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name for logging.
	Name() string
}
