package loadbalance

import (
	"fmt"
	"sync/atomic"

	"opbridge/registry"
)

// RoundRobinPicker cycles through instances in order. Uses an atomic counter
// for lock-free, goroutine-safe operation.
type RoundRobinPicker struct {
	counter int64 // Atomic counter, incremented on each Pick
}

// Pick selects the next instance in round-robin order.
func (p *RoundRobinPicker) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no executor instances available")
	}
	index := atomic.AddInt64(&p.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (p *RoundRobinPicker) Name() string {
	return "RoundRobin"
}
