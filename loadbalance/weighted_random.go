package loadbalance

import (
	"fmt"
	"math/rand"

	"opbridge/registry"
)

// WeightedRandomPicker selects instances with probability proportional to
// their registered weight.
type WeightedRandomPicker struct{}

func (p *WeightedRandomPicker) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no executor instances available")
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += v.Weight
	}
	if totalWeight <= 0 {
		// All weights zero — fall back to uniform
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (p *WeightedRandomPicker) Name() string {
	return "WeightedRandom"
}
