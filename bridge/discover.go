package bridge

import (
	"go.uber.org/zap"

	berr "opbridge/errors"
	"opbridge/loadbalance"
	"opbridge/registry"
	"opbridge/transport"
)

// NewDiscoveredTCPChannel looks up the executor pool in the registry, picks one
// endpoint, and returns a TCP channel targeting it. Run once per bridge; on
// reconnect the channel re-dials the same endpoint — pick again and build a new
// bridge to move to a different executor.
func NewDiscoveredTCPChannel(reg registry.Registry, picker loadbalance.Picker, pool string, logger *zap.Logger) (*transport.TCPChannel, error) {
	instances, err := reg.Discover(pool)
	if err != nil {
		return nil, berr.New("DISCOVER_FAILED", "failed to discover executor pool "+pool, err)
	}

	instance, err := picker.Pick(instances)
	if err != nil {
		return nil, berr.New("NO_EXECUTOR", "no executor available in pool "+pool, err)
	}

	if logger != nil {
		logger.Info("picked executor",
			zap.String("pool", pool),
			zap.String("addr", instance.Addr),
			zap.String("strategy", picker.Name()))
	}
	return transport.NewTCPChannel(instance.Addr, logger), nil
}
