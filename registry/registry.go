package registry

// Instance describes one registered executor endpoint.
type Instance struct {
	Addr    string `json:"addr"`   // Routable address, e.g. "10.0.0.5:7420"
	Weight  int    `json:"weight"` // Relative capacity, used by weighted pickers
	Version string `json:"version,omitempty"`
}

// Registry is the executor endpoint directory. Executors register themselves
// under a pool name with a TTL lease; coordinators discover and watch the pool
// to decide which endpoint to dial.
type Registry interface {
	Register(pool string, instance Instance, ttl int64) error
	Deregister(pool string, addr string) error
	Discover(pool string) ([]Instance, error)
	Watch(pool string) <-chan []Instance
}
