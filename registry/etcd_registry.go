// Package registry provides the etcd-based executor directory.
//
// etcd acts as the phonebook for executor pools:
//
//	Key:   /opbridge/executors/{pool}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if an executor crashes, its lease expires
// and the entry disappears on its own, so coordinators never dial ghosts.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/opbridge/executors/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register adds an executor instance with a TTL lease and starts background
// KeepAlive renewal.
//
// The lease ID is a local variable, not stored on the struct, so multiple
// executors can share one EtcdRegistry without a data race.
func (r *EtcdRegistry) Register(pool string, instance Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+pool+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an executor instance. Called during graceful shutdown
// before the listener closes.
func (r *EtcdRegistry) Deregister(pool string, addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, keyPrefix+pool+"/"+addr)
	return err
}

// Watch monitors a pool prefix and emits the updated instance list whenever it
// changes (registration, deregistration, lease expiry). Uses etcd's server-push
// Watch API rather than polling.
func (r *EtcdRegistry) Watch(pool string) <-chan []Instance {
	ctx := context.TODO()
	ch := make(chan []Instance, 1)
	prefix := keyPrefix + pool + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list — simpler than
			// folding individual watch events
			instances, _ := r.Discover(pool)
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a pool.
func (r *EtcdRegistry) Discover(pool string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := keyPrefix + pool + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0)
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
