package registry

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/rpctransport/"

// EtcdNamer implements Namer on top of etcd v3: registration uses a TTL
// lease kept alive in the background, so a crashed server's entry expires
// on its own instead of lingering as a dead locator for clients to trip
// over.
type EtcdNamer struct {
	client *clientv3.Client
}

// NewEtcdNamer connects to the given etcd endpoints.
func NewEtcdNamer(cfg Config) (*EtcdNamer, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdNamer{client: c}, nil
}

func serviceKey(serviceName, locator string) string {
	return keyPrefix + serviceName + "/" + locator
}

// Register publishes inst under serviceName with a ttlSeconds lease and
// keeps the lease alive in the background until the process exits or Close
// is called. Deregister deletes the key but does not revoke the lease or
// stop its keepalive.
// The lease ID is a local variable, never stored on the struct, so two
// goroutines registering different instances through the same EtcdNamer
// never race over it.
func (r *EtcdNamer) Register(serviceName string, inst Instance, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("registry: marshal instance: %w", err)
	}

	key := serviceKey(serviceName, inst.Locator)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a previously registered instance.
func (r *EtcdNamer) Deregister(serviceName, locator string) error {
	_, err := r.client.Delete(context.Background(), serviceKey(serviceName, locator))
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", serviceKey(serviceName, locator), err)
	}
	return nil
}

// Discover lists all currently registered instances for serviceName.
func (r *EtcdNamer) Discover(serviceName string) ([]Instance, error) {
	prefix := keyPrefix + serviceName + "/"
	resp, err := r.client.Get(context.Background(), prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", prefix, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch streams updated instance lists for serviceName whenever etcd
// reports a change under its key prefix (new registration, deregistration,
// or lease expiry).
func (r *EtcdNamer) Watch(serviceName string) <-chan []Instance {
	prefix := keyPrefix + serviceName + "/"
	out := make(chan []Instance, 1)

	go func() {
		watchCh := r.client.Watch(context.Background(), prefix, clientv3.WithPrefix())
		for range watchCh {
			instances, err := r.Discover(serviceName)
			if err != nil {
				continue
			}
			out <- instances
		}
	}()

	return out
}

// Close releases the underlying etcd client connection.
func (r *EtcdNamer) Close() error {
	return r.client.Close()
}
