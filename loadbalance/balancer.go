// Package loadbalance picks which discovered SSE server a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      spread successive connections evenly
//   - WeightedRandom:  favor instances with a larger Weight
//   - ConsistentHash:  pin one client identity to the same server
package loadbalance

import (
	"errors"
	"fmt"

	"sse-rpc/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is consulted once per connection attempt, including reconnects.
// Implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New builds a balancer by config name. key is only used by consistent_hash.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
