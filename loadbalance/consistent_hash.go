package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"sse-rpc/registry"
)

// ConsistentHashBalancer maps a fixed key, usually the client name, onto a
// hash ring of instances. The same key lands on the same server until the
// instance set changes, and then only moves if its server left.
//
// Each real instance gets replicas virtual nodes so a handful of servers
// still spread evenly around the ring.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu    sync.Mutex
	sig   string   // instance set the ring was built from
	ring  []uint32 // sorted
	nodes map[uint32]string
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
		nodes:    make(map[uint32]string),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(instance.Addr)
	b.sortLocked()
}

func (b *ConsistentHashBalancer) addLocked(addr string) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = addr
	}
}

func (b *ConsistentHashBalancer) sortLocked() {
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Locate returns the address responsible for key on the current ring.
func (b *ConsistentHashBalancer) Locate(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locateLocked(key)
}

func (b *ConsistentHashBalancer) locateLocked(key string) (string, error) {
	if len(b.ring) == 0 {
		return "", ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// Pick rebuilds the ring when the instance set changed, then locates the
// balancer's key.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	sig := strings.Join(addrs, ",")

	b.mu.Lock()
	if sig != b.sig {
		b.sig = sig
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]string, len(addrs)*b.replicas)
		for _, addr := range addrs {
			b.addLocked(addr)
		}
		b.sortLocked()
	}
	addr, err := b.locateLocked(b.key)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, ErrNoInstances
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
