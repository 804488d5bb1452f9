package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints skips the test unless ETCD_ENDPOINTS points at a live cluster.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	v := os.Getenv("ETCD_ENDPOINTS")
	if v == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	return strings.Split(v, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst1 := ServiceInstance{Addr: "http://127.0.0.1:8001/sse", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "http://127.0.0.1:8002/sse", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "tools", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "tools", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "tools")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "tools", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "tools")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s, got %+v", inst2.Addr, instances)
	}

	_ = reg.Deregister(ctx, "tools", inst2.Addr)
}
