package client

import (
	"context"
	"testing"
	"time"

	"sse-rpc/registry"
	"sse-rpc/ssetest"
)

func setupBenchmark(b *testing.B) *Client {
	b.Helper()
	srv := ssetest.NewServer()
	if err := srv.Register(&Calculator{}); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(srv.Close)

	reg := registry.NewStaticRegistry()
	if err := srv.Advertise(context.Background(), reg, "calculator", 1); err != nil {
		b.Fatal(err)
	}

	c := New(WithHTTPClient(srv.Client()), WithRegistry(reg, nil), WithConnectTimeout(5*time.Second))
	b.Cleanup(func() { _ = c.Close() })
	if err := c.ConnectService(context.Background(), "calculator"); err != nil {
		b.Fatal(err)
	}
	return c
}

var benchArgs = map[string]any{"a": 1, "b": 2}

func BenchmarkSerialCall(b *testing.B) {
	c := setupBenchmark(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.CallTool(ctx, "add_numbers", benchArgs); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines share one stream; responses come back in any order.
func BenchmarkConcurrentCall(b *testing.B) {
	c := setupBenchmark(b)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.CallTool(ctx, "add_numbers", benchArgs); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
