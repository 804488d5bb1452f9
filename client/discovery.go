package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ConnectService discovers servers registered under name and connects to the
// one the balancer picks. Every reconnect attempt discovers and picks again,
// so a session can move to another server when its own goes away.
func (c *Client) ConnectService(ctx context.Context, name string) error {
	if c.opts.registry == nil {
		return errors.New("client: no registry configured")
	}
	return c.connect(ctx, func(ctx context.Context) (string, error) {
		instances, err := c.opts.registry.Discover(ctx, name)
		if err != nil {
			return "", fmt.Errorf("client: discover %s: %w", name, err)
		}
		inst, err := c.opts.balancer.Pick(instances)
		if err != nil {
			return "", fmt.Errorf("client: pick %s: %w", name, err)
		}
		c.logger.Debug("picked server",
			zap.String("service", name),
			zap.String("addr", inst.Addr),
			zap.String("balancer", c.opts.balancer.Name()))
		return inst.Addr, nil
	})
}
