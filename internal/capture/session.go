package capture

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/saviobatista/arnavi-gateway/internal/registry"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

var errNotIdentified = errors.New("connection has not identified a device")

// connSession binds a connection to the device named by its handshake
type connSession struct {
	resolver registry.Resolver

	mu     sync.Mutex
	device *types.Device
}

// Resolve looks identifier up and binds the result to the connection. An
// empty identifier returns the bound device.
func (c *connSession) Resolve(ctx context.Context, identifier string) (*types.Device, error) {
	if identifier == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.device == nil {
			return nil, errNotIdentified
		}
		return c.device, nil
	}

	if c.resolver == nil {
		c.bind(nil)
		return nil, registry.ErrUnknownDevice
	}
	device, err := c.resolver.Resolve(ctx, identifier)
	if err != nil {
		c.bind(nil)
		return nil, err
	}
	c.bind(device)
	return device, nil
}

func (c *connSession) bind(device *types.Device) {
	c.mu.Lock()
	c.device = device
	c.mu.Unlock()
}

func (c *connSession) identifier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return ""
	}
	return c.device.Identifier
}

// connWriter sends acknowledgments on the device connection
type connWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *connWriter) Send(frame []byte) error {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return err
		}
	}
	_, err := w.conn.Write(frame)
	return err
}
