// Package registry resolves tracker identifiers to registered devices.
//
// Lookups go through a static device list first, then the Redis cache, then
// Postgres. Unknown identifiers can optionally be registered on the fly.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// ErrUnknownDevice is returned when an identifier is not registered
var ErrUnknownDevice = errors.New("registry: unknown device")

// Resolver maps a device identifier to a device
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (*types.Device, error)
}

// DeviceCache is the cache tier of the registry
type DeviceCache interface {
	GetDevice(ctx context.Context, identifier string) (*types.Device, error)
	StoreDevice(ctx context.Context, device *types.Device) error
}

// DeviceStore is the persistent tier of the registry
type DeviceStore interface {
	GetDevice(ctx context.Context, identifier string) (*types.Device, error)
	CreateDevice(ctx context.Context, identifier, name string) (*types.Device, error)
}

// Options configures a Registry
type Options struct {
	// AutoRegister creates unknown devices in the store on first contact
	AutoRegister bool
}

// Registry chains the static list, the cache and the store. Cache and
// store may be nil.
type Registry struct {
	cache  DeviceCache
	store  DeviceStore
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	static map[string]*types.Device
}

// New creates a registry
func New(static []*types.Device, cache DeviceCache, store DeviceStore, logger zerolog.Logger, opts Options) *Registry {
	r := &Registry{
		cache:  cache,
		store:  store,
		opts:   opts,
		logger: logger,
	}
	r.SetStatic(static)
	return r
}

// SetStatic replaces the static device list
func (r *Registry) SetStatic(devices []*types.Device) {
	static := make(map[string]*types.Device, len(devices))
	for _, d := range devices {
		static[d.Identifier] = d
	}
	r.mu.Lock()
	r.static = static
	r.mu.Unlock()
}

// Resolve returns the device registered under identifier
func (r *Registry) Resolve(ctx context.Context, identifier string) (*types.Device, error) {
	if identifier == "" {
		return nil, ErrUnknownDevice
	}

	r.mu.RLock()
	device, ok := r.static[identifier]
	r.mu.RUnlock()
	if ok {
		copied := *device
		return &copied, nil
	}

	if r.cache != nil {
		device, err := r.cache.GetDevice(ctx, identifier)
		if err != nil {
			r.logger.Warn().Err(err).Str("identifier", identifier).Msg("device cache lookup failed")
		} else if device != nil {
			return device, nil
		}
	}

	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, identifier)
	}

	device, err := r.store.GetDevice(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device %s: %w", identifier, err)
	}
	if device == nil {
		if !r.opts.AutoRegister {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, identifier)
		}
		device, err = r.store.CreateDevice(ctx, identifier, "arnavi-"+identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to register device %s: %w", identifier, err)
		}
		r.logger.Info().Str("identifier", identifier).Int64("device_id", device.ID).Msg("registered new device")
	}

	if r.cache != nil {
		if err := r.cache.StoreDevice(ctx, device); err != nil {
			r.logger.Warn().Err(err).Str("identifier", identifier).Msg("failed to cache device")
		}
	}
	return device, nil
}
