package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Key TTLs
const (
	DeviceTTL   = 24 * time.Hour
	PositionTTL = 1 * time.Hour
	OnlineTTL   = 10 * time.Minute
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func deviceKey(identifier string) string {
	return "device:" + identifier
}

func positionKey(deviceID int64) string {
	return "position:" + strconv.FormatInt(deviceID, 10)
}

func onlineKey(identifier string) string {
	return "online:" + identifier
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}

// StoreDevice caches a device under its identifier
func (c *Client) StoreDevice(ctx context.Context, device *types.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	return c.client.Set(ctx, deviceKey(device.Identifier), data, DeviceTTL).Err()
}

// GetDevice returns the cached device, or nil when it is not cached
func (c *Client) GetDevice(ctx context.Context, identifier string) (*types.Device, error) {
	var device types.Device
	found, err := c.getData(ctx, deviceKey(identifier), &device, "device")
	if err != nil || !found {
		return nil, err
	}
	return &device, nil
}

// DeleteDevice removes a device from the cache
func (c *Client) DeleteDevice(ctx context.Context, identifier string) error {
	return c.client.Del(ctx, deviceKey(identifier)).Err()
}

// StoreLastPosition stores the latest position of a device
func (c *Client) StoreLastPosition(ctx context.Context, position *types.Position) error {
	data, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	return c.client.Set(ctx, positionKey(position.DeviceID), data, PositionTTL).Err()
}

// GetLastPosition retrieves the latest position of a device, or nil
func (c *Client) GetLastPosition(ctx context.Context, deviceID int64) (*types.Position, error) {
	var position types.Position
	found, err := c.getData(ctx, positionKey(deviceID), &position, "position")
	if err != nil || !found {
		return nil, err
	}
	return &position, nil
}

// UpdateLastPosition stores position unless the cached one is more recent.
// It reports whether the cache was written.
func (c *Client) UpdateLastPosition(ctx context.Context, position *types.Position) (bool, error) {
	current, err := c.GetLastPosition(ctx, position.DeviceID)
	if err != nil {
		return false, err
	}
	if current != nil && current.Time.After(position.Time) {
		return false, nil
	}
	if err := c.StoreLastPosition(ctx, position); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteLastPosition removes the latest position of a device
func (c *Client) DeleteLastPosition(ctx context.Context, deviceID int64) error {
	return c.client.Del(ctx, positionKey(deviceID)).Err()
}

// SetDeviceOnline records which remote address a device is connected from.
// An empty remote clears the entry.
func (c *Client) SetDeviceOnline(ctx context.Context, identifier, remote string) error {
	if remote == "" {
		return c.client.Del(ctx, onlineKey(identifier)).Err()
	}
	return c.client.Set(ctx, onlineKey(identifier), remote, OnlineTTL).Err()
}

// GetDeviceOnline returns the remote address of a connected device, or ""
func (c *Client) GetDeviceOnline(ctx context.Context, identifier string) (string, error) {
	val, err := c.client.Get(ctx, onlineKey(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get online data: %w", err)
	}
	return val, nil
}
