package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/arnavi-gateway/internal/testutils"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// memoryRedis is an in-memory RedisClientInterface
type memoryRedis struct {
	data   map[string]string
	ttl    map[string]time.Duration
	getErr error
	closed bool
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: make(map[string]string), ttl: make(map[string]time.Duration)}
}

func (m *memoryRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value type"))
	}
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *memoryRedis) Close() error {
	m.closed = true
	return nil
}

func TestClient_Device(t *testing.T) {
	mem := newMemoryRedis()
	client := NewWithClient(mem)
	ctx := context.Background()

	device := &types.Device{ID: 5, Identifier: "860719020212696", Name: "truck-5"}
	require.NoError(t, client.StoreDevice(ctx, device))
	assert.Equal(t, DeviceTTL, mem.ttl["device:860719020212696"])

	got, err := client.GetDevice(ctx, device.Identifier)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, device.ID, got.ID)
	assert.Equal(t, device.Name, got.Name)

	require.NoError(t, client.DeleteDevice(ctx, device.Identifier))
	got, err = client.GetDevice(ctx, device.Identifier)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_GetDevice_Errors(t *testing.T) {
	mem := newMemoryRedis()
	client := NewWithClient(mem)
	ctx := context.Background()

	mem.data["device:bad"] = "invalid json"
	got, err := client.GetDevice(ctx, "bad")
	assert.Error(t, err)
	assert.Nil(t, got)

	mem.getErr = errors.New("connection refused")
	got, err = client.GetDevice(ctx, "any")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get device data")
	assert.Nil(t, got)
}

func TestClient_LastPosition(t *testing.T) {
	mem := newMemoryRedis()
	client := NewWithClient(mem)
	ctx := context.Background()

	p := testutils.MockPosition(9, "42", 55.75, 37.625)
	require.NoError(t, client.StoreLastPosition(ctx, p))
	assert.Equal(t, PositionTTL, mem.ttl["position:9"])

	got, err := client.GetLastPosition(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.Latitude, got.Latitude)
	assert.True(t, p.Time.Equal(got.Time))
	power, ok := got.Attributes.Get(types.KeyPower)
	require.True(t, ok)
	assert.Equal(t, 12.6, power.Float())

	require.NoError(t, client.DeleteLastPosition(ctx, 9))
	got, err = client.GetLastPosition(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_UpdateLastPosition(t *testing.T) {
	client := NewWithClient(newMemoryRedis())
	ctx := context.Background()

	older := testutils.MockPosition(1, "42", 10, 10)
	newer := testutils.MockPosition(1, "42", 20, 20)
	newer.Time = older.Time.Add(time.Minute)

	written, err := client.UpdateLastPosition(ctx, newer)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = client.UpdateLastPosition(ctx, older)
	require.NoError(t, err)
	assert.False(t, written, "older position must not replace a newer one")

	got, err := client.GetLastPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Latitude)
}

func TestClient_DeviceOnline(t *testing.T) {
	client := NewWithClient(newMemoryRedis())
	ctx := context.Background()

	remote, err := client.GetDeviceOnline(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, remote)

	require.NoError(t, client.SetDeviceOnline(ctx, "42", "10.0.0.1:5555"))
	remote, err = client.GetDeviceOnline(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5555", remote)

	require.NoError(t, client.SetDeviceOnline(ctx, "42", ""))
	remote, err = client.GetDeviceOnline(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, remote)
}

func TestClient_Close(t *testing.T) {
	mem := newMemoryRedis()
	client := NewWithClient(mem)

	require.NoError(t, client.Close())
	assert.True(t, mem.closed)
}

func TestNew_InvalidAddress(t *testing.T) {
	client, err := New("invalid:address:12345")
	assert.Error(t, err)
	assert.Nil(t, client)
}
