package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetDevice(ctx context.Context, identifier string) (*types.Device, error) {
	args := m.Called(ctx, identifier)
	d, _ := args.Get(0).(*types.Device)
	return d, args.Error(1)
}

func (m *MockCache) StoreDevice(ctx context.Context, device *types.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetDevice(ctx context.Context, identifier string) (*types.Device, error) {
	args := m.Called(ctx, identifier)
	d, _ := args.Get(0).(*types.Device)
	return d, args.Error(1)
}

func (m *MockStore) CreateDevice(ctx context.Context, identifier, name string) (*types.Device, error) {
	args := m.Called(ctx, identifier, name)
	d, _ := args.Get(0).(*types.Device)
	return d, args.Error(1)
}

const identifier = "860719020212696"

func TestResolve_StaticWins(t *testing.T) {
	cache := new(MockCache)
	store := new(MockStore)
	static := []*types.Device{{ID: 1, Identifier: identifier, Name: "static"}}
	r := New(static, cache, store, zerolog.Nop(), Options{})

	device, err := r.Resolve(context.Background(), identifier)

	require.NoError(t, err)
	assert.Equal(t, "static", device.Name)
	cache.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)

	device.Name = "mutated"
	again, err := r.Resolve(context.Background(), identifier)
	require.NoError(t, err)
	assert.Equal(t, "static", again.Name, "callers get a copy of static entries")
}

func TestResolve_CacheBeforeStore(t *testing.T) {
	cache := new(MockCache)
	store := new(MockStore)
	cache.On("GetDevice", mock.Anything, identifier).Return(&types.Device{ID: 2, Identifier: identifier, Name: "cached"}, nil)
	r := New(nil, cache, store, zerolog.Nop(), Options{})

	device, err := r.Resolve(context.Background(), identifier)

	require.NoError(t, err)
	assert.Equal(t, "cached", device.Name)
	cache.AssertExpectations(t)
	store.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)
}

func TestResolve_StoreHitIsCached(t *testing.T) {
	cache := new(MockCache)
	store := new(MockStore)
	stored := &types.Device{ID: 3, Identifier: identifier, Name: "db"}
	cache.On("GetDevice", mock.Anything, identifier).Return(nil, nil)
	store.On("GetDevice", mock.Anything, identifier).Return(stored, nil)
	cache.On("StoreDevice", mock.Anything, stored).Return(nil)
	r := New(nil, cache, store, zerolog.Nop(), Options{})

	device, err := r.Resolve(context.Background(), identifier)

	require.NoError(t, err)
	assert.Equal(t, int64(3), device.ID)
	cache.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestResolve_CacheErrorFallsThrough(t *testing.T) {
	cache := new(MockCache)
	store := new(MockStore)
	stored := &types.Device{ID: 3, Identifier: identifier}
	cache.On("GetDevice", mock.Anything, identifier).Return(nil, errors.New("redis down"))
	store.On("GetDevice", mock.Anything, identifier).Return(stored, nil)
	cache.On("StoreDevice", mock.Anything, stored).Return(errors.New("redis down"))
	r := New(nil, cache, store, zerolog.Nop(), Options{})

	device, err := r.Resolve(context.Background(), identifier)

	require.NoError(t, err)
	assert.Equal(t, int64(3), device.ID)
}

func TestResolve_Unknown(t *testing.T) {
	store := new(MockStore)
	store.On("GetDevice", mock.Anything, identifier).Return(nil, nil)
	r := New(nil, nil, store, zerolog.Nop(), Options{})

	device, err := r.Resolve(context.Background(), identifier)

	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Nil(t, device)
	store.AssertNotCalled(t, "CreateDevice", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_AutoRegister(t *testing.T) {
	cache := new(MockCache)
	store := new(MockStore)
	created := &types.Device{ID: 10, Identifier: identifier, Name: "arnavi-" + identifier}
	cache.On("GetDevice", mock.Anything, identifier).Return(nil, nil)
	store.On("GetDevice", mock.Anything, identifier).Return(nil, nil)
	store.On("CreateDevice", mock.Anything, identifier, "arnavi-"+identifier).Return(created, nil)
	cache.On("StoreDevice", mock.Anything, created).Return(nil)
	r := New(nil, cache, store, zerolog.Nop(), Options{AutoRegister: true})

	device, err := r.Resolve(context.Background(), identifier)

	require.NoError(t, err)
	assert.Equal(t, int64(10), device.ID)
	cache.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestResolve_AutoRegisterFailure(t *testing.T) {
	store := new(MockStore)
	store.On("GetDevice", mock.Anything, identifier).Return(nil, nil)
	store.On("CreateDevice", mock.Anything, identifier, mock.Anything).Return(nil, errors.New("constraint violation"))
	r := New(nil, nil, store, zerolog.Nop(), Options{AutoRegister: true})

	_, err := r.Resolve(context.Background(), identifier)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register device")
}

func TestResolve_StoreError(t *testing.T) {
	store := new(MockStore)
	store.On("GetDevice", mock.Anything, identifier).Return(nil, errors.New("connection refused"))
	r := New(nil, nil, store, zerolog.Nop(), Options{AutoRegister: true})

	_, err := r.Resolve(context.Background(), identifier)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownDevice)
	store.AssertNotCalled(t, "CreateDevice", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_StaticOnly(t *testing.T) {
	r := New([]*types.Device{{ID: 1, Identifier: "1"}}, nil, nil, zerolog.Nop(), Options{AutoRegister: true})

	_, err := r.Resolve(context.Background(), "2")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestSetStatic(t *testing.T) {
	r := New(nil, nil, nil, zerolog.Nop(), Options{})
	_, err := r.Resolve(context.Background(), "5")
	require.ErrorIs(t, err, ErrUnknownDevice)

	r.SetStatic([]*types.Device{{ID: 5, Identifier: "5"}})
	device, err := r.Resolve(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), device.ID)
}
