package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct {
	fail  bool
	store map[string][]byte
}

func newFakeNetwork(fail bool) *fakeNetwork {
	return &fakeNetwork{fail: fail, store: make(map[string][]byte)}
}

func (f *fakeNetwork) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	v, ok := f.store[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (f *fakeNetwork) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return errors.New("connection refused")
	}
	f.store[key] = value
	return nil
}

func TestCache_SetGet_NetworkHealthy(t *testing.T) {
	net := newFakeNetwork(false)
	c := New(net, zerolog.Nop())

	type payload struct{ Value string }
	require.NoError(t, c.Set(context.Background(), "k", payload{Value: "hot"}, time.Minute))

	var out payload
	ok, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hot", out.Value)
}

func TestCache_FallsBackToMapOnNetworkFailure(t *testing.T) {
	net := newFakeNetwork(true)
	c := New(net, zerolog.Nop())

	type payload struct{ Value string }
	require.NoError(t, c.Set(context.Background(), "k", payload{Value: "hot"}, time.Minute))

	var out payload
	ok, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.True(t, ok, "in-process map should absorb the write and serve the read")
	assert.Equal(t, "hot", out.Value)
}

func TestCache_NoNetworkBackend(t *testing.T) {
	c := New(nil, zerolog.Nop())

	type payload struct{ Value string }
	require.NoError(t, c.Set(context.Background(), "k", payload{Value: "warm"}, time.Minute))

	var out payload
	ok, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "warm", out.Value)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c := New(nil, zerolog.Nop())

	type payload struct{ Value string }
	require.NoError(t, c.Set(context.Background(), "k", payload{Value: "cold"}, -time.Second))

	var out payload
	ok, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_MissingKey(t *testing.T) {
	c := New(nil, zerolog.Nop())

	var out map[string]string
	ok, err := c.Get(context.Background(), "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "base:1:price:BTCUSDT", StreamKey(1, "price", "BTCUSDT"))
	assert.Equal(t, "base:42:news:all", StreamKey(42, "news", ""))
}
