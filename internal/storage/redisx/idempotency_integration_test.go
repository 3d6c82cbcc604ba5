//go:build integration

package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *OrderIdempotency {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb, err := New(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, Ping(rdb)(ctx))

	return NewOrderIdempotency(rdb)
}

func TestOrderIdempotency(t *testing.T) {
	store := startRedis(t)
	ctx := context.Background()
	key := "anon:" + uuid.NewString()

	state, _, err := store.Claim(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, IdemNew, state)

	state, _, err = store.Claim(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, IdemInFlight, state)

	require.NoError(t, store.Complete(ctx, key, "fp-1", "order-1"))

	state, orderID, err := store.Claim(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, IdemDone, state)
	assert.Equal(t, "order-1", orderID)

	state, orderID, err = store.Claim(ctx, key, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, IdemMismatch, state, "same key with another body")
	assert.Empty(t, orderID)

	other := "anon:" + uuid.NewString()
	_, _, err = store.Claim(ctx, other, "fp-1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, other))

	state, _, err = store.Claim(ctx, other, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, IdemNew, state, "released keys can be claimed again")
}
