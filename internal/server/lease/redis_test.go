package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed lease tests")
	}
	client, err := NewRedisClient(context.Background(), addr, "", "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "gophscribe-test:"+uuid.NewString()+":", 5*time.Second, logging.Nop())
}

func TestRedis_AcquireRelease(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	release, ok, err := r.TryAcquire(ctx, "upload-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryAcquire(ctx, "upload-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.TryAcquire(ctx, "upload-2")
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	_, ok, err = r.TryAcquire(ctx, "upload-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisClient_RequiresAddress(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "", "", "", 0)
	assert.Error(t, err)
}
