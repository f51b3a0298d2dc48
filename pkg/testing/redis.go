package testing

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// NewRedisClient connects to redis at host:port and fails the test if it
// does not answer a ping in time. The client is closed on test cleanup.
func NewRedisClient(t *testing.T, host, port string) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(host, port),
		DB:   0, // use default DB
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pingRes, err := rdb.Ping(ctx).Result()
	require.NoError(t, err)
	t.Logf("redis [%s:%s] ping res: %s", host, port, pingRes)

	return rdb
}
