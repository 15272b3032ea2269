package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/store/storetest"
)

// startRedis is set by the integration build to launch a throwaway
// container and return its address.
var startRedis func(t *testing.T) string

// TestStore runs the conformance suite against COURIER_TEST_REDIS_ADDR,
// a container under the integration tag, or an in-process miniredis, which
// runs the Lua claim and fence scripts too. Each subtest starts from an
// empty database.
func TestStore(t *testing.T) {
	addr := os.Getenv("COURIER_TEST_REDIS_ADDR")
	switch {
	case addr != "":
	case startRedis != nil:
		addr = startRedis(t)
	default:
		addr = miniredis.RunT(t).Addr()
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		ctx := context.Background()
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		s := redis.New(client)
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}
