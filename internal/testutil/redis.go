package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisMetaDB    = 0
	redisMaxTestDB = 15
	redisLockTTL   = 30 * time.Minute
)

// SetupTestRedis returns a client on an empty Redis database reserved for this test.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()
	e := LoadEnv(t)
	if testing.Short() && !e.redisRequired() {
		t.Skip("skipping redis test in short mode")
	}

	if err := pingRedis(e.RedisAddr, redisMetaDB); err != nil {
		if e.redisRequired() {
			t.Fatalf("redis not available at %s: %v", e.RedisAddr, err)
		}
		t.Skipf("redis not available at %s: %v", e.RedisAddr, err)
	}

	db := e.RedisDB
	if db < 0 {
		db = reserveRedisDB(t, e.RedisAddr)
	}
	client := redis.NewClient(&redis.Options{Addr: e.RedisAddr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		closeLogged(t, "redis client", client)
		t.Fatalf("flush redis db %d: %v", db, err)
	}
	t.Cleanup(func() { closeLogged(t, "redis client", client) })
	return client
}

func pingRedis(addr string, db int) error {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

// reserveRedisDB claims a database in 1..15 with a lock key in the meta database, so packages
// running in parallel do not flush each other's data. The lock is released on cleanup.
func reserveRedisDB(t testing.TB, addr string) int {
	t.Helper()
	meta := redis.NewClient(&redis.Options{Addr: addr, DB: redisMetaDB})
	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())

	for db := 1; db <= redisMaxTestDB; db++ {
		key := fmt.Sprintf("triton:testutil:db_lock:%d", db)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, redisLockTTL).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := meta.Del(ctx, key).Err(); err != nil {
				t.Logf("release redis db lock %s: %v", key, err)
			}
			closeLogged(t, "redis meta client", meta)
		})
		t.Logf("using redis db %d at %s", db, addr)
		return db
	}

	closeLogged(t, "redis meta client", meta)
	t.Logf("no free redis db at %s, sharing db 1", addr)
	return 1
}
