package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/chatvault/internal/common"
)

type Store struct {
	Client *redis.Client
}

// Open connects and pings the server.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{Client: c}, nil
}

func (s *Store) Close() error { return s.Client.Close() }

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard is a single-flight guard shared by every server process on the same
// Redis. A key expires after ttl even if its holder dies. Services using it
// should also be built with chat.WithSharedStore.
type Guard struct {
	store  *Store
	prefix string
	ttl    time.Duration
}

func NewGuard(s *Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Guard{store: s, prefix: "chatvault:flight:", ttl: ttl}
}

func (g *Guard) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	k := g.prefix + key
	ok, err := g.store.Client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// the caller's ctx may already be done
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, g.store.Client, []string{k}, token).Err()
	}, true, nil
}

func (g *Guard) Held(ctx context.Context, key string) (bool, error) {
	n, err := g.store.Client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
