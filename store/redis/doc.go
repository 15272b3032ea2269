// Package redis implements store.Store on Redis.
//
// Each job is a Hash. Claimable jobs sit in a Sorted Set scored by the
// microsecond at which they become claimable: NotBefore while pending and
// the lease expiry while leased. Claims, releases and deletions run as Lua
// scripts so the lease fence is checked and applied atomically. Every key
// shares one hash tag, so the store also works on a Redis Cluster.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
