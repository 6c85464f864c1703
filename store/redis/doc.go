// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Jobs are stored as Hashes with a Sorted Set holding
// the pending queue ordered by creation time, and spend aggregates use
// per-day and per-month counters.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
