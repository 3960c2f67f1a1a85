// Package redis implements lease.Store on Redis. Several scheduler
// instances sharing one Redis elect a single daily runner and retry sweeper
// while contracts and executions live in a SQL store.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	locker := lease.NewLocker(redis.New(client))
//	sched, _ := scheduler.New(eng, scheduler.WithLocker(locker))
package redis
