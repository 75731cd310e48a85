package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/pdb-ids/pkg/cache"
	"github.com/Sternrassler/pdb-ids/pkg/client"
)

// addClientFlags registers the flags every command that talks to the
// search service accepts. Defaults shown here are informational; the
// effective defaults live in internal/config.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("endpoint", client.DefaultEndpoint, "search endpoint URL")
	f.String("user-agent", client.DefaultUserAgent, "User-Agent header")
	f.Int("page-size", 10000, "rows requested per page")
	f.Duration("request-timeout", 0, "timeout per request (default 60s)")
	f.Int("retries", 3, "attempts per request including the first")
	f.Duration("min-interval", 0, "minimum spacing between requests")
	f.String("redis", "", "redis address for the page cache (empty disables caching)")
	f.Duration("redis-ttl", 0, "page cache TTL (default 1h)")
}

// openRedis connects to the configured redis server. It returns a nil
// client when no address is configured.
func (a *app) openRedis(ctx context.Context) (*redis.Client, error) {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
	}
	log.Info().Str("addr", rc.Addr).Msg("Connected to Redis")
	return rdb, nil
}

// newClient builds the search client. An unreachable cache is logged and
// skipped; the returned func releases the redis connection.
func (a *app) newClient(ctx context.Context) (*client.Client, func(), error) {
	cc := a.cfg.Client()
	cleanup := func() {}

	rdb, err := a.openRedis(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Page cache disabled")
	} else if rdb != nil {
		cc.Cache = cache.NewManager(rdb, a.cfg.Redis.TTL)
		cleanup = func() { rdb.Close() }
	}

	cl, err := client.New(cc)
	if err != nil {
		cleanup()
		return nil, nil, &exitError{code: exitFailure, err: err}
	}
	return cl, cleanup, nil
}
