package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pdb-ids/pkg/cache"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the redis page cache",
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached search page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := a.openRedis(cmd.Context())
			if err != nil {
				return err
			}
			if rdb == nil {
				return errors.New("no redis address configured (use --redis or PDB_IDS_REDIS_ADDR)")
			}
			defer rdb.Close()

			n, err := cache.NewManager(rdb, a.cfg.Redis.TTL).Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%d cached pages deleted\n", n)
			return nil
		},
	}
	purge.Flags().String("redis", "", "redis address")

	cmd.AddCommand(purge)
	return cmd
}
