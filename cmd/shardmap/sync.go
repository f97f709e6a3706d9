package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/pkg/config"
	"github.com/shardmap/shardmap/pkg/database"
	"github.com/shardmap/shardmap/pkg/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one catalog synchronization check and print the revision",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	cfg.LoadEnvironment()

	log := logger.New("shardmap", version)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgCfg := database.FromGlobalConfig(cfg)
	db, err := database.New(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connecting to metadata database: %w", err)
	}
	defer db.Close()

	store := metastore.NewPostgres(db, pgCfg.URI(), log)
	cat, err := catalog.Load(ctx, store, log)
	if err != nil {
		return err
	}

	snap := cat.Snapshot()
	fmt.Printf("Catalog revision %d (read-only: %t), %d dimensions, %d nodes\n",
		snap.Revision, snap.ReadOnly, len(snap.Dimensions), len(snap.Nodes))
	return nil
}
