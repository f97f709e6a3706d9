package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/pkg/config"
	"github.com/shardmap/shardmap/pkg/database"
	"github.com/shardmap/shardmap/pkg/logger"
)

var installDimension string

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the metadata schema and directory index tables",
	Long: "Creates the catalog tables in the metadata database, and the directory index tables " +
		"of every configured partition dimension (or a single dimension with --dimension). " +
		"Existing tables are left untouched.",
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installDimension, "dimension", "", "Install index tables for this dimension only")
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	cfg.LoadEnvironment()

	log := logger.New("shardmap", version)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgCfg := database.FromGlobalConfig(cfg)
	db, err := database.New(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connecting to metadata database: %w", err)
	}
	defer db.Close()

	store := metastore.NewPostgres(db, pgCfg.URI(), log)
	if err := store.Install(ctx); err != nil {
		return err
	}

	cat, err := catalog.Load(ctx, store, log)
	if err != nil {
		return err
	}

	registry := dialect.NewRegistry()
	defer registry.Close()
	indexStore := directory.NewSQLStore(registry, log)

	snap := cat.Snapshot()
	for _, dim := range snap.Dimensions {
		if installDimension != "" && dim.Name != installDimension {
			continue
		}
		if err := indexStore.Install(ctx, snap, dim); err != nil {
			return fmt.Errorf("installing index tables for dimension %q: %w", dim.Name, err)
		}
	}
	return nil
}
