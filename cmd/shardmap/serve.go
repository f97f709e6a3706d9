package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardmap/shardmap/internal/assign"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/dialect"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/internal/hsync"
	"github.com/shardmap/shardmap/internal/metastore"
	"github.com/shardmap/shardmap/internal/server"
	"github.com/shardmap/shardmap/pkg/config"
	"github.com/shardmap/shardmap/pkg/database"
	"github.com/shardmap/shardmap/pkg/health"
	"github.com/shardmap/shardmap/pkg/logger"
)

var (
	serveAddr    string
	syncInterval time.Duration
	enableCache  bool
	assignPolicy string
	cacheTTL     time.Duration
	quietLogs    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the directory service and admin API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address for the admin API (overrides server.host/server.port)")
	serveCmd.Flags().DurationVar(&syncInterval, "sync-interval", 5*time.Second, "Catalog synchronization poll interval")
	serveCmd.Flags().BoolVar(&enableCache, "cache", false, "Enable the Redis key-to-node cache")
	serveCmd.Flags().DurationVar(&cacheTTL, "cache-ttl", directory.DefaultCacheTTL, "TTL of cached key-to-node entries")
	serveCmd.Flags().StringVar(&assignPolicy, "assign", "hash", "Node assignment policy for new keys (hash or random)")
	serveCmd.Flags().BoolVar(&quietLogs, "quiet", false, "Disable console log output")
}

func newAssigner(policy string) (assign.Assigner, error) {
	switch policy {
	case "hash":
		return assign.NewHash(), nil
	case "random":
		return assign.NewRandom(time.Now().UnixNano()), nil
	}
	return nil, fmt.Errorf("unknown assignment policy %q", policy)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	cfg.LoadEnvironment()

	log := logger.New("shardmap", version)
	if quietLogs {
		log.DisableConsoleOutput()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	syncer := hsync.New(store, log)
	syncer.Register(cat)
	cat.SetSyncer(syncer)
	go syncer.Run(ctx, syncInterval)

	registry := dialect.NewRegistry()
	defer registry.Close()

	assigner, err := newAssigner(assignPolicy)
	if err != nil {
		return err
	}

	indexStore := directory.NewSQLStore(registry, log)
	dir := directory.New(cat, indexStore, assigner, log)

	if enableCache {
		redisDB, err := database.NewRedis(ctx, database.RedisFromGlobalConfig(cfg))
		if err != nil {
			return fmt.Errorf("connecting to cache: %w", err)
		}
		defer redisDB.Close()
		dir.WithCache(directory.NewCache(redisDB.Client(), cacheTTL, log))
		log.Info("Key-to-node cache enabled")
	}

	checker := health.NewChecker()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checker.RunCheck("metadata", func() error { return db.Ping(ctx) })
			}
		}
	}()

	addr := serveAddr
	if addr == "" {
		host := cfg.GetWithDefault("server.host", "0.0.0.0")
		port := cfg.GetWithDefault("server.port", "8080")
		addr = host + ":" + port
	}

	srv := server.NewServer(cat, dir, checker, log)
	return srv.Run(ctx, addr)
}
