package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tOgg1/yfeed/internal/config"
	"github.com/tOgg1/yfeed/internal/db"
	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/server"
)

// ExecuteServer runs the ynotd feed server.
func ExecuteServer(version string) error {
	return newServerCmd(version).Execute()
}

func newServerCmd(version string) *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:           "ynotd",
		Short:         "Serve a post feed",
		Long:          "ynotd stores posts in SQLite, serves recent posts over HTTP and streams new ones over a websocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closer, err := initLogging(cfg, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, seedPath)
		},
	}
	addGlobalFlags(cmd)
	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	cmd.Flags().String("db", "", "SQLite database path, or :memory:")
	cmd.Flags().String("frame-format", "", "default live frame format: tagged, untagged")
	cmd.Flags().Float64("post-rate", 0, "POST /posts requests per second, 0 for unlimited (default 5)")
	cmd.Flags().String("redis-addr", "", "redis address for fan-out across instances")
	cmd.Flags().String("log-file", "", "write logs to this file")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file of posts to load into an empty database")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, seedPath string) error {
	logger := logging.Component("ynotd")

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := database.MigrateUp(ctx)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("migrations", applied).Msg("database migrated")
	}

	posts := db.NewPostRepository(database)
	if seedPath != "" {
		if err := seedIfEmpty(ctx, posts, seedPath); err != nil {
			return err
		}
	}

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.Server.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Server.RedisAddr, err)
		}
		opts = append(opts, server.WithRedis(rdb))
		logger.Info().Str("redis_addr", cfg.Server.RedisAddr).Msg("using redis fan-out")
	}

	srv, err := server.New(cfg.Server, posts, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	if cfg.Server.DBPath == ":memory:" {
		return db.OpenInMemory()
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return db.Open(cfg.Server.DBPath)
}

func seedIfEmpty(ctx context.Context, posts *db.PostRepository, path string) error {
	n, err := posts.Count(ctx)
	if err != nil {
		return err
	}
	logger := logging.Component("ynotd")
	if n > 0 {
		logger.Info().Int("posts", n).Msg("database not empty, skipping seed")
		return nil
	}
	seed, err := server.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := server.Seed(ctx, posts, seed); err != nil {
		return err
	}
	logger.Info().Int("posts", len(seed)).Str("file", path).Msg("seeded database")
	return nil
}
