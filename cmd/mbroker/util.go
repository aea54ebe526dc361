package main

import (
	"context"
	"fmt"

	"github.com/blacknred/mbroker/internal/broker"
	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/config"
	"github.com/blacknred/mbroker/internal/storage"
	"github.com/blacknred/mbroker/internal/storage/archivestore"
	"github.com/blacknred/mbroker/internal/storage/pgstore"
	"github.com/blacknred/mbroker/internal/storage/redisstore"
)

var (
	configFile string
	adminAddr  string
)

// loadConfig builds a BrokerConfig from configFile (if set), layered with
// environment overrides, exactly as the teacher's daemon command does.
func loadConfig() (*config.BrokerConfig, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// openStore constructs the persistent store named by cfg.Store.Backend. The
// returned closer is a no-op for backends with nothing to release.
func openStore(ctx context.Context, cfg *config.BrokerConfig) (storage.PersistentStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StorageBackendRedis:
		s := redisstore.New(redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: "mbroker:",
		})
		return s, func() { _ = s.Close() }, nil
	case config.StorageBackendPostgres:
		s, err := pgstore.New(ctx, cfg.Store.Postgres.DSN, cfg.Store.Postgres.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s := storage.NewMemStore()
		return s, func() {}, nil
	}
}

// newRegistry wires a TopicRegistry from cfg: its persistent store backend,
// a JSON codec, and an empty schema registry (an embedding application
// registers its own schemas before creating topics).
func newRegistry(ctx context.Context, cfg *config.BrokerConfig) (*broker.TopicRegistry, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	reg := broker.NewTopicRegistry(store, codec.New(), broker.NewSchemaRegistry())

	if cfg.Store.Archive.Enabled {
		archiver, err := archivestore.New(ctx, archivestore.Config{
			Bucket: cfg.Store.Archive.Bucket,
			Prefix: cfg.Store.Archive.Prefix,
			Region: cfg.Store.Archive.Region,
		})
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("configure archive store: %w", err)
		}
		reg.SetArchiver(archiver)
	}

	return reg, closeStore, nil
}

func adminURL(path string) string {
	return "http://" + adminAddr + path
}
