package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/tokenpipe"
	"github.com/panyam/tokenpipe/config"
	"github.com/panyam/tokenpipe/stores/fs"
	"github.com/panyam/tokenpipe/stores/gae"
	gormstore "github.com/panyam/tokenpipe/stores/gorm"
	redisstore "github.com/panyam/tokenpipe/stores/redis"
)

const appName = "tokenpipe"

// openStore builds the credential store named by cfg.Kind. The returned
// close func releases any connection the store holds.
func openStore(ctx context.Context, cfg config.StoreConfig) (tokenpipe.ServerCredentialStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case "fs":
		var opts []fs.Option
		if cfg.Passphrase != "" {
			opts = append(opts, fs.WithPassphrase(cfg.Passphrase))
		}
		store, err := fs.NewFSCredentialStore(cfg.Path, appName, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case "sqlite":
		path := cfg.Path
		if path == "" {
			def, err := fs.DefaultPath(appName)
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(filepath.Dir(def), "credentials.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewCredentialStore(db), sqlDB.Close, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.NewCredentialStore(client), client.Close, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to datastore: %w", err)
		}
		return gae.NewCredentialStore(client, cfg.Namespace), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}
