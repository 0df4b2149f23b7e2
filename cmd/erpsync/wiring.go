package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nikolaj20/erp-phonetech/internal/config"
	"github.com/nikolaj20/erp-phonetech/internal/replica/bus"
	"github.com/nikolaj20/erp-phonetech/internal/replica/remote"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
	replicasync "github.com/nikolaj20/erp-phonetech/internal/replica/sync"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger returns a logger writing to the rotated log file when one is
// configured and to stderr otherwise.
func newLogger(cfg config.LogConfig, prefix string) (*log.Logger, io.Closer) {
	if cfg.File == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), nopCloser{}
	}
	out := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return log.New(out, prefix, log.LstdFlags), out
}

func openStore(cfg *config.Config, logger *log.Logger) (store.Store, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", cfg.Store.Driver, cfg.Store.Path, err)
	}
	return st, nil
}

// newRemote builds the HTTP client authenticated with the token kept in st.
func newRemote(ctx context.Context, cfg *config.Config, st store.Store, logger *log.Logger) (*remote.Client, error) {
	creds := remote.NewCredentials(st)
	if err := creds.Load(ctx); err != nil {
		logger.Printf("Warning: failed to load credentials: %v", err)
	}
	return remote.New(remote.Config{
		BaseURL:     cfg.Remote.BaseURL,
		IDField:     cfg.Remote.IDField,
		Timeout:     cfg.Remote.Timeout,
		Credentials: creds,
		Logger:      logger,
	})
}

// syncConfig maps the loaded configuration onto one collection.
func syncConfig(cfg *config.Config, col config.Collection, clock *replicasync.Clock, logger *log.Logger) *replicasync.Config {
	sc := replicasync.DefaultConfig(col.Name, col.Resource)
	sc.PullInterval = cfg.Sync.PullInterval
	sc.InitialDelay = cfg.Sync.InitialDelay
	sc.StaleAfter = cfg.Sync.StaleAfter
	sc.MaxAttempts = cfg.Sync.MaxAttempts
	sc.Retry = &replicasync.Backoff{
		InitialDelay: cfg.Sync.RetryInitial,
		MaxDelay:     cfg.Sync.RetryMax,
		Multiplier:   cfg.Sync.RetryMultiplier,
		Jitter:       true,
		JitterFactor: 0.2,
	}
	sc.Clock = clock
	sc.Logger = logger
	return sc
}

// selectCollections returns the configured collections named in names, or
// all of them when names is empty.
func selectCollections(cfg *config.Config, names []string) ([]config.Collection, error) {
	if len(names) == 0 {
		return cfg.Collections, nil
	}
	selected := make([]config.Collection, 0, len(names))
	for _, name := range names {
		col, ok := cfg.Collection(name)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
		selected = append(selected, col)
	}
	return selected, nil
}

// joinBus connects to the hub channel of collection. A missing hub is not
// fatal: replicas sharing the store still see changes through it.
func joinBus(ctx context.Context, hubURL, collection string, logger *log.Logger) bus.Bus {
	if hubURL == "" {
		return nil
	}
	url, err := bus.ChannelURL(hubURL, collection)
	if err != nil {
		logger.Printf("Warning: %v", err)
		return nil
	}
	b, err := bus.DialWS(ctx, url, &bus.WSOptions{Logger: logger})
	if err != nil {
		logger.Printf("Warning: change hub unavailable, continuing without it: %v", err)
		return nil
	}
	return b
}
