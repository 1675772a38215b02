// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package agent assembles the vulnerability sync agent out of its services.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/vulnwatch/vulnsync/console"
	"github.com/vulnwatch/vulnsync/internal/sync2"
	"github.com/vulnwatch/vulnsync/settings"
	"github.com/vulnwatch/vulnsync/syncer"
	"github.com/vulnwatch/vulnsync/vanta"
	"github.com/vulnwatch/vulnsync/vulndb"
)

// Error is the default error class for the agent.
var Error = errs.Class("agent")

// Config is all the configuration parameters for the agent.
type Config struct {
	Vanta    vanta.Config
	Database vulndb.Config
	Sync     syncer.Config

	AutoSyncInterval time.Duration `help:"how often the agent syncs on its own, 0 disables automatic syncing" default:"1h"`
}

// Peer is the representation of the agent. It owns the local stores and the
// services operating on them.
type Peer struct {
	Log    *zap.Logger
	config Config

	// local stores
	Settings *settings.Store
	DB       *vulndb.DB

	// services
	Syncer  *syncer.Service
	Console *console.Service
}

// New creates the agent. The settings store lives in confDir next to the
// config file; the database location comes from the config.
func New(ctx context.Context, log *zap.Logger, config Config, confDir string) (*Peer, error) {
	peer := &Peer{
		Log:    log,
		config: config,
	}

	var err error

	{ // setup settings store
		peer.Settings, err = settings.Open(log.Named("settings"), confDir)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
	}

	{ // setup database
		peer.DB, err = vulndb.Open(ctx, log.Named("vulndb"), config.Database)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
	}

	{ // setup sync service
		peer.Syncer, err = syncer.NewService(
			log.Named("syncer"),
			config.Sync,
			syncer.NewStore(peer.DB),
			credentialsSource{store: peer.Settings},
			func(creds syncer.Credentials) syncer.API {
				return vanta.New(log.Named("vanta"), config.Vanta, creds.ClientID, creds.ClientSecret)
			},
		)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
	}

	{ // setup console
		peer.Console, err = console.NewService(log.Named("console"), peer.DB)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
	}

	return peer, nil
}

// Run runs the agent until the context is canceled. The stored preferences
// can override the configured interval; a non-positive interval disables the
// automatic sync and Run just waits for cancellation.
func (peer *Peer) Run(ctx context.Context) error {
	interval := peer.config.AutoSyncInterval

	prefs, err := peer.Settings.Preferences(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	if prefs.AutoSyncInterval > 0 {
		interval = prefs.AutoSyncInterval
	}

	if interval <= 0 {
		peer.Log.Info("automatic sync disabled")
		<-ctx.Done()
		return nil
	}

	peer.Log.Info("automatic sync enabled", zap.Duration("interval", interval))
	err = sync2.NewCycle(interval).Run(ctx, peer.autoSync)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// autoSync runs one unattended sync. Failures are logged, never fatal to the
// agent; an already running session or missing credentials just skip the
// cycle.
func (peer *Peer) autoSync(ctx context.Context) error {
	prefs, err := peer.Settings.Preferences(ctx)
	if err != nil {
		peer.Log.Warn("failed to read preferences, running a full sync", zap.Error(err))
		prefs = settings.Preferences{}
	}

	_, err = peer.Syncer.Sync(ctx, syncer.Options{Incremental: prefs.IncrementalSync})
	switch {
	case err == nil:
	case syncer.ErrInProgress.Has(err):
		peer.Log.Info("skipping automatic sync, another sync is running")
	case syncer.ErrCredentials.Has(err):
		peer.Log.Warn("skipping automatic sync, credentials are not configured")
	case errors.Is(err, context.Canceled):
	default:
		peer.Log.Error("automatic sync failed", zap.Error(err))
	}
	return nil
}

// Close closes all the resources in reverse initialization order.
func (peer *Peer) Close() error {
	var errlist errs.Group

	if peer.DB != nil {
		errlist.Add(peer.DB.Close())
	}
	if peer.Settings != nil {
		errlist.Add(peer.Settings.Close())
	}
	return errlist.Err()
}

// credentialsSource adapts the settings store to the syncer.
type credentialsSource struct {
	store *settings.Store
}

func (source credentialsSource) Credentials(ctx context.Context) (syncer.Credentials, error) {
	creds, err := source.store.Credentials(ctx)
	if err != nil {
		return syncer.Credentials{}, err
	}
	return syncer.Credentials{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, nil
}
