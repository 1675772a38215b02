// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vulnwatch/vulnsync/agent"
	"github.com/vulnwatch/vulnsync/internal/testcontext"
	"github.com/vulnwatch/vulnsync/settings"
	"github.com/vulnwatch/vulnsync/vulndb"
)

func TestPeer(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	config := agent.Config{
		Database:         vulndb.Config{Directory: ctx.Dir("data")},
		AutoSyncInterval: time.Hour,
	}

	peer, err := agent.New(ctx, log, config, ctx.Dir("config"))
	require.NoError(t, err)

	{ // Ensure all services are wired
		require.NotNil(t, peer.Settings)
		require.NotNil(t, peer.DB)
		require.NotNil(t, peer.Syncer)
		require.NotNil(t, peer.Console)
	}

	{ // Ensure the credentials flow from the settings store
		err := peer.Settings.SetCredentials(ctx, settings.Credentials{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		require.NoError(t, err)
	}

	{ // Ensure the dashboard works against the fresh store
		dashboard, err := peer.Console.Dashboard(ctx, nil)
		require.NoError(t, err)
		require.Zero(t, dashboard.TotalVulnerabilities)
		require.Empty(t, dashboard.LastSync)
	}

	require.NoError(t, peer.Close())
}

func TestPeerRunDisabled(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := agent.Config{
		Database:         vulndb.Config{Directory: ctx.Dir("data")},
		AutoSyncInterval: 0,
	}
	peer, err := agent.New(ctx, zaptest.NewLogger(t), config, ctx.Dir("config"))
	require.NoError(t, err)
	defer ctx.Check(peer.Close)

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, peer.Run(runCtx))
}

func TestPeerRunSkipsWithoutCredentials(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := agent.Config{
		Database:         vulndb.Config{Directory: ctx.Dir("data")},
		AutoSyncInterval: time.Hour,
	}
	peer, err := agent.New(ctx, zaptest.NewLogger(t), config, ctx.Dir("config"))
	require.NoError(t, err)
	defer ctx.Check(peer.Close)

	// the cycle always runs once before waiting; with no stored credentials
	// that run must be skipped without touching the journal
	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, peer.Run(runCtx))

	entries, err := peer.DB.History().ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}
