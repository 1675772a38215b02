// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package settings_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vulnwatch/vulnsync/internal/testcontext"
	"github.com/vulnwatch/vulnsync/settings"
)

func TestStoreCredentials(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	dir := ctx.Dir("settings")

	store, err := settings.Open(log, dir)
	require.NoError(t, err)

	{ // Ensure a fresh store has no credentials
		creds, err := store.Credentials(ctx)
		require.NoError(t, err)
		require.False(t, creds.Configured())
	}

	creds := settings.Credentials{ClientID: "client-id", ClientSecret: "sw0rdfish"}
	require.NoError(t, store.SetCredentials(ctx, creds))

	{ // Ensure the values survive a reopen
		require.NoError(t, store.Close())

		store, err = settings.Open(log, dir)
		require.NoError(t, err)

		stored, err := store.Credentials(ctx)
		require.NoError(t, err)
		require.Equal(t, creds, stored)
		require.True(t, stored.Configured())
	}
	defer ctx.Check(store.Close)

	{ // Ensure the database file is owner only
		info, err := os.Stat(filepath.Join(dir, settings.DatabaseName))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestCredentialsStringRedacts(t *testing.T) {
	t.Parallel()

	creds := settings.Credentials{ClientID: "client-id", ClientSecret: "sw0rdfish"}
	require.Contains(t, creds.String(), "client-id")
	require.Contains(t, creds.String(), "<redacted>")
	require.NotContains(t, creds.String(), "sw0rdfish")
}

func TestStorePreferences(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := settings.Open(zaptest.NewLogger(t), ctx.Dir("settings"))
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	{ // Ensure a fresh store has zero preferences
		prefs, err := store.Preferences(ctx)
		require.NoError(t, err)
		require.Equal(t, settings.Preferences{}, prefs)
	}

	prefs := settings.Preferences{AutoSyncInterval: 30 * time.Minute, IncrementalSync: true}
	require.NoError(t, store.SetPreferences(ctx, prefs))

	stored, err := store.Preferences(ctx)
	require.NoError(t, err)
	require.Equal(t, prefs, stored)
}
