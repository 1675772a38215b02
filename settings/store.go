// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package settings persists local agent settings, most importantly the API
// credentials, in a small key value store next to the config file. The
// credentials deliberately live outside config.yaml so the config can be
// shared or committed without leaking secrets.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

const (
	// DatabaseName is the settings file kept inside the config directory.
	DatabaseName = "settings.db"

	bucketName = "settings"

	credentialsKey = "credentials"
	preferencesKey = "preferences"

	// fileMode keeps the secrets readable by the owner only.
	fileMode = 0600
)

var (
	mon = monkit.Package()

	// Error is the default error class for the settings store.
	Error = errs.Class("settings")

	defaultTimeout = time.Second
)

// Credentials are the API client credentials.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// String implements fmt.Stringer without exposing the secret.
func (creds Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientID: %s, ClientSecret: <redacted>}", creds.ClientID)
}

// Configured reports whether both halves are present.
func (creds Credentials) Configured() bool {
	return creds.ClientID != "" && creds.ClientSecret != ""
}

// Preferences tune the agent behavior between runs.
type Preferences struct {
	// AutoSyncInterval overrides the configured interval, 0 keeps it.
	AutoSyncInterval time.Duration `json:"auto_sync_interval"`
	// IncrementalSync makes unattended syncs incremental.
	IncrementalSync bool `json:"incremental_sync"`
}

// Store is a boltdb backed store for local settings.
type Store struct {
	log *zap.Logger
	db  *bolt.DB
}

// Open opens or creates the settings store inside dir.
func Open(log *zap.Logger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, Error.Wrap(err)
	}

	db, err := bolt.Open(filepath.Join(dir, DatabaseName), fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}

	return &Store{log: log, db: db}, nil
}

// Close releases the underlying file lock.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

// Credentials returns the stored credentials, zero when never set.
func (store *Store) Credentials(ctx context.Context) (_ Credentials, err error) {
	defer mon.Task()(&ctx)(&err)

	var creds Credentials
	if err := store.get(credentialsKey, &creds); err != nil {
		return Credentials{}, Error.Wrap(err)
	}
	return creds, nil
}

// SetCredentials replaces the stored credentials. The values are never
// logged.
func (store *Store) SetCredentials(ctx context.Context, creds Credentials) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.put(credentialsKey, creds); err != nil {
		return Error.Wrap(err)
	}
	store.log.Info("credentials updated")
	return nil
}

// Preferences returns the stored preferences, zero when never set.
func (store *Store) Preferences(ctx context.Context) (_ Preferences, err error) {
	defer mon.Task()(&ctx)(&err)

	var prefs Preferences
	if err := store.get(preferencesKey, &prefs); err != nil {
		return Preferences{}, Error.Wrap(err)
	}
	return prefs, nil
}

// SetPreferences replaces the stored preferences.
func (store *Store) SetPreferences(ctx context.Context, prefs Preferences) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.put(preferencesKey, prefs); err != nil {
		return Error.Wrap(err)
	}
	store.log.Info("preferences updated",
		zap.Duration("auto_sync_interval", prefs.AutoSyncInterval),
		zap.Bool("incremental_sync", prefs.IncrementalSync))
	return nil
}

func (store *Store) get(key string, into interface{}) error {
	return store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if value == nil {
			return nil
		}
		return json.Unmarshal(value, into)
	})
}

func (store *Store) put(key string, from interface{}) error {
	value, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
}
