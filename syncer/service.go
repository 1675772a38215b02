// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package syncer implements the synchronization session between the Vanta
// API and the local vulnerability database.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vulnwatch/vulnsync/internal/sync2"
	"github.com/vulnwatch/vulnsync/vanta"
	"github.com/vulnwatch/vulnsync/vulndb"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the syncer.
	Error = errs.Class("syncer")
	// ErrInProgress is returned by Sync while another session is active.
	ErrInProgress = errs.Class("sync already in progress")
	// ErrCredentials is returned before any network traffic when the client
	// credentials are not configured.
	ErrCredentials = errs.Class("credentials missing")
	// ErrStopped is returned when the session was stopped by the user. It is
	// an expected outcome, not a failure.
	ErrStopped = errs.Class("sync stopped")
	// ErrNoSession is returned by pause, resume and stop when no session is
	// active.
	ErrNoSession = errs.Class("no active sync")
)

// Config configures the sync service.
type Config struct {
	BatchSize int `help:"records buffered per stream before a storage flush" default:"1000"`
}

// Credentials authenticate against the remote API. Values are held in memory
// only and never logged.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// CredentialsProvider supplies the API credentials at session start.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// APIFactory builds the API client for one session.
type APIFactory func(creds Credentials) API

// API streams raw records from the remote service, one page per callback.
type API interface {
	Vulnerabilities(ctx context.Context, filters vanta.Filters, fn vanta.BatchFunc) error
	Remediations(ctx context.Context, filters vanta.Filters, fn vanta.BatchFunc) error
	VulnerableAssets(ctx context.Context, filters vanta.Filters, fn vanta.BatchFunc) error
}

// DB is the storage surface the syncer writes through.
type DB interface {
	StoreVulnerabilities(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error)
	StoreRemediations(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error)
	StoreAssets(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error)

	LogEvent(ctx context.Context, event vulndb.EventType, message string, details map[string]interface{}) error
	RecordSummary(ctx context.Context, vulns, rems vulndb.Stats) error
	LastSuccessfulSync(ctx context.Context) (string, error)
}

// State is the lifecycle state of the sync service.
type State string

// Lifecycle states.
const (
	Idle     State = "idle"
	Running  State = "running"
	Paused   State = "paused"
	Stopping State = "stopping"
)

// Progress reports the records observed so far on one stream. Counts are
// monotonically non-decreasing within a session.
type Progress struct {
	Stream string
	Count  int64
}

// Increment reports one storage flush: the cumulative stream stats and how
// many records the flush wrote.
type Increment struct {
	Stream  string
	Stats   vulndb.Stats
	Flushed int
}

// Result holds the cumulative statistics of a finished session.
type Result struct {
	Vulnerabilities vulndb.Stats
	Remediations    vulndb.Stats
	Assets          vulndb.Stats
}

// Callbacks deliver session notifications. Nil members are skipped. All
// emissions are serialized; callbacks must return promptly and must not call
// back into the service.
type Callbacks struct {
	Progress    func(Progress)
	Incremental func(Increment)
	State       func(State)
	Completed   func(Result)
	Error       func(error)
}

// Options selects the behavior of a single session.
type Options struct {
	// Incremental restricts the remediation stream to records remediated
	// after the previous successful sync. The vulnerability and asset
	// endpoints have no server side equivalent, so those streams always
	// fetch the full list.
	Incremental bool

	Callbacks Callbacks
}

// Service coordinates one sync session at a time against the remote API.
//
// A session streams vulnerabilities, remediations and vulnerable assets
// concurrently, buffers each stream and flushes full buffers into storage.
type Service struct {
	log    *zap.Logger
	config Config

	db     DB
	creds  CredentialsProvider
	newAPI APIFactory

	// callmu serializes every callback emission and orders state
	// transitions; mu guards the session fields and is never held while a
	// callback runs.
	callmu sync.Mutex
	mu     sync.Mutex

	state   State
	session *session
}

type session struct {
	id        string
	cancel    context.CancelFunc
	callbacks Callbacks

	// guarded by Service.mu
	paused  bool
	fence   *sync2.Fence
	stopped bool
}

// NewService creates a sync service. The API factory is invoked once per
// session with the credentials valid at that moment.
func NewService(log *zap.Logger, config Config, db DB, creds CredentialsProvider, newAPI APIFactory) (*Service, error) {
	if log == nil {
		return nil, Error.New("log can't be nil")
	}
	if db == nil {
		return nil, Error.New("db can't be nil")
	}
	if creds == nil {
		return nil, Error.New("credentials provider can't be nil")
	}
	if newAPI == nil {
		return nil, Error.New("api factory can't be nil")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}

	return &Service{
		log:    log,
		config: config,
		db:     db,
		creds:  creds,
		newAPI: newAPI,
		state:  Idle,
	}, nil
}

// Status returns the current state and whether a session is active.
func (service *Service) Status() (State, bool) {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.state, service.session != nil
}

// Sync runs one session to completion. It rejects concurrent sessions and
// missing credentials before any network traffic happens.
func (service *Service) Sync(ctx context.Context, opts Options) (result Result, err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		id:        uuid.NewString(),
		cancel:    cancel,
		callbacks: opts.Callbacks,
	}
	if err := service.register(sess); err != nil {
		return Result{}, err
	}
	started := false
	defer func() {
		service.finish(sess, result, err, started)
	}()

	creds, err := service.creds.Credentials(ctx)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return Result{}, ErrCredentials.New("Client ID and Client Secret must be configured before syncing.")
	}

	started = true
	service.transition(sess, Running)

	mode := "full"
	remediationFilters := vanta.Filters{}
	if opts.Incremental {
		last, err := service.db.LastSuccessfulSync(ctx)
		if err != nil {
			return Result{}, Error.Wrap(err)
		}
		if last == "" {
			service.log.Info("no previous successful sync, falling back to a full sync")
		} else {
			mode = "incremental"
			remediationFilters["remediatedAfterDate"] = last
			service.log.Info("incremental sync covers remediations only, other streams fetch the full list",
				zap.String("remediated_after", last))
		}
	}

	service.log.Info("sync started",
		zap.String("session", sess.id),
		zap.String("mode", mode),
		zap.Int("batch_size", service.config.BatchSize))
	service.journal(ctx, vulndb.EventStart, "sync started", map[string]interface{}{
		"session":    sess.id,
		"mode":       mode,
		"batch_size": service.config.BatchSize,
	})

	api := service.newAPI(creds)
	streams := []*stream{
		newStream("vulnerabilities", api.Vulnerabilities, vanta.Filters{}, service.db.StoreVulnerabilities),
		newStream("remediations", api.Remediations, remediationFilters, service.db.StoreRemediations),
		newStream("assets", api.VulnerableAssets, vanta.Filters{}, service.db.StoreAssets),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, stream := range streams {
		stream := stream
		group.Go(func() error {
			return service.runStream(groupCtx, sess, stream)
		})
	}
	if err := group.Wait(); err != nil {
		if service.stopRequested(sess) && canceled(err) {
			return Result{}, ErrStopped.New("sync stopped by user")
		}
		return Result{}, err
	}

	result = Result{
		Vulnerabilities: streams[0].stats,
		Remediations:    streams[1].stats,
		Assets:          streams[2].stats,
	}

	if err := service.db.RecordSummary(ctx, result.Vulnerabilities, result.Remediations); err != nil {
		return Result{}, Error.Wrap(err)
	}
	service.journal(ctx, vulndb.EventComplete, "sync completed", map[string]interface{}{
		"session":         sess.id,
		"vulnerabilities": result.Vulnerabilities,
		"remediations":    result.Remediations,
		"assets":          result.Assets,
	})
	service.log.Info("sync completed",
		zap.String("session", sess.id),
		zap.Int64("vulnerabilities", result.Vulnerabilities.Total),
		zap.Int64("remediations", result.Remediations.Total),
		zap.Int64("assets", result.Assets.Total))

	mon.IntVal("sync_vulnerabilities_total").Observe(result.Vulnerabilities.Total)
	mon.IntVal("sync_remediations_total").Observe(result.Remediations.Total)
	mon.IntVal("sync_assets_total").Observe(result.Assets.Total)

	return result, nil
}

// Pause suspends batch processing. Only a running session can pause;
// in-flight requests finish, and the streams block at the next batch
// boundary.
func (service *Service) Pause() error {
	service.callmu.Lock()
	defer service.callmu.Unlock()

	service.mu.Lock()
	sess := service.session
	if sess == nil {
		service.mu.Unlock()
		return ErrNoSession.New("nothing to pause")
	}
	if service.state != Running {
		state := service.state
		service.mu.Unlock()
		return Error.New("can only pause a running sync, state is %q", state)
	}
	sess.paused = true
	sess.fence = new(sync2.Fence)
	service.state = Paused
	callbacks := sess.callbacks
	service.mu.Unlock()

	if callbacks.State != nil {
		callbacks.State(Paused)
	}
	service.journal(context.Background(), vulndb.EventPause, "sync paused", nil)
	service.log.Info("sync paused")
	return nil
}

// Resume releases a paused session.
func (service *Service) Resume() error {
	service.callmu.Lock()
	defer service.callmu.Unlock()

	service.mu.Lock()
	sess := service.session
	if sess == nil {
		service.mu.Unlock()
		return ErrNoSession.New("nothing to resume")
	}
	if service.state != Paused {
		state := service.state
		service.mu.Unlock()
		return Error.New("can only resume a paused sync, state is %q", state)
	}
	sess.paused = false
	fence := sess.fence
	service.state = Running
	callbacks := sess.callbacks
	service.mu.Unlock()

	fence.Release()
	if callbacks.State != nil {
		callbacks.State(Running)
	}
	service.journal(context.Background(), vulndb.EventResume, "sync resumed", nil)
	service.log.Info("sync resumed")
	return nil
}

// Stop cancels the active session. A paused session is released first so it
// can observe the cancellation. The first call wins; repeated calls within
// the same session are no-ops.
func (service *Service) Stop() error {
	service.callmu.Lock()
	defer service.callmu.Unlock()

	service.mu.Lock()
	sess := service.session
	if sess == nil {
		service.mu.Unlock()
		return ErrNoSession.New("nothing to stop")
	}
	if sess.stopped {
		service.mu.Unlock()
		return nil
	}
	sess.stopped = true
	sess.paused = false
	fence := sess.fence
	service.state = Stopping
	callbacks := sess.callbacks
	service.mu.Unlock()

	if fence != nil {
		fence.Release()
	}
	sess.cancel()

	if callbacks.State != nil {
		callbacks.State(Stopping)
	}
	service.journal(context.Background(), vulndb.EventStop, "sync stop requested", nil)
	service.log.Info("sync stop requested")
	return nil
}

// register installs the session. The state stays idle until the credentials
// check passes, but a second Sync is rejected from this point on.
func (service *Service) register(sess *session) error {
	service.mu.Lock()
	defer service.mu.Unlock()
	if service.session != nil {
		return ErrInProgress.New("another session is active")
	}
	service.session = sess
	return nil
}

// finish tears the session down: journal the failure, clear the session,
// restore idle and notify the subscriber channels.
func (service *Service) finish(sess *session, result Result, err error, started bool) {
	if started && err != nil {
		// the session context may already be cancelled
		service.journal(context.Background(), vulndb.EventError, err.Error(), map[string]interface{}{
			"session": sess.id,
		})
		if ErrStopped.Has(err) {
			service.log.Info("sync stopped by user", zap.String("session", sess.id))
		} else {
			service.log.Error("sync failed", zap.String("session", sess.id), zap.Error(err))
		}
	}

	service.callmu.Lock()
	defer service.callmu.Unlock()

	service.mu.Lock()
	if service.session == sess {
		service.session = nil
	}
	changed := service.state != Idle
	service.state = Idle
	service.mu.Unlock()

	if started {
		if err == nil {
			if sess.callbacks.Completed != nil {
				sess.callbacks.Completed(result)
			}
		} else if sess.callbacks.Error != nil {
			sess.callbacks.Error(err)
		}
	}
	if changed && sess.callbacks.State != nil {
		sess.callbacks.State(Idle)
	}
}

// transition moves to the given state, emitting the change exactly once.
func (service *Service) transition(sess *session, to State) {
	service.callmu.Lock()
	defer service.callmu.Unlock()

	service.mu.Lock()
	changed := service.state != to
	service.state = to
	service.mu.Unlock()

	if changed && sess.callbacks.State != nil {
		sess.callbacks.State(to)
	}
}

// checkPauseOrStop gates every batch boundary: it fails when the session was
// cancelled and blocks while the session is paused.
func (service *Service) checkPauseOrStop(ctx context.Context, sess *session) error {
	for {
		if ctx.Err() != nil {
			if service.stopRequested(sess) {
				return ErrStopped.New("sync stopped by user")
			}
			return Error.Wrap(ctx.Err())
		}

		service.mu.Lock()
		paused, fence := sess.paused, sess.fence
		service.mu.Unlock()
		if !paused {
			return nil
		}

		fence.Wait(ctx)
		// released or cancelled; loop to re-evaluate
	}
}

func (service *Service) stopRequested(sess *session) bool {
	service.mu.Lock()
	defer service.mu.Unlock()
	return sess.stopped
}

// canceled reports whether the error is rooted in context cancellation, as
// stop-induced failures surface through cancelled requests.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// stream is the per-endpoint pipeline. It is owned by a single goroutine for
// the whole session, so the buffer needs no lock.
type stream struct {
	kind    string
	fetch   func(ctx context.Context, filters vanta.Filters, fn vanta.BatchFunc) error
	filters vanta.Filters
	store   func(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error)

	buffer   []json.RawMessage
	observed int64
	stats    vulndb.Stats
}

func newStream(
	kind string,
	fetch func(ctx context.Context, filters vanta.Filters, fn vanta.BatchFunc) error,
	filters vanta.Filters,
	store func(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error),
) *stream {
	return &stream{kind: kind, fetch: fetch, filters: filters, store: store}
}

// runStream drains one endpoint into storage, flushing whenever the buffer
// reaches the configured batch size and once more for the residue.
func (service *Service) runStream(ctx context.Context, sess *session, stream *stream) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = stream.fetch(ctx, stream.filters, func(ctx context.Context, batch []json.RawMessage) error {
		if err := service.checkPauseOrStop(ctx, sess); err != nil {
			return err
		}

		stream.buffer = append(stream.buffer, batch...)
		stream.observed += int64(len(batch))

		service.emitProgress(sess, Progress{Stream: stream.kind, Count: stream.observed})
		service.journal(ctx, vulndb.EventBatch,
			fmt.Sprintf("received %d %s records", stream.observed, stream.kind), nil)

		if len(stream.buffer) >= service.config.BatchSize {
			return service.flush(ctx, sess, stream)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := service.checkPauseOrStop(ctx, sess); err != nil {
		return err
	}
	return service.flush(ctx, sess, stream)
}

// flush writes the buffered records of one stream in a single transaction
// and reports the cumulative stats.
func (service *Service) flush(ctx context.Context, sess *session, stream *stream) error {
	if len(stream.buffer) == 0 {
		return nil
	}

	flushed := len(stream.buffer)
	stats, err := stream.store(ctx, stream.buffer)
	if err != nil {
		return Error.New("failed to flush %s buffer: %w", stream.kind, err)
	}
	stream.stats.Add(stats)
	stream.buffer = stream.buffer[:0]

	service.log.Debug("flushed batch",
		zap.String("stream", stream.kind),
		zap.Int("records", flushed),
		zap.Int64("new", stats.New),
		zap.Int64("updated", stats.Updated))

	service.emitIncrement(sess, Increment{Stream: stream.kind, Stats: stream.stats, Flushed: flushed})
	service.journal(ctx, vulndb.EventFlush,
		fmt.Sprintf("flushed %d %s records", flushed, stream.kind),
		map[string]interface{}{
			"new":        stats.New,
			"updated":    stats.Updated,
			"remediated": stats.Remediated,
		})
	return nil
}

func (service *Service) emitProgress(sess *session, progress Progress) {
	if sess.callbacks.Progress == nil {
		return
	}
	service.callmu.Lock()
	defer service.callmu.Unlock()
	sess.callbacks.Progress(progress)
}

func (service *Service) emitIncrement(sess *session, increment Increment) {
	if sess.callbacks.Incremental == nil {
		return
	}
	service.callmu.Lock()
	defer service.callmu.Unlock()
	sess.callbacks.Incremental(increment)
}

// journal appends an event row. Journal failures never abort a session.
func (service *Service) journal(ctx context.Context, event vulndb.EventType, message string, details map[string]interface{}) {
	if err := service.db.LogEvent(ctx, event, message, details); err != nil {
		service.log.Warn("journal write failed",
			zap.String("event", string(event)), zap.Error(err))
	}
}
