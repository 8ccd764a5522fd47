// Package scheduler decides when sync passes run.
//
// Two triggers fire a full pass:
//  1. The connectivity probe observes an offline -> online transition.
//  2. The periodic sync interval elapses while online.
//
// Both triggers are guarded: nothing runs while the backend is
// unreachable, and overlapping triggers collapse into the reconciler's
// single in-flight pass. Trigger failures are logged, never propagated;
// dirty records simply wait for the next trigger.
package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stocktake/stocktake/internal/reconciler"
	"github.com/stocktake/stocktake/internal/remote"
	"github.com/stocktake/stocktake/internal/store"
)

// Config holds configuration for the scheduler.
type Config struct {
	// SyncInterval is how often a full pass runs while online.
	SyncInterval time.Duration

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// Logger for scheduler activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  5 * time.Minute,
		ProbeInterval: 15 * time.Second,
		Logger:        log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// UnsyncedCounts breaks down pending local edits per collection.
type UnsyncedCounts struct {
	Items    int `json:"items"`
	Sessions int `json:"sessions"`
	Entries  int `json:"count_entries"`
	Reports  int `json:"reports"`
}

// Total sums pending edits across all collections.
func (u UnsyncedCounts) Total() int {
	return u.Items + u.Sessions + u.Entries + u.Reports
}

// Status is a point-in-time snapshot of the sync state.
type Status struct {
	Online     bool               `json:"online"`
	NeedsSync  bool               `json:"needs_sync"`
	Unsynced   UnsyncedCounts     `json:"unsynced"`
	LastSyncAt time.Time          `json:"last_sync_at,omitzero"`
	LastResult *reconciler.Result `json:"-"`
}

// Scheduler watches connectivity and fires sync passes.
type Scheduler struct {
	st     *store.Store
	client *remote.Client
	rec    *reconciler.Reconciler
	config *Config

	online  atomic.Bool
	started atomic.Bool

	mu         sync.Mutex
	lastSyncAt time.Time
	lastResult *reconciler.Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. If config is nil, DefaultConfig is used.
func New(st *store.Store, client *remote.Client, rec *reconciler.Reconciler, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		st:     st,
		client: client,
		rec:    rec,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins connectivity probing and interval syncing.
//
// An initial probe runs immediately so the first online transition (and
// its catch-up pass) is not delayed by a full probe interval. Blocks
// until ctx is cancelled.
//
// Start is idempotent per instance: only the first call arms the probe
// and sync loops, any later call returns immediately without spawning
// a second set.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		s.config.Logger.Println("Scheduler already started")
		return nil
	}
	s.config.Logger.Println("Starting scheduler")

	s.probe(ctx)

	s.wg.Add(2)
	go s.watchConnectivity()
	go s.runSyncLoop()

	select {
	case <-ctx.Done():
		return s.Stop()
	case <-s.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.config.Logger.Println("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	return nil
}

// Online reports the last observed connectivity state.
func (s *Scheduler) Online() bool {
	return s.online.Load()
}

// Probe checks backend reachability once and returns the fresh result.
func (s *Scheduler) Probe(ctx context.Context) bool {
	s.probe(ctx)
	return s.online.Load()
}

// Status snapshots connectivity, pending work, and the last pass.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.Unsynced.Items, err = s.st.Items().CountUnsynced(ctx); err != nil {
		return st, err
	}
	if st.Unsynced.Sessions, err = s.st.Sessions().CountUnsynced(ctx); err != nil {
		return st, err
	}
	if st.Unsynced.Entries, err = s.st.Entries().CountUnsynced(ctx); err != nil {
		return st, err
	}
	if st.Unsynced.Reports, err = s.st.Reports().CountUnsynced(ctx); err != nil {
		return st, err
	}

	st.Online = s.online.Load()
	st.NeedsSync = st.Unsynced.Total() > 0

	s.mu.Lock()
	st.LastSyncAt = s.lastSyncAt
	st.LastResult = s.lastResult
	s.mu.Unlock()

	return st, nil
}

// SyncNow forces a full pass regardless of the interval. It still probes
// connectivity first so a known-offline backend fails fast.
func (s *Scheduler) SyncNow(ctx context.Context) (*reconciler.Result, error) {
	s.probe(ctx)
	result, err := s.rec.FullSync(ctx)
	if err != nil {
		return nil, err
	}
	s.recordPass(result)
	return result, nil
}

// watchConnectivity polls the backend health endpoint and fires a
// catch-up pass on each offline -> online transition.
func (s *Scheduler) watchConnectivity() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if s.probe(s.ctx) {
				s.trigger("reconnect")
			}
		}
	}
}

// probe checks connectivity once and reports whether this observation is
// an offline -> online transition.
func (s *Scheduler) probe(ctx context.Context) bool {
	err := s.client.Ping(ctx)
	nowOnline := err == nil
	wasOnline := s.online.Swap(nowOnline)

	switch {
	case nowOnline && !wasOnline:
		s.config.Logger.Println("Backend reachable, going online")
		return true
	case !nowOnline && wasOnline:
		s.config.Logger.Printf("Backend unreachable, going offline: %v", err)
	}
	return false
}

// runSyncLoop fires a full pass every sync interval while online.
func (s *Scheduler) runSyncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if !s.online.Load() {
				continue
			}
			s.trigger("interval")
		}
	}
}

// trigger runs one guarded full pass. Failures are logged only.
func (s *Scheduler) trigger(reason string) {
	s.config.Logger.Printf("Sync triggered (%s)", reason)

	result, err := s.rec.FullSync(s.ctx)
	if err != nil {
		s.config.Logger.Printf("Error running sync pass: %v", err)
		return
	}
	s.recordPass(result)

	if !result.Success() {
		s.config.Logger.Printf("Sync pass finished with %d errors", result.Errors())
	}
}

func (s *Scheduler) recordPass(result *reconciler.Result) {
	s.mu.Lock()
	s.lastSyncAt = result.StartedAt
	s.lastResult = result
	s.mu.Unlock()
}
