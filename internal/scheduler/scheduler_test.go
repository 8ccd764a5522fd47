package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/reconciler"
	"github.com/stocktake/stocktake/internal/remote"
	"github.com/stocktake/stocktake/internal/store"
)

// flakyBackend is a toggleable fake backend: health can be switched off
// to simulate going offline, and collection list calls are counted so
// tests can observe whether a sync pass actually ran.
type flakyBackend struct {
	healthy     atomic.Bool
	listCalls   atomic.Int32
	healthCalls atomic.Int32
}

func (b *flakyBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		b.healthCalls.Add(1)
		if !b.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("GET /{collection}", func(w http.ResponseWriter, r *http.Request) {
		b.listCalls.Add(1)
		_, _ = io.WriteString(w, "[]")
	})
	mux.HandleFunc("GET /{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("POST /{collection}", func(w http.ResponseWriter, r *http.Request) {
		var rec json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&rec)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(rec)
	})
	return mux
}

func setupScheduler(t *testing.T, backend *flakyBackend, config *Config) (*Scheduler, *store.Store) {
	t.Helper()

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if config == nil {
		config = DefaultConfig()
	}
	config.Logger = log.New(io.Discard, "", 0)

	client := remote.NewClient(srv.URL, 2*time.Second)
	rec := reconciler.New(st, client, config.Logger)
	return New(st, client, rec, config), st
}

func addDirtyItem(t *testing.T, st *store.Store, sku string) *model.Item {
	t.Helper()

	item := &model.Item{
		Name:     "Item " + sku,
		SKU:      sku,
		Category: model.CategoryFood,
		Unit:     model.UnitPiece,
		Location: "storeroom",
	}
	if err := st.Items().Add(context.Background(), item); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}
	return item
}

func TestProbeDetectsTransitions(t *testing.T) {
	backend := &flakyBackend{}
	s, _ := setupScheduler(t, backend, nil)
	ctx := context.Background()

	if s.probe(ctx) {
		t.Error("offline probe reported an online transition")
	}
	if s.Online() {
		t.Error("scheduler online against a down backend")
	}

	backend.healthy.Store(true)
	if !s.probe(ctx) {
		t.Error("recovery probe did not report an online transition")
	}
	if s.probe(ctx) {
		t.Error("steady-state probe reported a transition")
	}
	if !s.Online() {
		t.Error("scheduler offline against a healthy backend")
	}
}

func TestReconnectTriggersCatchUpSync(t *testing.T) {
	backend := &flakyBackend{}
	s, st := setupScheduler(t, backend, &Config{
		SyncInterval:  time.Hour,
		ProbeInterval: 20 * time.Millisecond,
	})

	item := addDirtyItem(t, st, "RC-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// Let a few offline probes pass, then bring the backend up.
	time.Sleep(100 * time.Millisecond)
	backend.healthy.Store(true)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := st.Items().Get(context.Background(), item.ID)
		if got != nil && got.Synced {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, _ := st.Items().Get(context.Background(), item.ID)
	if got == nil || !got.Synced {
		t.Error("catch-up pass never pushed the dirty record")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("scheduler exited with error: %v", err)
	}
}

func TestIntervalSyncSkippedWhileOffline(t *testing.T) {
	backend := &flakyBackend{}
	s, st := setupScheduler(t, backend, &Config{
		SyncInterval:  20 * time.Millisecond,
		ProbeInterval: time.Hour,
	})

	addDirtyItem(t, st, "OFF-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// Several intervals elapse while offline; no pass must reach the
	// backend.
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	if got := backend.listCalls.Load(); got != 0 {
		t.Errorf("offline scheduler ran %d passes against the backend", got)
	}
}

func TestStartSecondCallIsNoOp(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	s, _ := setupScheduler(t, backend, &Config{
		SyncInterval:  time.Hour,
		ProbeInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)

	// A second call must not arm a second set of loops. It returns
	// immediately instead of blocking until cancellation.
	second := make(chan error, 1)
	go func() { second <- s.Start(ctx) }()
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second Start failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Start blocked like a first one")
	}

	// One probe loop at 20ms fires roughly 15 times in 300ms; a
	// duplicated loop would double that rate.
	backend.healthCalls.Store(0)
	time.Sleep(300 * time.Millisecond)
	if got := backend.healthCalls.Load(); got > 22 {
		t.Errorf("probe rate doubled after second Start: %d probes in 300ms", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("scheduler exited with error: %v", err)
	}
}

func TestStatusCountsPendingWork(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	s, st := setupScheduler(t, backend, nil)
	ctx := context.Background()

	addDirtyItem(t, st, "ST-1")
	addDirtyItem(t, st, "ST-2")

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Unsynced.Items != 2 || status.Unsynced.Total() != 2 {
		t.Errorf("unsynced counts wrong: %+v", status.Unsynced)
	}
	if !status.NeedsSync {
		t.Error("pending work but NeedsSync is false")
	}

	if _, err := s.SyncNow(ctx); err != nil {
		t.Fatalf("manual sync failed: %v", err)
	}

	status, err = s.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.NeedsSync || status.Unsynced.Total() != 0 {
		t.Errorf("work still pending after sync: %+v", status.Unsynced)
	}
	if !status.Online {
		t.Error("status offline after a successful manual sync")
	}
	if status.LastSyncAt.IsZero() || status.LastResult == nil {
		t.Error("last pass not recorded in status")
	}
}
