// Package daemon provides the long-running process that keeps a device's
// inventory in sync.
//
// The daemon:
//  1. Runs the scheduler (connectivity probing + interval sync passes)
//  2. Watches an import spool for dropped item files
//  3. Broadcasts sync and record events to the dashboard
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stocktake/stocktake/internal/dashboard"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/scheduler"
)

// Config holds configuration for the daemon.
type Config struct {
	// ImportsDir is the spool directory watched for item JSON files.
	// Empty disables the watcher.
	ImportsDir string

	// LogFile enables rotated file logging when set. Empty logs to
	// stderr.
	LogFile string

	// DebounceInterval is how long to wait before ingesting a changed
	// spool file. Batches rapid writes from copying tools.
	DebounceInterval time.Duration

	// StatusInterval is how often the dashboard status snapshot is
	// broadcast.
	StatusInterval time.Duration

	// Logger for daemon activity. Overridden by LogFile when both are
	// set.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		StatusInterval:   5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon composes the scheduler, the import-spool watcher and the
// dashboard broadcaster.
type Daemon struct {
	svc    *inventory.Service
	sched  *scheduler.Scheduler
	events *dashboard.Handler // may be nil
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. events may be nil when no dashboard is attached.
func New(svc *inventory.Service, sched *scheduler.Scheduler, events *dashboard.Handler, config *Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.LogFile != "" {
		config.Logger = log.New(rotatingWriter(config.LogFile), "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		svc:         svc,
		sched:       sched,
		events:      events,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// rotatingWriter returns a size-rotated log writer. Rotation keeps a
// long-lived daemon from filling the disk on an unattended device.
func rotatingWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// Start begins the daemon's operation.
//
// The daemon ingests any files already sitting in the spool, starts the
// spool watcher and the status broadcaster, then runs the scheduler.
// Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.ImportsDir != "" {
		if err := d.startWatcher(); err != nil {
			return err
		}
	}

	if d.events != nil && d.config.StatusInterval > 0 {
		d.wg.Add(1)
		go d.broadcastStatus()
	}

	err := d.sched.Start(ctx)

	d.cancel()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return err
}

func (d *Daemon) startWatcher() error {
	if err := os.MkdirAll(d.config.ImportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create imports directory: %w", err)
	}

	// Ingest whatever was dropped while the daemon was down.
	entries, err := os.ReadDir(d.config.ImportsDir)
	if err != nil {
		return fmt.Errorf("failed to read imports directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			d.ingestFile(filepath.Join(d.config.ImportsDir, e.Name()))
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(d.config.ImportsDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch imports directory: %w", err)
	}
	d.watcher = watcher

	d.config.Logger.Printf("Watching import spool: %s", d.config.ImportsDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
// The spool is one-way: removals are ignored.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue ingests queued files once their debounce window has
// passed.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.ingestFile(path)
	}
}

// ingestFile reads one spool file and creates its items through the
// domain layer, so uniqueness rules and sync triggers apply exactly as
// they do for interactive creates. The file is consumed on success.
func (d *Daemon) ingestFile(path string) {
	count, err := d.importItems(path)
	if err != nil {
		d.config.Logger.Printf("Error importing %s: %v", path, err)
		return
	}

	d.config.Logger.Printf("Imported %d items from %s", count, filepath.Base(path))
	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to remove ingested file %s: %v", path, err)
	}
}

func (d *Daemon) importItems(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read spool file: %w", err)
	}

	items, err := inventory.ParseItemImport(data)
	if err != nil {
		return 0, err
	}

	imported := 0
	for i := range items {
		if err := d.svc.CreateItem(d.ctx, &items[i]); err != nil {
			d.config.Logger.Printf("Skipping item %q from %s: %v", items[i].SKU, filepath.Base(path), err)
			continue
		}
		imported++
		if d.events != nil {
			d.events.OnRecordChanged("items", items[i].ID, "created")
		}
	}
	return imported, nil
}

// broadcastStatus periodically pushes a status snapshot to the dashboard.
func (d *Daemon) broadcastStatus() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			status, err := d.sched.Status(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error reading status: %v", err)
				continue
			}
			d.events.OnStatus(status)
		}
	}
}
