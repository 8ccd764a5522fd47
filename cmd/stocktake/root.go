package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/config"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/reconciler"
	"github.com/stocktake/stocktake/internal/remote"
	"github.com/stocktake/stocktake/internal/scheduler"
	"github.com/stocktake/stocktake/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "stocktake",
	Short: "Offline-first inventory counting",
	Long: `Stocktake keeps a local inventory database that works fully offline
and reconciles with the central backend whenever it is reachable.

All commands read and write the local database first; changed records
are pushed in the background and pulled back from other devices on the
next sync pass.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "inventory", Title: "Inventory Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
	rootCmd.AddCommand(
		itemCmd,
		sessionCmd,
		reportCmd,
		syncCmd,
		daemonCmd,
		dashboardCmd,
		dbCmd,
	)
}

// app bundles the wired service stack behind one open/close pair.
type app struct {
	cfg   *config.Config
	st    *store.Store
	rec   *reconciler.Reconciler
	sched *scheduler.Scheduler
	svc   *inventory.Service
}

// openApp loads config and opens the local database. quiet suppresses
// the reconciler's own logging, used by commands with formatted output.
func openApp(quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DB.Path, err)
	}

	var logger *log.Logger
	if quiet {
		logger = log.New(io.Discard, "", 0)
	}

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	rec := reconciler.New(st, client, logger)
	sched := scheduler.New(st, client, rec, &scheduler.Config{
		SyncInterval:  cfg.Sync.Interval,
		ProbeInterval: cfg.Sync.ProbeInterval,
		Logger:        logger,
	})
	svc := inventory.New(st, rec, client.Items(), logger)

	return &app{cfg: cfg, st: st, rec: rec, sched: sched, svc: svc}, nil
}

func (a *app) close() {
	_ = a.st.Close()
}
