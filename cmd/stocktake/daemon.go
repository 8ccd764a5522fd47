package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/daemon"
	"github.com/stocktake/stocktake/internal/dashboard"
	"github.com/stocktake/stocktake/internal/ui"
)

var daemonWithDashboard bool

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the long-lived sync process.

The daemon probes backend connectivity, runs periodic sync passes, and
ingests item files dropped into the import spool directory. With
--dashboard it also serves the live WebSocket dashboard.

Stops on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		var events *dashboard.Handler
		if daemonWithDashboard {
			server := dashboard.NewServer(&dashboard.Config{Port: a.cfg.Dashboard.Port})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() { _ = server.Stop() }()
			events = dashboard.NewHandler(server, nil)
			fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("▣"), server.GetAddr())
		}

		cfg := daemon.DefaultConfig()
		cfg.ImportsDir = a.cfg.Daemon.ImportsDir
		cfg.LogFile = a.cfg.Daemon.LogFile

		d, err := daemon.New(a.svc, a.sched, events, cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Daemon running (db: %s, spool: %s)\n",
			ui.RenderPass("✓"), a.cfg.DB.Path, a.cfg.Daemon.ImportsDir)
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonWithDashboard, "dashboard", false, "also serve the live dashboard")
}
