package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/dashboard"
	"github.com/stocktake/stocktake/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Serve the live dashboard",
	Long: `Serve the WebSocket dashboard on its own, without the sync daemon.

Connected clients receive record updates, sync results and connectivity
status. Usually run through "stocktake daemon --dashboard" instead, so
the broadcasts carry real events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		server := dashboard.NewServer(&dashboard.Config{Port: a.cfg.Dashboard.Port})
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("▣"), server.GetAddr())
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop"))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		return server.Stop()
	},
}
