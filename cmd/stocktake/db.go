package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/config"
	"github.com/stocktake/stocktake/internal/store"
	"github.com/stocktake/stocktake/internal/ui"
)

var dbCmd = &cobra.Command{
	Use:     "db",
	GroupID: "sync",
	Short:   "Manage the local database",
}

var dbResetForce bool

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete and recreate the local database",
	Long: `Delete the local database and recreate it empty.

This is the recovery path for a schema version conflict (database
written by a newer release) or a corrupted file. Unpushed local edits
are lost; synced data comes back on the next pull.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if !dbResetForce {
			fmt.Printf("%s This deletes %s including any unpushed edits.\n", ui.RenderWarn("⚠"), cfg.DB.Path)
			fmt.Print("Type 'yes' to continue: ")
			var answer string
			_, _ = fmt.Scanln(&answer)
			if answer != "yes" {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := store.Destroy(cfg.DB.Path); err != nil {
			return fmt.Errorf("failed to remove database: %w", err)
		}

		st, err := store.Open(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("failed to recreate database: %w", err)
		}
		defer st.Close()

		version, err := st.Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Database reset (%s, schema v%d)\n", ui.RenderPass("✓"), cfg.DB.Path, version)
		return nil
	},
}

var dbInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show local database details",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		info, statErr := os.Stat(cfg.DB.Path)
		if os.IsNotExist(statErr) {
			fmt.Printf("%s No database yet at %s\n", ui.RenderMuted("·"), cfg.DB.Path)
			return nil
		}

		st, err := store.Open(cfg.DB.Path)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				fmt.Printf("%s %v\n", ui.RenderFail("✗"), err)
				fmt.Println("   Run 'stocktake db reset' after backing up, or upgrade stocktake.")
				os.Exit(1)
			}
			return err
		}
		defer st.Close()

		version, err := st.Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", ui.RenderAccent("▣"), cfg.DB.Path)
		fmt.Printf("   Schema version: %d\n", version)
		fmt.Printf("   Size: %d bytes\n", info.Size())
		return nil
	},
}

func init() {
	dbResetCmd.Flags().BoolVar(&dbResetForce, "force", false, "skip the confirmation prompt")
	dbCmd.AddCommand(dbResetCmd, dbInfoCmd)
}
