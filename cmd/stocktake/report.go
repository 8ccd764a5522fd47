package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stocktake/stocktake/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	GroupID: "inventory",
	Short:   "Create and inspect stocktake reports",
}

var reportCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Snapshot a session into a report",
	Long: `Create the immutable report snapshot of a session's counts.

The report captures item names and differences as they are right now;
later catalog edits never rewrite it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.svc.CreateReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Report created for %s\n", ui.RenderPass("✓"), report.Date.Format("2006-01-02"))
		fmt.Printf("   %s\n", ui.RenderMuted(report.ID))
		fmt.Printf("   %d items, %d with differences (+%d / -%d)\n",
			report.TotalItems, report.ItemsWithDifference,
			report.PositiveDifferenceCount, report.NegativeDifferenceCount)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		reports, err := a.svc.GetAllReports(cmd.Context())
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Printf("%s No reports\n", ui.RenderMuted("·"))
			return nil
		}

		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-36s %-12s %-6s %s", "ID", "DATE", "ITEMS", "DIFFS")))
		for _, r := range reports {
			fmt.Printf("%-36s %-12s %-6d +%d/-%d\n",
				r.ID, r.Date.Format("2006-01-02"), r.TotalItems,
				r.PositiveDifferenceCount, r.NegativeDifferenceCount)
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.svc.GetReportByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Report %s — %s\n\n", ui.RenderAccent("▣"), report.ID, report.Date.Format("2006-01-02"))
		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-28s %8s %8s %8s  %s", "ITEM", "COUNTED", "PREV", "DIFF", "COMMENT")))
		for _, row := range report.Rows {
			prev, diff := "-", "-"
			if row.PreviousQuantity != nil {
				prev = fmt.Sprintf("%d", *row.PreviousQuantity)
			}
			if row.Difference != nil {
				diff = fmt.Sprintf("%+d", *row.Difference)
				if *row.Difference < 0 {
					diff = ui.RenderWarn(diff)
				} else if *row.Difference > 0 {
					diff = ui.RenderPass(diff)
				}
			}
			fmt.Printf("%-28s %8d %8s %8s  %s\n", row.ItemName, row.Quantity, prev, diff, row.Comment)
		}
		fmt.Printf("\n%d items, %d with differences\n", report.TotalItems, report.ItemsWithDifference)
		return nil
	},
}

var (
	exportFormat string
	exportOut    string
)

var reportExportCmd = &cobra.Command{
	Use:   "export <report-id>",
	Short: "Export a report as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.svc.GetReportByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var data []byte
		switch exportFormat {
		case "json":
			data, err = json.MarshalIndent(report, "", "  ")
		case "yaml":
			data, err = yaml.Marshal(report)
		default:
			return fmt.Errorf("unknown format %q (want json or yaml)", exportFormat)
		}
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}

		if exportOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOut, err)
		}
		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), exportOut)
		return nil
	},
}

func init() {
	reportExportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
	reportExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to file instead of stdout")

	reportCmd.AddCommand(reportCreateCmd, reportListCmd, reportShowCmd, reportExportCmd)
}
