package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	GroupID: "inventory",
	Short:   "Manage counting sessions",
}

var sessionDate string

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a new counting session",
	Long: `Open a new counting session.

The session date defaults to now; --date accepts both RFC 3339 dates and
natural language like "yesterday" or "last friday".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		date, err := parseDate(sessionDate)
		if err != nil {
			return err
		}

		sess, err := a.svc.CreateSession(cmd.Context(), date)
		if err != nil {
			return err
		}

		fmt.Printf("%s Session opened for %s\n", ui.RenderPass("✓"), sess.Date.Format("2006-01-02"))
		fmt.Printf("   %s\n", ui.RenderMuted(sess.ID))
		fmt.Printf("   Count items with: stocktake session count %s\n", sess.ID)
		return nil
	},
}

// parseDate resolves --date input, trying RFC 3339 first and natural
// language second.
func parseDate(input string) (time.Time, error) {
	if input == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", input)
	}
	return r.Time, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List counting sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		sessions, err := a.svc.GetAllSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Printf("%s No sessions\n", ui.RenderMuted("·"))
			return nil
		}

		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-36s %-12s %-12s %s", "ID", "DATE", "STATUS", "ITEMS")))
		for _, sess := range sessions {
			status := string(sess.Status)
			switch sess.Status {
			case model.SessionCompleted:
				status = ui.RenderPass(status)
			case model.SessionInProgress:
				status = ui.RenderAccent(status)
			}
			fmt.Printf("%-36s %-12s %-12s %d\n",
				sess.ID, sess.Date.Format("2006-01-02"), status, sess.ItemsCount)
		}
		return nil
	},
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Complete a session",
	Long: `Mark a session completed.

A completed session is frozen: it accepts no further counts and becomes
eligible as the comparison baseline for later sessions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		sess, err := a.svc.CompleteSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Session %s completed with %d items counted\n",
			ui.RenderPass("✓"), sess.ID, sess.ItemsCount)
		return nil
	},
}

var (
	countItemID  string
	countQty     int
	countComment string
)

var sessionCountCmd = &cobra.Command{
	Use:   "count <session-id>",
	Short: "Record item counts in a session",
	Long: `Record counted quantities for a session.

With --item and --qty a single count is recorded. Without flags, in a
terminal, an interactive loop walks the catalog. The previous quantity
is taken from the comparison baseline (the most recent completed session
with counts) and the difference is derived from it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		sessionID := args[0]

		// The baseline is fixed once at the start of counting.
		baseline, err := a.svc.PreviousSessionComparison(ctx, sessionID)
		if err != nil {
			return err
		}
		if baseline != nil {
			fmt.Printf("%s Comparing against session of %s\n",
				ui.RenderAccent("ℹ"), baseline.Session.Date.Format("2006-01-02"))
		}

		if countItemID != "" {
			return recordCount(a, ctx, sessionID, countItemID, countQty, countComment, baseline)
		}

		if !ui.Interactive() {
			return errors.New("no --item given and not a terminal")
		}
		return countLoop(a, cmd, sessionID, baseline)
	},
}

func recordCount(a *app, ctx context.Context, sessionID, itemID string, qty int, comment string, baseline *inventory.Comparison) error {
	var prev *int
	if baseline != nil {
		p := baseline.QuantityFor(itemID)
		prev = &p
	}

	entry, err := a.svc.AddOrUpdateCountEntry(ctx, sessionID, itemID, qty, prev, comment)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%s Counted %d", ui.RenderPass("✓"), entry.Quantity)
	if entry.Difference != nil {
		switch {
		case *entry.Difference > 0:
			line += " " + ui.RenderPass(fmt.Sprintf("(+%d)", *entry.Difference))
		case *entry.Difference < 0:
			line += " " + ui.RenderWarn(fmt.Sprintf("(%d)", *entry.Difference))
		}
	}
	fmt.Println(line)
	return nil
}

// countLoop walks the catalog interactively until the user stops.
func countLoop(a *app, cmd *cobra.Command, sessionID string, baseline *inventory.Comparison) error {
	ctx := cmd.Context()

	items, err := a.svc.GetItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("catalog is empty, add items first")
	}

	options := make([]huh.Option[string], 0, len(items))
	for _, item := range items {
		label := fmt.Sprintf("%s (%s)", item.Name, item.SKU)
		options = append(options, huh.NewOption(label, item.ID))
	}

	for {
		var (
			itemID  string
			qtyStr  string
			comment string
			more    = true
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().Title("Item").Options(options...).Value(&itemID),
				huh.NewInput().Title("Quantity").Validate(validateQty).Value(&qtyStr),
				huh.NewInput().Title("Comment (optional)").Value(&comment),
				huh.NewConfirm().Title("Count another?").Value(&more),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		qty, _ := strconv.Atoi(qtyStr)
		if err := recordCount(a, ctx, sessionID, itemID, qty, comment, baseline); err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func validateQty(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("enter a whole number")
	}
	if n < 0 {
		return errors.New("quantity cannot be negative")
	}
	return nil
}

func init() {
	sessionStartCmd.Flags().StringVar(&sessionDate, "date", "", `session date ("2026-08-25", "yesterday", ...)`)

	sessionCountCmd.Flags().StringVar(&countItemID, "item", "", "item id to count")
	sessionCountCmd.Flags().IntVar(&countQty, "qty", 0, "counted quantity")
	sessionCountCmd.Flags().StringVar(&countComment, "comment", "", "note attached to the count")

	sessionCmd.AddCommand(sessionStartCmd, sessionListCmd, sessionCompleteCmd, sessionCountCmd)
}
