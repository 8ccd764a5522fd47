package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/ui"
)

var itemCmd = &cobra.Command{
	Use:     "item",
	GroupID: "inventory",
	Short:   "Manage the item catalog",
}

var (
	itemName        string
	itemSKU         string
	itemCategory    string
	itemUnit        string
	itemLocation    string
	itemDescription string
)

var itemAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an item to the catalog",
	Long: `Add an item to the local catalog.

Run without flags in a terminal to fill in the fields interactively.
The SKU must be unique (case-insensitive) across the local catalog and,
when the backend is reachable, the remote one too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		item := model.Item{
			Name:        itemName,
			SKU:         itemSKU,
			Category:    model.ItemCategory(itemCategory),
			Unit:        model.ItemUnit(itemUnit),
			Location:    itemLocation,
			Description: itemDescription,
		}

		if itemName == "" && ui.Interactive() {
			if err := runItemForm(&item); err != nil {
				return err
			}
		}

		if err := a.svc.CreateItem(cmd.Context(), &item); err != nil {
			if errors.Is(err, inventory.ErrDuplicateSKU) {
				return fmt.Errorf("%s %w", ui.RenderFail("✗"), err)
			}
			return err
		}

		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), item.Name, item.SKU)
		fmt.Printf("   %s\n", ui.RenderMuted(item.ID))
		return nil
	},
}

// runItemForm collects item fields interactively.
func runItemForm(item *model.Item) error {
	categories := make([]huh.Option[model.ItemCategory], 0, len(model.Categories()))
	for _, c := range model.Categories() {
		categories = append(categories, huh.NewOption(string(c), c))
	}
	units := make([]huh.Option[model.ItemUnit], 0, len(model.Units()))
	for _, u := range model.Units() {
		units = append(units, huh.NewOption(string(u), u))
	}
	locations := make([]huh.Option[string], 0, len(model.KnownLocations()))
	for _, l := range model.KnownLocations() {
		locations = append(locations, huh.NewOption(l, l))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Value(&item.Name),
			huh.NewInput().Title("SKU").Value(&item.SKU),
			huh.NewSelect[model.ItemCategory]().Title("Category").Options(categories...).Value(&item.Category),
			huh.NewSelect[model.ItemUnit]().Title("Unit").Options(units...).Value(&item.Unit),
			huh.NewSelect[string]().Title("Location").Options(locations...).Value(&item.Location),
			huh.NewText().Title("Description").CharLimit(400).Value(&item.Description),
		),
	)
	return form.Run()
}

var itemListCategory string

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog items",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		var items []model.Item
		if itemListCategory != "" {
			items, err = a.svc.GetItemsByCategory(cmd.Context(), model.ItemCategory(itemListCategory))
		} else {
			items, err = a.svc.GetItems(cmd.Context())
		}
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Printf("%s No items\n", ui.RenderMuted("·"))
			return nil
		}

		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-24s %-12s %-10s %-6s %s", "NAME", "SKU", "CATEGORY", "UNIT", "LOCATION")))
		for _, item := range items {
			marker := ui.RenderPass("✓")
			if !item.Synced {
				marker = ui.RenderWarn("●")
			}
			fmt.Printf("%-24s %-12s %-10s %-6s %-10s %s\n",
				item.Name, item.SKU, item.Category, item.Unit, item.Location, marker)
		}
		fmt.Printf("\n%s\n", ui.RenderMuted(strconv.Itoa(len(items))+" items, ● = pending push"))
		return nil
	},
}

var itemRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an item",
	Long: `Remove an item from the catalog.

Count history referencing the item is kept. The backend copy is removed
too when reachable; otherwise the removal is local only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.svc.DeleteItem(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "%s Item %s not found\n", ui.RenderFail("✗"), args[0])
				os.Exit(1)
			}
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	itemAddCmd.Flags().StringVar(&itemName, "name", "", "item name")
	itemAddCmd.Flags().StringVar(&itemSKU, "sku", "", "stock keeping unit, unique")
	itemAddCmd.Flags().StringVar(&itemCategory, "category", string(model.CategoryOther), "item category")
	itemAddCmd.Flags().StringVar(&itemUnit, "unit", string(model.UnitPiece), "unit of measure")
	itemAddCmd.Flags().StringVar(&itemLocation, "location", "storeroom", "storage location")
	itemAddCmd.Flags().StringVar(&itemDescription, "description", "", "free-text description")

	itemListCmd.Flags().StringVar(&itemListCategory, "category", "", "filter by category")

	itemCmd.AddCommand(itemAddCmd, itemListCmd, itemRmCmd)
}
