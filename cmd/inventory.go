package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// inventoryCmd prints the discovered accelerators as JSON.
var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Discover accelerators and print them as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInventory(cmd.Context(), configPath, cmd.OutOrStdout())
	},
}

func runInventory(ctx context.Context, path string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bundle, err := loadBundle(path)
	if err != nil {
		return err
	}
	accelerators, err := newInventory(bundle).Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering accelerators: %w", err)
	}
	return printJSON(w, accelerators)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
