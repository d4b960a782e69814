package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/selection"
)

func newDeriveCmd() *cobra.Command {
	var zoom float64
	cmd := &cobra.Command{
		Use:   "derive <item.json|->",
		Short: "Print the WGS84 target derived from a selection item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return derive(data, zoom, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Float64Var(&zoom, "zoom", selection.DefaultZoom, "zoom used when the item carries no hint")
	return cmd
}

func derive(data []byte, zoom float64, out io.Writer) error {
	item, err := model.DecodeSelectionItem(data)
	if err != nil {
		return fmt.Errorf("decode selection: %w", err)
	}
	d := selection.NewDeriver(nil,
		selection.WithDefaultZoom(zoom),
		selection.WithLogger(logging.NewFromEnv()))
	derived, ok := d.DeriveGeometry(*item)
	if !ok {
		return fmt.Errorf("selection position in %q cannot be derived", item.SourceCRS)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(derived)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
