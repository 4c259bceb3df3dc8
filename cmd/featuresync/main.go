package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// errLoadFailed marks a load whose report is a failure; the details have
// already been logged.
var errLoadFailed = errors.New("load failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errLoadFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "featuresync",
		Short: "Incremental extract of ArcGIS feature service layers",
		Long: `featuresync pulls features from an ArcGIS feature service layer, page by page,
and writes them to CSV, GeoJSON, Shapefile or a PostGIS table. Incremental loads
only fetch features beyond the last identifier seen by a previous load.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newLoadCmd())
	root.AddCommand(newWatermarkCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	return root
}
