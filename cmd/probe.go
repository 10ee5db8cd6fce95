/*
Copyright © 2023 mapknit authors
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/matrixset"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe <capabilities-url-or-file>",
	Short: "Inspect a WMTS capabilities document",
	Long: `Loads a WMTS capabilities document and prints the tile matrix set
geometry plus its approximate coverage in WGS84.`,
	Args: cobra.ExactArgs(1),
	Run:  probeMain,
}

var probeMatrixSet string

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVar(&probeMatrixSet, "matrix-set", "", "tile matrix set identifier (default: first in document)")
}

func probeMain(cmd *cobra.Command, args []string) {
	rc, err := openCapabilities(args[0])
	if err != nil {
		log.Fatalf("capabilities: %v", err)
	}
	defer rc.Close()

	set, err := matrixset.LoadWMTSCapabilities(rc, probeMatrixSet)
	if err != nil {
		log.Fatalf("capabilities: %v", err)
	}

	fmt.Printf("tile matrix set: %s\n", set.Identifier)
	fmt.Printf("crs:             %s\n", set.CRS)
	fmt.Printf("matrices:        %d\n", len(set.Matrices))

	for i := range set.Matrices {
		tm := &set.Matrices[i]
		fmt.Printf("  %-8s %6dx%-6d tiles of %dx%d px, pixel span %.6g\n",
			tm.Identifier, tm.MatrixWidth, tm.MatrixHeight,
			tm.TileWidthPx, tm.TileHeightPx, tm.PixelSpan())
	}

	b, err := set.ApproximateBound(crs.WGS84, 16, 0)
	if err != nil {
		log.Printf("coverage: %v", err)
		return
	}
	fmt.Printf("coverage (WGS84): %.4f,%.4f .. %.4f,%.4f\n",
		b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}
