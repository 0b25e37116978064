package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmboundaries-go/internal/loader"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
)

var appendRows bool

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load extracted boundary layers into PostGIS",
	Long: `Bulk load the Parquet layers written by "extract --format parquet" into PostGIS.

This stage:
  1. Creates the administrative and administrative_point tables
  2. Uses COPY with EWKB geometries for bulk loading
  3. Creates spatial and osm_id indexes`,
	Run: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().BoolVar(&appendRows, "append", false, "Keep existing tables and append rows")
	loadCmd.Flags().IntVar(&cfg.Projection, "projection", cfg.Projection, "SRID of the extracted geometries (4326 or 3857)")
	loadCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per COPY batch")
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	log.Info("Starting PostGIS load",
		zap.String("input_dir", cfg.OutputDir),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	ctx := context.Background()
	start := time.Now()

	ldr, err := loader.NewLoader(ctx, cfg, appendRows)
	if err != nil {
		exitWithError("failed to create loader", err)
	}

	stats, err := ldr.Run(ctx)
	if err != nil {
		exitWithError("load failed", err)
	}

	elapsed := time.Since(start)

	log.Info("Load complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("rows", stats.RowsLoaded),
		zap.Any("layers", stats.PerLayer),
		zap.Float64("throughput_rows_s", float64(stats.RowsLoaded)/elapsed.Seconds()),
	)
}
