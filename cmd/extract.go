package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmboundaries-go/internal/config"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/output"
	"github.com/wegman-software/osmboundaries-go/internal/pipeline"
	"github.com/wegman-software/osmboundaries-go/internal/proj"
)

var (
	noAttemptRepair bool
	adminLevels     string
)

var extractCmd = &cobra.Command{
	Use:   "extract <input.osm.pbf|input.osm>",
	Short: "Extract administrative boundaries",
	Long: `Read an OSM file twice and write administrative boundaries.

Pass 1 indexes boundary relations. Pass 2 stores node coordinates, builds
areas from closed boundary ways and assembles the indexed relations.

Two layers are written:
  - administrative        (osm_id, from_type, area, name, multipolygon)
  - administrative_point  (one point on the surface of every polygon part)`,
	Args: cobra.ExactArgs(1),
	Run:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	f := extractCmd.Flags()
	f.BoolVar(&noAttemptRepair, "no-attempt-repair", false, "Drop relations with broken rings instead of closing them")
	f.StringVar(&adminLevels, "admin-levels", "2", "Comma separated admin_level values to extract")
	f.StringVarP(&cfg.Format, "format", "f", cfg.Format, "Output format: parquet, geojson or postgis")
	f.IntVar(&cfg.Projection, "projection", cfg.Projection, "Output SRID (4326 or 3857)")
	f.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Directory for the temporary node index")
	f.StringVar(&cfg.FlatNodesFile, "flat-nodes", "", "Keep the dense node index at this path")
	f.Int64Var(&cfg.DenseMaxID, "dense-max-id", cfg.DenseMaxID, "Node IDs below this use the dense index")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group or COPY batch")
	f.StringVar(&cfg.RulesFile, "rules", "", "YAML file with additional tag rules")
	f.StringVar(&cfg.TransformFile, "transform", "", "Lua script defining process_boundary(object)")
}

func runExtract(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	cfg.AttemptRepair = !noAttemptRepair
	log := logger.Get()

	levels, err := config.ParseIntList(adminLevels)
	if err != nil {
		exitWithError("invalid --admin-levels", err)
	}
	cfg.AdminLevels = levels

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	transform, err := proj.NewTransformer(cfg.Projection)
	if err != nil {
		exitWithError("invalid projection", err)
	}

	log.Info("Starting boundary extraction",
		zap.String("input", cfg.InputFile),
		zap.String("format", cfg.Format),
		zap.String("output", cfg.OutputDir),
		zap.String("admin_levels", formatLevels(cfg.AdminLevels)),
		zap.Bool("attempt_repair", cfg.AttemptRepair),
		zap.Int("workers", cfg.Workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	backend, err := output.NewBackend(ctx, cfg, log)
	if err != nil {
		exitWithError("failed to create output", err)
	}
	writer := output.NewWriter(backend, transform, log)

	p, err := pipeline.New(cfg, writer, log)
	if err != nil {
		writer.Close()
		exitWithError("failed to create pipeline", err)
	}
	defer p.Close()

	stats, err := p.Run(ctx)
	if err != nil {
		writer.Close()
		exitWithError("extraction failed", err)
	}
	if err := writer.Close(); err != nil {
		exitWithError("failed to finish output", err)
	}

	elapsed := time.Since(start)
	counts := writer.Counts()

	rejected := make([]zap.Field, 0, len(stats.Rejected))
	for reason, n := range stats.Rejected {
		rejected = append(rejected, zap.Int64("rejected_"+strings.ReplaceAll(string(reason), " ", "_"), n))
	}

	log.Info("Extraction complete",
		append([]zap.Field{
			zap.Duration("duration", elapsed.Round(time.Second)),
			zap.Int64("nodes", stats.Nodes),
			zap.Int64("ways", stats.Ways),
			zap.Int("relations_indexed", stats.RelationsIndexed),
			zap.Int64("areas_from_ways", stats.AreasFromWays),
			zap.Int64("areas_from_relations", stats.AreasFromRelations),
			zap.Int64("relations_dropped", stats.RelationsDropped),
			zap.Int64("missing_coordinates", stats.MissingCoordinates),
			zap.Int64("duplicate_nodes", stats.DuplicateNodes),
			zap.Int64("accepted", stats.Accepted),
			zap.Int64("script_dropped", stats.ScriptDropped),
			zap.Int64(output.LayerAdministrative, counts[output.LayerAdministrative]),
			zap.Int64(output.LayerPoint, counts[output.LayerPoint]),
			zap.Float64("throughput_mb_s", float64(stats.BytesRead)/(1024*1024)/elapsed.Seconds()),
		}, rejected...)...,
	)
}

func formatLevels(levels []int) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}
