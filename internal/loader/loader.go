package loader

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/config"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/output"
)

// Stats holds loader statistics
type Stats struct {
	RowsLoaded int64
	PerLayer   map[string]int64
}

// Loader copies extracted Parquet layers into PostGIS
type Loader struct {
	cfg     *config.Config
	backend *output.PostGISBackend
	log     *zap.Logger
}

// NewLoader connects to PostgreSQL and prepares the layer tables.
// With appendRows the existing tables are kept.
func NewLoader(ctx context.Context, cfg *config.Config, appendRows bool) (*Loader, error) {
	log := logger.Get()
	backend, err := output.NewPostGISBackend(ctx, output.PostGISOptions{
		ConnString: cfg.ConnectionString(),
		Schema:     cfg.DBSchema,
		SRID:       cfg.Projection,
		BatchSize:  cfg.BatchSize,
		MaxConns:   cfg.Workers,
		Append:     appendRows,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return &Loader{cfg: cfg, backend: backend, log: log}, nil
}

// Run loads every layer file found in the output directory, then builds
// indexes and closes the connection pool
func (l *Loader) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{PerLayer: make(map[string]int64)}

	for _, layer := range output.Layers {
		path := output.ParquetPath(l.cfg.OutputDir, layer)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			l.log.Debug("Skipping layer (no source file)", zap.String("layer", layer))
			continue
		}

		l.log.Info("Loading layer", zap.String("layer", layer), zap.String("source", path))
		n, err := output.ReadParquet(ctx, path, func(r output.Row) error {
			return l.backend.WriteRow(ctx, layer, r)
		})
		if err != nil {
			l.backend.Close()
			return nil, fmt.Errorf("failed to load %s: %w", layer, err)
		}
		stats.PerLayer[layer] = n
		stats.RowsLoaded += n
	}

	if err := l.backend.Close(); err != nil {
		return nil, err
	}
	return stats, nil
}
