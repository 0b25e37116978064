package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/config"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
	"github.com/wegman-software/osmboundaries-go/internal/proj"
)

// Backend persists features
type Backend interface {
	Write(ctx context.Context, f Feature) error
	Close() error
}

// Writer turns accepted areas into features and hands them to a backend
type Writer struct {
	backend   Backend
	transform *proj.Transformer
	log       *zap.Logger

	mu     sync.Mutex
	counts map[string]int64
}

// NewWriter creates a Writer. transform may be nil for WGS84 output.
func NewWriter(backend Backend, transform *proj.Transformer, log *zap.Logger) *Writer {
	return &Writer{
		backend:   backend,
		transform: transform,
		log:       logger.Or(log),
		counts:    make(map[string]int64),
	}
}

// Add writes the features of one area. Backend errors wrap ErrWriteFailure.
func (w *Writer) Add(ctx context.Context, area *multipolygon.Area) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, f := range Features(area, w.transform, w.log) {
		if err := w.backend.Write(ctx, f); err != nil {
			return fmt.Errorf("%w: %s %s%d: %w", ErrWriteFailure, f.Layer, f.FromType, f.OSMID, err)
		}
		w.counts[f.Layer]++
	}
	return nil
}

// Close flushes and closes the backend
func (w *Writer) Close() error {
	if err := w.backend.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}

// Counts returns features written per layer
func (w *Writer) Counts() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.counts))
	for k, v := range w.counts {
		out[k] = v
	}
	return out
}

// NewBackend creates the backend selected by cfg.Format
func NewBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	switch cfg.Format {
	case config.FormatParquet:
		return NewParquetBackend(cfg.OutputDir, cfg.BatchSize, cfg.Projection)
	case config.FormatGeoJSON:
		return NewGeoJSONBackend(cfg.OutputDir)
	case config.FormatPostGIS:
		return NewPostGISBackend(ctx, PostGISOptions{
			ConnString: cfg.ConnectionString(),
			Schema:     cfg.DBSchema,
			SRID:       cfg.Projection,
			BatchSize:  cfg.BatchSize,
			MaxConns:   cfg.Workers,
			Logger:     log,
		})
	}
	return nil, fmt.Errorf("unknown output format %q", cfg.Format)
}

// closeFile closes f unless the parquet writer already did
func closeFile(f *os.File) error {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
