package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/logger"
)

// PostGISOptions configures a PostGISBackend
type PostGISOptions struct {
	ConnString string
	Schema     string
	SRID       int
	BatchSize  int
	MaxConns   int
	// Keep existing rows instead of recreating the tables
	Append bool
	Logger *zap.Logger
}

var copyColumns = []string{"osm_id", "from_type", "area", "name", "geom"}

// PostGISBackend loads features into one table per layer using COPY.
// Rows are buffered and copied in batches.
type PostGISBackend struct {
	pool    *pgxpool.Pool
	opts    PostGISOptions
	log     *zap.Logger
	pending map[string][][]interface{}
	loaded  map[string]int64
}

// NewPostGISBackend connects and prepares the layer tables
func NewPostGISBackend(ctx context.Context, opts PostGISOptions) (*PostGISBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns < 2 {
		opts.MaxConns = 2
	}
	poolConfig.MaxConns = int32(opts.MaxConns)
	if opts.BatchSize < 1 {
		opts.BatchSize = 10000
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	b := &PostGISBackend{
		pool:    pool,
		opts:    opts,
		log:     logger.Or(opts.Logger),
		pending: make(map[string][][]interface{}),
		loaded:  make(map[string]int64),
	}
	if err := b.prepare(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostGISBackend) table(layer string) string {
	return pgx.Identifier{b.opts.Schema, layer}.Sanitize()
}

// prepare creates the extension, schema and layer tables
func (b *PostGISBackend) prepare(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if b.opts.Schema != "public" {
		if _, err := b.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{b.opts.Schema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	geomTypes := map[string]string{
		LayerAdministrative: "MultiPolygon",
		LayerPoint:          "Point",
	}
	for _, layer := range Layers {
		if !b.opts.Append {
			if _, err := b.pool.Exec(ctx, "DROP TABLE IF EXISTS "+b.table(layer)); err != nil {
				return fmt.Errorf("failed to drop %s: %w", layer, err)
			}
		}
		createSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				osm_id BIGINT NOT NULL,
				from_type CHAR(1) NOT NULL,
				area DOUBLE PRECISION,
				name VARCHAR(%d),
				geom GEOMETRY(%s, %d)
			)
		`, b.table(layer), maxNameLength, geomTypes[layer], b.opts.SRID)
		if _, err := b.pool.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create %s: %w", layer, err)
		}
	}
	return nil
}

// Write encodes a feature and copies the layer batch when full
func (b *PostGISBackend) Write(ctx context.Context, f Feature) error {
	row, err := EncodeRow(f, b.opts.SRID)
	if err != nil {
		return err
	}
	return b.WriteRow(ctx, f.Layer, row)
}

// WriteRow buffers an encoded row for a layer
func (b *PostGISBackend) WriteRow(ctx context.Context, layer string, r Row) error {
	b.pending[layer] = append(b.pending[layer], []interface{}{r.OSMID, r.FromType, r.Area, r.Name, r.Geom})
	if len(b.pending[layer]) >= b.opts.BatchSize {
		return b.flush(ctx, layer)
	}
	return nil
}

// flush copies the buffered rows of a layer. PostGIS accepts EWKB bytes
// for geometry columns in binary COPY.
func (b *PostGISBackend) flush(ctx context.Context, layer string) error {
	rows := b.pending[layer]
	if len(rows) == 0 {
		return nil
	}
	n, err := b.pool.CopyFrom(ctx, pgx.Identifier{b.opts.Schema, layer}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("COPY into %s failed: %w", layer, err)
	}
	b.loaded[layer] += n
	b.pending[layer] = rows[:0]
	return nil
}

// Loaded returns the rows copied per layer
func (b *PostGISBackend) Loaded() map[string]int64 {
	return b.loaded
}

// Close flushes pending rows, builds indexes and disconnects
func (b *PostGISBackend) Close() error {
	defer b.pool.Close()
	ctx := context.Background()

	for _, layer := range Layers {
		if err := b.flush(ctx, layer); err != nil {
			return err
		}
	}
	for _, layer := range Layers {
		if err := b.createIndexes(ctx, layer); err != nil {
			return err
		}
		b.log.Info("Table loaded", zap.String("table", layer), zap.Int64("rows", b.loaded[layer]))
	}
	return nil
}

func (b *PostGISBackend) createIndexes(ctx context.Context, layer string) error {
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
			pgx.Identifier{layer + "_geom_idx"}.Sanitize(), b.table(layer)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (osm_id)",
			pgx.Identifier{layer + "_osm_id_idx"}.Sanitize(), b.table(layer)),
		"ANALYZE " + b.table(layer),
	}
	for _, s := range stmts {
		if _, err := b.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("failed to index %s: %w", layer, err)
		}
	}
	return nil
}
