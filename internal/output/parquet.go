package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

var featureSchema = arrow.NewSchema([]arrow.Field{
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "from_type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "area", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// ParquetPath returns the file holding a layer in dir
func ParquetPath(dir, layer string) string {
	return filepath.Join(dir, layer+".parquet")
}

// ParquetBackend writes one Parquet file per layer with EWKB geometries
type ParquetBackend struct {
	writers map[string]*featureWriter
	srid    int
}

// NewParquetBackend creates the layer files in dir
func NewParquetBackend(dir string, batchSize, srid int) (*ParquetBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	b := &ParquetBackend{writers: make(map[string]*featureWriter), srid: srid}
	for _, layer := range Layers {
		w, err := newFeatureWriter(ParquetPath(dir, layer), batchSize)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.writers[layer] = w
	}
	return b, nil
}

// Write appends a feature to its layer file
func (b *ParquetBackend) Write(ctx context.Context, f Feature) error {
	w, ok := b.writers[f.Layer]
	if !ok {
		return fmt.Errorf("unknown layer %q", f.Layer)
	}
	row, err := EncodeRow(f, b.srid)
	if err != nil {
		return err
	}
	return w.Write(row)
}

// Close flushes and closes all layer files
func (b *ParquetBackend) Close() error {
	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// featureWriter writes feature rows to a single Parquet file
type featureWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newFeatureWriter(path string, batchSize int) (*featureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(featureSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &featureWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, featureSchema),
		batchSize: batchSize,
	}, nil
}

func (w *featureWriter) Write(r Row) error {
	w.builder.Field(0).(*array.Int64Builder).Append(r.OSMID)
	w.builder.Field(1).(*array.StringBuilder).Append(r.FromType)
	w.builder.Field(2).(*array.Float64Builder).Append(r.Area)
	w.builder.Field(3).(*array.StringBuilder).Append(r.Name)
	w.builder.Field(4).(*array.BinaryBuilder).Append(r.Geom)

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *featureWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

func (w *featureWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return closeFile(w.file)
}

// ReadParquet calls fn for every row of a layer file and returns the row count
func ReadParquet(ctx context.Context, path string, fn func(Row) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return 0, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	if tbl.NumCols() != int64(len(featureSchema.Fields())) {
		return 0, fmt.Errorf("unexpected column count %d in %s", tbl.NumCols(), path)
	}

	idCol := tbl.Column(0).Data()
	fromCol := tbl.Column(1).Data()
	areaCol := tbl.Column(2).Data()
	nameCol := tbl.Column(3).Data()
	geomCol := tbl.Column(4).Data()

	var count int64
	for c := 0; c < len(idCol.Chunks()); c++ {
		ids := idCol.Chunk(c).(*array.Int64)
		froms := fromCol.Chunk(c).(*array.String)
		areas := areaCol.Chunk(c).(*array.Float64)
		names := nameCol.Chunk(c).(*array.String)
		geoms := geomCol.Chunk(c).(*array.Binary)

		for i := 0; i < ids.Len(); i++ {
			row := Row{
				OSMID:    ids.Value(i),
				FromType: froms.Value(i),
				Area:     areas.Value(i),
				Name:     names.Value(i),
				Geom:     append([]byte(nil), geoms.Value(i)...),
			}
			if err := fn(row); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
