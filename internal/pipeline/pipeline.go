package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/osm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmboundaries-go/internal/boundary"
	"github.com/wegman-software/osmboundaries-go/internal/config"
	"github.com/wegman-software/osmboundaries-go/internal/geom"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/metrics"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
	"github.com/wegman-software/osmboundaries-go/internal/nodeindex"
	"github.com/wegman-software/osmboundaries-go/internal/osmfile"
	"github.com/wegman-software/osmboundaries-go/internal/relindex"
	"github.com/wegman-software/osmboundaries-go/internal/script"
)

// relationsPerWorker sets how many relations are assembled per worker
// before the finished batch is emitted
const relationsPerWorker = 64

// Pipeline runs the two-pass boundary extraction
type Pipeline struct {
	cfg *config.Config
	log *zap.Logger

	filter *boundary.Filter
	hook   *script.Hook
	stage  *script.Stage

	relations *relindex.Index
	builder   *multipolygon.Builder
	stats     counters
}

// New wires the filter and the optional transform script in front of sink
func New(cfg *config.Config, sink Sink, log *zap.Logger) (*Pipeline, error) {
	log = logger.Or(log)

	var rules *boundary.Rules
	if cfg.RulesFile != "" {
		r, err := boundary.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = r
	}

	p := &Pipeline{
		cfg:       cfg,
		log:       log,
		relations: relindex.New(),
		builder: multipolygon.NewBuilder(multipolygon.Options{
			AttemptRepair: cfg.AttemptRepair,
			Logger:        log,
		}),
	}

	next := boundary.Sink(sink)
	if cfg.TransformFile != "" {
		p.hook = script.New(log)
		if err := p.hook.LoadFile(cfg.TransformFile); err != nil {
			p.hook.Close()
			return nil, err
		}
		p.stage = script.NewStage(p.hook, sink)
		next = p.stage
	}
	p.filter = boundary.NewFilter(cfg.AdminLevelSet(), rules, next, log)
	return p, nil
}

// Close releases the script state
func (p *Pipeline) Close() {
	if p.hook != nil {
		p.hook.Close()
	}
}

// Counters returns the live pipeline counters
func (p *Pipeline) Counters() map[string]int64 {
	return p.stats.snapshot()
}

// Run reads the input twice. The first pass indexes boundary relations;
// the second fills the coordinate store, emits closed boundary ways and
// assembles the indexed relations once all ways have been read.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	if p.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(p.cfg.MetricsInterval, p.log, p.Counters, p.indexDir())
		go collector.Start(metricsCtx)
		p.log.Info("System metrics collection started",
			zap.Duration("interval", p.cfg.MetricsInterval))
	}

	reader, err := osmfile.Open(p.cfg.InputFile)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	p.log.Info("Pass 1: indexing boundary relations",
		zap.String("input", p.cfg.InputFile),
		zap.String("format", reader.Format().String()),
		zap.String("size", FormatBytes(reader.Size())))
	start := time.Now()
	if err := p.runPass(ctx, reader, "relation indexing", &indexPass{p: p}, osmfile.RelationsOnly, p.stats.relationsScanned.Load); err != nil {
		return nil, fmt.Errorf("pass 1: %w", err)
	}
	p.relations.Freeze()
	p.log.Info("Pass 1 complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int64("relations", p.stats.relationsScanned.Load()),
		zap.Int("indexed", p.relations.Len()),
		zap.Int("member_ways", p.relations.MemberWays()),
		zap.Int64("skipped_members", p.relations.Skipped()))

	store, err := p.newStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	p.log.Info("Pass 2: building areas")
	start = time.Now()
	build := &buildPass{
		p:       p,
		ctx:     ctx,
		store:   store,
		members: make(memberCache),
	}
	entities := func() int64 { return p.stats.nodes.Load() + p.stats.ways.Load() }
	if err := p.runPass(ctx, reader, "area building", build, osmfile.AllKinds, entities); err != nil {
		return nil, fmt.Errorf("pass 2: %w", err)
	}
	p.log.Info("Pass 2 complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int64("nodes", p.stats.nodes.Load()),
		zap.Int64("ways", p.stats.ways.Load()),
		zap.Int64("areas_from_ways", p.stats.areasFromWays.Load()),
		zap.Int64("areas_from_relations", p.stats.areasFromRelations.Load()))

	return p.collectStats(reader.Size()), nil
}

func (p *Pipeline) runPass(ctx context.Context, reader *osmfile.Reader, name string, h osmfile.Handler, kinds osmfile.Kinds, entities func() int64) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watchProgress(watchCtx, p.log, name, reader, entities)

	return reader.Read(ctx, h, kinds)
}

func (p *Pipeline) newStore() (*nodeindex.SplitStore, error) {
	opts := nodeindex.Options{
		Policy:  nodeindex.Policy{DenseMaxID: p.cfg.DenseMaxID},
		WorkDir: p.cfg.WorkDir,
		Logger:  p.log,
	}
	if p.cfg.FlatNodesFile != "" {
		opts.Path = p.cfg.FlatNodesFile
		opts.Keep = true
	}
	return nodeindex.NewSplitStore(opts)
}

// indexDir is the directory the dense node index file is created in
func (p *Pipeline) indexDir() string {
	switch {
	case p.cfg.FlatNodesFile != "":
		return filepath.Dir(p.cfg.FlatNodesFile)
	case p.cfg.WorkDir != "":
		return p.cfg.WorkDir
	default:
		return os.TempDir()
	}
}

func (p *Pipeline) collectStats(size int64) *Stats {
	accepted, rejected := p.filter.Counts()
	s := &Stats{
		RelationsScanned:   p.stats.relationsScanned.Load(),
		RelationsIndexed:   p.relations.Len(),
		MemberWays:         p.relations.MemberWays(),
		Nodes:              p.stats.nodes.Load(),
		Ways:               p.stats.ways.Load(),
		DuplicateNodes:     p.stats.duplicateNodes.Load(),
		InvalidNodes:       p.stats.invalidNodes.Load(),
		MissingCoordinates: p.stats.missingCoordinates.Load(),
		AreasFromWays:      p.stats.areasFromWays.Load(),
		AreasFromRelations: p.stats.areasFromRelations.Load(),
		RelationsDropped:   p.stats.relationsDropped.Load(),
		Accepted:           accepted,
		Rejected:           rejected,
		BytesRead:          size,
	}
	if p.stage != nil {
		s.ScriptDropped = p.stage.Dropped()
	}
	return s
}

// indexPass collects boundary relations
type indexPass struct {
	p *Pipeline
}

func (h *indexPass) Node(*osm.Node) error { return nil }
func (h *indexPass) Way(*osm.Way) error   { return nil }

func (h *indexPass) Relation(r *osm.Relation) error {
	h.p.stats.relationsScanned.Add(1)
	_, err := h.p.relations.Index(r)
	return err
}

// memberCache holds the resolved member ways of indexed relations.
// It is written during the way phase and only read afterwards.
type memberCache map[int64]multipolygon.Way

func (c memberCache) Way(id int64) (multipolygon.Way, bool) {
	w, ok := c[id]
	return w, ok
}

// buildPass fills the coordinate store and emits areas
type buildPass struct {
	p       *Pipeline
	ctx     context.Context
	store   *nodeindex.SplitStore
	members memberCache
}

func (h *buildPass) Node(n *osm.Node) error {
	h.p.stats.nodes.Add(1)
	err := h.store.Set(int64(n.ID), n.Lon, n.Lat)
	switch {
	case err == nil:
	case errors.Is(err, nodeindex.ErrDuplicateNode):
		h.p.stats.duplicateNodes.Add(1)
	case errors.Is(err, nodeindex.ErrInvalidCoordinate):
		h.p.stats.invalidNodes.Add(1)
		h.p.log.Warn("Ignoring node with invalid coordinate",
			zap.Int64("node_id", int64(n.ID)), zap.Error(err))
	default:
		return err
	}
	return nil
}

func (h *buildPass) AfterNodes() error {
	h.p.log.Info("Node phase complete",
		zap.Int64("nodes", h.p.stats.nodes.Load()),
		zap.Int("sparse_nodes", h.store.SparseLen()))
	return h.store.Freeze()
}

func (h *buildPass) Way(w *osm.Way) error {
	h.p.stats.ways.Add(1)
	id := int64(w.ID)
	member := h.p.relations.IsMember(id)
	if !member && w.Tags.Find("boundary") == "" {
		return nil
	}

	coords, err := geom.Resolve(h.store, w)
	if err != nil {
		var iw *geom.IncompleteWayError
		if errors.As(err, &iw) {
			h.p.stats.missingCoordinates.Add(1)
			h.p.log.Warn("Missing node coordinate",
				zap.Int64("way_id", iw.WayID),
				zap.Int64("node_id", iw.NodeID))
			return nil
		}
		return err
	}

	if member {
		h.members[id] = multipolygon.Way{Coords: coords, Tags: w.Tags.Map()}
	}
	if area := h.p.builder.BuildWay(w, coords); area != nil {
		h.p.stats.areasFromWays.Add(1)
		return h.p.filter.Add(h.ctx, area)
	}
	return nil
}

// AfterWays assembles every indexed relation. Relations are built
// concurrently in batches and emitted in ascending id order.
func (h *buildPass) AfterWays() error {
	ids := h.p.relations.IDs()
	workers := h.p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	h.p.log.Info("Way phase complete, assembling relations",
		zap.Int64("ways", h.p.stats.ways.Load()),
		zap.Int("cached_members", len(h.members)),
		zap.Int("relations", len(ids)),
		zap.Int("workers", workers))

	batch := workers * relationsPerWorker
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		areas, err := h.buildBatch(ids[start:end], workers)
		if err != nil {
			return err
		}
		for _, area := range areas {
			if area == nil {
				continue
			}
			if err := h.p.filter.Add(h.ctx, area); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *buildPass) buildBatch(ids []int64, workers int) ([]*multipolygon.Area, error) {
	areas := make([]*multipolygon.Area, len(ids))
	g, ctx := errgroup.WithContext(h.ctx)
	g.SetLimit(workers)

	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, ok := h.p.relations.Get(id)
			if !ok {
				return nil
			}
			area, err := h.p.builder.BuildRelation(entry, h.members)
			if err != nil {
				h.p.stats.relationsDropped.Add(1)
				h.p.log.Warn("Dropping relation",
					zap.Int64("relation_id", id),
					zap.Error(err))
				return nil
			}
			h.p.stats.areasFromRelations.Add(1)
			areas[i] = area
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return areas, nil
}

// Relations were indexed in the first pass
func (h *buildPass) Relation(*osm.Relation) error { return nil }

func (h *buildPass) AfterRelations() error { return nil }

var _ osmfile.PhaseHandler = (*buildPass)(nil)
