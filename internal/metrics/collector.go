package metrics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics holds one sample of the running extraction
type SystemMetrics struct {
	ProcessCPUPercent float64 // can exceed 100% on multi-core
	ProcessRSSMB      float64 // resident memory; relation and sparse node indexes live here
	MemoryPercent     float64 // system-wide
	WorkDirFreeGB     float64 // free space where the dense node index is mapped
	Rates             map[string]float64
	Timestamp         time.Time
}

// CounterSource returns named progress counters of the running job
type CounterSource func() map[string]int64

// Collector periodically logs process metrics next to the job counters and
// their rates since the previous sample
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	counters CounterSource
	workDir  string
	proc     *process.Process
	now      func() time.Time

	lastCounts map[string]int64
	lastTime   time.Time

	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a metrics collector. counters may be nil. workDir is
// the directory holding the node index; empty skips the free space check.
func NewCollector(interval time.Duration, logger *zap.Logger, counters CounterSource, workDir string) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		counters: counters,
		workDir:  workDir,
		proc:     proc,
		now:      time.Now,
	}
}

// Start begins periodic metrics collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the rate baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last collected metrics
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	metrics := &SystemMetrics{
		Timestamp: c.now(),
	}

	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			metrics.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			metrics.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryPercent = vmem.UsedPercent
	}

	// the work directory may not exist until the node index is created
	haveFree := false
	if c.workDir != "" {
		if usage, err := disk.Usage(c.workDir); err == nil {
			metrics.WorkDirFreeGB = float64(usage.Free) / (1024 * 1024 * 1024)
			haveFree = true
		}
	}

	var counts map[string]int64
	if c.counters != nil {
		counts = c.counters()
	}
	metrics.Rates = c.rates(counts, metrics.Timestamp)

	c.mu.Lock()
	c.lastMetrics = metrics
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("proc_cpu", metrics.ProcessCPUPercent),
		zap.String("rss", fmt.Sprintf("%.1f MB", metrics.ProcessRSSMB)),
		zap.Float64("mem_pct", metrics.MemoryPercent),
	}
	if haveFree {
		fields = append(fields, zap.String("work_free", fmt.Sprintf("%.1f GB", metrics.WorkDirFreeGB)))
	}
	c.logger.Info("System metrics", append(fields, counterFields(counts, metrics.Rates)...)...)
}

// rates returns per-second deltas against the previous sample and records
// counts as the new baseline. The first sample has no rates.
func (c *Collector) rates(counts map[string]int64, now time.Time) map[string]float64 {
	defer func() {
		c.lastCounts = counts
		c.lastTime = now
	}()
	if c.lastCounts == nil {
		return nil
	}
	elapsed := now.Sub(c.lastTime).Seconds()
	if elapsed <= 0 {
		return nil
	}
	out := make(map[string]float64, len(counts))
	for name, v := range counts {
		if prev, ok := c.lastCounts[name]; ok && v >= prev {
			out[name] = float64(v-prev) / elapsed
		}
	}
	return out
}

// counterFields returns the job counters sorted by name, each followed by
// its rate when one is known
func counterFields(counts map[string]int64, rates map[string]float64) []zap.Field {
	if len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]zap.Field, 0, 2*len(names))
	for _, name := range names {
		fields = append(fields, zap.Int64(name, counts[name]))
		if r, ok := rates[name]; ok {
			fields = append(fields, zap.Float64(name+"_per_sec", r))
		}
	}
	return fields
}
