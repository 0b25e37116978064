package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// progressInterval is how often a running pass logs its position
const progressInterval = 2 * time.Second

// ProgressTracker estimates completion of a pass from bytes read
type ProgressTracker struct {
	totalBytes  int64
	startTime   time.Time
	description string
}

// NewProgressTracker starts tracking a pass over totalBytes
func NewProgressTracker(totalBytes int64, description string) *ProgressTracker {
	return &ProgressTracker{
		totalBytes:  totalBytes,
		startTime:   time.Now(),
		description: description,
	}
}

// Progress is a snapshot of a running pass
type Progress struct {
	Entities    int64
	Percentage  float64
	Elapsed     time.Duration
	ETA         time.Duration
	Throughput  float64 // entities per second
	Description string
}

// Calculate returns the progress after entities were handled and
// bytesProcessed bytes of input consumed
func (p *ProgressTracker) Calculate(entities, bytesProcessed int64) Progress {
	elapsed := time.Since(p.startTime)

	var percentage float64
	var eta time.Duration
	if p.totalBytes > 0 && bytesProcessed > 0 {
		percentage = float64(bytesProcessed) / float64(p.totalBytes) * 100
		if percentage < 100 {
			bytesPerSecond := float64(bytesProcessed) / elapsed.Seconds()
			if bytesPerSecond > 0 {
				eta = time.Duration(float64(p.totalBytes-bytesProcessed) / bytesPerSecond * float64(time.Second))
			}
		}
	}

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(entities) / elapsed.Seconds()
	}

	return Progress{
		Entities:    entities,
		Percentage:  percentage,
		Elapsed:     elapsed.Round(time.Second),
		ETA:         eta.Round(time.Second),
		Throughput:  throughput,
		Description: p.description,
	}
}

// byteSource reports input consumption of a running pass
type byteSource interface {
	Scanned() int64
	Size() int64
}

// watchProgress logs the progress of a pass until ctx is cancelled
func watchProgress(ctx context.Context, log *zap.Logger, description string, src byteSource, entities func() int64) {
	tracker := NewProgressTracker(src.Size(), description)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanned := src.Scanned()
			p := tracker.Calculate(entities(), scanned)
			log.Debug("Pass progress",
				zap.String("pass", description),
				zap.Int64("entities", p.Entities),
				zap.String("processed", FormatBytes(scanned)),
				zap.String("total", FormatBytes(src.Size())),
				zap.String("percent", fmt.Sprintf("%.1f%%", p.Percentage)),
				zap.String("throughput", FormatThroughput(p.Throughput)),
				zap.String("eta", FormatETA(p.ETA)))
		}
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats entities per second
func FormatThroughput(perSec float64) string {
	switch {
	case perSec >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", perSec/1_000_000)
	case perSec >= 1_000:
		return fmt.Sprintf("%.1fK/s", perSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

// FormatBytes formats a byte count with a binary unit
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
