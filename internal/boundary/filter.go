package boundary

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
)

// Reason explains why an area was rejected. The empty reason means accepted.
type Reason string

const (
	Accepted          Reason = ""
	WrongBoundaryType Reason = "wrong boundary type"
	Unnamed           Reason = "unnamed"
	WrongAdminLevel   Reason = "wrong admin level"
	ExcludedByRules   Reason = "excluded by rules"
)

// Sink receives accepted areas
type Sink interface {
	Add(ctx context.Context, area *multipolygon.Area) error
}

// Filter selects administrative boundaries of the configured levels and
// forwards them to a Sink
type Filter struct {
	levels map[int]bool
	rules  *Rules
	next   Sink
	log    *zap.Logger

	mu       sync.Mutex
	accepted int64
	rejected map[Reason]int64
}

// NewFilter creates a Filter. rules may be nil.
func NewFilter(levels map[int]bool, rules *Rules, next Sink, log *zap.Logger) *Filter {
	return &Filter{
		levels:   levels,
		rules:    rules,
		next:     next,
		log:      logger.Or(log),
		rejected: make(map[Reason]int64),
	}
}

// Check returns the rejection reason for an area, or Accepted. A missing
// name is reported before the admin level is looked at.
func (f *Filter) Check(area *multipolygon.Area) Reason {
	if area.Tags["boundary"] != "administrative" {
		return WrongBoundaryType
	}
	if area.Tags["name"] == "" {
		return Unnamed
	}
	level, ok := ParseAdminLevel(area.Tags["admin_level"])
	if !ok || !f.levels[level] {
		return WrongAdminLevel
	}
	if !f.rules.For(area.Origin).Match(area.Tags) {
		return ExcludedByRules
	}
	return Accepted
}

// Add checks an area and forwards it to the next sink when accepted.
// Rejections are logged and counted; only sink errors are returned.
func (f *Filter) Add(ctx context.Context, area *multipolygon.Area) error {
	reason := f.Check(area)

	f.mu.Lock()
	if reason == Accepted {
		f.accepted++
	} else {
		f.rejected[reason]++
	}
	f.mu.Unlock()

	if reason != Accepted {
		// unnamed boundaries are reported at Info, other rejections are routine
		level := zapcore.DebugLevel
		if reason == Unnamed {
			level = zapcore.InfoLevel
		}
		f.log.Log(level, "Rejected area",
			zap.String("reason", string(reason)),
			zap.String("from_type", area.Origin.String()),
			zap.Int64("osm_id", area.ID))
		return nil
	}

	f.log.Debug("Adding area", zap.String("name", area.Name()), zap.Int64("osm_id", area.ID))
	return f.next.Add(ctx, area)
}

// ParseAdminLevel reads the leading integer of an admin_level value, so
// "4;6" gives 4 and "2.0" gives 2. ok is false when there are no digits.
func ParseAdminLevel(s string) (level int, ok bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	level, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return level, true
}

// Counts returns accepted areas and rejections by reason
func (f *Filter) Counts() (int64, map[Reason]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Reason]int64, len(f.rejected))
	for r, n := range f.rejected {
		out[r] = n
	}
	return f.accepted, out
}
