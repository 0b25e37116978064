package script

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
)

// callbackName is the global function a transform script must define
const callbackName = "process_boundary"

// Hook runs a Lua process_boundary(object) function on accepted areas.
// The function may edit object.tags and returns false to drop the area.
type Hook struct {
	L        *lua.LState
	mu       sync.Mutex
	callback lua.LValue
	log      *zap.Logger
}

// New creates a Hook with the helper functions registered
func New(log *zap.Logger) *Hook {
	h := &Hook{
		L:   lua.NewState(),
		log: logger.Or(log),
	}
	registerHelpers(h.L)
	h.L.SetGlobal("print", h.L.NewFunction(h.luaPrint))
	return h
}

// LoadFile loads and executes a Lua transform file
func (h *Hook) LoadFile(path string) error {
	if err := h.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	return h.extractCallback()
}

// LoadString loads and executes Lua code from a string
func (h *Hook) LoadString(code string) error {
	if err := h.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	return h.extractCallback()
}

func (h *Hook) extractCallback() error {
	fn := h.L.GetGlobal(callbackName)
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("transform script does not define %s()", callbackName)
	}
	h.callback = fn
	return nil
}

// Close releases Lua resources
func (h *Hook) Close() {
	h.L.Close()
}

// Apply runs the callback on an area, replacing its tags with the edited
// ones. It returns false when the script dropped the area.
func (h *Hook) Apply(area *multipolygon.Area) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj := h.objectToLua(area)
	if err := h.L.CallByParam(lua.P{
		Fn:      h.callback,
		NRet:    1,
		Protect: true,
	}, obj); err != nil {
		return false, fmt.Errorf("lua callback error for %s%d: %w", area.Origin, area.ID, err)
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)

	if tags, ok := obj.RawGetString("tags").(*lua.LTable); ok {
		area.Tags = tableToTags(tags)
	} else {
		area.Tags = map[string]string{}
	}

	return ret != lua.LFalse, nil
}

// objectToLua exposes id, type and tags of an area
func (h *Hook) objectToLua(area *multipolygon.Area) *lua.LTable {
	tbl := h.L.NewTable()
	tbl.RawSetString("id", lua.LNumber(area.ID))
	if area.Origin == multipolygon.FromRelation {
		tbl.RawSetString("type", lua.LString("relation"))
	} else {
		tbl.RawSetString("type", lua.LString("way"))
	}
	tbl.RawSetString("polygons", lua.LNumber(len(area.Polygons)))

	tags := h.L.NewTable()
	for k, v := range area.Tags {
		tags.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("tags", tags)
	return tbl
}

func tableToTags(tbl *lua.LTable) map[string]string {
	tags := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		if k.Type() != lua.LTString {
			return
		}
		switch v.Type() {
		case lua.LTString, lua.LTNumber, lua.LTBool:
			tags[k.String()] = v.String()
		}
	})
	return tags
}

// luaPrint routes print() to the logger
func (h *Hook) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.Get(i).String())
	}
	h.log.Info(strings.Join(parts, "\t"), zap.String("source", "lua"))
	return 0
}

// Sink receives areas the script kept
type Sink interface {
	Add(ctx context.Context, area *multipolygon.Area) error
}

// Stage runs the hook in front of a sink
type Stage struct {
	hook    *Hook
	next    Sink
	dropped int64
}

// NewStage wraps next with the hook
func NewStage(hook *Hook, next Sink) *Stage {
	return &Stage{hook: hook, next: next}
}

// Add applies the script and forwards kept areas
func (s *Stage) Add(ctx context.Context, area *multipolygon.Area) error {
	keep, err := s.hook.Apply(area)
	if err != nil {
		return err
	}
	if !keep {
		s.dropped++
		s.hook.log.Debug("Area dropped by transform script",
			zap.String("from_type", area.Origin.String()),
			zap.Int64("osm_id", area.ID))
		return nil
	}
	return s.next.Add(ctx, area)
}

// Dropped returns the number of areas the script rejected
func (s *Stage) Dropped() int64 {
	return s.dropped
}
