package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
)

const transformLua = `
function process_boundary(object)
    if object.tags.disputed == "yes" then
        return false
    end
    object.tags.name = clean_spaces(object.tags.name)
    object.tags["name:local"] = get_name(object.tags, "de")
    object.tags.kind = object.type
    object.tags.disputed = nil
    return true
end
`

type collectSink struct {
	areas []*multipolygon.Area
}

func (c *collectSink) Add(ctx context.Context, a *multipolygon.Area) error {
	c.areas = append(c.areas, a)
	return nil
}

func newHook(t *testing.T, code string) *Hook {
	t.Helper()
	h := New(zap.NewNop())
	t.Cleanup(h.Close)
	if err := h.LoadString(code); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	return h
}

func TestApplyEditsTags(t *testing.T) {
	h := newHook(t, transformLua)
	a := &multipolygon.Area{
		Origin: multipolygon.FromRelation,
		ID:     51477,
		Tags:   map[string]string{"name": "  Deutsch   land ", "name:de": "Deutschland", "admin_level": "2"},
	}

	keep, err := h.Apply(a)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !keep {
		t.Fatal("area should be kept")
	}

	want := map[string]string{
		"name":        "Deutsch land",
		"name:de":     "Deutschland",
		"name:local":  "Deutschland",
		"admin_level": "2",
		"kind":        "relation",
	}
	if len(a.Tags) != len(want) {
		t.Errorf("tags = %v, want %v", a.Tags, want)
	}
	for k, v := range want {
		if a.Tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, a.Tags[k], v)
		}
	}
}

func TestStageDrops(t *testing.T) {
	h := newHook(t, transformLua)
	sink := &collectSink{}
	stage := NewStage(h, sink)
	ctx := context.Background()

	kept := &multipolygon.Area{Origin: multipolygon.FromWay, ID: 1, Tags: map[string]string{"name": "A"}}
	dropped := &multipolygon.Area{Origin: multipolygon.FromWay, ID: 2, Tags: map[string]string{"name": "B", "disputed": "yes"}}

	for _, a := range []*multipolygon.Area{kept, dropped} {
		if err := stage.Add(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	if len(sink.areas) != 1 || sink.areas[0].ID != 1 {
		t.Errorf("expected only area 1 forwarded, got %d areas", len(sink.areas))
	}
	if stage.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", stage.Dropped())
	}
}

func TestLoadRequiresCallback(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()
	if err := h.LoadString(`x = 1`); err == nil {
		t.Error("expected error when process_boundary is missing")
	}
	if err := h.LoadString(`this is not lua`); err == nil {
		t.Error("expected syntax error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transform.lua")
	if err := os.WriteFile(path, []byte(transformLua), 0644); err != nil {
		t.Fatal(err)
	}
	h := New(zap.NewNop())
	defer h.Close()
	if err := h.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
}

func TestApplyRuntimeError(t *testing.T) {
	h := newHook(t, `function process_boundary(object) error("boom") end`)
	if _, err := h.Apply(&multipolygon.Area{Tags: map[string]string{}}); err == nil {
		t.Error("expected runtime error to be returned")
	}
}

func TestPrintGoesToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))
	defer h.Close()
	if err := h.LoadString(`print("loaded", 2)
function process_boundary(object) end`); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("loaded\t2").Len() != 1 {
		t.Errorf("print output not logged: %v", logs.All())
	}
}

func TestHelpers(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	registerHelpers(L)

	tests := []struct {
		expr string
		want string
	}{
		{`trim("  a b  ")`, "a b"},
		{`lower("ABC")`, "abc"},
		{`truncate("Ääbc", 2)`, "Ää"},
		{`tostring(parse_int(" 42 "))`, "42"},
		{`tostring(parse_int("x", -1))`, "-1"},
		{`get_name({["int_name"]="Intl"})`, "Intl"},
		{`tostring(get_name({}))`, "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if err := L.DoString("result = " + tt.expr); err != nil {
				t.Fatal(err)
			}
			if got := L.GetGlobal("result").String(); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}
