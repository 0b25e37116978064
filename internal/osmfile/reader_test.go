package osmfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/osm"
)

const sortedXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="0.0" lon="0.0"/>
  <node id="2" lat="0.0" lon="1.0"/>
  <node id="3" lat="1.0" lon="1.0"/>
  <way id="10">
    <nd ref="1"/>
    <nd ref="2"/>
    <nd ref="3"/>
    <nd ref="1"/>
    <tag k="boundary" v="administrative"/>
  </way>
  <relation id="100">
    <member type="way" ref="10" role="outer"/>
    <tag k="type" v="boundary"/>
  </relation>
</osm>
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// recorder logs every callback in order
type recorder struct {
	events []string
}

func (r *recorder) Node(n *osm.Node) error { r.events = append(r.events, "node"); return nil }
func (r *recorder) Way(w *osm.Way) error   { r.events = append(r.events, "way"); return nil }
func (r *recorder) Relation(rel *osm.Relation) error {
	r.events = append(r.events, "relation")
	return nil
}
func (r *recorder) AfterNodes() error     { r.events = append(r.events, "|nodes"); return nil }
func (r *recorder) AfterWays() error      { r.events = append(r.events, "|ways"); return nil }
func (r *recorder) AfterRelations() error { r.events = append(r.events, "|relations"); return nil }

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"planet.osm.pbf", FormatPBF, false},
		{"EXTRACT.PBF", FormatPBF, false},
		{"small.osm", FormatXML, false},
		{"small.xml", FormatXML, false},
		{"data.o5m", 0, true},
		{"boundaries.geojson", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.osm")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadPhases(t *testing.T) {
	r, err := Open(writeFixture(t, "sorted.osm", sortedXML))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tests := []struct {
		name  string
		kinds Kinds
		want  string
	}{
		{"all kinds", AllKinds, "node node node |nodes way |ways relation |relations"},
		{"relations only", RelationsOnly, "|nodes |ways relation |relations"},
		{"nodes and ways", Kinds{Nodes: true, Ways: true}, "node node node |nodes way |ways |relations"},
	}

	// each subtest rereads the same file from the start
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			if err := r.Read(context.Background(), rec, tt.kinds); err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if got := strings.Join(rec.events, " "); got != tt.want {
				t.Errorf("events = %q, want %q", got, tt.want)
			}
			if r.Scanned() != r.Size() {
				t.Errorf("scanned %d of %d bytes", r.Scanned(), r.Size())
			}
		})
	}
}

func TestReadEmptyStreamFiresAllHooks(t *testing.T) {
	r, err := Open(writeFixture(t, "empty.osm", `<?xml version="1.0"?><osm version="0.6"></osm>`))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rec := &recorder{}
	if err := r.Read(context.Background(), rec, AllKinds); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(rec.events, " "); got != "|nodes |ways |relations" {
		t.Errorf("events = %q", got)
	}
}

func TestReadUnsorted(t *testing.T) {
	const unsorted = `<?xml version="1.0"?>
<osm version="0.6">
  <node id="1" lat="0" lon="0"/>
  <way id="10"><nd ref="1"/></way>
  <node id="2" lat="1" lon="1"/>
</osm>`

	r, err := Open(writeFixture(t, "unsorted.osm", unsorted))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	err = r.Read(context.Background(), &recorder{}, AllKinds)
	if !errors.Is(err, ErrUnsortedInput) {
		t.Errorf("expected ErrUnsortedInput, got %v", err)
	}
}

type failingHandler struct{ recorder }

var errBoom = errors.New("boom")

func (f *failingHandler) Way(w *osm.Way) error { return errBoom }

func TestReadHandlerErrorAborts(t *testing.T) {
	r, err := Open(writeFixture(t, "sorted.osm", sortedXML))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h := &failingHandler{}
	err = r.Read(context.Background(), h, AllKinds)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if !strings.Contains(err.Error(), "way 10") {
		t.Errorf("error should name the way: %v", err)
	}
	for _, e := range h.events {
		if e == "relation" {
			t.Error("relations must not be delivered after an aborted pass")
		}
	}
}
