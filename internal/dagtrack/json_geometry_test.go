package dagtrack

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGeometryCfgBuildNested(t *testing.T) {
	gc := GeometryCfg{Cells: []CellCfg{
		{ID: 3, Shape: "sphere", Radius: 1, Parent: 2, Importance: 4},
		{ID: 1, Size: v3(20, 20, 20), Graveyard: true},
		{ID: 2, Size: v3(10, 10, 10), Parent: 1, MFP: 5},
	}}
	g, err := gc.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.NumEntities(DimVolume) != 4 || g.NumEntities(DimSurface) != 3 {
		t.Fatalf("want 4 volumes and 3 surfaces, got %d/%d", g.NumEntities(DimVolume), g.NumEntities(DimSurface))
	}
	if id := g.IDByIndex(DimVolume, 4); id != 4 {
		t.Fatalf("implicit complement id %d", id)
	}
	// the sphere's outside is cell 2
	surf := g.EntityByIndex(DimSurface, 1)
	if n, _ := g.NextVolume(surf, g.EntityByIndex(DimVolume, 1)); n != g.EntityByIndex(DimVolume, 3) {
		t.Fatalf("sphere surface does not lead to its parent")
	}
	p, _ := g.VolumeProps(g.EntityByIndex(DimVolume, 3))
	if p.ID != 2 || p.MeanFreePath != 5 || p.Importance != 1 {
		t.Fatalf("cell 2 props: %+v", p)
	}
	// the middle cell excludes the sphere
	if c, _ := g.PointInVolume(g.EntityByIndex(DimVolume, 3), p3(0, 0, 0), Vector3{}); c != Outside {
		t.Fatalf("sphere center reported in cell 2: %v", c)
	}
	if c, _ := g.PointInVolume(g.EntityByIndex(DimVolume, 3), p3(3, 0, 0), Vector3{}); c != Inside {
		t.Fatalf("cell 2 point not inside: %v", c)
	}
	v, _ := g.MeasureVolume(g.EntityByIndex(DimVolume, 3))
	if want := 1000 - 4.0/3*math.Pi; math.Abs(v-want) > 0.5 {
		t.Fatalf("cell 2 volume %g, want ~%g", v, want)
	}
}

func TestGeometryCfgBuildErrors(t *testing.T) {
	box := func(id, parent int) CellCfg { return CellCfg{ID: id, Size: v3(1, 1, 1), Parent: parent} }
	cases := []struct {
		name string
		gc   GeometryCfg
		want string
	}{
		{"empty", GeometryCfg{}, "no cells"},
		{"bad id", GeometryCfg{Cells: []CellCfg{box(0, 0)}}, "id must be >0"},
		{"duplicate", GeometryCfg{Cells: []CellCfg{box(1, 0), box(1, 0)}}, "duplicate cell id"},
		{"unknown parent", GeometryCfg{Cells: []CellCfg{box(1, 7)}}, "unknown parent"},
		{"cycle", GeometryCfg{Cells: []CellCfg{box(1, 2), box(2, 1)}}, "parent cycle"},
		{"negative mfp", GeometryCfg{Cells: []CellCfg{{ID: 1, Size: v3(1, 1, 1), MFP: -1}}}, "must be >=0"},
		{"flat box", GeometryCfg{Cells: []CellCfg{{ID: 1, Size: v3(1, 0, 1)}}}, "box size"},
		{"no radius", GeometryCfg{Cells: []CellCfg{{ID: 1, Shape: "sphere"}}}, "radius"},
		{"shape", GeometryCfg{Cells: []CellCfg{{ID: 1, Shape: "torus"}}}, "unknown shape"},
	}
	for _, c := range cases {
		_, err := c.gc.Build()
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: got %v, want error containing %q", c.name, err, c.want)
		}
	}
}

func TestLoadGeometry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.json")
	js := `{"cells":[{"id":5,"shape":"box","center":{"X":1,"Y":0,"Z":0},"size":{"X":2,"Y":2,"Z":2},"rotDeg":{"xy":30},"reflect":true}]}`
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := LoadGeometry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !g.Reflecting(g.EntityByIndex(DimSurface, 1)) {
		t.Fatalf("reflect flag lost")
	}
	if v, _ := g.MeasureVolume(g.EntityByIndex(DimVolume, 1)); !almostEq(v, 8) {
		t.Fatalf("rotated box volume %g", v)
	}
	if c, _ := g.PointInVolume(g.EntityByIndex(DimVolume, 1), p3(1, 0, 0), Vector3{}); c != Inside {
		t.Fatalf("center not inside: %v", c)
	}
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadGeometry(path); err == nil || !strings.Contains(err.Error(), "parse geometry") {
		t.Fatalf("bad json: %v", err)
	}
	if _, err := LoadGeometry(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestRot3DegRadians(t *testing.T) {
	r := Rot3Deg{XY: 180, XZ: 90, YZ: -45}.Radians()
	if !almostEq(r.XY, math.Pi) || !almostEq(r.XZ, math.Pi/2) || !almostEq(r.YZ, -math.Pi/4) {
		t.Fatalf("radians: %+v", r)
	}
}
