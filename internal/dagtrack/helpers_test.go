package dagtrack

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
)

func p3(x, y, z float64) Point3  { return Point3{X: x, Y: y, Z: z} }
func v3(x, y, z float64) Vector3 { return Vector3{X: x, Y: y, Z: z} }

func almostEq(a, b Real) bool { return math.Abs(a-b) < 1e-9 }

func bufLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewLogger("debug", "text", &buf)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log, &buf
}

// unitBox is a 2x2x2 box (volume ID 1, surface ID 1) centered at the origin
// with the implicit complement outside.
func unitBox(t *testing.T) *FacetGeometry {
	t.Helper()
	g := NewFacetGeometry()
	v, err := g.AddVolume(VolumeProps{ID: 1})
	if err != nil {
		t.Fatalf("add volume: %v", err)
	}
	tris, err := boxTriangles(p3(0, 0, 0), v3(2, 2, 2), Rot3{})
	if err != nil {
		t.Fatalf("box: %v", err)
	}
	if _, err := g.AddSurface(1, v, nil, tris, false); err != nil {
		t.Fatalf("add surface: %v", err)
	}
	g.Finalize()
	return g
}

// fireCall records what a ray fire saw.
type fireCall struct {
	before RayHistory
	limit  Real
	dir    Vector3
}

// fakeNav reports surface for every fire and records a fresh facet into the
// history when it does.
type fakeNav struct {
	calls   []fireCall
	surface Handle
	dist    Real
	fireErr error
	nextVol Handle
	nextErr error
	facets  int
}

func (f *fakeNav) RayFire(vol Handle, origin Point3, dir Vector3, h *RayHistory, limit Real) (RayHit, error) {
	f.calls = append(f.calls, fireCall{before: h.Clone(), limit: limit, dir: dir})
	if f.fireErr != nil {
		return RayHit{}, f.fireErr
	}
	if f.surface != 0 {
		f.facets++
		h.AddEntity(Handle(1000 + f.facets))
	}
	return RayHit{Surface: f.surface, Distance: f.dist, Stats: TraversalStats{RayTriTests: 3, NodesVisited: 2, LeavesVisited: 1}}, nil
}

func (f *fakeNav) NextVolume(surf, vol Handle) (Handle, error) {
	return f.nextVol, f.nextErr
}

func (f *fakeNav) last() fireCall { return f.calls[len(f.calls)-1] }

func hist(hs ...Handle) RayHistory {
	var h RayHistory
	for _, x := range hs {
		h.AddEntity(x)
	}
	return h
}
