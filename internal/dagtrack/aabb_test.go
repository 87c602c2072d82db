package dagtrack

import "testing"

func TestRayAABB_Basics(t *testing.T) {
	minP, maxP := p3(-1, -1, -1), p3(1, 1, 1)
	rr := computeRayRecips(v3(1, 0, 0))
	if !rr.parY || !rr.parZ || rr.parX {
		t.Fatalf("parallel flags: %+v", rr)
	}
	ok, tmin := rayAABB(p3(-5, 0, 0), minP, maxP, rr)
	if !ok || !almostEq(tmin, 4) {
		t.Fatalf("entry: ok=%v t=%g", ok, tmin)
	}
	if ok, _ := rayAABB(p3(-5, 2, 0), minP, maxP, rr); ok {
		t.Fatalf("parallel ray outside the slab must miss")
	}
	if ok, _ := rayAABB(p3(5, 0, 0), minP, maxP, rr); ok {
		t.Fatalf("box behind the ray must miss")
	}
	// origin inside: entry is negative
	if ok, tmin := rayAABB(p3(0, 0, 0), minP, maxP, rr); !ok || tmin >= 0 {
		t.Fatalf("inside: ok=%v t=%g", ok, tmin)
	}
}

func TestAABBUnionAndDist(t *testing.T) {
	uMin, uMax := aabbUnion(p3(0, 0, 0), p3(1, 2, 3), p3(-1, 1, 2), p3(2, 1.5, 3.5))
	if uMin != p3(-1, 0, 0) || uMax != p3(2, 2, 3.5) {
		t.Fatalf("union: %+v %+v", uMin, uMax)
	}
	if d := aabbDist2(p3(0.5, 0.5, 0.5), p3(0, 0, 0), p3(1, 1, 1)); d != 0 {
		t.Fatalf("inside distance %g", d)
	}
	if d := aabbDist2(p3(3, 0.5, -1), p3(0, 0, 0), p3(1, 1, 1)); !almostEq(d, 5) {
		t.Fatalf("outside distance %g", d)
	}
}
