package dagtrack

import "math"

// facet is one triangle of a surface. n points out of the surface's forward volume.
type facet struct {
	v0, v1, v2 Point3
	n          Vector3
	area       Real
	surface    int // index into FacetGeometry.surfaces
	handle     Handle
	min, max   Point3
}

func newFacet(a, b, c Point3) facet {
	cr := b.Sub(a).Cross(c.Sub(a))
	l := cr.Len()
	f := facet{v0: a, v1: b, v2: c, area: 0.5 * l}
	if l > 0 {
		f.n = cr.Mul(1 / l)
	}
	f.min, f.max = aabbUnion(a, a, b, b)
	f.min, f.max = aabbUnion(f.min, f.max, c, c)
	// pad flat boxes so axis-aligned facets survive the slab test
	pad := Vector3{bumpShift, bumpShift, bumpShift}
	f.min, f.max = f.min.Add(pad.Mul(-1)), f.max.Add(pad)
	return f
}

// signedVolume6 is six times the signed volume of the tetrahedron (origin, v0, v1, v2).
func (f *facet) signedVolume6() Real {
	return f.v0.Vec().Dot(f.v1.Vec().Cross(f.v2.Vec()))
}

type facetHit struct {
	t     Real
	facet int // index into FacetGeometry.facets, -1 if none
	sense Real
}

var noHit = facetHit{t: math.Inf(1), facet: -1}

// intersectTriangle is a two-sided Möller–Trumbore test. Edges are inclusive.
func intersectTriangle(O Point3, D Vector3, f *facet) (Real, bool) {
	e1 := f.v1.Sub(f.v0)
	e2 := f.v2.Sub(f.v0)
	p := D.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < epsParal {
		return 0, false
	}
	inv := 1 / det
	s := O.Sub(f.v0)
	u := s.Dot(p) * inv
	if u < -triEdgeEps || u > 1+triEdgeEps {
		return 0, false
	}
	q := s.Cross(e1)
	v := D.Dot(q) * inv
	if v < -triEdgeEps || u+v > 1+triEdgeEps {
		return 0, false
	}
	return e2.Dot(q) * inv, true
}

// closestPointOnTriangle follows the Voronoi-region walk from Ericson's
// "Real-Time Collision Detection".
func closestPointOnTriangle(p Point3, f *facet) Point3 {
	a, b, c := f.v0, f.v1, f.v2
	ab, ac, ap := b.Sub(a), c.Sub(a), p.Sub(a)
	d1, d2 := ab.Dot(ap), ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}
	bp := p.Sub(b)
	d3, d4 := ab.Dot(bp), ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return a.Add(ab.Mul(d1 / (d1 - d3)))
	}
	cp := p.Sub(c)
	d5, d6 := ab.Dot(cp), ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return a.Add(ac.Mul(d2 / (d2 - d6)))
	}
	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		return b.Add(c.Sub(b).Mul((d4 - d3) / ((d4 - d3) + (d5 - d6))))
	}
	denom := 1 / (va + vb + vc)
	return a.Add(ab.Mul(vb * denom)).Add(ac.Mul(vc * denom))
}
