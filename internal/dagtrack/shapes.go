package dagtrack

import (
	"fmt"
	"math"
)

// boxQuads lists the six faces of a unit box by corner bits (x=1, y=2, z=4),
// counter-clockwise seen from outside.
var boxQuads = [6][4]int{
	{0, 4, 6, 2}, // -X
	{1, 3, 7, 5}, // +X
	{0, 1, 5, 4}, // -Y
	{2, 6, 7, 3}, // +Y
	{0, 2, 3, 1}, // -Z
	{4, 5, 7, 6}, // +Z
}

// boxTriangles returns 12 outward-facing triangles of a box with full extents
// size, rotated by rot about its center.
func boxTriangles(center Point3, size Vector3, rot Rot3) ([][3]Point3, error) {
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return nil, fmt.Errorf("box size must be >0 on all axes, got %+v", size)
	}
	R := rotFromAngles(rot)
	var corners [8]Point3
	for i := range corners {
		local := Vector3{-size.X / 2, -size.Y / 2, -size.Z / 2}
		if i&1 != 0 {
			local.X = size.X / 2
		}
		if i&2 != 0 {
			local.Y = size.Y / 2
		}
		if i&4 != 0 {
			local.Z = size.Z / 2
		}
		if !rot.isZero() {
			local = R.MulVec(local)
		}
		corners[i] = center.Add(local)
	}
	tris := make([][3]Point3, 0, 12)
	for _, q := range boxQuads {
		a, b, c, d := corners[q[0]], corners[q[1]], corners[q[2]], corners[q[3]]
		tris = append(tris, [3]Point3{a, b, c}, [3]Point3{a, c, d})
	}
	return tris, nil
}

// sphereTriangles returns an outward-facing UV sphere with segs slices and
// segs/2 stacks. Pole caps are fans, so the mesh is closed.
func sphereTriangles(center Point3, radius Real, segs int, rot Rot3) ([][3]Point3, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("sphere radius must be >0, got %g", radius)
	}
	if segs < 4 {
		segs = 4
	}
	nu, nv := segs, segs/2
	R := rotFromAngles(rot)
	vert := func(i, j int) Point3 {
		var local Vector3
		switch j {
		case 0:
			local = Vector3{0, 0, radius}
		case nv:
			local = Vector3{0, 0, -radius}
		default:
			th := math.Pi * Real(j) / Real(nv)
			ph := 2 * math.Pi * Real(i%nu) / Real(nu)
			local = Vector3{radius * math.Sin(th) * math.Cos(ph), radius * math.Sin(th) * math.Sin(ph), radius * math.Cos(th)}
		}
		if !rot.isZero() {
			local = R.MulVec(local)
		}
		return center.Add(local)
	}
	tris := make([][3]Point3, 0, 2*nu*nv)
	for j := 0; j < nv; j++ {
		for i := 0; i < nu; i++ {
			p00, p10 := vert(i, j), vert(i+1, j)
			p01, p11 := vert(i, j+1), vert(i+1, j+1)
			if j > 0 {
				tris = append(tris, [3]Point3{p00, p11, p10})
			}
			if j < nv-1 {
				tris = append(tris, [3]Point3{p00, p01, p11})
			}
		}
	}
	return tris, nil
}
