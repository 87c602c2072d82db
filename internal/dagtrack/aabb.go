package dagtrack

type rayRecips struct {
	invX, invY, invZ Real
	parX, parY, parZ bool // parallel flags (|D| < eps)
}

func rayAABB(O Point3, minP, maxP Point3, rr rayRecips) (bool, Real) {
	tmin, tmax := -1e300, 1e300

	// X
	if !rr.parX {
		t1 := (minP.X - O.X) * rr.invX
		t2 := (maxP.X - O.X) * rr.invX
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	} else if O.X < minP.X || O.X > maxP.X {
		return false, 0
	}

	// Y
	if !rr.parY {
		t1 := (minP.Y - O.Y) * rr.invY
		t2 := (maxP.Y - O.Y) * rr.invY
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	} else if O.Y < minP.Y || O.Y > maxP.Y {
		return false, 0
	}

	// Z
	if !rr.parZ {
		t1 := (minP.Z - O.Z) * rr.invZ
		t2 := (maxP.Z - O.Z) * rr.invZ
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
	} else if O.Z < minP.Z || O.Z > maxP.Z {
		return false, 0
	}

	if tmax < 0 || tmin > tmax {
		return false, 0
	}
	return true, tmin
}

func computeRayRecips(d Vector3) rayRecips {
	rr := rayRecips{}
	if x := d.X; x > epsParal || x < -epsParal {
		rr.invX = 1 / x
	} else {
		rr.parX = true
	}
	if y := d.Y; y > epsParal || y < -epsParal {
		rr.invY = 1 / y
	} else {
		rr.parY = true
	}
	if z := d.Z; z > epsParal || z < -epsParal {
		rr.invZ = 1 / z
	} else {
		rr.parZ = true
	}
	return rr
}

func aabbUnion(aMin, aMax, bMin, bMax Point3) (Point3, Point3) {
	return Point3{
			rmin(aMin.X, bMin.X),
			rmin(aMin.Y, bMin.Y),
			rmin(aMin.Z, bMin.Z),
		}, Point3{
			rmax(aMax.X, bMax.X),
			rmax(aMax.Y, bMax.Y),
			rmax(aMax.Z, bMax.Z),
		}
}

// aabbDist2 is the squared distance from p to the box (0 inside).
func aabbDist2(p, minP, maxP Point3) Real {
	d := 0.0
	axis := func(v, lo, hi Real) {
		if v < lo {
			d += (lo - v) * (lo - v)
		} else if v > hi {
			d += (v - hi) * (v - hi)
		}
	}
	axis(p.X, minP.X, maxP.X)
	axis(p.Y, minP.Y, maxP.Y)
	axis(p.Z, minP.Z, maxP.Z)
	return d
}
