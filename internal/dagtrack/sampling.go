package dagtrack

import (
	"math"
	"math/rand"
)

// sampleIsotropic returns a uniform unit direction on S^2 (Marsaglia).
func sampleIsotropic(rng *rand.Rand) Vector3 {
	for {
		u := 2*rng.Float64() - 1
		v := 2*rng.Float64() - 1
		s := u*u + v*v
		if s > 0 && s < 1 {
			f := 2 * math.Sqrt(1-s)
			return Vector3{u * f, v * f, 1 - 2*s} // already unit
		}
	}
}

// sampleDistance draws an exponential flight length with the given mean.
// A non-positive mean is a void: +Inf.
func sampleDistance(mfp Real, rng *rand.Rand) Real {
	if mfp <= 0 {
		return math.Inf(1)
	}
	return -mfp * math.Log(1-rng.Float64())
}
