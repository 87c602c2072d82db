package dagtrack

// Handle identifies a geometric entity (volume, surface or facet). 0 means none.
type Handle uint64

// Dimension of a geometric entity, as used by 1-based index lookups.
type Dimension int

const (
	DimSurface Dimension = 2
	DimVolume  Dimension = 3
)

// Classification of a point relative to a volume.
type Classification int

const (
	Outside Classification = iota
	Inside
	OnBoundary
)

func (c Classification) String() string {
	switch c {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	case OnBoundary:
		return "on_boundary"
	}
	return "unknown"
}

// TraversalStats counts spatial-tree work done by one ray query.
type TraversalStats struct {
	RayTriTests   int
	NodesVisited  int
	LeavesVisited int
}

// RayHit is the result of a ray fire. Surface is 0 when nothing was found
// within the limit.
type RayHit struct {
	Surface  Handle
	Distance Real
	Stats    TraversalStats
}

// Navigator is the part of the geometry engine the history cache depends on.
type Navigator interface {
	// RayFire finds the nearest surface the ray leaves vol through, ignoring
	// facets in history and recording the hit facet into it. limit <= 0 disables
	// the distance limit.
	RayFire(vol Handle, origin Point3, dir Vector3, history *RayHistory, limit Real) (RayHit, error)
	// NextVolume returns the volume on the other side of surf as seen from vol.
	NextVolume(surf, vol Handle) (Handle, error)
}

// Geometry is the full set of queries consumed by the host-facing Bridge.
type Geometry interface {
	Navigator
	PointInVolume(vol Handle, p Point3, dir Vector3) (Classification, error)
	// TestVolumeBoundary decides whether a point on surf moving along dir enters vol.
	TestVolumeBoundary(vol, surf Handle, p Point3, dir Vector3, history *RayHistory) (Classification, error)
	ClosestToLocation(vol Handle, p Point3) (Real, error)
	SurfaceNormal(surf Handle, p Point3, history *RayHistory) (Vector3, error)
	MeasureVolume(vol Handle) (Real, error)
	MeasureArea(surf Handle) (Real, error)
	NumEntities(dim Dimension) int
	EntityByIndex(dim Dimension, index int) Handle
	IndexByHandle(h Handle) int
	IDByIndex(dim Dimension, index int) int
	OverlapThickness() Real
	SetOverlapThickness(t Real)
	FacetTolerance() Real
}
