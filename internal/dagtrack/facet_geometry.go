package dagtrack

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// VolumeProps carries the per-volume properties a transport host reads.
type VolumeProps struct {
	ID                 int
	Importance         Real
	MeanFreePath       Real // 0 ⇒ void
	Graveyard          bool
	ImplicitComplement bool
}

// Volume is a region bounded by surfaces.
type Volume struct {
	VolumeProps
	Handle   Handle
	surfaces []int
}

// Surface is a set of facets separating its forward volume (facet normals
// point out of it) from its reverse volume.
type Surface struct {
	ID         int
	Handle     Handle
	Reflecting bool
	forward    int // volume index, -1 none
	reverse    int
	facets     []int
}

// FacetGeometry is a triangulated geometry engine. Build it with AddVolume and
// AddSurface, then call Finalize; afterwards all queries are safe for
// concurrent use.
type FacetGeometry struct {
	volumes  []*Volume
	surfaces []*Surface
	facets   []facet
	overlap  atomic.Uint64 // float64 bits
	facetTol Real
	final    bool

	// lazily built per-volume BVH, keyed by volume index
	bvhCache sync.Map // map[int]*FacetNode
}

const (
	kindFacet   = 1
	kindSurface = 2
	kindVolume  = 3
)

func makeHandle(kind, index int) Handle { return Handle(uint64(kind)<<32 | uint64(index+1)) }

func splitHandle(h Handle) (kind, index int) {
	return int(uint64(h) >> 32), int(uint64(h)&0xffffffff) - 1
}

// NewFacetGeometry returns an empty geometry.
func NewFacetGeometry() *FacetGeometry {
	return &FacetGeometry{facetTol: DefaultFacetTol}
}

// AddVolume registers a volume with the given user-facing ID.
func (g *FacetGeometry) AddVolume(props VolumeProps) (*Volume, error) {
	if g.final {
		return nil, fmt.Errorf("geometry already finalized")
	}
	for _, v := range g.volumes {
		if v.ID == props.ID {
			return nil, fmt.Errorf("duplicate volume id %d", props.ID)
		}
	}
	if props.Importance == 0 {
		props.Importance = DefaultImportance
	}
	v := &Volume{VolumeProps: props, Handle: makeHandle(kindVolume, len(g.volumes))}
	g.volumes = append(g.volumes, v)
	return v, nil
}

// AddSurface registers a surface made of triangles whose vertex order points
// their normals out of forward. A nil reverse is bound to the implicit
// complement at Finalize.
func (g *FacetGeometry) AddSurface(id int, forward, reverse *Volume, tris [][3]Point3, reflecting bool) (*Surface, error) {
	if g.final {
		return nil, fmt.Errorf("geometry already finalized")
	}
	if forward == nil {
		return nil, fmt.Errorf("surface %d has no forward volume", id)
	}
	if forward == reverse {
		return nil, fmt.Errorf("surface %d has the same volume on both sides", id)
	}
	for _, s := range g.surfaces {
		if s.ID == id {
			return nil, fmt.Errorf("duplicate surface id %d", id)
		}
	}
	si := len(g.surfaces)
	s := &Surface{ID: id, Handle: makeHandle(kindSurface, si), Reflecting: reflecting, forward: g.volumeIdx(forward), reverse: -1}
	if reverse != nil {
		s.reverse = g.volumeIdx(reverse)
	}
	if s.forward < 0 || (reverse != nil && s.reverse < 0) {
		return nil, fmt.Errorf("surface %d references a volume of another geometry", id)
	}
	for _, t := range tris {
		f := newFacet(t[0], t[1], t[2])
		if f.area <= 0 {
			continue
		}
		f.surface = si
		f.handle = makeHandle(kindFacet, len(g.facets))
		s.facets = append(s.facets, len(g.facets))
		g.facets = append(g.facets, f)
	}
	if len(s.facets) == 0 {
		return nil, fmt.Errorf("surface %d has no non-degenerate facets", id)
	}
	g.surfaces = append(g.surfaces, s)
	g.volumes[s.forward].surfaces = append(g.volumes[s.forward].surfaces, si)
	if s.reverse >= 0 {
		g.volumes[s.reverse].surfaces = append(g.volumes[s.reverse].surfaces, si)
	}
	return s, nil
}

// Finalize creates the implicit complement (ID one above the largest volume
// ID) for every surface without a reverse volume and freezes the geometry.
func (g *FacetGeometry) Finalize() {
	if g.final {
		return
	}
	open := false
	for _, s := range g.surfaces {
		if s.reverse < 0 {
			open = true
			break
		}
	}
	if open {
		maxID := 0
		for _, v := range g.volumes {
			if v.ID > maxID {
				maxID = v.ID
			}
		}
		ic, _ := g.AddVolume(VolumeProps{ID: maxID + 1, ImplicitComplement: true})
		ici := len(g.volumes) - 1
		for si, s := range g.surfaces {
			if s.reverse < 0 {
				s.reverse = ici
				ic.surfaces = append(ic.surfaces, si)
			}
		}
	}
	g.final = true
}

func (g *FacetGeometry) volumeIdx(v *Volume) int {
	for i, x := range g.volumes {
		if x == v {
			return i
		}
	}
	return -1
}

func (g *FacetGeometry) volumeIndex(h Handle) (int, error) {
	kind, i := splitHandle(h)
	if kind != kindVolume || i < 0 || i >= len(g.volumes) {
		return -1, fmt.Errorf("invalid volume handle %#x", uint64(h))
	}
	return i, nil
}

func (g *FacetGeometry) surfaceIndex(h Handle) (int, error) {
	kind, i := splitHandle(h)
	if kind != kindSurface || i < 0 || i >= len(g.surfaces) {
		return -1, fmt.Errorf("invalid surface handle %#x", uint64(h))
	}
	return i, nil
}

func (g *FacetGeometry) getOrBuildBVH(vi int) *FacetNode {
	if v, ok := g.bvhCache.Load(vi); ok {
		return v.(*FacetNode)
	}
	var objs []bvhLeaf
	for _, si := range g.volumes[vi].surfaces {
		s := g.surfaces[si]
		sense := Real(1)
		if s.forward != vi {
			sense = -1
		}
		for _, fi := range s.facets {
			f := &g.facets[fi]
			objs = append(objs, bvhLeaf{min: f.min, max: f.max, facet: fi, sense: sense})
		}
	}
	root := buildBVH(objs)
	v, _ := g.bvhCache.LoadOrStore(vi, root)
	return v.(*FacetNode)
}

// RayFire implements Navigator.
func (g *FacetGeometry) RayFire(vol Handle, origin Point3, dir Vector3, history *RayHistory, limit Real) (RayHit, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return RayHit{}, err
	}
	if dir.Dot(dir) == 0 {
		return RayHit{}, fmt.Errorf("ray fire with zero direction in volume %d", g.volumes[vi].ID)
	}
	if !isFinite(origin.X) || !isFinite(origin.Y) || !isFinite(origin.Z) {
		return RayHit{}, fmt.Errorf("ray fire from non-finite point %+v in volume %d", origin, g.volumes[vi].ID)
	}
	tMax := math.Inf(1)
	if limit > 0 {
		tMax = limit
	}
	var stats TraversalStats
	hit := traverseNearest(g.getOrBuildBVH(vi), g.facets, origin, dir, rmax(epsDist, g.OverlapThickness()), tMax, history, true, &stats)
	if hit.facet < 0 {
		return RayHit{Stats: stats}, nil
	}
	f := &g.facets[hit.facet]
	if history != nil {
		history.AddEntity(f.handle)
	}
	return RayHit{Surface: g.surfaces[f.surface].Handle, Distance: hit.t, Stats: stats}, nil
}

// NextVolume implements Navigator.
func (g *FacetGeometry) NextVolume(surf, vol Handle) (Handle, error) {
	si, err := g.surfaceIndex(surf)
	if err != nil {
		return 0, err
	}
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return 0, err
	}
	s := g.surfaces[si]
	next := -1
	switch vi {
	case s.forward:
		next = s.reverse
	case s.reverse:
		next = s.forward
	default:
		return 0, fmt.Errorf("volume %d is not bounded by surface %d", g.volumes[vi].ID, s.ID)
	}
	if next < 0 {
		return 0, fmt.Errorf("surface %d has no volume opposite volume %d", s.ID, g.volumes[vi].ID)
	}
	return g.volumes[next].Handle, nil
}

// probeDir is used by PointInVolume when the caller has no direction.
var probeDir = Vector3{0.48, 0.6, 0.64}

// PointInVolume classifies p by the orientation of the nearest facet along dir.
func (g *FacetGeometry) PointInVolume(vol Handle, p Point3, dir Vector3) (Classification, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return Outside, err
	}
	root := g.getOrBuildBVH(vi)
	if d, _ := traverseClosest(root, g.facets, p); d <= epsDist {
		return OnBoundary, nil
	}
	if dir.Dot(dir) == 0 {
		dir = probeDir
	}
	var stats TraversalStats
	hit := traverseNearest(root, g.facets, p, dir, 0, math.Inf(1), nil, false, &stats)
	if hit.facet < 0 {
		if g.volumes[vi].ImplicitComplement {
			return Inside, nil
		}
		return Outside, nil
	}
	if g.facets[hit.facet].n.Dot(dir)*hit.sense > 0 {
		return Inside, nil
	}
	return Outside, nil
}

// TestVolumeBoundary decides on which side of surf a particle at p moving along
// dir ends up: Inside when it moves into vol.
func (g *FacetGeometry) TestVolumeBoundary(vol, surf Handle, p Point3, dir Vector3, history *RayHistory) (Classification, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return Outside, err
	}
	si, err := g.surfaceIndex(surf)
	if err != nil {
		return Outside, err
	}
	s := g.surfaces[si]
	sense := Real(1)
	switch vi {
	case s.forward:
	case s.reverse:
		sense = -1
	default:
		return Outside, fmt.Errorf("volume %d is not bounded by surface %d", g.volumes[vi].ID, s.ID)
	}
	n, err := g.SurfaceNormal(surf, p, history)
	if err != nil {
		return Outside, err
	}
	if n.Dot(dir)*sense < 0 {
		return Inside, nil
	}
	return Outside, nil
}

// ClosestToLocation returns the distance from p to the nearest boundary of vol.
func (g *FacetGeometry) ClosestToLocation(vol Handle, p Point3) (Real, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return 0, err
	}
	d, fi := traverseClosest(g.getOrBuildBVH(vi), g.facets, p)
	if fi < 0 {
		return 0, fmt.Errorf("volume %d has no boundary facets", g.volumes[vi].ID)
	}
	return d, nil
}

// SurfaceNormal returns the forward-sense unit normal of surf near p. The last
// facet in history is used when it belongs to surf.
func (g *FacetGeometry) SurfaceNormal(surf Handle, p Point3, history *RayHistory) (Vector3, error) {
	si, err := g.surfaceIndex(surf)
	if err != nil {
		return Vector3{}, err
	}
	if history != nil {
		if last, ok := history.LastIntersection(); ok {
			if kind, fi := splitHandle(last); kind == kindFacet && fi >= 0 && fi < len(g.facets) && g.facets[fi].surface == si {
				return g.facets[fi].n, nil
			}
		}
	}
	best2, bestF := math.Inf(1), -1
	for _, fi := range g.surfaces[si].facets {
		d := p.Sub(closestPointOnTriangle(p, &g.facets[fi]))
		if d2 := d.Dot(d); d2 < best2 {
			best2, bestF = d2, fi
		}
	}
	return g.facets[bestF].n, nil
}

// MeasureVolume uses the divergence theorem over sense-signed boundary facets.
// The implicit complement measures negative.
func (g *FacetGeometry) MeasureVolume(vol Handle) (Real, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, si := range g.volumes[vi].surfaces {
		s := g.surfaces[si]
		sense := Real(1)
		if s.forward != vi {
			sense = -1
		}
		for _, fi := range s.facets {
			sum += sense * g.facets[fi].signedVolume6()
		}
	}
	return sum / 6, nil
}

// MeasureArea sums facet areas.
func (g *FacetGeometry) MeasureArea(surf Handle) (Real, error) {
	si, err := g.surfaceIndex(surf)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, fi := range g.surfaces[si].facets {
		sum += g.facets[fi].area
	}
	return sum, nil
}

func (g *FacetGeometry) NumEntities(dim Dimension) int {
	switch dim {
	case DimVolume:
		return len(g.volumes)
	case DimSurface:
		return len(g.surfaces)
	}
	return 0
}

// EntityByIndex maps a 1-based index to a handle; 0 when out of range.
func (g *FacetGeometry) EntityByIndex(dim Dimension, index int) Handle {
	i := index - 1
	switch dim {
	case DimVolume:
		if i >= 0 && i < len(g.volumes) {
			return g.volumes[i].Handle
		}
	case DimSurface:
		if i >= 0 && i < len(g.surfaces) {
			return g.surfaces[i].Handle
		}
	}
	return 0
}

// IndexByHandle is the inverse of EntityByIndex; 0 for unknown handles.
func (g *FacetGeometry) IndexByHandle(h Handle) int {
	kind, i := splitHandle(h)
	switch kind {
	case kindVolume:
		if i >= 0 && i < len(g.volumes) {
			return i + 1
		}
	case kindSurface:
		if i >= 0 && i < len(g.surfaces) {
			return i + 1
		}
	}
	return 0
}

// IDByIndex returns the user-facing ID of the entity at a 1-based index, 0 if none.
func (g *FacetGeometry) IDByIndex(dim Dimension, index int) int {
	if v := g.VolumeByHandle(g.EntityByIndex(dim, index)); v != nil {
		return v.ID
	}
	if s := g.SurfaceByHandle(g.EntityByIndex(dim, index)); s != nil {
		return s.ID
	}
	return 0
}

func (g *FacetGeometry) OverlapThickness() Real {
	return math.Float64frombits(g.overlap.Load())
}

func (g *FacetGeometry) SetOverlapThickness(t Real) {
	if t < 0 {
		t = 0
	}
	g.overlap.Store(math.Float64bits(t))
}

func (g *FacetGeometry) FacetTolerance() Real { return g.facetTol }

// VolumeByHandle returns nil for anything that is not a volume of g.
func (g *FacetGeometry) VolumeByHandle(h Handle) *Volume {
	if vi, err := g.volumeIndex(h); err == nil {
		return g.volumes[vi]
	}
	return nil
}

// SurfaceByHandle returns nil for anything that is not a surface of g.
func (g *FacetGeometry) SurfaceByHandle(h Handle) *Surface {
	if si, err := g.surfaceIndex(h); err == nil {
		return g.surfaces[si]
	}
	return nil
}

// VolumeProps implements TransportGeometry.
func (g *FacetGeometry) VolumeProps(vol Handle) (VolumeProps, bool) {
	if v := g.VolumeByHandle(vol); v != nil {
		return v.VolumeProps, true
	}
	return VolumeProps{}, false
}

// Reflecting implements TransportGeometry.
func (g *FacetGeometry) Reflecting(surf Handle) bool {
	if s := g.SurfaceByHandle(surf); s != nil {
		return s.Reflecting
	}
	return false
}

// ImplicitComplement returns the handle of the outside volume, 0 before Finalize
// or when every surface is closed off.
func (g *FacetGeometry) ImplicitComplement() Handle {
	for _, v := range g.volumes {
		if v.ImplicitComplement {
			return v.Handle
		}
	}
	return 0
}
