package dagtrack

import (
	"math"
	"sort"
)

type bvhLeaf struct {
	min, max Point3
	facet    int  // index into FacetGeometry.facets
	sense    Real // +1 when the owning volume is the facet's forward side, -1 otherwise
}

type FacetNode struct {
	min, max Point3
	left     *FacetNode
	right    *FacetNode
	leafObjs []bvhLeaf // non-nil ⇒ leaf
}

func buildBVH(objs []bvhLeaf) *FacetNode {
	return buildBVHRec(objs, 0)
}

func buildBVHRec(objs []bvhLeaf, depth int) *FacetNode {
	n := len(objs)
	if n == 0 {
		return nil
	}
	if n <= BVHMaxLeafSize {
		minP, maxP := objs[0].min, objs[0].max
		for i := 1; i < n; i++ {
			minP, maxP = aabbUnion(minP, maxP, objs[i].min, objs[i].max)
		}
		return &FacetNode{min: minP, max: maxP, leafObjs: objs}
	}

	// Union bounds and centroid spreads
	minP, maxP := objs[0].min, objs[0].max
	cmin := [3]Real{centroid(objs[0].min.X, objs[0].max.X), centroid(objs[0].min.Y, objs[0].max.Y), centroid(objs[0].min.Z, objs[0].max.Z)}
	cmax := cmin
	for i := 1; i < n; i++ {
		minP, maxP = aabbUnion(minP, maxP, objs[i].min, objs[i].max)
		for axis := 0; axis < 3; axis++ {
			c := getCentroidAxis(objs[i], axis)
			if c < cmin[axis] {
				cmin[axis] = c
			}
			if c > cmax[axis] {
				cmax[axis] = c
			}
		}
	}
	spread := [3]Real{cmax[0] - cmin[0], cmax[1] - cmin[1], cmax[2] - cmin[2]}
	axis := 0
	if spread[1] > spread[axis] {
		axis = 1
	}
	if spread[2] > spread[axis] {
		axis = 2
	}

	// If all centroids coincide (degenerate), fall back to longest box extent axis.
	if spread[axis] <= 1e-18 {
		ext := [3]Real{maxP.X - minP.X, maxP.Y - minP.Y, maxP.Z - minP.Z}
		axis = 0
		if ext[1] > ext[axis] {
			axis = 1
		}
		if ext[2] > ext[axis] {
			axis = 2
		}
	}

	// Sort by chosen centroid axis, split at median
	sort.SliceStable(objs, func(i, j int) bool {
		return getCentroidAxis(objs[i], axis) < getCentroidAxis(objs[j], axis)
	})
	mid := n / 2
	left := buildBVHRec(objs[:mid], depth+1)
	right := buildBVHRec(objs[mid:], depth+1)

	return &FacetNode{min: minP, max: maxP, left: left, right: right}
}

func centroid(a, b Real) Real { return (a + b) * 0.5 }

func getCentroidAxis(o bvhLeaf, axis int) Real {
	switch axis {
	case 0:
		return centroid(o.min.X, o.max.X)
	case 1:
		return centroid(o.min.Y, o.max.Y)
	default:
		return centroid(o.min.Z, o.max.Z)
	}
}

// Nearest-hit traversal (iterative, stack-based). Prunes by current best t.
// Facets present in history are skipped. With exitOnly, only facets the ray
// leaves the volume through are accepted. Hits up to back behind the origin
// count as t=0.
func traverseNearest(root *FacetNode, facets []facet, O Point3, D Vector3, back, tMax Real, history *RayHistory, exitOnly bool, stats *TraversalStats) facetHit {
	if root == nil {
		return noHit
	}
	bestT := tMax
	best := noHit
	rr := computeRayRecips(D)
	// boxes are tested from the backed-off origin so overlap hits survive culling
	bO := O.Add(D.Mul(-back))
	box := func(n *FacetNode) (bool, Real) {
		ok, t := rayAABB(bO, n.min, n.max, rr)
		return ok, t - back
	}

	stack := []*FacetNode{root}
	for len(stack) > 0 {
		// pop
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ok, tmin := box(n)
		if !ok || tmin > bestT {
			continue
		}
		stats.NodesVisited++

		if n.leafObjs != nil {
			stats.LeavesVisited++
			for i := range n.leafObjs {
				lo := &n.leafObjs[i]
				f := &facets[lo.facet]
				if history != nil && history.Contains(f.handle) {
					continue
				}
				stats.RayTriTests++
				t, ok := intersectTriangle(O, D, f)
				if !ok || t < -back || t >= bestT {
					continue
				}
				if exitOnly && f.n.Dot(D)*lo.sense <= 0 {
					continue
				}
				if t < 0 {
					t = 0
				}
				bestT = t
				best = facetHit{t: t, facet: lo.facet, sense: lo.sense}
			}
			continue
		}

		// order children near→far (push far first so near is processed next)
		var lOK, rOK bool
		var lT, rT Real
		if n.left != nil {
			lOK, lT = box(n.left)
			lOK = lOK && lT <= bestT
		}
		if n.right != nil {
			rOK, rT = box(n.right)
			rOK = rOK && rT <= bestT
		}
		if lOK && rOK {
			if lT < rT {
				stack = append(stack, n.right, n.left)
			} else {
				stack = append(stack, n.left, n.right)
			}
		} else if lOK {
			stack = append(stack, n.left)
		} else if rOK {
			stack = append(stack, n.right)
		}
	}
	return best
}

// traverseClosest returns the distance from p to the nearest facet in the tree.
func traverseClosest(root *FacetNode, facets []facet, p Point3) (Real, int) {
	if root == nil {
		return math.Inf(1), -1
	}
	best2 := math.Inf(1)
	bestF := -1
	stack := []*FacetNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if aabbDist2(p, n.min, n.max) > best2 {
			continue
		}
		if n.leafObjs != nil {
			for i := range n.leafObjs {
				f := &facets[n.leafObjs[i].facet]
				d := p.Sub(closestPointOnTriangle(p, f))
				if d2 := d.Dot(d); d2 < best2 {
					best2, bestF = d2, n.leafObjs[i].facet
				}
			}
			continue
		}
		if n.left != nil {
			stack = append(stack, n.left)
		}
		if n.right != nil {
			stack = append(stack, n.right)
		}
	}
	return math.Sqrt(best2), bestF
}
