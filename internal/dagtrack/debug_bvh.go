package dagtrack

import (
	"fmt"
	"io"
	"strings"
)

// DumpBVH writes the facet BVH of volume vol with indentation (one tab per
// level): subtree counts (nodes, leaves, facets) and node bounds. Without
// build only an already cached tree is printed.
func (g *FacetGeometry) DumpBVH(w io.Writer, vol Handle, build bool) (bool, error) {
	vi, err := g.volumeIndex(vol)
	if err != nil {
		return false, err
	}
	var root *FacetNode
	if build {
		root = g.getOrBuildBVH(vi)
	} else {
		data, ok := g.bvhCache.Load(vi)
		if data == nil || !ok {
			fmt.Fprintln(w, "[BVH] <empty>")
			return false, nil
		}
		root = data.(*FacetNode)
	}
	memo := make(map[*FacetNode]bvhCounts, 256)
	totals := bvhCount(root, memo)
	fmt.Fprintf(w, "[BVH] volume %d: nodes=%d leaves=%d facets=%d\n", g.volumes[vi].ID, totals.nodes, totals.leaves, totals.objs)
	bvhPrint(w, root, 0, memo)
	return true, nil
}

type bvhCounts struct {
	nodes  int
	leaves int
	objs   int
}

func bvhCount(n *FacetNode, memo map[*FacetNode]bvhCounts) bvhCounts {
	if n == nil {
		return bvhCounts{}
	}
	if c, ok := memo[n]; ok {
		return c
	}
	if n.leafObjs != nil {
		c := bvhCounts{nodes: 1, leaves: 1, objs: len(n.leafObjs)}
		memo[n] = c
		return c
	}
	lc := bvhCount(n.left, memo)
	rc := bvhCount(n.right, memo)
	c := bvhCounts{
		nodes:  1 + lc.nodes + rc.nodes,
		leaves: lc.leaves + rc.leaves,
		objs:   lc.objs + rc.objs,
	}
	memo[n] = c
	return c
}

func bvhPrint(w io.Writer, n *FacetNode, depth int, memo map[*FacetNode]bvhCounts) {
	if n == nil {
		return
	}
	ind := strings.Repeat("\t", depth)
	if n.leafObjs != nil {
		fmt.Fprintf(w, "%sLEAF  facets=%d | min=(%.5g,%.5g,%.5g) max=(%.5g,%.5g,%.5g)\n",
			ind, len(n.leafObjs), n.min.X, n.min.Y, n.min.Z, n.max.X, n.max.Y, n.max.Z)
		return
	}
	c := memo[n]
	fmt.Fprintf(w, "%sNODE  nodes=%d leaves=%d facets=%d | min=(%.5g,%.5g,%.5g) max=(%.5g,%.5g,%.5g)\n",
		ind, c.nodes, c.leaves, c.objs, n.min.X, n.min.Y, n.min.Z, n.max.X, n.max.Y, n.max.Z)
	bvhPrint(w, n.left, depth+1, memo)
	bvhPrint(w, n.right, depth+1, memo)
}
