package dagtrack

// RayHistory accumulates the facets a ray has recently intersected. Geometry
// engines exclude facets present in the history from subsequent intersection
// tests, which keeps a ray sitting on a surface from re-hitting it at t≈0.
//
// The zero value is an empty history. Copies made with Clone share nothing.
type RayHistory struct {
	facets []Handle
}

// Reset discards all state.
func (h *RayHistory) Reset() {
	h.facets = h.facets[:0]
}

// RollbackLastIntersection undoes the most recently recorded intersection and
// keeps everything before it.
func (h *RayHistory) RollbackLastIntersection() {
	if n := len(h.facets); n > 0 {
		h.facets = h.facets[:n-1]
	}
}

// ResetToLastIntersection keeps only the most recent intersection.
func (h *RayHistory) ResetToLastIntersection() {
	n := len(h.facets)
	if n == 0 {
		return
	}
	h.facets[0] = h.facets[n-1]
	h.facets = h.facets[:1]
}

// Size is the number of recorded intersections.
func (h RayHistory) Size() int { return len(h.facets) }

// AddEntity records an intersected facet.
func (h *RayHistory) AddEntity(f Handle) {
	h.facets = append(h.facets, f)
}

// Contains reports whether the facet is part of the history.
func (h RayHistory) Contains(f Handle) bool {
	for _, x := range h.facets {
		if x == f {
			return true
		}
	}
	return false
}

// LastIntersection returns the newest recorded facet.
func (h RayHistory) LastIntersection() (Handle, bool) {
	if len(h.facets) == 0 {
		return 0, false
	}
	return h.facets[len(h.facets)-1], true
}

// Clone returns an independent copy.
func (h RayHistory) Clone() RayHistory {
	if len(h.facets) == 0 {
		return RayHistory{}
	}
	out := make([]Handle, len(h.facets))
	copy(out, h.facets)
	return RayHistory{facets: out}
}

// Equal compares recorded facets in order.
func (h RayHistory) Equal(o RayHistory) bool {
	if len(h.facets) != len(o.facets) {
		return false
	}
	for i := range h.facets {
		if h.facets[i] != o.facets[i] {
			return false
		}
	}
	return true
}

// Facets returns a copy of the recorded facet handles, oldest first.
func (h RayHistory) Facets() []Handle {
	return h.Clone().facets
}
