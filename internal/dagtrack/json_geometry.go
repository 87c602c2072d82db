package dagtrack

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Rotation in degrees for JSON (friendlier than radians).
type Rot3Deg struct {
	XY Real `json:"xy"`
	XZ Real `json:"xz"`
	YZ Real `json:"yz"`
}

func (r Rot3Deg) Radians() Rot3 {
	const k = math.Pi / 180
	return Rot3{XY: r.XY * k, XZ: r.XZ * k, YZ: r.YZ * k}
}

// CellCfg is one volume bounded by a single closed shape. Its region is the
// inside of the shape minus its children; the surface shares the cell's ID.
type CellCfg struct {
	ID         int     `json:"id"`
	Shape      string  `json:"shape"` // box | sphere
	Center     Point3  `json:"center"`
	Size       Vector3 `json:"size,omitempty"`
	Radius     Real    `json:"radius,omitempty"`
	RotDeg     Rot3Deg `json:"rotDeg"`
	Parent     int     `json:"parent,omitempty"` // 0 ⇒ implicit complement
	Importance Real    `json:"importance,omitempty"`
	MFP        Real    `json:"mfp,omitempty"` // 0 ⇒ void
	Graveyard  bool    `json:"graveyard,omitempty"`
	Reflect    bool    `json:"reflect,omitempty"`
	Segments   int     `json:"segments,omitempty"`
}

type GeometryCfg struct {
	Cells []CellCfg `json:"cells"`
}

// Triangles validates the shape and triangulates it.
func (c CellCfg) Triangles() ([][3]Point3, error) {
	switch c.Shape {
	case "box", "":
		return boxTriangles(c.Center, c.Size, c.RotDeg.Radians())
	case "sphere":
		segs := c.Segments
		if segs <= 0 {
			segs = DefaultSegments
		}
		return sphereTriangles(c.Center, c.Radius, segs, c.RotDeg.Radians())
	}
	return nil, fmt.Errorf("cell %d: unknown shape %q", c.ID, c.Shape)
}

// Build validates the description and constructs a finalized FacetGeometry.
// Parents may be listed after their children.
func (gc GeometryCfg) Build() (*FacetGeometry, error) {
	if len(gc.Cells) == 0 {
		return nil, fmt.Errorf("geometry has no cells")
	}
	byID := make(map[int]int, len(gc.Cells))
	for i, c := range gc.Cells {
		if c.ID <= 0 {
			return nil, fmt.Errorf("cell #%d: id must be >0, got %d", i, c.ID)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate cell id %d", c.ID)
		}
		if c.Importance < 0 || c.MFP < 0 {
			return nil, fmt.Errorf("cell %d: importance and mfp must be >=0", c.ID)
		}
		byID[c.ID] = i
	}
	for _, c := range gc.Cells {
		if c.Parent == 0 {
			continue
		}
		if _, ok := byID[c.Parent]; !ok {
			return nil, fmt.Errorf("cell %d: unknown parent %d", c.ID, c.Parent)
		}
		// walk up to catch cycles
		seen := map[int]bool{c.ID: true}
		for p := c.Parent; p != 0; p = gc.Cells[byID[p]].Parent {
			if seen[p] {
				return nil, fmt.Errorf("cell %d: parent cycle through %d", c.ID, p)
			}
			seen[p] = true
		}
	}

	g := NewFacetGeometry()
	vols := make([]*Volume, len(gc.Cells))
	for i, c := range gc.Cells {
		v, err := g.AddVolume(VolumeProps{ID: c.ID, Importance: c.Importance, MeanFreePath: c.MFP, Graveyard: c.Graveyard})
		if err != nil {
			return nil, err
		}
		vols[i] = v
	}
	for i, c := range gc.Cells {
		tris, err := c.Triangles()
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", c.ID, err)
		}
		var outer *Volume
		if c.Parent != 0 {
			outer = vols[byID[c.Parent]]
		}
		if _, err := g.AddSurface(c.ID, vols[i], outer, tris, c.Reflect); err != nil {
			return nil, err
		}
	}
	g.Finalize()
	return g, nil
}

// LoadGeometry reads a JSON geometry description.
func LoadGeometry(path string) (*FacetGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var gc GeometryCfg
	if err := json.Unmarshal(data, &gc); err != nil {
		return nil, fmt.Errorf("parse geometry %s: %w", path, err)
	}
	return gc.Build()
}
