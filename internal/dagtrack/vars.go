package dagtrack

import "fmt"

var (
	// DumpBVHs prints the source volume's facet tree after a run
	DumpBVHs bool
	// Compile time checks for the capability and sink implementations
	_ Geometry          = (*FacetGeometry)(nil)
	_ TransportGeometry = (*FacetGeometry)(nil)
	_ RayStatSink       = (*MemoryRayStats)(nil)
	_ RayStatSink       = (*CSVRayStats)(nil)
	_ RayStatSink       = (*SQLRayStats)(nil)
	_ fmt.Stringer      = Action(0)
	_ fmt.Stringer      = Classification(0)
)
