package dagtrack

type Real = float64

const (
	// Huge is the distance reported for a lost particle when no distance limit is active.
	Huge                = 1e36
	DefaultMaxBankDepth = 8
	DefaultParticles    = 1000
	DefaultMaxEvents    = 10_000
	DefaultImportance   = 1
	DefaultSegments     = 16
	DefaultFacetTol     = 1e-3
	RayStatCSV          = "dagmc_raystat_dump.csv"
	BVHMaxLeafSize      = 4
	RayStatBatch        = 512
	// hot-loop constants
	epsDist    = 1e-9
	epsParal   = 1e-18
	bumpShift  = 1e-7
	triEdgeEps = 1e-12
)
