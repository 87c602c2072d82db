package dagtrack

import (
	"fmt"
	"log/slog"
	"math"
)

// Settings are the run-time switches a host negotiates with the bridge.
// FacetTolerance is read-only.
type Settings struct {
	UseDistanceLimit bool
	OverlapThickness Real
	SourceCellMode   bool
	FacetTolerance   Real
}

// Bridge is the host-facing facade: volumes and surfaces are addressed by
// 1-based indexes, surface index 0 means none. Use one Bridge per worker;
// the Geometry may be shared.
type Bridge struct {
	geom  Geometry
	cache *RayHistoryCache
	log   *slog.Logger
	tr    tracer

	srcCell bool
}

func NewBridge(g Geometry, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	return &Bridge{
		geom:  g,
		cache: NewRayHistoryCache(g, opts),
		log:   log,
		tr:    tracer{log: log, on: opts.Trace},
	}
}

// Cache exposes the history cache behind the bridge.
func (b *Bridge) Cache() *RayHistoryCache { return b.cache }

func (b *Bridge) volume(op string, idx int) (Handle, error) {
	h := b.geom.EntityByIndex(DimVolume, idx)
	if h == 0 {
		return 0, fatal(op, fmt.Errorf("no volume at index %d", idx))
	}
	return h, nil
}

func (b *Bridge) surface(op string, idx int) (Handle, error) {
	h := b.geom.EntityByIndex(DimSurface, idx)
	if h == 0 {
		return 0, fatal(op, fmt.Errorf("no surface at index %d", idx))
	}
	return h, nil
}

// Track fires a ray from pos along dir inside volume volIdx. prevSurfIdx is
// the surface the particle sits on (0 if none), nps the particle number.
// It returns the next surface index (0 if none) and the distance to it.
func (b *Bridge) Track(volIdx int, dir Vector3, pos Point3, huge Real, prevSurfIdx int, nps int64) (int, Real, error) {
	vol, err := b.volume("track", volIdx)
	if err != nil {
		return 0, 0, err
	}
	prev := Handle(0)
	if prevSurfIdx != 0 {
		prev = b.geom.EntityByIndex(DimSurface, prevSurfIdx)
	}
	res, err := b.cache.Track(TrackRequest{
		Volume:             vol,
		VolumeIndex:        volIdx,
		Point:              pos,
		Direction:          dir,
		ParticleID:         nps,
		HasPreviousSurface: prev != 0,
		Huge:               huge,
	})
	if err != nil {
		return 0, 0, err
	}
	next := 0
	if res.Surface != 0 {
		next = b.geom.IndexByHandle(res.Surface)
	}
	return next, res.Distance, nil
}

// NewCel returns the index of the volume across surfIdx from volIdx. Failure
// wraps ErrLostParticle.
func (b *Bridge) NewCel(surfIdx, volIdx int) (int, error) {
	surf := b.geom.EntityByIndex(DimSurface, surfIdx)
	vol := b.geom.EntityByIndex(DimVolume, volIdx)
	next, err := b.cache.ConfirmCrossing(surf, vol)
	if err != nil {
		return 0, err
	}
	idx := b.geom.IndexByHandle(next)
	b.tr.trace("newcel",
		slog.Int("prev_vol", b.geom.IDByIndex(DimVolume, volIdx)),
		slog.Int("surf", b.geom.IDByIndex(DimSurface, surfIdx)),
		slog.Int("next_vol", b.geom.IDByIndex(DimVolume, idx)),
	)
	return idx, nil
}

// SurfReflection reports whether the history was cut back.
func (b *Bridge) SurfReflection(dir Vector3, verify bool) bool {
	return b.cache.Reflect(dir, verify)
}

func (b *Bridge) ParticleTerminate() { b.cache.Terminate() }

func (b *Bridge) BankPush(n int) { b.cache.BankPush(n) }
func (b *Bridge) BankUseTop()    { b.cache.BankUseTop() }
func (b *Bridge) BankPop(n int)  { b.cache.BankPop(n) }
func (b *Bridge) BankClear()     { b.cache.BankClear() }

// SavPar saves the live history into slot n, GetPar restores it.
func (b *Bridge) SavPar(n int) error { return b.cache.SaveSlot(n) }
func (b *Bridge) GetPar(n int) error { return b.cache.RestoreSlot(n) }

// ChkCel classifies pos against volume volIdx. A point on the boundary is
// reported outside (assumed to be leaving).
func (b *Bridge) ChkCel(volIdx int, pos Point3, dir Vector3) (Classification, error) {
	vol, err := b.volume("chkcel", volIdx)
	if err != nil {
		return Outside, err
	}
	c, err := b.geom.PointInVolume(vol, pos, dir)
	if err != nil {
		return Outside, fatal("chkcel", err)
	}
	if c == OnBoundary {
		c = Outside
	}
	b.tr.trace("chkcel", slog.Int("vol", b.geom.IDByIndex(DimVolume, volIdx)), slog.String("result", c.String()))
	return c, nil
}

// ChkCelByAngle decides the side of surfIdx a particle on it moving along dir
// ends up on, relative to volume volIdx.
func (b *Bridge) ChkCelByAngle(surfIdx, volIdx int, pos Point3, dir Vector3) (Classification, error) {
	surf, err := b.surface("chkcel_by_angle", surfIdx)
	if err != nil {
		return Outside, err
	}
	vol, err := b.volume("chkcel_by_angle", volIdx)
	if err != nil {
		return Outside, err
	}
	c, err := b.geom.TestVolumeBoundary(vol, surf, pos, dir, b.cache.live())
	if err != nil {
		return Outside, fatal("chkcel_by_angle", err)
	}
	b.tr.trace("chkcel_by_angle", slog.Int("vol", b.geom.IDByIndex(DimVolume, volIdx)), slog.String("result", c.String()))
	return c, nil
}

// Angle returns the surface normal of surfIdx at pos.
func (b *Bridge) Angle(surfIdx int, pos Point3) (Vector3, error) {
	surf, err := b.surface("angl", surfIdx)
	if err != nil {
		return Vector3{}, err
	}
	n, err := b.geom.SurfaceNormal(surf, pos, b.cache.live())
	if err != nil {
		return Vector3{}, fatal("angl", err)
	}
	if b.tr.on {
		deg := b.cache.LastDirection().Angle(n) * 180 / math.Pi
		b.tr.trace("angl", slog.Float64("deg_to_uvw", deg), slog.Bool("flipped", deg > 90))
	}
	return n, nil
}

// DBMin returns the distance from pos to the nearest boundary of volIdx, or
// huge on failure.
func (b *Bridge) DBMin(volIdx int, pos Point3, huge Real) Real {
	vol := b.geom.EntityByIndex(DimVolume, volIdx)
	d, err := b.geom.ClosestToLocation(vol, pos)
	if err != nil {
		b.log.Warn("closest to location failed, returning huge", slog.Int("vol", volIdx), slog.Any("error", err))
		return huge
	}
	b.tr.trace("dbmin", slog.Int("vol", b.geom.IDByIndex(DimVolume, volIdx)), slog.Float64("dist", d))
	return d
}

// Volumes measures every volume and surface in index order.
func (b *Bridge) Volumes() (vols, areas []Real, err error) {
	nv, ns := b.geom.NumEntities(DimVolume), b.geom.NumEntities(DimSurface)
	vols = make([]Real, nv)
	for i := range vols {
		if vols[i], err = b.geom.MeasureVolume(b.geom.EntityByIndex(DimVolume, i+1)); err != nil {
			return nil, nil, fatal("volume", fmt.Errorf("could not measure volume %d: %w", i+1, err))
		}
	}
	areas = make([]Real, ns)
	for i := range areas {
		if areas[i], err = b.geom.MeasureArea(b.geom.EntityByIndex(DimSurface, i+1)); err != nil {
			return nil, nil, fatal("volume", fmt.Errorf("could not measure surface %d: %w", i+1, err))
		}
	}
	return vols, areas, nil
}

func (b *Bridge) SetDistanceLimit(d Real) { b.cache.SetDistanceLimit(d) }

// ApplySettings switches the distance limit and sets the geometry's overlap
// thickness. FacetTolerance is ignored.
func (b *Bridge) ApplySettings(s Settings) {
	if s.UseDistanceLimit {
		b.log.Info("distance limit optimization is enabled")
	}
	if s.SourceCellMode {
		b.log.Warn("source cell optimization is enabled (experimental)")
	}
	b.cache.SetUseDistanceLimit(s.UseDistanceLimit)
	b.srcCell = s.SourceCellMode
	b.geom.SetOverlapThickness(s.OverlapThickness)
}

func (b *Bridge) CurrentSettings() Settings {
	return Settings{
		UseDistanceLimit: b.cache.UseDistanceLimit(),
		OverlapThickness: b.geom.OverlapThickness(),
		SourceCellMode:   b.srcCell,
		FacetTolerance:   b.geom.FacetTolerance(),
	}
}
