package dagtrack

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
)

// TransportGeometry is what the demo host needs beyond Geometry.
type TransportGeometry interface {
	Geometry
	VolumeProps(vol Handle) (VolumeProps, bool)
	Reflecting(surf Handle) bool
}

// TransportOptions configure a demo transport run.
type TransportOptions struct {
	Particles int
	Workers   int // runtime.NumCPU() when <= 0
	Seed      int64
	Source    Point3
	MaxEvents int // per particle history
	Detector  *Point3
	Huge      Real
	Settings  Settings
	Cache     Options // shared by every worker's bridge
}

// TransportResult aggregates the tallies of all workers.
type TransportResult struct {
	Particles     int
	Events        int
	Crossings     int
	Collisions    int
	Reflections   int
	Splits        int
	RouletteKills int
	Lost          int
	Escaped       int
	Truncated     int     // histories stopped by MaxEvents
	DetectorScore Real    // next-event flux estimate at the detector, per source particle
	Weight        Real    // total weight killed on escape
	DetectorRays  int     // pseudo-rays traced toward the detector
	SourceCell    int     // 1-based volume index of the source
	VolumeIDs     []int   // by volume index - 1
	Volumes       []Real  // measured volumes, by volume index - 1
	Areas         []Real  // measured surface areas, by surface index - 1
	Warnings      []error // non-fatal trouble (source on a boundary and so on)
}

func (r *TransportResult) add(o *TransportResult) {
	r.Events += o.Events
	r.Crossings += o.Crossings
	r.Collisions += o.Collisions
	r.Reflections += o.Reflections
	r.Splits += o.Splits
	r.RouletteKills += o.RouletteKills
	r.Lost += o.Lost
	r.Escaped += o.Escaped
	r.Truncated += o.Truncated
	r.DetectorScore += o.DetectorScore
	r.Weight += o.Weight
	r.DetectorRays += o.DetectorRays
}

type particle struct {
	pos      Point3
	dir      Vector3
	cell     int // 1-based volume index
	prevSurf int // 1-based surface index, 0 if not on a surface
	weight   Real
}

// RunTransport tracks opts.Particles source particles through g, fanning out
// over workers with one Bridge each. A fatal query error stops the run.
func RunTransport(g TransportGeometry, opts TransportOptions) (*TransportResult, error) {
	if opts.Particles < 0 {
		return nil, fmt.Errorf("particles must be >=0, got %d", opts.Particles)
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.Huge <= 0 {
		opts.Huge = Huge
	}
	log := opts.Cache.Logger
	if log == nil {
		log = discardLogger()
	}
	if opts.Cache.Seq == nil {
		opts.Cache.Seq = new(atomic.Int64)
	}

	probe := NewBridge(g, opts.Cache)
	probe.ApplySettings(opts.Settings)
	vols, areas, err := probe.Volumes()
	if err != nil {
		return nil, err
	}
	res := &TransportResult{Particles: opts.Particles, Volumes: vols, Areas: areas}
	for i := range vols {
		res.VolumeIDs = append(res.VolumeIDs, g.IDByIndex(DimVolume, i+1))
	}
	src, err := findSourceCell(probe, g, opts.Source)
	if err != nil {
		return nil, err
	}
	res.SourceCell = src
	if d := probe.DBMin(src, opts.Source, opts.Huge); d < probe.CurrentSettings().FacetTolerance {
		werr := fmt.Errorf("source point %+v lies within %g of a boundary of volume %d", opts.Source, d, g.IDByIndex(DimVolume, src))
		log.Warn("source on boundary", slog.Any("error", werr))
		res.Warnings = append(res.Warnings, werr)
	}
	if opts.Particles == 0 {
		return res, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > opts.Particles {
		workers = opts.Particles
	}
	per, rem := opts.Particles/workers, opts.Particles%workers

	// set on the first fatal error; workers stop before their next history
	var stop atomic.Bool
	var wg sync.WaitGroup
	resCh := make(chan *TransportResult, workers)
	errCh := make(chan error, workers)
	first := int64(1)
	for w := 0; w < workers; w++ {
		n := per
		if w < rem {
			n++
		}
		if n == 0 {
			continue
		}
		wg.Add(1)
		go func(wid int, first int64, n int) {
			defer wg.Done()
			// independent RNG per worker
			seed := opts.Seed ^ int64(uint64(wid)*0x9e3779b97f4a7c15)
			h := &host{
				b:    NewBridge(g, opts.Cache),
				g:    g,
				rng:  rand.New(rand.NewSource(seed)),
				opts: &opts,
				src:  src,
				log:  log.With(slog.Int("worker", wid)),
				res:  &TransportResult{},
			}
			h.b.ApplySettings(opts.Settings)
			for i := 0; i < n; i++ {
				if stop.Load() {
					return
				}
				if err := h.history(first + int64(i)); err != nil {
					stop.Store(true)
					errCh <- err
					return
				}
			}
			resCh <- h.res
		}(w, first, n)
		first += int64(n)
	}
	wg.Wait()
	close(resCh)
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	for r := range resCh {
		res.add(r)
	}
	res.DetectorScore /= Real(opts.Particles)
	return res, nil
}

// findSourceCell returns the first volume index containing p.
func findSourceCell(b *Bridge, g Geometry, p Point3) (int, error) {
	n := g.NumEntities(DimVolume)
	for i := 1; i <= n; i++ {
		c, err := b.ChkCel(i, p, probeDir)
		if err != nil {
			return 0, err
		}
		if c == Inside {
			return i, nil
		}
	}
	return 0, fmt.Errorf("source point %+v is not inside any volume", p)
}

// host is one worker's transport loop.
type host struct {
	b    *Bridge
	g    TransportGeometry
	rng  *rand.Rand
	opts *TransportOptions
	src  int
	log  *slog.Logger
	res  *TransportResult
}

func (h *host) props(idx int) VolumeProps {
	p, _ := h.g.VolumeProps(h.g.EntityByIndex(DimVolume, idx))
	return p
}

// history tracks source particle nps and every copy split off it.
func (h *host) history(nps int64) error {
	h.b.BankClear()
	var bank []particle
	p := particle{pos: h.opts.Source, dir: sampleIsotropic(h.rng), cell: h.src, weight: 1}
	events := 0
	for {
		var err error
		bank, err = h.follow(nps, p, bank, &events)
		if err != nil {
			return err
		}
		if len(bank) == 0 {
			return nil
		}
		// resume the newest banked copy with its saved history
		h.b.BankUseTop()
		h.b.BankPop(len(bank))
		p = bank[len(bank)-1]
		bank = bank[:len(bank)-1]
	}
}

func (h *host) kill() { h.b.ParticleTerminate() }

// follow moves p until it dies, returning the grown bank.
func (h *host) follow(nps int64, p particle, bank []particle, events *int) ([]particle, error) {
	for {
		if *events >= h.opts.MaxEvents {
			h.res.Truncated++
			h.kill()
			return bank, nil
		}
		*events++
		h.res.Events++

		props := h.props(p.cell)
		dColl := sampleDistance(props.MeanFreePath, h.rng)
		if h.opts.Settings.UseDistanceLimit {
			h.b.SetDistanceLimit(dColl)
		}
		next, dist, err := h.b.Track(p.cell, p.dir, p.pos, h.opts.Huge, p.prevSurf, nps)
		if err != nil {
			return bank, err
		}

		if dColl < dist {
			p.pos = p.pos.Add(p.dir.Mul(dColl))
			h.res.Collisions++
			if h.opts.Detector != nil {
				if err := h.scoreDetector(nps, p); err != nil {
					return bank, err
				}
			}
			p.dir = sampleIsotropic(h.rng)
			p.prevSurf = 0
			continue
		}
		if next == 0 {
			h.log.Warn("lost particle, no surface ahead", slog.Int64("nps", nps), slog.Int("vol", h.g.IDByIndex(DimVolume, p.cell)))
			h.res.Lost++
			h.kill()
			return bank, nil
		}

		p.pos = p.pos.Add(p.dir.Mul(dist))
		p.prevSurf = next
		if h.g.Reflecting(h.g.EntityByIndex(DimSurface, next)) {
			n, err := h.b.Angle(next, p.pos)
			if err != nil {
				return bank, err
			}
			p.dir = reflect3(p.dir, n).Norm()
			h.b.SurfReflection(p.dir, true)
			h.res.Reflections++
			continue
		}

		cell, err := h.b.NewCel(next, p.cell)
		if errors.Is(err, ErrLostParticle) {
			h.res.Lost++
			h.kill()
			return bank, nil
		}
		if err != nil {
			return bank, err
		}
		h.res.Crossings++
		p.cell = cell

		np := h.props(cell)
		if np.Graveyard || np.ImplicitComplement {
			h.res.Escaped++
			h.res.Weight += p.weight
			h.kill()
			return bank, nil
		}
		var alive bool
		if p.weight, bank, alive = h.importance(p, props.Importance, np.Importance, bank); !alive {
			return bank, nil
		}
	}
}

// importance applies splitting or roulette on a change of importance and
// returns the new weight of p. Extra copies are banked.
func (h *host) importance(p particle, from, to Real, bank []particle) (Real, []particle, bool) {
	if from <= 0 {
		from = DefaultImportance
	}
	r := to / from
	switch {
	case r > 1:
		n := int(r)
		if h.rng.Float64() < r-Real(n) {
			n++
		}
		n = imax(n, 1)
		p.weight /= Real(n)
		for k := 1; k < n; k++ {
			h.b.BankPush(len(bank))
			bank = append(bank, p)
		}
		h.res.Splits += n - 1
	case r < 1:
		if h.rng.Float64() >= r {
			h.res.RouletteKills++
			h.kill()
			return 0, bank, false
		}
		p.weight /= r
	}
	return p.weight, bank, true
}

// scoreDetector adds the next-event estimate for a collision at p. The
// pseudo-ray runs with its own particle number; the live history is parked
// in slot 1 around it.
func (h *host) scoreDetector(nps int64, p particle) error {
	det := *h.opts.Detector
	toDet := det.Sub(p.pos)
	r := toDet.Len()
	if r < epsDist {
		return nil
	}
	if err := h.b.SavPar(1); err != nil {
		return err
	}
	h.res.DetectorRays++
	tau, ok, err := h.opticalDepth(-nps, p.pos, toDet.Mul(1/r), p.cell, r)
	if gerr := h.b.GetPar(1); err == nil {
		err = gerr
	}
	if err != nil {
		return err
	}
	if ok {
		h.res.DetectorScore += p.weight * math.Exp(-tau) / (4 * math.Pi * r * r)
	}
	return nil
}

// opticalDepth integrates 1/mfp along a straight line of length r. It reports
// false when the line leaves the problem or meets a reflecting surface first.
func (h *host) opticalDepth(id int64, pos Point3, dir Vector3, cell int, r Real) (Real, bool, error) {
	tau, left, prev := 0.0, r, 0
	for steps := 0; steps < h.opts.MaxEvents; steps++ {
		props := h.props(cell)
		if h.opts.Settings.UseDistanceLimit {
			h.b.SetDistanceLimit(left)
		}
		next, dist, err := h.b.Track(cell, dir, pos, h.opts.Huge, prev, id)
		if err != nil {
			return 0, false, err
		}
		seg := rmin(dist, left)
		if props.MeanFreePath > 0 {
			tau += seg / props.MeanFreePath
		}
		if dist >= left {
			return tau, true, nil
		}
		if next == 0 || h.g.Reflecting(h.g.EntityByIndex(DimSurface, next)) {
			return 0, false, nil
		}
		ncell, err := h.b.NewCel(next, cell)
		if err != nil {
			if errors.Is(err, ErrLostParticle) {
				return 0, false, nil
			}
			return 0, false, err
		}
		np := h.props(ncell)
		if np.Graveyard || np.ImplicitComplement {
			return 0, false, nil
		}
		pos, left, prev, cell = pos.Add(dir.Mul(dist)), left-dist, next, ncell
	}
	return 0, false, nil
}
