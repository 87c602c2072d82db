package dagtrack

import (
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Action is the history decision taken before a ray fire.
type Action int

const (
	// ActionReset discards the history: new particle, no previous surface, or a
	// direction change.
	ActionReset Action = iota
	// ActionContinue streams with the history unchanged.
	ActionContinue
	// ActionRollback streams after undoing an unconfirmed intersection.
	ActionRollback
)

func (a Action) String() string {
	switch a {
	case ActionReset:
		return "reset"
	case ActionContinue:
		return "continue"
	case ActionRollback:
		return "rollback"
	}
	return "unknown"
}

// Options configure a RayHistoryCache. The zero value is usable.
type Options struct {
	Logger           *slog.Logger
	Trace            bool // per-call debug lines
	Metrics          *Metrics
	RayStats         RayStatSink
	RunID            string
	Seq              *atomic.Int64 // ray-stat sequence, shared by caches writing under one RunID
	UseDistanceLimit bool
	MaxBankDepth     int // slot table capacity, DefaultMaxBankDepth when <= 0
}

// TrackRequest is one ray-tracing step of the host.
type TrackRequest struct {
	Volume             Handle
	VolumeIndex        int // reported in ray statistics only
	Point              Point3
	Direction          Vector3
	ParticleID         int64
	HasPreviousSurface bool
	Huge               Real // distance reported when nothing is hit and no limit is active, Huge when 0
}

// TrackResult: Surface is 0 when nothing was found. In that case Distance is
// twice the distance limit when it is active, otherwise the huge value.
type TrackResult struct {
	Surface  Handle
	Distance Real
	Action   Action
	Stats    TraversalStats
}

// RayHistoryCache owns the live ray history of the one particle being tracked
// and decides, step by step, whether that history may be reused. It is not
// safe for concurrent use; run one per worker.
type RayHistoryCache struct {
	nav     Navigator
	history RayHistory

	lastParticleID int64
	lastDirection  Vector3
	crossing       crossingTracker
	useDistLimit   bool
	distLimit      Real

	bank  *ParticleBank
	slots *SlotTable

	log      *slog.Logger
	tr       tracer
	metrics  *Metrics
	rayStats RayStatSink
	runID    string
	seq      *atomic.Int64
}

func NewRayHistoryCache(nav Navigator, opts Options) *RayHistoryCache {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	seq := opts.Seq
	if seq == nil {
		seq = new(atomic.Int64)
	}
	depth := opts.MaxBankDepth
	if depth <= 0 {
		depth = DefaultMaxBankDepth
	}
	return &RayHistoryCache{
		nav:          nav,
		useDistLimit: opts.UseDistanceLimit,
		bank:         NewParticleBank(log, opts.Metrics),
		slots:        NewSlotTable(depth),
		log:          log,
		tr:           tracer{log: log, on: opts.Trace},
		metrics:      opts.Metrics,
		rayStats:     opts.RayStats,
		runID:        opts.RunID,
		seq:          seq,
	}
}

// decide applies the history action for the coming query.
func (c *RayHistoryCache) decide(pid int64, hasPrev bool, dir Vector3) Action {
	if pid != c.lastParticleID || !hasPrev {
		c.history.Reset()
		c.tr.trace("track: new history", slog.Int64("nps", pid))
		return ActionReset
	}
	if dir == c.lastDirection {
		if !c.crossing.Visited() {
			// the last surface found was never crossed, forget it
			c.history.RollbackLastIntersection()
			c.tr.trace("track: streaming (rbl)", slog.Int("size", c.history.Size()))
			return ActionRollback
		}
		c.tr.trace("track: streaming", slog.Int("size", c.history.Size()))
		return ActionContinue
	}
	c.history.Reset()
	c.tr.trace("track: reset")
	return ActionReset
}

// Track decides on the history, fires the ray and updates tracking state. A
// geometric query failure is returned as *FatalError and leaves the state
// untouched apart from the history decision.
func (c *RayHistoryCache) Track(req TrackRequest) (TrackResult, error) {
	action := c.decide(req.ParticleID, req.HasPreviousSurface, req.Direction)
	c.metrics.decision(action)

	limit := Real(0)
	if c.limitActive() {
		limit = c.distLimit
	}
	start := time.Now()
	hit, err := c.nav.RayFire(req.Volume, req.Point, req.Direction, &c.history, limit)
	if err != nil {
		c.log.Error("ray fire failed", slog.Int("volume", req.VolumeIndex), slog.Any("error", err))
		return TrackResult{Action: action}, fatal("ray_fire", err)
	}
	c.metrics.rayFire(time.Since(start), c.history.Size())

	c.lastDirection = req.Direction
	c.lastParticleID = req.ParticleID
	c.crossing.Clear()

	res := TrackResult{Surface: hit.Surface, Distance: hit.Distance, Action: action, Stats: hit.Stats}
	if hit.Surface == 0 {
		switch {
		case c.limitActive():
			res.Distance = 2 * c.distLimit
		case req.Huge > 0:
			res.Distance = req.Huge
		default:
			res.Distance = Huge
		}
	}
	if c.rayStats != nil {
		rs := RayStat{
			RunID: c.runID, Seq: c.seq.Add(1), Volume: req.VolumeIndex, Action: action,
			RayTriTests: hit.Stats.RayTriTests, NodesVisited: hit.Stats.NodesVisited, LeavesVisited: hit.Stats.LeavesVisited,
			Distance: res.Distance,
		}
		if err := c.rayStats.Record(rs); err != nil {
			c.log.Warn("ray stat record failed", slog.Any("error", err))
		}
	}
	c.tr.trace("track",
		slog.Int("vol", req.VolumeIndex),
		slog.Bool("next_surf", res.Surface != 0),
		slog.Int64("nps", req.ParticleID),
		slog.Float64("dist", res.Distance),
		slog.Bool("beyond_limit", c.limitActive() && res.Surface == 0),
	)
	return res, nil
}

// Reflect records a reflection to dir. It always counts as a boundary event.
// With verify set and dir bit-identical to the last direction nothing else
// happens; otherwise the history is cut back to its last intersection.
// It reports whether the history was touched.
func (c *RayHistoryCache) Reflect(dir Vector3, verify bool) bool {
	c.tr.trace("surf_reflection", slog.Float64("deg", c.lastDirection.Angle(dir)*180/math.Pi))
	c.crossing.Mark()
	if verify && dir == c.lastDirection {
		c.tr.trace("surf_reflection: (noop)")
		c.metrics.reflection(false)
		return false
	}
	c.lastDirection = dir
	c.history.ResetToLastIntersection()
	c.metrics.reflection(true)
	return true
}

// Terminate ends the particle's track.
func (c *RayHistoryCache) Terminate() {
	c.history.Reset()
	c.tr.trace("particle_terminate")
}

// ConfirmCrossing returns the volume across surf from vol and marks the
// crossing. A missing neighbor yields an error wrapping ErrLostParticle and
// leaves the crossing unmarked.
func (c *RayHistoryCache) ConfirmCrossing(surf, vol Handle) (Handle, error) {
	next, err := c.nav.NextVolume(surf, vol)
	if err == nil && next == 0 {
		err = errors.New("no adjacent volume")
	}
	if err != nil {
		c.log.Warn("next volume lookup failed, particle lost", slog.Any("error", err))
		c.metrics.lost()
		return 0, errors.Join(ErrLostParticle, err)
	}
	c.crossing.Mark()
	c.tr.trace("newcel", slog.Uint64("prev_vol", uint64(vol)), slog.Uint64("next_vol", uint64(next)))
	return next, nil
}

// SetDistanceLimit sets the search cutoff used while the limit is enabled.
func (c *RayHistoryCache) SetDistanceLimit(d Real) {
	c.distLimit = d
	c.tr.trace("setdis", slog.Float64("d", d))
}

// limitActive: the limit is enabled and set to a positive distance.
func (c *RayHistoryCache) limitActive() bool { return c.useDistLimit && c.distLimit > 0 }

func (c *RayHistoryCache) DistanceLimit() Real        { return c.distLimit }
func (c *RayHistoryCache) SetUseDistanceLimit(on bool) { c.useDistLimit = on }
func (c *RayHistoryCache) UseDistanceLimit() bool      { return c.useDistLimit }

// BankPush saves a copy of the live history; expected is the host's bank size.
func (c *RayHistoryCache) BankPush(expected int) {
	c.bank.Push(c.history, expected)
	c.tr.trace("bank_push", slog.Int("n", expected+1))
}

// BankUseTop makes a copy of the newest banked history live without removing it.
// The live history is left alone when the bank is empty.
func (c *RayHistoryCache) BankUseTop() {
	c.tr.trace("bank_usetop")
	if h, ok := c.bank.Top(); ok {
		c.history = h
	}
}

func (c *RayHistoryCache) BankPop(expected int) {
	c.bank.Pop(expected)
	c.tr.trace("bank_pop", slog.Int("n", expected-1))
}

func (c *RayHistoryCache) BankClear() {
	c.bank.Clear()
	c.tr.trace("bank_clear")
}

func (c *RayHistoryCache) BankLen() int { return c.bank.Len() }

// SaveSlot copies the live history into slot n.
func (c *RayHistoryCache) SaveSlot(n int) error {
	c.tr.trace("savpar", slog.Int("n", n), slog.Int("size", c.history.Size()))
	if err := c.slots.Save(n, c.history); err != nil {
		return err
	}
	c.metrics.slot("save")
	return nil
}

// RestoreSlot makes a copy of slot n live.
func (c *RayHistoryCache) RestoreSlot(n int) error {
	h, err := c.slots.Restore(n)
	if err != nil {
		return err
	}
	c.tr.trace("getpar", slog.Int("n", n), slog.Int("size", h.Size()))
	c.history = h
	c.metrics.slot("restore")
	return nil
}

// History returns a copy of the live history.
func (c *RayHistoryCache) History() RayHistory { return c.history.Clone() }

// SetHistory replaces the live history with a copy of h.
func (c *RayHistoryCache) SetHistory(h RayHistory) { c.history = h.Clone() }

// LastDirection is the direction of the last query or applied reflection.
func (c *RayHistoryCache) LastDirection() Vector3 { return c.lastDirection }

// CrossingConfirmed reports whether a boundary event has happened since the last query.
func (c *RayHistoryCache) CrossingConfirmed() bool { return c.crossing.Visited() }

// live exposes the live history to geometry queries issued by the Bridge.
func (c *RayHistoryCache) live() *RayHistory { return &c.history }
