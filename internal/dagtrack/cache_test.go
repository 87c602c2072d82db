package dagtrack

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCache(t *testing.T, nav Navigator, opts Options) *RayHistoryCache {
	t.Helper()
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return NewRayHistoryCache(nav, opts)
}

func trk(pid int64, dir Vector3, hasPrev bool) TrackRequest {
	return TrackRequest{Volume: 1, VolumeIndex: 1, Point: p3(0, 0, 0), Direction: dir, ParticleID: pid, HasPreviousSurface: hasPrev}
}

func TestTrackResetWithoutPreviousSurface(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1}
	c := newTestCache(t, nav, Options{})
	c.SetHistory(hist(1, 2))
	res, err := c.Track(trk(5, v3(1, 0, 0), false))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if res.Action != ActionReset || nav.last().before.Size() != 0 {
		t.Fatalf("expected reset before query, got %v with %d entries", res.Action, nav.last().before.Size())
	}
	if c.CrossingConfirmed() {
		t.Fatalf("track must clear the crossing flag")
	}
}

func TestTrackContinueAfterConfirmedCrossing(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1, nextVol: 2}
	c := newTestCache(t, nav, Options{})
	if _, err := c.Track(trk(5, v3(1, 0, 0), true)); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := c.ConfirmCrossing(9, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	res, err := c.Track(trk(5, v3(1, 0, 0), true))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if res.Action != ActionContinue {
		t.Fatalf("expected continue, got %v", res.Action)
	}
	if !nav.last().before.Equal(hist(1001)) {
		t.Fatalf("history must be reused unchanged: %+v", nav.last().before.Facets())
	}
}

func TestTrackRollbackWithoutCrossing(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1}
	c := newTestCache(t, nav, Options{})
	c.SetHistory(hist(1))
	// first call is a new particle: reset
	if _, err := c.Track(trk(5, v3(1, 0, 0), true)); err != nil {
		t.Fatalf("track: %v", err)
	}
	res, err := c.Track(trk(5, v3(1, 0, 0), true))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if res.Action != ActionRollback {
		t.Fatalf("expected rollback, got %v", res.Action)
	}
	if nav.last().before.Size() != 0 {
		t.Fatalf("speculative intersection must be undone: %+v", nav.last().before.Facets())
	}
}

func TestTrackResetOnDirectionChange(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1, nextVol: 2}
	c := newTestCache(t, nav, Options{})
	_, _ = c.Track(trk(5, v3(1, 0, 0), true))
	_, _ = c.ConfirmCrossing(9, 1)
	res, _ := c.Track(trk(5, v3(0, 1, 0), true))
	if res.Action != ActionReset || nav.last().before.Size() != 0 {
		t.Fatalf("direction change must reset, got %v", res.Action)
	}
}

func TestTrackResetOnParticleChange(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1, nextVol: 2}
	c := newTestCache(t, nav, Options{})
	_, _ = c.Track(trk(5, v3(1, 0, 0), true))
	_, _ = c.ConfirmCrossing(9, 1)
	res, _ := c.Track(trk(6, v3(1, 0, 0), true))
	if res.Action != ActionReset || nav.last().before.Size() != 0 {
		t.Fatalf("particle change must reset, got %v", res.Action)
	}
}

func TestTrackNoSurfaceDistance(t *testing.T) {
	nav := &fakeNav{}
	c := newTestCache(t, nav, Options{})
	req := trk(1, v3(0, 0, 1), false)
	req.Huge = 1e20
	res, _ := c.Track(req)
	if res.Surface != 0 || res.Distance != 1e20 || nav.last().limit != 0 {
		t.Fatalf("limit off: %+v limit=%g", res, nav.last().limit)
	}
	res, _ = c.Track(trk(1, v3(0, 0, 1), false))
	if res.Distance != Huge {
		t.Fatalf("default huge expected, got %g", res.Distance)
	}

	c.SetUseDistanceLimit(true)
	c.SetDistanceLimit(3)
	res, _ = c.Track(req)
	if res.Distance != 6 || nav.last().limit != 3 {
		t.Fatalf("limit on: %+v limit=%g", res, nav.last().limit)
	}
}

func TestTrackLimitEnabledButUnset(t *testing.T) {
	nav := &fakeNav{}
	c := newTestCache(t, nav, Options{UseDistanceLimit: true})
	req := trk(1, v3(0, 0, 1), false)
	req.Huge = 1e20
	res, _ := c.Track(req)
	if res.Surface != 0 || res.Distance != 1e20 || nav.last().limit != 0 {
		t.Fatalf("unset limit must act as no limit: %+v limit=%g", res, nav.last().limit)
	}
	c.SetDistanceLimit(-2)
	if res, _ = c.Track(req); res.Distance != 1e20 {
		t.Fatalf("negative limit must act as no limit: %+v", res)
	}
}

func TestRayStatSequenceShared(t *testing.T) {
	mem := NewMemoryRayStats()
	seq := new(atomic.Int64)
	a := newTestCache(t, &fakeNav{}, Options{RayStats: mem, RunID: "r", Seq: seq})
	b := newTestCache(t, &fakeNav{}, Options{RayStats: mem, RunID: "r", Seq: seq})
	for i := 0; i < 3; i++ {
		_, _ = a.Track(trk(1, v3(1, 0, 0), false))
		_, _ = b.Track(trk(2, v3(1, 0, 0), false))
	}
	seen := map[int64]bool{}
	for _, r := range mem.Snapshot(ActionReset) {
		if seen[r.Seq] {
			t.Fatalf("duplicate sequence %d", r.Seq)
		}
		seen[r.Seq] = true
	}
	if len(seen) != 6 || seq.Load() != 6 {
		t.Fatalf("want 6 distinct sequence numbers, got %d (counter %d)", len(seen), seq.Load())
	}
}

func TestTrackFatalOnQueryFailure(t *testing.T) {
	boom := errors.New("tree corrupt")
	nav := &fakeNav{fireErr: boom}
	c := newTestCache(t, nav, Options{})
	_, err := c.Track(trk(1, v3(1, 0, 0), false))
	if !IsFatal(err) || !errors.Is(err, boom) {
		t.Fatalf("expected fatal wrapping the query error, got %v", err)
	}
	if c.LastDirection() != (Vector3{}) {
		t.Fatalf("failed query must not update tracking state")
	}
}

func TestReflectVerifyNoop(t *testing.T) {
	c := newTestCache(t, &fakeNav{}, Options{})
	c.SetHistory(hist(1, 2))
	if !c.Reflect(v3(0, 1, 0), true) {
		t.Fatalf("first reflection must apply")
	}
	if !c.History().Equal(hist(2)) {
		t.Fatalf("reflection keeps only the last intersection: %+v", c.History().Facets())
	}
	c.SetHistory(hist(2, 3))
	if c.Reflect(v3(0, 1, 0), true) {
		t.Fatalf("second identical reflection must be a noop")
	}
	if !c.History().Equal(hist(2, 3)) || !c.CrossingConfirmed() {
		t.Fatalf("noop reflection changed history or left crossing unmarked")
	}
	if !c.Reflect(v3(0, 1, 0), false) {
		t.Fatalf("without verify the reflection always applies")
	}
	if got := testutil.ToFloat64(c.metrics.Reflections.WithLabelValues("noop")); got != 1 {
		t.Fatalf("noop reflections = %g", got)
	}
}

func TestReflectThenStreamContinues(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1}
	c := newTestCache(t, nav, Options{})
	_, _ = c.Track(trk(4, v3(1, 0, 0), true))
	c.Reflect(v3(-1, 0, 0), true)
	res, _ := c.Track(trk(4, v3(-1, 0, 0), true))
	if res.Action != ActionContinue || !nav.last().before.Equal(hist(1001)) {
		t.Fatalf("after reflection the new direction streams: %v %+v", res.Action, nav.last().before.Facets())
	}
}

func TestTerminateResets(t *testing.T) {
	c := newTestCache(t, &fakeNav{}, Options{})
	c.SetHistory(hist(1, 2, 3))
	c.Terminate()
	if c.History().Size() != 0 {
		t.Fatalf("terminate must clear the history")
	}
}

func TestConfirmCrossingLost(t *testing.T) {
	nav := &fakeNav{nextErr: errors.New("no neighbor")}
	c := newTestCache(t, nav, Options{})
	_, err := c.ConfirmCrossing(9, 1)
	if !errors.Is(err, ErrLostParticle) || IsFatal(err) {
		t.Fatalf("expected non-fatal lost particle, got %v", err)
	}
	if c.CrossingConfirmed() {
		t.Fatalf("failed crossing must not be marked")
	}
	nav.nextErr = nil
	if _, err := c.ConfirmCrossing(9, 1); !errors.Is(err, ErrLostParticle) {
		t.Fatalf("zero neighbor handle is a lost particle, got %v", err)
	}
	if got := testutil.ToFloat64(c.metrics.LostParticles); got != 2 {
		t.Fatalf("lost counter = %g", got)
	}
}

func TestBankLIFO(t *testing.T) {
	c := newTestCache(t, &fakeNav{}, Options{})
	h1, h2 := hist(1), hist(1, 2)
	c.SetHistory(h1)
	c.BankPush(0)
	c.SetHistory(h2)
	c.BankPush(1)
	c.BankPop(2)
	c.SetHistory(hist(42))
	c.BankUseTop()
	if !c.History().Equal(h1) {
		t.Fatalf("use top after pop should give h1: %+v", c.History().Facets())
	}
	if c.BankLen() != 1 {
		t.Fatalf("bank length %d, want 1", c.BankLen())
	}
	// use top copies: mutating the live history leaves the bank alone
	c.SetHistory(hist(5))
	c.BankUseTop()
	if !c.History().Equal(h1) {
		t.Fatalf("banked entry was aliased")
	}
	c.BankClear()
	if c.BankLen() != 0 {
		t.Fatalf("clear left %d entries", c.BankLen())
	}
}

func TestBankPushMismatchWarns(t *testing.T) {
	log, buf := bufLogger(t)
	c := newTestCache(t, &fakeNav{}, Options{Logger: log})
	c.BankPush(0)
	c.BankPush(1)
	c.BankPush(3)
	if c.BankLen() != 3 {
		t.Fatalf("push must proceed despite mismatch, len=%d", c.BankLen())
	}
	if !strings.Contains(buf.String(), "bank push size mismatch") {
		t.Fatalf("missing warning: %s", buf.String())
	}
	if got := testutil.ToFloat64(c.metrics.ConsistencyWarnings.WithLabelValues("push_size_mismatch")); got != 1 {
		t.Fatalf("warnings = %g", got)
	}
}

func TestBankEmptyAccessWarns(t *testing.T) {
	log, buf := bufLogger(t)
	c := newTestCache(t, &fakeNav{}, Options{Logger: log})
	c.SetHistory(hist(3))
	c.BankUseTop()
	c.BankPop(0)
	if !c.History().Equal(hist(3)) || c.BankLen() != 0 {
		t.Fatalf("empty bank ops must not change state")
	}
	if !strings.Contains(buf.String(), "without bank history") {
		t.Fatalf("missing warning: %s", buf.String())
	}
}

func TestSlotSaveRestore(t *testing.T) {
	c := newTestCache(t, &fakeNav{}, Options{MaxBankDepth: 2})
	h := hist(4, 5)
	c.SetHistory(h)
	if err := c.SaveSlot(2); err != nil {
		t.Fatalf("save: %v", err)
	}
	c.SetHistory(hist(9))
	c.Terminate()
	if err := c.RestoreSlot(2); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !c.History().Equal(h) {
		t.Fatalf("restored %+v, want %+v", c.History().Facets(), h.Facets())
	}
	for _, n := range []int{0, 3, -1} {
		if err := c.SaveSlot(n); !errors.Is(err, ErrSlotOutOfRange) {
			t.Fatalf("slot %d: expected out of range, got %v", n, err)
		}
		if err := c.RestoreSlot(n); !errors.Is(err, ErrSlotOutOfRange) {
			t.Fatalf("slot %d: expected out of range, got %v", n, err)
		}
	}
	if got := testutil.ToFloat64(c.metrics.SlotOps.WithLabelValues("save")); got != 1 {
		t.Fatalf("slot saves = %g", got)
	}
}

func TestTrackDecisionMetricsAndRayStats(t *testing.T) {
	nav := &fakeNav{surface: 9, dist: 1, nextVol: 2}
	mem := NewMemoryRayStats()
	c := newTestCache(t, nav, Options{RayStats: mem, RunID: "run-1"})
	_, _ = c.Track(trk(1, v3(1, 0, 0), false))
	_, _ = c.Track(trk(1, v3(1, 0, 0), true))
	_, _ = c.ConfirmCrossing(9, 1)
	_, _ = c.Track(trk(1, v3(1, 0, 0), true))
	for a, want := range map[Action]float64{ActionReset: 1, ActionRollback: 1, ActionContinue: 1} {
		if got := testutil.ToFloat64(c.metrics.TrackDecisions.WithLabelValues(a.String())); got != want {
			t.Fatalf("%v decisions = %g, want %g", a, got, want)
		}
	}
	if mem.Len() != 3 {
		t.Fatalf("ray stats = %d, want 3", mem.Len())
	}
	rs := mem.Snapshot(ActionContinue)
	if len(rs) != 1 || rs[0].RunID != "run-1" || rs[0].Seq != 3 || rs[0].RayTriTests != 3 {
		t.Fatalf("unexpected ray stat: %+v", rs)
	}
}

func TestTraceIsRuntimeGated(t *testing.T) {
	log, buf := bufLogger(t)
	c := newTestCache(t, &fakeNav{}, Options{Logger: log})
	_, _ = c.Track(trk(1, v3(1, 0, 0), false))
	if strings.Contains(buf.String(), "track: new history") {
		t.Fatalf("trace lines without trace enabled: %s", buf.String())
	}
	c = newTestCache(t, &fakeNav{}, Options{Logger: log, Trace: true})
	_, _ = c.Track(trk(1, v3(1, 0, 0), false))
	if !strings.Contains(buf.String(), "track: new history") {
		t.Fatalf("trace line missing: %s", buf.String())
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.decision(ActionReset)
	m.reflection(true)
	m.lost()
	m.warning("x")
	m.slot("save")
	m.bankDepth(3)
	m.rayFire(0, 1)
	c := NewRayHistoryCache(&fakeNav{}, Options{})
	c.BankPush(0)
	_, _ = c.Track(trk(1, v3(1, 0, 0), false))
}
