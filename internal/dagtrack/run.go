package dagtrack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Run loads the configuration, builds the geometry and runs the demo
// transport. Errors come back to the caller; nothing here exits.
func Run(cfgPath string) error {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Geometry == "" {
		return fmt.Errorf("no geometry file configured")
	}
	geom, err := LoadGeometry(cfg.Geometry)
	if err != nil {
		return err
	}
	log.Info("geometry loaded",
		slog.String("path", cfg.Geometry),
		slog.Int("volumes", geom.NumEntities(DimVolume)),
		slog.Int("surfaces", geom.NumEntities(DimSurface)),
	)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	runID := uuid.NewString()
	ctx := context.Background()
	sink, err := openRayStats(ctx, cfg.RayStats)
	if err != nil {
		return err
	}

	seed := cfg.Transport.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	opts := TransportOptions{
		Particles: cfg.Transport.Particles,
		Workers:   cfg.Transport.Workers,
		Seed:      seed,
		Source:    toPoint(cfg.Transport.Source),
		MaxEvents: cfg.Transport.MaxEvents,
		Huge:      cfg.Transport.Huge,
		Settings:  cfg.Settings.BridgeSettings(),
		Cache: Options{
			Logger:       log.With(slog.String("run", runID)),
			Trace:        cfg.Log.Trace,
			Metrics:      metrics,
			RayStats:     sink,
			RunID:        runID,
			MaxBankDepth: cfg.Settings.MaxBankDepth,
		},
	}
	if len(cfg.Transport.Detector) == 3 {
		d := toPoint(cfg.Transport.Detector)
		opts.Detector = &d
	}

	start := time.Now()
	res, err := RunTransport(geom, opts)
	elapsed := time.Since(start)
	if sink != nil {
		if cerr := sink.Close(); cerr != nil {
			log.Warn("ray stats close failed", slog.Any("error", cerr))
		}
	}
	if err != nil {
		return err
	}
	if DumpBVHs {
		src := geom.EntityByIndex(DimVolume, res.SourceCell)
		if _, err := geom.DumpBVH(os.Stderr, src, false); err != nil {
			return err
		}
	}
	log.Info("transport done",
		slog.Int("particles", res.Particles),
		slog.Int("events", res.Events),
		slog.Int("crossings", res.Crossings),
		slog.Int("collisions", res.Collisions),
		slog.Int("reflections", res.Reflections),
		slog.Int("splits", res.Splits),
		slog.Int("roulette_kills", res.RouletteKills),
		slog.Int("lost", res.Lost),
		slog.Int("escaped", res.Escaped),
		slog.Duration("time", elapsed),
	)
	if mem, ok := sink.(*MemoryRayStats); ok {
		for a, v := range mem.Summary() {
			log.Info("ray stats", slog.String("action", a.String()), slog.Int("queries", int(v[0])), slog.Float64("mean_ray_tri_tests", v[1]))
		}
	}
	printResult(res)
	if cfg.Metrics.Out != "" {
		if err := writeMetrics(reg, cfg.Metrics.Out); err != nil {
			return err
		}
	}
	return nil
}

func openRayStats(ctx context.Context, c RayStatsConfig) (RayStatSink, error) {
	switch c.Driver {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryRayStats(), nil
	case "csv":
		return OpenCSVRayStats(c.DSN)
	case "sqlite", "pgx":
		return OpenSQLRayStats(ctx, c.Driver, c.DSN)
	}
	return nil, fmt.Errorf("unknown raystats.driver %q", c.Driver)
}

func printResult(r *TransportResult) {
	fmt.Printf("particles=%d events=%d crossings=%d collisions=%d reflections=%d\n",
		r.Particles, r.Events, r.Crossings, r.Collisions, r.Reflections)
	fmt.Printf("splits=%d roulette=%d lost=%d escaped=%d truncated=%d\n",
		r.Splits, r.RouletteKills, r.Lost, r.Escaped, r.Truncated)
	if r.DetectorRays > 0 {
		fmt.Printf("detector: rays=%d score=%.6g\n", r.DetectorRays, r.DetectorScore)
	}
	for i, v := range r.Volumes {
		fmt.Printf("volume %d: %.6g\n", r.VolumeIDs[i], v)
	}
}

// writeMetrics dumps the registry in text exposition format.
func writeMetrics(g prometheus.Gatherer, path string) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return f.Close()
}
