package dagtrack

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

const rayStatDDL = `CREATE TABLE IF NOT EXISTS ray_stats (
	run_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	volume INTEGER NOT NULL,
	action TEXT NOT NULL,
	ray_tri_tests INTEGER NOT NULL,
	nodes_visited INTEGER NOT NULL,
	leaves_visited INTEGER NOT NULL,
	distance DOUBLE PRECISION NOT NULL
)`

// SQLRayStats buffers records and writes them in batched transactions to a
// sqlite (driver "sqlite") or postgres (driver "pgx") database.
type SQLRayStats struct {
	db     *sql.DB
	driver string
	batch  int
	mu     sync.Mutex
	buf    []RayStat
}

// OpenSQLRayStats opens dsn with driver and ensures the ray_stats table.
func OpenSQLRayStats(ctx context.Context, driver, dsn string) (*SQLRayStats, error) {
	switch driver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("unsupported raystat driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("raystat driver %s needs a dsn", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, rayStatDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ray_stats table: %w", err)
	}
	return &SQLRayStats{db: db, driver: driver, batch: RayStatBatch}, nil
}

// DB exposes the underlying sql.DB for tests.
func (s *SQLRayStats) DB() *sql.DB { return s.db }

func (s *SQLRayStats) insertSQL() string {
	if s.driver == "pgx" {
		return `INSERT INTO ray_stats(run_id,seq,volume,action,ray_tri_tests,nodes_visited,leaves_visited,distance) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`
	}
	return `INSERT INTO ray_stats(run_id,seq,volume,action,ray_tri_tests,nodes_visited,leaves_visited,distance) VALUES(?,?,?,?,?,?,?,?)`
}

func (s *SQLRayStats) Record(r RayStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, r)
	if len(s.buf) < s.batch {
		return nil
	}
	return s.flushLocked(context.Background())
}

// Flush writes buffered records.
func (s *SQLRayStats) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *SQLRayStats) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range s.buf {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Seq, r.Volume, r.Action.String(), r.RayTriTests, r.NodesVisited, r.LeavesVisited, r.Distance); err != nil {
			return fmt.Errorf("insert ray stat %d: %w", r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.buf = s.buf[:0]
	return nil
}

// Close flushes and closes the database.
func (s *SQLRayStats) Close() error {
	err := s.Flush(context.Background())
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Count returns the number of stored records for runID.
func (s *SQLRayStats) Count(ctx context.Context, runID string) (int, error) {
	q := `SELECT COUNT(*) FROM ray_stats WHERE run_id = ?`
	if s.driver == "pgx" {
		q = `SELECT COUNT(*) FROM ray_stats WHERE run_id = $1`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ray stats: %w", err)
	}
	return n, nil
}
