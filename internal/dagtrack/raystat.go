package dagtrack

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// RayStat is the traversal cost of one track query.
type RayStat struct {
	RunID         string
	Seq           int64
	Volume        int // 1-based volume index, 0 if unknown
	Action        Action
	RayTriTests   int
	NodesVisited  int
	LeavesVisited int
	Distance      Real
}

// RayStatSink receives one record per track query. Record must be safe for
// concurrent use; sink errors never stop transport.
type RayStatSink interface {
	Record(RayStat) error
	Close() error
}

// MemoryRayStats keeps records bucketed by action.
type MemoryRayStats struct {
	mu   sync.Mutex
	rays map[Action][]RayStat
}

func NewMemoryRayStats() *MemoryRayStats {
	return &MemoryRayStats{rays: make(map[Action][]RayStat)}
}

func (m *MemoryRayStats) Record(s RayStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rays[s.Action] = append(m.rays[s.Action], s)
	return nil
}

func (m *MemoryRayStats) Close() error { return nil }

// Snapshot returns a copy of the records for one action.
func (m *MemoryRayStats) Snapshot(a Action) []RayStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RayStat(nil), m.rays[a]...)
}

// Len counts all records.
func (m *MemoryRayStats) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.rays {
		n += len(v)
	}
	return n
}

// Summary returns per-action counts and mean ray/triangle tests.
func (m *MemoryRayStats) Summary() map[Action][2]Real {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Action][2]Real, len(m.rays))
	for k, v := range m.rays {
		sum := 0
		for _, s := range v {
			sum += s.RayTriTests
		}
		mean := 0.0
		if len(v) > 0 {
			mean = Real(sum) / Real(len(v))
		}
		out[k] = [2]Real{Real(len(v)), mean}
	}
	return out
}

// CSVRayStats writes "volume,ray_tri_tests,nodes_visited,leaves_visited" rows,
// the columns of the classic dagmc_raystat_dump.csv.
type CSVRayStats struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

func NewCSVRayStats(w io.Writer) *CSVRayStats {
	return &CSVRayStats{w: csv.NewWriter(w)}
}

// OpenCSVRayStats creates (truncates) path; empty path means RayStatCSV.
func OpenCSVRayStats(path string) (*CSVRayStats, error) {
	if path == "" {
		path = RayStatCSV
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create raystat csv: %w", err)
	}
	s := NewCSVRayStats(f)
	s.closer = f
	return s, nil
}

func (c *CSVRayStats) Record(s RayStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write([]string{
		strconv.Itoa(s.Volume),
		strconv.Itoa(s.RayTriTests),
		strconv.Itoa(s.NodesVisited),
		strconv.Itoa(s.LeavesVisited),
	})
}

func (c *CSVRayStats) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}
