package dagtrack

import "log/slog"

// ParticleBank is the LIFO stack of histories saved when the host banks a
// split particle. It grows without bound and is cleared per batch.
type ParticleBank struct {
	stack   []RayHistory
	log     *slog.Logger
	metrics *Metrics
}

func NewParticleBank(log *slog.Logger, m *Metrics) *ParticleBank {
	if log == nil {
		log = discardLogger()
	}
	return &ParticleBank{log: log, metrics: m}
}

func (b *ParticleBank) Len() int { return len(b.stack) }

// Push appends a copy of h. expected is the host's idea of the current
// length; a mismatch is logged and the push proceeds.
func (b *ParticleBank) Push(h RayHistory, expected int) {
	if expected != len(b.stack) {
		b.log.Warn("bank push size mismatch", slog.Int("host", expected), slog.Int("bank", len(b.stack)))
		b.metrics.warning("push_size_mismatch")
	}
	b.stack = append(b.stack, h.Clone())
	b.metrics.bankDepth(len(b.stack))
}

// Top returns a copy of the newest entry; false (with a warning) when empty.
func (b *ParticleBank) Top() (RayHistory, bool) {
	if len(b.stack) == 0 {
		b.log.Warn("bank use top called without bank history", slog.Any("error", ErrEmptyBank))
		b.metrics.warning("usetop_empty")
		return RayHistory{}, false
	}
	return b.stack[len(b.stack)-1].Clone(), true
}

// Pop drops the newest entry, with the same mismatch policy as Push.
func (b *ParticleBank) Pop(expected int) {
	if expected != len(b.stack) {
		b.log.Warn("bank pop size mismatch", slog.Int("host", expected), slog.Int("bank", len(b.stack)))
		b.metrics.warning("pop_size_mismatch")
	}
	if n := len(b.stack); n > 0 {
		b.stack[n-1] = RayHistory{}
		b.stack = b.stack[:n-1]
	} else {
		b.log.Warn("bank pop called without bank history", slog.Any("error", ErrEmptyBank))
		b.metrics.warning("pop_empty")
	}
	b.metrics.bankDepth(len(b.stack))
}

func (b *ParticleBank) Clear() {
	b.stack = nil
	b.metrics.bankDepth(0)
}
