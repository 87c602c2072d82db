package dagtrack

import "fmt"

// SlotTable is a fixed-capacity table of saved histories addressed by 1-based
// slot numbers in [1, capacity]. The capacity never changes.
type SlotTable struct {
	slots []RayHistory // index 0 unused
}

func NewSlotTable(capacity int) *SlotTable {
	if capacity < 0 {
		capacity = 0
	}
	return &SlotTable{slots: make([]RayHistory, capacity+1)}
}

func (s *SlotTable) Cap() int { return len(s.slots) - 1 }

func (s *SlotTable) check(n int) error {
	if n < 1 || n >= len(s.slots) {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrSlotOutOfRange, n, s.Cap())
	}
	return nil
}

// Save overwrites slot n with a copy of h.
func (s *SlotTable) Save(n int, h RayHistory) error {
	if err := s.check(n); err != nil {
		return err
	}
	s.slots[n] = h.Clone()
	return nil
}

// Restore returns a copy of slot n.
func (s *SlotTable) Restore(n int) (RayHistory, error) {
	if err := s.check(n); err != nil {
		return RayHistory{}, err
	}
	return s.slots[n].Clone(), nil
}
