package dagtrack

// crossingTracker records whether a crossing (or any other boundary event)
// happened since the last track query. A surface being found is not the
// same as it being crossed.
type crossingTracker struct {
	visited bool
}

func (c *crossingTracker) Mark()         { c.visited = true }
func (c *crossingTracker) Clear()        { c.visited = false }
func (c *crossingTracker) Visited() bool { return c.visited }
