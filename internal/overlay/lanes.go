package overlay

import (
	"math/rand"
	"time"
)

// laneTable tracks when each horizontal lane is expected to be free
// again. Allocation prefers a uniform random pick among free lanes so
// a quiet wall fills evenly; when every lane is busy it degrades to
// the lane that frees up soonest instead of refusing the item.
type laneTable struct {
	earliestFree []time.Time
	laneHeight   float64
	now          func() time.Time
	rand         *rand.Rand
}

func newLaneTable(height, laneHeight float64, now func() time.Time, rng *rand.Rand) *laneTable {
	t := &laneTable{laneHeight: laneHeight, now: now, rand: rng}
	t.earliestFree = make([]time.Time, laneCount(height, laneHeight))
	return t
}

func laneCount(height, laneHeight float64) int {
	n := int(height / laneHeight)
	if n < 1 {
		n = 1
	}
	return n
}

// acquire reserves a lane for the estimated hold and returns its index.
func (t *laneTable) acquire(hold time.Duration) int {
	now := t.now()
	free := make([]int, 0, len(t.earliestFree))
	for i, at := range t.earliestFree {
		if !at.After(now) {
			free = append(free, i)
		}
	}

	var lane int
	if len(free) > 0 {
		lane = free[t.rand.Intn(len(free))]
	} else {
		lane = 0
		for i, at := range t.earliestFree {
			if at.Before(t.earliestFree[lane]) {
				lane = i
			}
		}
	}
	t.earliestFree[lane] = now.Add(hold)
	return lane
}

// release marks a lane free immediately. Real completion times differ
// from the estimate, so the actual event wins over the reservation.
func (t *laneTable) release(lane int) {
	if lane < 0 || lane >= len(t.earliestFree) {
		return
	}
	t.earliestFree[lane] = t.now()
}

// resize rebuilds the table when the derived lane count changes,
// dropping all reservations. Returns whether a rebuild happened.
func (t *laneTable) resize(height float64) bool {
	n := laneCount(height, t.laneHeight)
	if n == len(t.earliestFree) {
		return false
	}
	t.earliestFree = make([]time.Time, n)
	return true
}

func (t *laneTable) count() int {
	return len(t.earliestFree)
}
