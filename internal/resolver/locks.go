package resolver

import (
	"slices"
	"sync"
)

// lockStripes is the number of mutexes face ids are hashed onto.
const lockStripes = 1024

// groupLocker serialises work on overlapping groups of faces. Stripes are
// always taken in ascending order, so two groups never deadlock.
type groupLocker struct {
	stripes [lockStripes]sync.Mutex
}

func stripe(faceID int64) int {
	s := int(faceID % lockStripes)
	if s < 0 {
		s += lockStripes
	}
	return s
}

// Lock acquires every stripe covering ids and returns the matching unlock.
func (g *groupLocker) Lock(ids []int64) func() {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		idx = append(idx, stripe(id))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		g.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			g.stripes[idx[j]].Unlock()
		}
	}
}
