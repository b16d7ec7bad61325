package steps

import (
	"sort"

	"github.com/dukex/stepflow/pkg/models"
)

// place returns a copy of steps where every id in pinned sits at its requested
// 1-based position and all other steps fill the remaining slots in their current
// relative order (by order value, then array position). Order values are
// rewritten to index+1 so the result is always dense.
func place(steps models.Steps, pinned map[string]int) models.Steps {
	n := len(steps)
	slots := make([]int, n)

	for i := range slots {
		slots[i] = -1
	}

	isPinned := make([]bool, n)

	for i, step := range steps {
		pos, ok := pinned[step.ID]
		if !ok {
			continue
		}

		slot := freeSlot(slots, min(max(pos, 1), n)-1)
		slots[slot] = i
		isPinned[i] = true
	}

	rest := make([]int, 0, n)

	for i := range steps {
		if !isPinned[i] {
			rest = append(rest, i)
		}
	}

	sort.SliceStable(rest, func(a, b int) bool {
		return steps[rest[a]].Order < steps[rest[b]].Order
	})

	next := 0

	for slot := range slots {
		if slots[slot] == -1 {
			slots[slot] = rest[next]
			next++
		}
	}

	out := make(models.Steps, n)
	for slot, idx := range slots {
		out[slot] = steps[idx].Clone()
		out[slot].Order = slot + 1
	}

	return out
}

// freeSlot returns want if it is free, otherwise the nearest free slot after it,
// otherwise the nearest free slot before it.
func freeSlot(slots []int, want int) int {
	for i := want; i < len(slots); i++ {
		if slots[i] == -1 {
			return i
		}
	}

	for i := want - 1; i >= 0; i-- {
		if slots[i] == -1 {
			return i
		}
	}

	return want
}
