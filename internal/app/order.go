package app

import (
	"slices"

	"notifyd/pkg/mediator"
)

// ByLevelThenPriority orders entries by Level ascending, then Priority
// descending. Ties keep registration order.
func ByLevelThenPriority(entries []mediator.Entry) {
	slices.SortStableFunc(entries, func(a, b mediator.Entry) int {
		if la, lb := a.Ordering.Level(), b.Ordering.Level(); la != lb {
			if la < lb {
				return -1
			}
			return 1
		}
		return b.Ordering.Priority().Cmp(a.Ordering.Priority())
	})
}
