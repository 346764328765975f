package execution

import (
	"sort"
	"time"
)

// SelectForRetention returns the ids of executions to delete: everything outside the
// maxToKeep most recently finished, and everything which finished before now-ttl.
// Executions which are not terminal are never selected.
func SelectForRetention(executions []*Execution, maxToKeep int, ttl time.Duration, now time.Time) []string {
	finished := make([]*Execution, 0, len(executions))
	for _, e := range executions {
		if e == nil || !e.Status.IsTerminal() {
			continue
		}
		finished = append(finished, e)
	}

	sort.SliceStable(finished, func(i, j int) bool {
		return endTimeOf(finished[i]).Before(endTimeOf(finished[j]))
	})

	overflow := len(finished) - maxToKeep
	if maxToKeep < 0 {
		overflow = 0
	}
	expiry := now.Add(-ttl)

	var ids []string
	for i, e := range finished {
		expired := ttl > 0 && endTimeOf(e).Before(expiry)
		if i < overflow || expired {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func endTimeOf(e *Execution) time.Time {
	if e.EndTime == nil {
		return time.Time{}
	}
	return *e.EndTime
}
