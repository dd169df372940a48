// Package scheduler orders and filters the reconciled activity list.
package scheduler

import (
	"sort"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// OrderActivities drops occurrences that lapsed without ever being started
// and sorts the rest by scheduled instant. Ties break on activity label and
// then identity so identical inputs always produce byte-identical output.
// A started activity survives expiration until it is finished.
func OrderActivities(list []*models.ScheduledActivity, now time.Time) []*models.ScheduledActivity {
	out := make([]*models.ScheduledActivity, 0, len(list))
	for _, a := range list {
		if a.Status(now) == models.StatusExpired {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LocalScheduledOn.Equal(b.LocalScheduledOn) {
			return a.LocalScheduledOn.Before(b.LocalScheduledOn)
		}
		if a.Activity.Label != b.Activity.Label {
			return a.Activity.Label < b.Activity.Label
		}
		return a.GUID < b.GUID
	})
	return out
}
