// Package scheduler merges freshly generated occurrences with persisted state.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// Reconcile merges the freshly generated activities against the persisted set,
// matched by identity. It returns the participant-visible list and the subset
// that must be written back to the store.
//
// Rules:
//   - A generated activity with no persisted match is new. It always appears
//     in the final list; it is only saved when it is not already dead
//     (expired and never started).
//   - A persisted match that is finished (or dismissed) is satisfied: the
//     occurrence is excluded from this cycle's output. Persistent schedules
//     surface future slots as new occurrences because identity includes the
//     scheduled instant.
//   - An unfinished persisted match wins over the generated copy so that
//     StartedOn is preserved. When the generated content snapshot differs and
//     the persisted activity has not been started, the snapshot is refreshed
//     in place (keeping identity and lifecycle) and queued for saving.
//     Content drift never touches work in progress.
//   - Persisted entries with no fresh counterpart are dropped and never
//     re-saved, unless they carry work in progress: a started, unfinished
//     occurrence stays visible until it is finished even when the schedule
//     no longer produces its slot.
//
// Reconciling twice against an unchanged store yields an empty save set the
// second time.
func Reconcile(generated, persisted []*models.ScheduledActivity, now time.Time) (finalList, toSave []*models.ScheduledActivity) {
	byGUID := make(map[string]*models.ScheduledActivity, len(persisted))
	for _, p := range persisted {
		if p != nil && p.GUID != "" {
			byGUID[p.GUID] = p
		}
	}

	matched := make(map[string]bool, len(generated))
	for _, g := range generated {
		p, ok := byGUID[g.GUID]
		if !ok {
			finalList = append(finalList, g)
			if g.Status(now) != models.StatusExpired {
				toSave = append(toSave, g)
			}
			continue
		}
		matched[g.GUID] = true
		if p.IsDone() {
			slog.Debug("Reconcile: occurrence already completed, excluding", "guid", g.GUID)
			continue
		}
		merged := p.Copy()
		if !g.Activity.ContentMatches(&p.Activity) && p.StartedOn == nil {
			slog.Debug("Reconcile: content drift on unstarted activity, refreshing snapshot", "guid", g.GUID)
			merged.Activity = g.Activity
			toSave = append(toSave, merged)
		}
		finalList = append(finalList, merged)
	}

	for _, p := range persisted {
		if p == nil || p.GUID == "" || matched[p.GUID] {
			continue
		}
		if p.StartedOn != nil && !p.IsDone() {
			slog.Debug("Reconcile: keeping started occurrence without a fresh counterpart", "guid", p.GUID)
			finalList = append(finalList, p.Copy())
		}
	}
	return finalList, toSave
}
