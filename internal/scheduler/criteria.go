// Package scheduler computes, reconciles, and orders scheduled activities
// for study participants.
//
// Given a participant's schedule context and the study's schedule plans, it
// selects one schedule per plan, expands recurrence rules into concrete
// occurrences inside a bounded time window, and merges them with previously
// persisted activity state without losing participant progress.
package scheduler

import (
	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// CriteriaMatches reports whether the criteria's constraints are satisfied by
// the context. Absent fields are treated as "no constraint", so an empty
// criteria matches every participant. The predicate has no side effects and
// no error conditions.
func CriteriaMatches(c models.Criteria, ctx *models.ScheduleContext) bool {
	for platform, version := range ctx.AppVersions {
		if min, ok := c.MinAppVersions[platform]; ok && version < min {
			return false
		}
		if max, ok := c.MaxAppVersions[platform]; ok && version > max {
			return false
		}
	}

	if len(c.AllOfGroups) > 0 || len(c.NoneOfGroups) > 0 {
		groups := make(map[string]bool, len(ctx.DataGroups))
		for _, g := range ctx.DataGroups {
			groups[g] = true
		}
		for _, g := range c.AllOfGroups {
			if !groups[g] {
				return false
			}
		}
		for _, g := range c.NoneOfGroups {
			if groups[g] {
				return false
			}
		}
	}

	if c.Language != "" {
		found := false
		for _, lang := range ctx.Languages {
			if lang == c.Language {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
