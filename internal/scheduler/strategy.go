// Package scheduler selects the one schedule a plan resolves to for a participant.
package scheduler

import (
	"hash/fnv"
	"log/slog"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// SelectSchedule picks the schedule the plan's strategy resolves to for this
// participant, or nil when no schedule applies. Malformed strategies degrade
// to nil rather than failing the whole computation; plan authoring is
// validated upstream.
func SelectSchedule(plan *models.SchedulePlan, ctx *models.ScheduleContext) *models.Schedule {
	switch plan.Strategy.Type {
	case models.StrategyTypeSimple:
		return plan.Strategy.Schedule
	case models.StrategyTypeWeightedGroup:
		return selectWeightedGroup(plan, ctx)
	case models.StrategyTypeCriteriaList:
		for i := range plan.Strategy.ScheduleCriteria {
			sc := &plan.Strategy.ScheduleCriteria[i]
			if CriteriaMatches(sc.Criteria, ctx) {
				return &sc.Schedule
			}
		}
		return nil
	default:
		slog.Warn("SelectSchedule: unknown strategy type, treating as no match",
			"plan_guid", plan.GUID, "strategy_type", plan.Strategy.Type)
		return nil
	}
}

// selectWeightedGroup deterministically assigns the participant to one group.
// The bucket is a stable hash of the participant identity modulo the weight
// sum, mapped into the cumulative-weight ranges in declared order, so the same
// participant lands in the same group for as long as the groups are unchanged.
func selectWeightedGroup(plan *models.SchedulePlan, ctx *models.ScheduleContext) *models.Schedule {
	total := 0
	for _, g := range plan.Strategy.Groups {
		if g.Weight > 0 {
			total += g.Weight
		}
	}
	if total <= 0 {
		slog.Warn("SelectSchedule: weighted groups sum to zero, treating as no match",
			"plan_guid", plan.GUID)
		return nil
	}

	bucket := int(participantBucket(ctx.ParticipantID) % uint64(total))
	for i := range plan.Strategy.Groups {
		g := &plan.Strategy.Groups[i]
		if g.Weight <= 0 {
			continue
		}
		if bucket < g.Weight {
			return &g.Schedule
		}
		bucket -= g.Weight
	}
	// Unreachable while bucket < total; guard against future edits.
	return nil
}

// participantBucket hashes the participant identity with FNV-64a. No hidden
// seed state: the assignment is reproducible across processes and restarts.
func participantBucket(participantID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(participantID))
	return h.Sum64()
}
