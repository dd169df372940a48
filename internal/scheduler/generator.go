// Package scheduler expands selected schedules into concrete occurrences.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// maxOccurrencesPerSchedule caps recurrence enumeration. The window span is
// already bounded, so this only guards against degenerate rules such as a
// sub-second interval.
const maxOccurrencesPerSchedule = 500

// SurveyResolver resolves the most recently published version of a survey.
type SurveyResolver interface {
	MostRecentlyPublishedSurvey(ctx context.Context, studyID, surveyGUID string) (models.SurveyReference, error)
}

// Generator expands one selected schedule into scheduled activities bounded
// by the context's time window. A Generator is built per computation so that
// survey lookups are cached across plans within a single request.
type Generator struct {
	surveys SurveyResolver
	parser  cron.Parser

	cache map[string]*models.SurveyReference
}

// NewGenerator creates a Generator resolving survey references through the
// given resolver. A nil resolver leaves survey snapshots as authored.
func NewGenerator(surveys SurveyResolver) *Generator {
	// Standard 5-field cron expressions (min, hour, dom, month, dow).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Generator{
		surveys: surveys,
		parser:  parser,
		cache:   make(map[string]*models.SurveyReference),
	}
}

// Generate expands the schedule into concrete occurrences for the context's
// participant. Recurrence enumeration skips ticks whose expiration already
// lapsed; every enumerated occurrence is emitted so the reconciler can match
// it against persisted progress, and final visibility filtering happens in
// OrderActivities. The result is deterministic for identical inputs.
func (g *Generator) Generate(ctx context.Context, plan *models.SchedulePlan, schedule *models.Schedule, sctx *models.ScheduleContext) []*models.ScheduledActivity {
	event, ok := sctx.EventTime(schedule.ResolvedEventID())
	if !ok {
		slog.Debug("Generator.Generate: triggering event absent, no occurrences",
			"plan_guid", plan.GUID, "event_id", schedule.ResolvedEventID())
		return nil
	}

	loc := sctx.Location()
	now := sctx.CurrentTime()
	endsOn := sctx.EndsOn.In(loc)
	first := event.In(loc).Add(schedule.Delay.Std())

	// Ticks before the horizon can no longer be actionable: their expiration
	// lapsed before this computation started. Without an expiration every past
	// tick stays actionable and nothing can be skipped.
	var horizon time.Time
	if d := schedule.Expires.Std(); d > 0 {
		horizon = now.Add(-d)
	}

	instants := g.enumerate(plan, schedule, first, endsOn, horizon)
	if len(schedule.Times) > 0 {
		instants = expandTimesOfDay(instants, schedule.Times, first, endsOn, loc)
	}

	templates := g.resolveTemplates(ctx, plan, schedule, sctx.StudyID)

	var out []*models.ScheduledActivity
	seen := make(map[string]bool)
	for _, t := range instants {
		for i := range templates {
			act := templates[i]
			sa := &models.ScheduledActivity{
				GUID:             models.ActivityIdentity(plan.GUID, act.GUID, t),
				SchedulePlanGUID: plan.GUID,
				ParticipantID:    sctx.ParticipantID,
				TimeZone:         sctx.TimeZone,
				Activity:         act,
				LocalScheduledOn: t,
				Persistent:       schedule.Persistent,
			}
			if d := schedule.Expires.Std(); d > 0 {
				expires := t.Add(d)
				sa.LocalExpiresOn = &expires
			}
			if seen[sa.GUID] {
				continue
			}
			seen[sa.GUID] = true
			out = append(out, sa)
		}
	}
	slog.Debug("Generator.Generate: expanded schedule",
		"plan_guid", plan.GUID, "instants", len(instants), "activities", len(out))
	return out
}

// enumerate lists the raw fire instants of the recurrence rule in [first, endsOn).
// Recurring rules begin at the first tick at or after horizon so a long event
// history cannot exhaust the cap before the actionable ticks are reached.
func (g *Generator) enumerate(plan *models.SchedulePlan, schedule *models.Schedule, first, endsOn, horizon time.Time) []time.Time {
	if !first.Before(endsOn) {
		return nil
	}
	switch schedule.ScheduleType {
	case models.ScheduleTypeOnce:
		return []time.Time{first}
	case models.ScheduleTypeRecurring:
		if schedule.CronTrigger != "" {
			return g.enumerateCron(plan, schedule.CronTrigger, first, endsOn, horizon)
		}
		return enumerateInterval(plan, schedule.Interval.Std(), first, endsOn, horizon)
	default:
		slog.Warn("Generator.enumerate: unknown schedule type", "plan_guid", plan.GUID, "schedule_type", schedule.ScheduleType)
		return nil
	}
}

// enumerateCron lists the cron expression's fire instants from the first
// candidate instant up to endsOn. The first candidate itself fires when it
// lands exactly on a cron boundary.
func (g *Generator) enumerateCron(plan *models.SchedulePlan, expr string, first, endsOn, horizon time.Time) []time.Time {
	cronSchedule, err := g.parser.Parse(expr)
	if err != nil {
		slog.Warn("Generator.enumerateCron: invalid cron trigger, no occurrences",
			"plan_guid", plan.GUID, "cron_trigger", expr, "error", err)
		return nil
	}
	seed := first
	if horizon.After(seed) {
		seed = horizon
	}
	var out []time.Time
	for t := cronSchedule.Next(seed.Add(-time.Second)); t.Before(endsOn) && len(out) < maxOccurrencesPerSchedule; t = cronSchedule.Next(t) {
		out = append(out, t)
	}
	return out
}

// enumerateInterval lists instants separated by a fixed interval starting at
// first. When the horizon falls after first the enumeration fast-forwards by
// whole periods, keeping the phase anchored to first.
func enumerateInterval(plan *models.SchedulePlan, interval time.Duration, first, endsOn, horizon time.Time) []time.Time {
	if interval <= 0 {
		slog.Warn("Generator.enumerateInterval: non-positive interval, no occurrences",
			"plan_guid", plan.GUID, "interval", interval)
		return nil
	}
	start := first
	if horizon.After(first) {
		elapsed := horizon.Sub(first)
		steps := int64(elapsed / interval)
		if elapsed%interval != 0 {
			steps++
		}
		start = first.Add(time.Duration(steps) * interval)
	}
	var out []time.Time
	for t := start; t.Before(endsOn) && len(out) < maxOccurrencesPerSchedule; t = t.Add(interval) {
		out = append(out, t)
	}
	return out
}

// expandTimesOfDay replaces each enumerated instant's calendar day with one
// occurrence per listed time-of-day. Instants before the first candidate
// (the triggering event plus delay) or at/after endsOn are excluded so the
// expansion never widens the schedule's bounds.
func expandTimesOfDay(instants []time.Time, times []string, first, endsOn time.Time, loc *time.Location) []time.Time {
	var out []time.Time
	seenDay := make(map[string]bool)
	for _, t := range instants {
		day := t.In(loc)
		dayKey := day.Format("2006-01-02")
		if seenDay[dayKey] {
			continue
		}
		seenDay[dayKey] = true
		for _, todStr := range times {
			tod, err := time.Parse(models.TimeOfDayLayout, todStr)
			if err != nil {
				slog.Warn("expandTimesOfDay: skipping invalid time-of-day", "time", todStr, "error", err)
				continue
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, loc)
			if at.Before(first) || !at.Before(endsOn) {
				continue
			}
			out = append(out, at)
		}
	}
	return out
}

// resolveTemplates snapshots the schedule's activity templates, resolving
// survey references to the most recently published content version. A failed
// lookup falls back to the template's last-known snapshot when it carries a
// version marker; otherwise the activity is skipped for this computation.
func (g *Generator) resolveTemplates(ctx context.Context, plan *models.SchedulePlan, schedule *models.Schedule, studyID string) []models.Activity {
	out := make([]models.Activity, 0, len(schedule.Activities))
	for i := range schedule.Activities {
		act := schedule.Activities[i]
		if act.ActivityType != models.ActivityTypeSurvey || act.Survey == nil || g.surveys == nil {
			out = append(out, act)
			continue
		}
		resolved := g.resolveSurvey(ctx, studyID, act.Survey.GUID)
		if resolved == nil {
			if act.Survey.CreatedOn.IsZero() {
				slog.Warn("Generator.resolveTemplates: unresolvable survey with no prior snapshot, skipping activity",
					"plan_guid", plan.GUID, "activity_guid", act.GUID, "survey_guid", act.Survey.GUID)
				continue
			}
			// Keep the last-known snapshot; resolution must never abort the computation.
			out = append(out, act)
			continue
		}
		snapshot := *resolved
		if snapshot.Identifier == "" {
			snapshot.Identifier = act.Survey.Identifier
		}
		act.Survey = &snapshot
		out = append(out, act)
	}
	return out
}

// resolveSurvey looks up a survey's published version at most once per
// computation. Failed lookups are cached too, so a flaky resolver is queried
// once rather than once per occurrence.
func (g *Generator) resolveSurvey(ctx context.Context, studyID, surveyGUID string) *models.SurveyReference {
	if ref, ok := g.cache[surveyGUID]; ok {
		return ref
	}
	ref, err := g.surveys.MostRecentlyPublishedSurvey(ctx, studyID, surveyGUID)
	if err != nil {
		slog.Warn("Generator.resolveSurvey: survey lookup failed", "survey_guid", surveyGUID, "error", err)
		g.cache[surveyGUID] = nil
		return nil
	}
	g.cache[surveyGUID] = &ref
	return &ref
}
