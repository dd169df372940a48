// Package scheduler provides the scheduled activity service for SchedulePipe.
//
// The service is the composition root of the engine: it validates the request
// window, reads the study's plans, the participant's events, and the persisted
// activity state, runs selection, generation, and reconciliation, and writes
// back only the occurrences whose state changed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// DefaultMaxWindow bounds how far into the future a schedule window may reach.
const DefaultMaxWindow = 15 * 24 * time.Hour

// Error variables for window validation and persistence outcomes
var (
	// ErrEndsOnBeforeNow rejects windows whose exclusive upper bound is not in the future.
	ErrEndsOnBeforeNow = errors.New("ends_on must be in the future")
	// ErrEndsOnTooFar rejects windows beyond the configured maximum span.
	ErrEndsOnTooFar = errors.New("ends_on exceeds the maximum window span")
	// ErrPartialSave reports that the computed list is valid but the write-back
	// to the persisted store did not fully succeed.
	ErrPartialSave = errors.New("scheduled activity save partially failed")
)

// PlanSource lists the schedule plans authored for a study.
type PlanSource interface {
	ListSchedulePlans(ctx context.Context, studyID string) ([]models.SchedulePlan, error)
}

// EventSource supplies and records participant event timestamps.
type EventSource interface {
	ActivityEventMap(ctx context.Context, participantID string) (map[string]time.Time, error)
	PublishEvent(ctx context.Context, participantID, eventID string, timestamp time.Time) error
}

// ActivityStore persists scheduled activity lifecycle state.
type ActivityStore interface {
	ActivitiesForParticipant(ctx context.Context, participantID string) ([]*models.ScheduledActivity, error)
	ActivityByGUID(ctx context.Context, participantID, guid string) (*models.ScheduledActivity, error)
	SaveActivities(ctx context.Context, participantID string, activities []*models.ScheduledActivity) error
	DeleteActivitiesForParticipant(ctx context.Context, participantID string) error
}

// Opts holds configuration options for the Service.
type Opts struct {
	MaxWindow time.Duration // maximum span of the computed window
}

// Option defines a configuration option for the Service.
type Option func(*Opts)

// WithMaxWindow overrides the maximum schedule window span.
func WithMaxWindow(d time.Duration) Option {
	return func(o *Opts) {
		o.MaxWindow = d
	}
}

// Service computes and updates scheduled activities for participants.
type Service struct {
	plans      PlanSource
	events     EventSource
	surveys    SurveyResolver
	activities ActivityStore
	maxWindow  time.Duration
}

// NewService creates a Service wired to its collaborators.
func NewService(plans PlanSource, events EventSource, surveys SurveyResolver, activities ActivityStore, opts ...Option) *Service {
	cfg := Opts{MaxWindow: DefaultMaxWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	slog.Debug("NewService: scheduler service created", "max_window", cfg.MaxWindow)
	return &Service{
		plans:      plans,
		events:     events,
		surveys:    surveys,
		activities: activities,
		maxWindow:  cfg.MaxWindow,
	}
}

// GetScheduledActivities computes the participant-visible activity list for
// the context's window and persists any occurrences whose state changed.
// When persistence fails, the computed list is still returned alongside
// ErrPartialSave; the response remains correct without the write.
func (s *Service) GetScheduledActivities(ctx context.Context, sctx *models.ScheduleContext) ([]*models.ScheduledActivity, error) {
	if err := sctx.Validate(); err != nil {
		return nil, err
	}
	now := sctx.CurrentTime()
	if !sctx.EndsOn.After(now) {
		return nil, ErrEndsOnBeforeNow
	}
	if sctx.EndsOn.Sub(now) > s.maxWindow {
		return nil, ErrEndsOnTooFar
	}

	plans, events, persisted, err := s.loadInputs(ctx, sctx)
	if err != nil {
		return nil, err
	}

	// Explicit context events win over stored ones.
	merged := make(map[string]time.Time, len(events)+len(sctx.Events))
	for k, v := range events {
		merged[k] = v
	}
	for k, v := range sctx.Events {
		merged[k] = v
	}
	run := *sctx
	run.Events = merged

	gen := NewGenerator(s.surveys)
	var generated []*models.ScheduledActivity
	for i := range plans {
		plan := &plans[i]
		schedule := SelectSchedule(plan, &run)
		if schedule == nil {
			slog.Debug("GetScheduledActivities: no schedule for plan", "plan_guid", plan.GUID, "participant_id", run.ParticipantID)
			continue
		}
		generated = append(generated, gen.Generate(ctx, plan, schedule, &run)...)
	}

	finalList, toSave := Reconcile(generated, persisted, now)
	result := OrderActivities(finalList, now)

	if len(toSave) > 0 {
		if err := s.activities.SaveActivities(ctx, run.ParticipantID, toSave); err != nil {
			slog.Error("GetScheduledActivities: activity save failed, returning computed list",
				"participant_id", run.ParticipantID, "to_save", len(toSave), "error", err)
			return result, fmt.Errorf("%w: %v", ErrPartialSave, err)
		}
	}
	slog.Info("GetScheduledActivities: computed schedule",
		"participant_id", run.ParticipantID, "plans", len(plans), "activities", len(result), "saved", len(toSave))
	return result, nil
}

// loadInputs reads plans, events, and persisted activities concurrently.
// The reads are independent and commutative, so ordering does not matter.
func (s *Service) loadInputs(ctx context.Context, sctx *models.ScheduleContext) ([]models.SchedulePlan, map[string]time.Time, []*models.ScheduledActivity, error) {
	var (
		plans     []models.SchedulePlan
		events    map[string]time.Time
		persisted []*models.ScheduledActivity

		plansErr, eventsErr, storeErr error
	)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		plans, plansErr = s.plans.ListSchedulePlans(ctx, sctx.StudyID)
	}()
	go func() {
		defer wg.Done()
		events, eventsErr = s.events.ActivityEventMap(ctx, sctx.ParticipantID)
	}()
	go func() {
		defer wg.Done()
		persisted, storeErr = s.activities.ActivitiesForParticipant(ctx, sctx.ParticipantID)
	}()
	wg.Wait()

	if plansErr != nil {
		return nil, nil, nil, fmt.Errorf("list schedule plans for study %s: %w", sctx.StudyID, plansErr)
	}
	if eventsErr != nil {
		return nil, nil, nil, fmt.Errorf("load activity events for %s: %w", sctx.ParticipantID, eventsErr)
	}
	if storeErr != nil {
		return nil, nil, nil, fmt.Errorf("load persisted activities for %s: %w", sctx.ParticipantID, storeErr)
	}
	return plans, events, persisted, nil
}

// UpdateResult reports the per-item outcome of UpdateScheduledActivities.
type UpdateResult struct {
	GUID     string `json:"guid"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// UpdateScheduledActivities applies participant lifecycle changes (StartedOn,
// FinishedOn) to persisted occurrences. Items lacking an identity or naming an
// unknown occurrence are rejected individually without affecting the rest of
// the batch. Finishing an activity publishes a finished event so downstream
// schedules can trigger on it.
func (s *Service) UpdateScheduledActivities(ctx context.Context, participantID string, updates []*models.ScheduledActivity) ([]UpdateResult, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, models.ErrMissingParticipantID
	}

	results := make([]UpdateResult, 0, len(updates))
	var saves []*models.ScheduledActivity
	for _, u := range updates {
		if u == nil || u.GUID == "" {
			results = append(results, UpdateResult{Accepted: false, Message: "activity identity is required"})
			continue
		}
		p, err := s.activities.ActivityByGUID(ctx, participantID, u.GUID)
		if err != nil {
			slog.Error("UpdateScheduledActivities: activity lookup failed", "guid", u.GUID, "error", err)
			results = append(results, UpdateResult{GUID: u.GUID, Accepted: false, Message: "activity lookup failed"})
			continue
		}
		if p == nil {
			results = append(results, UpdateResult{GUID: u.GUID, Accepted: false, Message: "unknown activity"})
			continue
		}

		changed := false
		if u.StartedOn != nil && (p.StartedOn == nil || !p.StartedOn.Equal(*u.StartedOn)) {
			p.StartedOn = u.StartedOn
			changed = true
		}
		if u.FinishedOn != nil && (p.FinishedOn == nil || !p.FinishedOn.Equal(*u.FinishedOn)) {
			p.FinishedOn = u.FinishedOn
			changed = true
			s.publishFinishedEvent(ctx, participantID, p)
		}
		if changed {
			saves = append(saves, p)
		}
		results = append(results, UpdateResult{GUID: u.GUID, Accepted: true})
	}

	if len(saves) > 0 {
		if err := s.activities.SaveActivities(ctx, participantID, saves); err != nil {
			slog.Error("UpdateScheduledActivities: activity save failed", "participant_id", participantID, "error", err)
			return results, fmt.Errorf("%w: %v", ErrPartialSave, err)
		}
	}
	slog.Info("UpdateScheduledActivities: processed updates",
		"participant_id", participantID, "items", len(updates), "saved", len(saves))
	return results, nil
}

// DeleteActivitiesForParticipant removes all persisted activity state for a
// participant, e.g. when a test account is purged.
func (s *Service) DeleteActivitiesForParticipant(ctx context.Context, participantID string) error {
	if strings.TrimSpace(participantID) == "" {
		return models.ErrMissingParticipantID
	}
	return s.activities.DeleteActivitiesForParticipant(ctx, participantID)
}

// publishFinishedEvent records the completion as a participant event. Failure
// here never rejects the update; the event stream is advisory.
func (s *Service) publishFinishedEvent(ctx context.Context, participantID string, activity *models.ScheduledActivity) {
	if s.events == nil || activity.FinishedOn == nil {
		return
	}
	eventID := fmt.Sprintf("activity:%s:finished", activity.Activity.GUID)
	if err := s.events.PublishEvent(ctx, participantID, eventID, *activity.FinishedOn); err != nil {
		slog.Warn("UpdateScheduledActivities: finished event publish failed",
			"participant_id", participantID, "event_id", eventID, "error", err)
	}
}
