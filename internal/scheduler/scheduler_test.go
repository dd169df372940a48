package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
	"github.com/OpenCohort/SchedulePipe/internal/store"
)

var svcEnrollment = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// newTestService seeds an in-memory store with one daily-interval plan and an
// enrollment event, and wires a service around it.
func newTestService(t *testing.T, opts ...Option) (*Service, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()

	plan := models.SchedulePlan{
		GUID:    "plan-1",
		StudyID: "study-1",
		Label:   "Daily tapping",
		Strategy: models.ScheduleStrategy{
			Type: models.StrategyTypeSimple,
			Schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				Delay:        models.Duration(24 * time.Hour),
				Interval:     models.Duration(24 * time.Hour),
				Activities: []models.Activity{
					{GUID: "act-1", Label: "Tapping test", ActivityType: models.ActivityTypeTask, Task: &models.TaskReference{Identifier: "tapping"}},
				},
			},
		},
	}
	if err := st.SavePlan(context.Background(), plan); err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	if err := st.PublishEvent(context.Background(), "p1", models.DefaultEventID, svcEnrollment); err != nil {
		t.Fatalf("failed to seed enrollment event: %v", err)
	}

	return NewService(st, st, st, st, opts...), st
}

func svcContext(now, endsOn time.Time) *models.ScheduleContext {
	return &models.ScheduleContext{
		StudyID:       "study-1",
		ParticipantID: "p1",
		TimeZone:      "UTC",
		Now:           now,
		EndsOn:        endsOn,
	}
}

func TestGetScheduledActivities(t *testing.T) {
	svc, st := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(2*time.Hour), svcEnrollment.Add(72*time.Hour))

	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("GetScheduledActivities failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 activities in the window, got %d", len(got))
	}
	if !got[0].LocalScheduledOn.Equal(svcEnrollment.Add(24 * time.Hour)) {
		t.Errorf("first activity at %v, expected enrollment+delay", got[0].LocalScheduledOn)
	}

	// New occurrences are written back to the persisted store.
	persisted, err := st.ActivitiesForParticipant(context.Background(), "p1")
	if err != nil {
		t.Fatalf("failed to read persisted activities: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("expected 2 persisted activities, got %d", len(persisted))
	}
}

func TestGetScheduledActivitiesDeterministic(t *testing.T) {
	svc, _ := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(2*time.Hour), svcEnrollment.Add(72*time.Hour))

	first, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("first computation failed: %v", err)
	}
	second, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("second computation failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("computations differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].GUID != second[i].GUID {
			t.Errorf("computation mismatch at %d: %q vs %q", i, first[i].GUID, second[i].GUID)
		}
	}
}

func TestGetScheduledActivitiesWindowValidation(t *testing.T) {
	svc, _ := newTestService(t)
	now := svcEnrollment.Add(2 * time.Hour)

	past := svcContext(now, now.Add(-time.Hour))
	if _, err := svc.GetScheduledActivities(context.Background(), past); !errors.Is(err, ErrEndsOnBeforeNow) {
		t.Errorf("expected ErrEndsOnBeforeNow, got %v", err)
	}

	tooFar := svcContext(now, now.Add(DefaultMaxWindow+time.Hour))
	if _, err := svc.GetScheduledActivities(context.Background(), tooFar); !errors.Is(err, ErrEndsOnTooFar) {
		t.Errorf("expected ErrEndsOnTooFar, got %v", err)
	}

	invalid := svcContext(now, now.Add(24*time.Hour))
	invalid.ParticipantID = ""
	if _, err := svc.GetScheduledActivities(context.Background(), invalid); !errors.Is(err, models.ErrMissingParticipantID) {
		t.Errorf("expected ErrMissingParticipantID, got %v", err)
	}
}

func TestGetScheduledActivitiesCustomMaxWindow(t *testing.T) {
	svc, _ := newTestService(t, WithMaxWindow(48*time.Hour))
	now := svcEnrollment.Add(2 * time.Hour)

	if _, err := svc.GetScheduledActivities(context.Background(), svcContext(now, now.Add(47*time.Hour))); err != nil {
		t.Errorf("expected window inside the configured span to pass, got %v", err)
	}
	if _, err := svc.GetScheduledActivities(context.Background(), svcContext(now, now.Add(49*time.Hour))); !errors.Is(err, ErrEndsOnTooFar) {
		t.Errorf("expected ErrEndsOnTooFar beyond the configured span, got %v", err)
	}
}

func TestGetScheduledActivitiesContextEventsOverride(t *testing.T) {
	svc, _ := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(2*time.Hour), svcEnrollment.Add(72*time.Hour))
	// An explicit enrollment instant shifts every occurrence.
	shifted := svcEnrollment.Add(12 * time.Hour)
	sctx.Events = map[string]time.Time{models.DefaultEventID: shifted}

	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("GetScheduledActivities failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected activities")
	}
	if !got[0].LocalScheduledOn.Equal(shifted.Add(24 * time.Hour)) {
		t.Errorf("expected occurrences anchored on the explicit event, got %v", got[0].LocalScheduledOn)
	}
}

func TestGetScheduledActivitiesPreservesProgress(t *testing.T) {
	svc, _ := newTestService(t)
	// Compute once so the occurrences persist, then start the first one.
	sctx := svcContext(svcEnrollment.Add(26*time.Hour), svcEnrollment.Add(96*time.Hour))
	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("initial computation failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected activities")
	}

	started := svcEnrollment.Add(25 * time.Hour)
	results, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		{GUID: got[0].GUID, StartedOn: &started},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(results) != 1 || !results[0].Accepted {
		t.Fatalf("expected accepted update, got %+v", results)
	}

	again, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("recomputation failed: %v", err)
	}
	var found *models.ScheduledActivity
	for _, a := range again {
		if a.GUID == got[0].GUID {
			found = a
		}
	}
	if found == nil {
		t.Fatal("started activity missing from recomputed list")
	}
	if found.StartedOn == nil || !found.StartedOn.Equal(started) {
		t.Errorf("expected StartedOn %v preserved across recomputation, got %v", started, found.StartedOn)
	}
}

func TestGetScheduledActivitiesKeepsStartedPastExpiration(t *testing.T) {
	st := store.NewInMemoryStore()
	plan := models.SchedulePlan{
		GUID:    "plan-1",
		StudyID: "study-1",
		Label:   "Daily tapping",
		Strategy: models.ScheduleStrategy{
			Type: models.StrategyTypeSimple,
			Schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				Delay:        models.Duration(24 * time.Hour),
				Interval:     models.Duration(24 * time.Hour),
				Expires:      models.Duration(time.Hour),
				Activities: []models.Activity{
					{GUID: "act-1", Label: "Tapping test", ActivityType: models.ActivityTypeTask, Task: &models.TaskReference{Identifier: "tapping"}},
				},
			},
		},
	}
	if err := st.SavePlan(context.Background(), plan); err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	if err := st.PublishEvent(context.Background(), "p1", models.DefaultEventID, svcEnrollment); err != nil {
		t.Fatalf("failed to seed enrollment event: %v", err)
	}
	svc := NewService(st, st, st, st)

	// First computation while the day-2 occurrence is still actionable.
	sctx := svcContext(svcEnrollment.Add(24*time.Hour+30*time.Minute), svcEnrollment.Add(96*time.Hour))
	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("initial computation failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 activities, got %d", len(got))
	}
	target := got[0]
	if !target.LocalScheduledOn.Equal(svcEnrollment.Add(24 * time.Hour)) {
		t.Fatalf("expected the day-2 occurrence first, got %v", target.LocalScheduledOn)
	}

	started := svcEnrollment.Add(24*time.Hour + 40*time.Minute)
	if _, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		{GUID: target.GUID, StartedOn: &started},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Days later the occurrence's expiration has long lapsed, yet the started
	// work must stay in the computed list until it is finished.
	later := svcContext(svcEnrollment.Add(70*time.Hour), svcEnrollment.Add(96*time.Hour))
	again, err := svc.GetScheduledActivities(context.Background(), later)
	if err != nil {
		t.Fatalf("recomputation failed: %v", err)
	}
	var found *models.ScheduledActivity
	for _, a := range again {
		if a.GUID == target.GUID {
			found = a
		}
	}
	if found == nil {
		t.Fatal("started activity vanished after its expiration lapsed")
	}
	if found.StartedOn == nil || !found.StartedOn.Equal(started) {
		t.Errorf("expected StartedOn %v preserved, got %v", started, found.StartedOn)
	}

	// Finishing it finally retires the occurrence.
	finished := svcEnrollment.Add(71 * time.Hour)
	if _, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		{GUID: target.GUID, StartedOn: &started, FinishedOn: &finished},
	}); err != nil {
		t.Fatalf("finish update failed: %v", err)
	}
	final, err := svc.GetScheduledActivities(context.Background(), later)
	if err != nil {
		t.Fatalf("final computation failed: %v", err)
	}
	for _, a := range final {
		if a.GUID == target.GUID {
			t.Errorf("finished activity %q must not reappear", a.GUID)
		}
	}
}

func TestGetScheduledActivitiesExcludesFinished(t *testing.T) {
	svc, _ := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(26*time.Hour), svcEnrollment.Add(96*time.Hour))
	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("initial computation failed: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least 2 activities, got %d", len(got))
	}

	started := svcEnrollment.Add(25 * time.Hour)
	finished := started.Add(time.Hour)
	if _, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		{GUID: got[0].GUID, StartedOn: &started, FinishedOn: &finished},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	again, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil {
		t.Fatalf("recomputation failed: %v", err)
	}
	for _, a := range again {
		if a.GUID == got[0].GUID {
			t.Errorf("finished activity %q must not reappear", a.GUID)
		}
	}
	if len(again) != len(got)-1 {
		t.Errorf("expected %d activities after completion, got %d", len(got)-1, len(again))
	}
}

func TestUpdateScheduledActivitiesRejections(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.UpdateScheduledActivities(context.Background(), "  ", nil); !errors.Is(err, models.ErrMissingParticipantID) {
		t.Errorf("expected ErrMissingParticipantID for blank participant, got %v", err)
	}

	started := svcEnrollment.Add(25 * time.Hour)
	results, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		nil,
		{GUID: "", StartedOn: &started},
		{GUID: "plan-1:act-1:2099-01-01T00:00:00", StartedOn: &started},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 per-item results, got %d", len(results))
	}
	for i, r := range results {
		if r.Accepted {
			t.Errorf("item %d should have been rejected: %+v", i, r)
		}
	}
}

func TestUpdateScheduledActivitiesPublishesFinishedEvent(t *testing.T) {
	svc, st := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(26*time.Hour), svcEnrollment.Add(96*time.Hour))
	got, err := svc.GetScheduledActivities(context.Background(), sctx)
	if err != nil || len(got) == 0 {
		t.Fatalf("initial computation failed: %v (%d activities)", err, len(got))
	}

	finished := svcEnrollment.Add(30 * time.Hour)
	if _, err := svc.UpdateScheduledActivities(context.Background(), "p1", []*models.ScheduledActivity{
		{GUID: got[0].GUID, FinishedOn: &finished},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	events, err := st.ActivityEventMap(context.Background(), "p1")
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	eventID := "activity:" + got[0].Activity.GUID + ":finished"
	if ts, ok := events[eventID]; !ok || !ts.Equal(finished) {
		t.Errorf("expected finished event %q at %v, got %v ok=%v", eventID, finished, ts, ok)
	}
}

func TestDeleteActivitiesForParticipant(t *testing.T) {
	svc, st := newTestService(t)
	sctx := svcContext(svcEnrollment.Add(2*time.Hour), svcEnrollment.Add(72*time.Hour))
	if _, err := svc.GetScheduledActivities(context.Background(), sctx); err != nil {
		t.Fatalf("initial computation failed: %v", err)
	}

	if err := svc.DeleteActivitiesForParticipant(context.Background(), ""); !errors.Is(err, models.ErrMissingParticipantID) {
		t.Errorf("expected ErrMissingParticipantID for blank participant, got %v", err)
	}

	if err := svc.DeleteActivitiesForParticipant(context.Background(), "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	persisted, err := st.ActivitiesForParticipant(context.Background(), "p1")
	if err != nil {
		t.Fatalf("failed to read persisted activities: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("expected no persisted activities after delete, got %d", len(persisted))
	}
}
