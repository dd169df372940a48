package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validSimplePlan() SchedulePlan {
	return SchedulePlan{
		GUID:    "plan-1",
		StudyID: "study-1",
		Label:   "Daily tasks",
		Strategy: ScheduleStrategy{
			Type: StrategyTypeSimple,
			Schedule: &Schedule{
				ScheduleType: ScheduleTypeRecurring,
				Interval:     Duration(24 * time.Hour),
				Activities: []Activity{
					{GUID: "act-1", Label: "Tapping test", ActivityType: ActivityTypeTask, Task: &TaskReference{Identifier: "tapping"}},
				},
			},
		},
	}
}

func TestSchedulePlanValidate(t *testing.T) {
	plan := validSimplePlan()
	if err := plan.Validate(); err != nil {
		t.Errorf("expected valid plan, got %v", err)
	}

	missingGUID := validSimplePlan()
	missingGUID.GUID = ""
	if err := missingGUID.Validate(); !errors.Is(err, ErrMissingPlanGUID) {
		t.Errorf("expected ErrMissingPlanGUID, got %v", err)
	}

	missingStudy := validSimplePlan()
	missingStudy.StudyID = ""
	if err := missingStudy.Validate(); !errors.Is(err, ErrMissingStudyID) {
		t.Errorf("expected ErrMissingStudyID, got %v", err)
	}
}

func TestScheduleStrategyValidate(t *testing.T) {
	noPayload := ScheduleStrategy{Type: StrategyTypeSimple}
	if err := noPayload.Validate(); !errors.Is(err, ErrMissingSchedule) {
		t.Errorf("expected ErrMissingSchedule for simple strategy without schedule, got %v", err)
	}

	unknown := ScheduleStrategy{Type: StrategyType("bogus")}
	if err := unknown.Validate(); !errors.Is(err, ErrInvalidStrategyType) {
		t.Errorf("expected ErrInvalidStrategyType, got %v", err)
	}

	emptyGroups := ScheduleStrategy{Type: StrategyTypeWeightedGroup}
	if err := emptyGroups.Validate(); !errors.Is(err, ErrMissingSchedule) {
		t.Errorf("expected ErrMissingSchedule for empty groups, got %v", err)
	}

	emptyCriteria := ScheduleStrategy{Type: StrategyTypeCriteriaList}
	if err := emptyCriteria.Validate(); !errors.Is(err, ErrMissingSchedule) {
		t.Errorf("expected ErrMissingSchedule for empty criteria list, got %v", err)
	}
}

func TestScheduleValidate(t *testing.T) {
	activity := Activity{GUID: "act-1", ActivityType: ActivityTypeTask, Task: &TaskReference{Identifier: "tapping"}}

	recurringNoRule := Schedule{ScheduleType: ScheduleTypeRecurring, Activities: []Activity{activity}}
	if err := recurringNoRule.Validate(); !errors.Is(err, ErrMissingRecurrence) {
		t.Errorf("expected ErrMissingRecurrence, got %v", err)
	}

	cronOnly := Schedule{ScheduleType: ScheduleTypeRecurring, CronTrigger: "0 9 * * *", Activities: []Activity{activity}}
	if err := cronOnly.Validate(); err != nil {
		t.Errorf("expected cron-only recurring schedule to validate, got %v", err)
	}

	noActivities := Schedule{ScheduleType: ScheduleTypeOnce}
	if err := noActivities.Validate(); !errors.Is(err, ErrNoActivities) {
		t.Errorf("expected ErrNoActivities, got %v", err)
	}

	badTime := Schedule{ScheduleType: ScheduleTypeOnce, Times: []string{"25:00"}, Activities: []Activity{activity}}
	if err := badTime.Validate(); !errors.Is(err, ErrInvalidTimeOfDay) {
		t.Errorf("expected ErrInvalidTimeOfDay, got %v", err)
	}

	badType := Schedule{ScheduleType: ScheduleType("sometimes"), Activities: []Activity{activity}}
	if err := badType.Validate(); !errors.Is(err, ErrInvalidScheduleType) {
		t.Errorf("expected ErrInvalidScheduleType, got %v", err)
	}

	tooMany := Schedule{ScheduleType: ScheduleTypeOnce, Activities: make([]Activity, MaxActivitiesPerSchedule+1)}
	for i := range tooMany.Activities {
		tooMany.Activities[i] = activity
	}
	if err := tooMany.Validate(); !errors.Is(err, ErrTooManyActivities) {
		t.Errorf("expected ErrTooManyActivities, got %v", err)
	}
}

func TestScheduleResolvedEventID(t *testing.T) {
	s := Schedule{}
	if got := s.ResolvedEventID(); got != DefaultEventID {
		t.Errorf("expected default event %q, got %q", DefaultEventID, got)
	}
	s.EventID = "clinic_visit"
	if got := s.ResolvedEventID(); got != "clinic_visit" {
		t.Errorf("expected clinic_visit, got %q", got)
	}
}

func TestDurationJSON(t *testing.T) {
	d := Duration(36 * time.Hour)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"36h0m0s"` {
		t.Errorf("expected \"36h0m0s\", got %s", data)
	}

	var fromString Duration
	if err := json.Unmarshal([]byte(`"24h"`), &fromString); err != nil {
		t.Fatalf("unmarshal string failed: %v", err)
	}
	if fromString.Std() != 24*time.Hour {
		t.Errorf("expected 24h, got %v", fromString.Std())
	}

	var fromInt Duration
	if err := json.Unmarshal([]byte(`3600000000000`), &fromInt); err != nil {
		t.Fatalf("unmarshal int failed: %v", err)
	}
	if fromInt.Std() != time.Hour {
		t.Errorf("expected 1h, got %v", fromInt.Std())
	}

	var bad Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &bad); err == nil {
		t.Error("expected error for invalid duration string")
	}
}

func TestActivityValidate(t *testing.T) {
	noGUID := Activity{ActivityType: ActivityTypeTask, Task: &TaskReference{Identifier: "tapping"}}
	if err := noGUID.Validate(); !errors.Is(err, ErrMissingActivityGUID) {
		t.Errorf("expected ErrMissingActivityGUID, got %v", err)
	}

	badType := Activity{GUID: "act-1", ActivityType: ActivityType("game")}
	if err := badType.Validate(); !errors.Is(err, ErrInvalidActivityType) {
		t.Errorf("expected ErrInvalidActivityType, got %v", err)
	}

	surveyNoRef := Activity{GUID: "act-1", ActivityType: ActivityTypeSurvey}
	if err := surveyNoRef.Validate(); !errors.Is(err, ErrMissingActivityRef) {
		t.Errorf("expected ErrMissingActivityRef for survey without reference, got %v", err)
	}

	compound := Activity{GUID: "act-1", ActivityType: ActivityTypeCompound, Compound: &CompoundReference{TaskIdentifier: "combo"}}
	if err := compound.Validate(); err != nil {
		t.Errorf("expected valid compound activity, got %v", err)
	}
}

func TestActivityContentMatches(t *testing.T) {
	v1 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	v2 := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	a := Activity{GUID: "act-1", Label: "Mood survey", ActivityType: ActivityTypeSurvey, Survey: &SurveyReference{GUID: "svy-1", CreatedOn: v1}}
	same := Activity{GUID: "act-1", Label: "Mood survey", ActivityType: ActivityTypeSurvey, Survey: &SurveyReference{GUID: "svy-1", CreatedOn: v1}}
	if !a.ContentMatches(&same) {
		t.Error("identical survey snapshots should match")
	}

	republished := same
	republished.Survey = &SurveyReference{GUID: "svy-1", CreatedOn: v2}
	if a.ContentMatches(&republished) {
		t.Error("republished survey version should not match")
	}

	relabeled := same
	relabeled.Label = "Renamed survey"
	if a.ContentMatches(&relabeled) {
		t.Error("relabeled activity should not match")
	}

	task := Activity{GUID: "act-2", ActivityType: ActivityTypeTask, Task: &TaskReference{Identifier: "tapping"}}
	sameTask := Activity{GUID: "act-9", ActivityType: ActivityTypeTask, Task: &TaskReference{Identifier: "tapping"}}
	if !task.ContentMatches(&sameTask) {
		t.Error("task activities with the same identifier should match")
	}
}
