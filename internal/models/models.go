// Package models defines the core data structures for SchedulePipe.
//
// It includes schedule plans, selection strategies, recurrence schedules,
// eligibility criteria, and the scheduled activity records shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ScheduleType defines how often a schedule produces occurrences.
type ScheduleType string

const (
	// ScheduleTypeOnce produces a single occurrence after the triggering event.
	ScheduleTypeOnce ScheduleType = "once"
	// ScheduleTypeRecurring produces occurrences on an interval or cron trigger.
	ScheduleTypeRecurring ScheduleType = "recurring"
)

// StrategyType defines how a schedule plan resolves to a schedule for a participant.
type StrategyType string

const (
	// StrategyTypeSimple always resolves to the plan's single schedule.
	StrategyTypeSimple StrategyType = "simple"
	// StrategyTypeWeightedGroup assigns each participant to one weighted group.
	StrategyTypeWeightedGroup StrategyType = "weighted_group"
	// StrategyTypeCriteriaList resolves to the schedule of the first matching criteria.
	StrategyTypeCriteriaList StrategyType = "criteria_list"
)

// DefaultEventID is the triggering event used when a schedule names none.
const DefaultEventID = "enrollment"

// Validation constants for schedule plans and schedules.
const (
	// MaxActivitiesPerSchedule defines the maximum number of activity templates per schedule
	MaxActivitiesPerSchedule = 50
	// MaxTimesPerSchedule defines the maximum number of times-of-day entries per schedule
	MaxTimesPerSchedule = 24
	// TimeOfDayLayout is the layout for times-of-day entries, e.g. "14:30"
	TimeOfDayLayout = "15:04"
)

// Error variables for better error handling and testability
var (
	ErrMissingPlanGUID     = errors.New("schedule plan guid is required")
	ErrMissingStudyID      = errors.New("schedule plan study identifier is required")
	ErrInvalidStrategyType = errors.New("invalid schedule strategy type")
	ErrMissingSchedule     = errors.New("strategy requires a schedule")
	ErrInvalidScheduleType = errors.New("invalid schedule type")
	ErrMissingRecurrence   = errors.New("recurring schedule requires an interval or cron trigger")
	ErrNoActivities        = errors.New("schedule requires at least one activity")
	ErrTooManyActivities   = errors.New("schedule exceeds maximum activity count")
	ErrInvalidTimeOfDay    = errors.New("times entries must be in HH:MM format")
	ErrTooManyTimes        = errors.New("schedule exceeds maximum times-of-day count")
	ErrMissingActivityGUID = errors.New("activity guid is required")
	ErrInvalidActivityType = errors.New("invalid activity type")
	ErrMissingActivityRef  = errors.New("activity requires a reference matching its type")
)

// Duration wraps time.Duration with JSON encoding as a duration string (e.g. "24h").
type Duration time.Duration

// MarshalJSON encodes the duration as a string accepted by time.ParseDuration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes either a duration string or a raw nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or nanosecond count: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SchedulePlan is the top-level authored object owning a selection strategy.
// Plans are authored externally and read-only to the scheduling engine.
type SchedulePlan struct {
	GUID     string           `json:"guid"`
	StudyID  string           `json:"study_id"`
	Label    string           `json:"label,omitempty"`
	Strategy ScheduleStrategy `json:"strategy"`
}

// ScheduleStrategy is a tagged union: exactly one variant payload is set,
// selected by Type.
type ScheduleStrategy struct {
	Type StrategyType `json:"type"`

	// Schedule is the payload for StrategyTypeSimple.
	Schedule *Schedule `json:"schedule,omitempty"`
	// Groups is the payload for StrategyTypeWeightedGroup, in declared order.
	Groups []ScheduleGroup `json:"groups,omitempty"`
	// ScheduleCriteria is the payload for StrategyTypeCriteriaList, in declared order.
	ScheduleCriteria []ScheduleCriteria `json:"schedule_criteria,omitempty"`
}

// ScheduleGroup pairs an integer weight with a schedule for weighted-group strategies.
type ScheduleGroup struct {
	Weight   int      `json:"weight"`
	Schedule Schedule `json:"schedule"`
}

// ScheduleCriteria pairs an eligibility criteria with a schedule.
type ScheduleCriteria struct {
	Criteria Criteria `json:"criteria"`
	Schedule Schedule `json:"schedule"`
}

// Schedule is a recurrence rule plus an ordered list of activity templates.
type Schedule struct {
	ScheduleType ScheduleType `json:"schedule_type"`
	// EventID names the triggering event; empty means DefaultEventID.
	EventID string `json:"event_id,omitempty"`
	// Delay postpones the first occurrence after the triggering event.
	Delay Duration `json:"delay,omitempty"`
	// Interval separates recurring occurrences when no cron trigger is set.
	Interval Duration `json:"interval,omitempty"`
	// CronTrigger is a standard 5-field cron expression enumerating fire instants.
	CronTrigger string `json:"cron_trigger,omitempty"`
	// Expires bounds how long an occurrence remains actionable once available.
	Expires Duration `json:"expires,omitempty"`
	// Times lists times-of-day ("HH:MM"); each enumerated day then produces
	// one occurrence per listed time.
	Times []string `json:"times,omitempty"`
	// Persistent schedules regenerate every window instead of being consumed
	// once completed.
	Persistent bool       `json:"persistent,omitempty"`
	Activities []Activity `json:"activities"`
}

// Criteria is an eligibility predicate over app versions, data groups, and language.
// Absent fields mean "no constraint"; an empty Criteria matches everyone.
type Criteria struct {
	// MinAppVersions and MaxAppVersions bound the app version per platform name.
	MinAppVersions map[string]int `json:"min_app_versions,omitempty"`
	MaxAppVersions map[string]int `json:"max_app_versions,omitempty"`
	// AllOfGroups must all be present in the participant's data groups.
	AllOfGroups []string `json:"all_of_groups,omitempty"`
	// NoneOfGroups must all be absent from the participant's data groups.
	NoneOfGroups []string `json:"none_of_groups,omitempty"`
	// Language, when set, must be among the participant's accepted languages.
	Language string `json:"language,omitempty"`
}

// Validate performs comprehensive validation on a SchedulePlan structure.
func (p *SchedulePlan) Validate() error {
	if p.GUID == "" {
		return ErrMissingPlanGUID
	}
	if p.StudyID == "" {
		return ErrMissingStudyID
	}
	return p.Strategy.Validate()
}

// Validate checks that the variant named by Type carries a payload.
func (s *ScheduleStrategy) Validate() error {
	switch s.Type {
	case StrategyTypeSimple:
		if s.Schedule == nil {
			return ErrMissingSchedule
		}
		return s.Schedule.Validate()
	case StrategyTypeWeightedGroup:
		if len(s.Groups) == 0 {
			return ErrMissingSchedule
		}
		for i := range s.Groups {
			if err := s.Groups[i].Schedule.Validate(); err != nil {
				return err
			}
		}
		return nil
	case StrategyTypeCriteriaList:
		if len(s.ScheduleCriteria) == 0 {
			return ErrMissingSchedule
		}
		for i := range s.ScheduleCriteria {
			if err := s.ScheduleCriteria[i].Schedule.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidStrategyType
	}
}

// Validate checks schedule shape: recurrence rule, times-of-day, and activities.
func (s *Schedule) Validate() error {
	switch s.ScheduleType {
	case ScheduleTypeOnce:
	case ScheduleTypeRecurring:
		if s.Interval <= 0 && s.CronTrigger == "" {
			return ErrMissingRecurrence
		}
	default:
		return ErrInvalidScheduleType
	}
	if len(s.Activities) == 0 {
		return ErrNoActivities
	}
	if len(s.Activities) > MaxActivitiesPerSchedule {
		return ErrTooManyActivities
	}
	if len(s.Times) > MaxTimesPerSchedule {
		return ErrTooManyTimes
	}
	for _, tod := range s.Times {
		if _, err := time.Parse(TimeOfDayLayout, tod); err != nil {
			return ErrInvalidTimeOfDay
		}
	}
	for i := range s.Activities {
		if err := s.Activities[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedEventID returns the schedule's triggering event, defaulting to enrollment.
func (s *Schedule) ResolvedEventID() string {
	if s.EventID == "" {
		return DefaultEventID
	}
	return s.EventID
}
