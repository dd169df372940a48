// Package models defines activity templates and their payload references.
package models

import "time"

// ActivityType defines the kind of work an activity template references.
type ActivityType string

const (
	// ActivityTypeTask references a locally-defined task by identifier.
	ActivityTypeTask ActivityType = "task"
	// ActivityTypeSurvey references a published survey version.
	ActivityTypeSurvey ActivityType = "survey"
	// ActivityTypeCompound references a compound activity definition.
	ActivityTypeCompound ActivityType = "compound"
)

// TaskReference identifies a task definition shipped with the client app.
type TaskReference struct {
	Identifier string `json:"identifier"`
}

// SurveyReference identifies a survey and the published version it was
// resolved against. CreatedOn is the content version marker used for
// drift detection; zero means "most recently published at generation time".
type SurveyReference struct {
	Identifier string    `json:"identifier,omitempty"`
	GUID       string    `json:"guid"`
	CreatedOn  time.Time `json:"created_on,omitempty"`
}

// CompoundReference identifies a compound activity definition by task identifier.
type CompoundReference struct {
	TaskIdentifier string `json:"task_identifier"`
}

// Activity is an authored template; a schedule stamps it into concrete
// scheduled activities. Exactly one reference matching ActivityType is set.
type Activity struct {
	GUID         string             `json:"guid"`
	Label        string             `json:"label,omitempty"`
	LabelDetail  string             `json:"label_detail,omitempty"`
	ActivityType ActivityType       `json:"activity_type"`
	Task         *TaskReference     `json:"task,omitempty"`
	Survey       *SurveyReference   `json:"survey,omitempty"`
	Compound     *CompoundReference `json:"compound,omitempty"`
}

// IsValidActivityType checks if the given activity type is supported.
func IsValidActivityType(at ActivityType) bool {
	switch at {
	case ActivityTypeTask, ActivityTypeSurvey, ActivityTypeCompound:
		return true
	default:
		return false
	}
}

// Validate checks that the activity carries a guid and a reference matching its type.
func (a *Activity) Validate() error {
	if a.GUID == "" {
		return ErrMissingActivityGUID
	}
	if !IsValidActivityType(a.ActivityType) {
		return ErrInvalidActivityType
	}
	switch a.ActivityType {
	case ActivityTypeTask:
		if a.Task == nil {
			return ErrMissingActivityRef
		}
	case ActivityTypeSurvey:
		if a.Survey == nil || a.Survey.GUID == "" {
			return ErrMissingActivityRef
		}
	case ActivityTypeCompound:
		if a.Compound == nil {
			return ErrMissingActivityRef
		}
	}
	return nil
}

// ContentMatches reports whether two activity snapshots reference the same
// content. For survey-backed activities the published version marker
// (CreatedOn) participates, so a republished survey is a content change.
func (a *Activity) ContentMatches(other *Activity) bool {
	if other == nil || a.ActivityType != other.ActivityType || a.Label != other.Label {
		return false
	}
	switch a.ActivityType {
	case ActivityTypeTask:
		return a.Task != nil && other.Task != nil && a.Task.Identifier == other.Task.Identifier
	case ActivityTypeSurvey:
		if a.Survey == nil || other.Survey == nil {
			return a.Survey == other.Survey
		}
		return a.Survey.GUID == other.Survey.GUID && a.Survey.CreatedOn.Equal(other.Survey.CreatedOn)
	case ActivityTypeCompound:
		return a.Compound != nil && other.Compound != nil && a.Compound.TaskIdentifier == other.Compound.TaskIdentifier
	}
	return false
}
