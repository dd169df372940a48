// Package models defines the scheduled activity record produced by the engine.
package models

import (
	"fmt"
	"time"
)

// ActivityStatus is the derived lifecycle state of a scheduled activity.
type ActivityStatus string

const (
	// StatusScheduled means the activity's scheduled instant is still in the future.
	StatusScheduled ActivityStatus = "scheduled"
	// StatusAvailable means the activity can be started now.
	StatusAvailable ActivityStatus = "available"
	// StatusStarted means the participant has begun but not finished the activity.
	StatusStarted ActivityStatus = "started"
	// StatusFinished means the activity was started and completed.
	StatusFinished ActivityStatus = "finished"
	// StatusDeleted means the activity was finished without ever being started,
	// which clients use to dismiss work.
	StatusDeleted ActivityStatus = "deleted"
	// StatusExpired means the activity lapsed before the participant started it.
	StatusExpired ActivityStatus = "expired"
)

// IdentityLayout formats the scheduled instant inside an activity identity.
const IdentityLayout = "2006-01-02T15:04:05"

// ActivityIdentity derives the stable identity of one occurrence. Recomputing
// the same logical occurrence always yields the same identity, which is what
// the persisted store keys on.
func ActivityIdentity(planGUID, activityGUID string, localScheduledOn time.Time) string {
	return fmt.Sprintf("%s:%s:%s", planGUID, activityGUID, localScheduledOn.Format(IdentityLayout))
}

// ScheduledActivity is one concrete, timestamped occurrence of an activity.
// It is recomputed on every request; only the lifecycle fields StartedOn and
// FinishedOn are authoritative in the persisted store.
type ScheduledActivity struct {
	// GUID is the occurrence identity per ActivityIdentity.
	GUID             string `json:"guid"`
	SchedulePlanGUID string `json:"schedule_plan_guid"`
	ParticipantID    string `json:"participant_id"`
	TimeZone         string `json:"timezone"`
	// Activity is the template snapshot taken at generation time.
	Activity Activity `json:"activity"`
	// LocalScheduledOn and LocalExpiresOn are instants in the participant's zone.
	LocalScheduledOn time.Time  `json:"local_scheduled_on"`
	LocalExpiresOn   *time.Time `json:"local_expires_on,omitempty"`
	Persistent       bool       `json:"persistent,omitempty"`
	// StartedOn and FinishedOn are set only through the completion API.
	StartedOn  *time.Time `json:"started_on,omitempty"`
	FinishedOn *time.Time `json:"finished_on,omitempty"`
}

// Status derives the lifecycle state at the given instant. Progress outranks
// expiration: a started activity never reports expired.
func (a *ScheduledActivity) Status(now time.Time) ActivityStatus {
	switch {
	case a.FinishedOn != nil && a.StartedOn != nil:
		return StatusFinished
	case a.FinishedOn != nil:
		return StatusDeleted
	case a.StartedOn != nil:
		return StatusStarted
	case a.LocalExpiresOn != nil && a.LocalExpiresOn.Before(now):
		return StatusExpired
	case a.LocalScheduledOn.After(now):
		return StatusScheduled
	default:
		return StatusAvailable
	}
}

// IsDone reports whether the activity's lifecycle has ended (finished or dismissed).
func (a *ScheduledActivity) IsDone() bool {
	return a.FinishedOn != nil
}

// Copy returns a deep-enough copy for reconciliation: lifecycle pointers are
// duplicated so mutating the copy never leaks into the persisted record.
func (a *ScheduledActivity) Copy() *ScheduledActivity {
	out := *a
	if a.LocalExpiresOn != nil {
		t := *a.LocalExpiresOn
		out.LocalExpiresOn = &t
	}
	if a.StartedOn != nil {
		t := *a.StartedOn
		out.StartedOn = &t
	}
	if a.FinishedOn != nil {
		t := *a.FinishedOn
		out.FinishedOn = &t
	}
	return &out
}
