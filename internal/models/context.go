// Package models defines the per-request scheduling context.
package models

import (
	"errors"
	"time"
)

// Error variables for schedule context validation
var (
	ErrMissingParticipantID = errors.New("participant identifier is required")
	ErrMissingTimeZone      = errors.New("time zone is required")
	ErrInvalidTimeZone      = errors.New("invalid time zone")
	ErrMissingEndsOn        = errors.New("ends_on is required")
)

// ScheduleContext carries every input the scheduling engine needs to compute
// one participant's activities. It is assembled per request and never mutated
// by the engine, which keeps generation a pure function of its inputs.
type ScheduleContext struct {
	StudyID       string `json:"study_id"`
	ParticipantID string `json:"participant_id"`
	// TimeZone is the participant's IANA zone name, e.g. "America/Toronto".
	TimeZone string `json:"timezone"`
	// AccountCreatedOn supplies the enrollment event when the event store has none.
	AccountCreatedOn time.Time `json:"account_created_on"`
	// EndsOn is the exclusive upper bound of the computed window.
	EndsOn time.Time `json:"ends_on"`
	// Now fixes the window's lower bound; the zero value means the wall clock.
	Now time.Time `json:"-"`
	// Events maps event identifiers (enrollment plus custom events) to instants.
	Events map[string]time.Time `json:"events,omitempty"`
	// DataGroups, Languages, and AppVersions feed criteria matching.
	DataGroups  []string       `json:"data_groups,omitempty"`
	Languages   []string       `json:"languages,omitempty"`
	AppVersions map[string]int `json:"app_versions,omitempty"`

	loc *time.Location
}

// Validate checks the request-shaped fields; window bounds are validated by
// the engine because the maximum span is engine configuration.
func (c *ScheduleContext) Validate() error {
	if c.ParticipantID == "" {
		return ErrMissingParticipantID
	}
	if c.TimeZone == "" {
		return ErrMissingTimeZone
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return ErrInvalidTimeZone
	}
	if c.EndsOn.IsZero() {
		return ErrMissingEndsOn
	}
	return nil
}

// Location resolves and caches the participant's time zone.
// Invalid zones fall back to UTC; Validate rejects them before this is reached.
func (c *ScheduleContext) Location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	c.loc = loc
	return loc
}

// CurrentTime returns the fixed Now when set, otherwise the wall clock,
// expressed in the participant's zone.
func (c *ScheduleContext) CurrentTime() time.Time {
	if !c.Now.IsZero() {
		return c.Now.In(c.Location())
	}
	return time.Now().In(c.Location())
}

// EventTime resolves the instant of the named event. The enrollment event
// falls back to AccountCreatedOn; any other missing event resolves to false.
func (c *ScheduleContext) EventTime(eventID string) (time.Time, bool) {
	if ts, ok := c.Events[eventID]; ok {
		return ts, true
	}
	if eventID == DefaultEventID && !c.AccountCreatedOn.IsZero() {
		return c.AccountCreatedOn, true
	}
	return time.Time{}, false
}
