package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scheduledActivityColumns is the column order shared by every scheduled
// activity query in both SQL backends.
const scheduledActivityColumns = "guid, participant_id, plan_guid, timezone, activity_json, scheduled_on, expires_on, persistent, started_on, finished_on"

// scanScheduledActivity scans one scheduled activity row and rehydrates its
// instants into the participant's zone so local-time semantics survive the
// round trip.
func scanScheduledActivity(row rowScanner) (*models.ScheduledActivity, error) {
	var a models.ScheduledActivity
	var activityJSON string
	var expiresOn, startedOn, finishedOn sql.NullTime
	err := row.Scan(
		&a.GUID, &a.ParticipantID, &a.SchedulePlanGUID, &a.TimeZone, &activityJSON,
		&a.LocalScheduledOn, &expiresOn, &a.Persistent, &startedOn, &finishedOn,
	)
	if err != nil {
		return nil, fmt.Errorf("scan scheduled activity failed: %w", err)
	}
	if err := json.Unmarshal([]byte(activityJSON), &a.Activity); err != nil {
		return nil, fmt.Errorf("decode activity snapshot for %s: %w", a.GUID, err)
	}

	loc, locErr := time.LoadLocation(a.TimeZone)
	if locErr != nil {
		loc = time.UTC
	}
	a.LocalScheduledOn = a.LocalScheduledOn.In(loc)
	if expiresOn.Valid {
		t := expiresOn.Time.In(loc)
		a.LocalExpiresOn = &t
	}
	if startedOn.Valid {
		t := startedOn.Time.In(loc)
		a.StartedOn = &t
	}
	if finishedOn.Valid {
		t := finishedOn.Time.In(loc)
		a.FinishedOn = &t
	}
	return &a, nil
}

// scanSchedulePlan scans one schedule plan row, decoding the strategy payload.
func scanSchedulePlan(row rowScanner) (models.SchedulePlan, error) {
	var p models.SchedulePlan
	var label sql.NullString
	var strategyJSON string
	if err := row.Scan(&p.GUID, &p.StudyID, &label, &strategyJSON); err != nil {
		return p, fmt.Errorf("scan schedule plan failed: %w", err)
	}
	p.Label = label.String
	if err := json.Unmarshal([]byte(strategyJSON), &p.Strategy); err != nil {
		return p, fmt.Errorf("decode strategy for plan %s: %w", p.GUID, err)
	}
	return p, nil
}

// activityArgs flattens a scheduled activity into the insert/update argument
// order shared by both SQL backends (after guid and participant id).
func activityArgs(a *models.ScheduledActivity) ([]interface{}, error) {
	snapshot, err := json.Marshal(a.Activity)
	if err != nil {
		return nil, fmt.Errorf("encode activity snapshot for %s: %w", a.GUID, err)
	}
	return []interface{}{
		a.SchedulePlanGUID, a.TimeZone, string(snapshot), a.LocalScheduledOn,
		nullableTime(a.LocalExpiresOn), a.Persistent,
		nullableTime(a.StartedOn), nullableTime(a.FinishedOn), time.Now().UTC(),
	}, nil
}

// nullableTime maps a nil time pointer to a NULL column value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
