// Package store provides storage backends for SchedulePipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/OpenCohort/SchedulePipe/internal/models"
	"github.com/OpenCohort/SchedulePipe/internal/util"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

// ListSchedulePlans returns the study's schedule plans ordered by guid.
func (s *SQLiteStore) ListSchedulePlans(ctx context.Context, studyID string) ([]models.SchedulePlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, study_id, label, strategy_json FROM schedule_plans WHERE study_id = ? ORDER BY guid`, studyID)
	if err != nil {
		return nil, fmt.Errorf("query schedule plans for study %s: %w", studyID, err)
	}
	defer rows.Close()

	var plans []models.SchedulePlan
	for rows.Next() {
		p, err := scanSchedulePlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule plan rows: %w", err)
	}
	return plans, nil
}

// SavePlan inserts or replaces a schedule plan. A missing guid is allocated.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan models.SchedulePlan) error {
	if plan.GUID == "" {
		plan.GUID = util.NewGUID()
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid schedule plan: %w", err)
	}
	strategyJSON, err := json.Marshal(plan.Strategy)
	if err != nil {
		return fmt.Errorf("encode strategy for plan %s: %w", plan.GUID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO schedule_plans (guid, study_id, label, strategy_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET study_id = excluded.study_id, label = excluded.label, strategy_json = excluded.strategy_json`,
		plan.GUID, plan.StudyID, nilIfEmpty(plan.Label), string(strategyJSON))
	if err != nil {
		return fmt.Errorf("save schedule plan %s: %w", plan.GUID, err)
	}
	return nil
}

// ActivityEventMap returns the participant's event timestamps keyed by event id.
func (s *SQLiteStore) ActivityEventMap(ctx context.Context, participantID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_time FROM activity_events WHERE participant_id = ?`, participantID)
	if err != nil {
		return nil, fmt.Errorf("query activity events for %s: %w", participantID, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var eventID string
		var eventTime time.Time
		if err := rows.Scan(&eventID, &eventTime); err != nil {
			return nil, fmt.Errorf("scan activity event row: %w", err)
		}
		out[eventID] = eventTime
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity event rows: %w", err)
	}
	return out, nil
}

// PublishEvent records an event timestamp, replacing any earlier instant.
func (s *SQLiteStore) PublishEvent(ctx context.Context, participantID, eventID string, timestamp time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity_events (participant_id, event_id, event_time, record_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_id, event_id) DO UPDATE SET event_time = excluded.event_time, record_id = excluded.record_id`,
		participantID, eventID, timestamp, util.NewGUID())
	if err != nil {
		return fmt.Errorf("publish event %s for %s: %w", eventID, participantID, err)
	}
	return nil
}

// MostRecentlyPublishedSurvey returns the latest published version of the survey.
func (s *SQLiteStore) MostRecentlyPublishedSurvey(ctx context.Context, studyID, surveyGUID string) (models.SurveyReference, error) {
	var ref models.SurveyReference
	var identifier sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT guid, identifier, created_on FROM surveys WHERE guid = ? AND study_id = ? ORDER BY created_on DESC LIMIT 1`,
		surveyGUID, studyID).Scan(&ref.GUID, &identifier, &ref.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return ref, fmt.Errorf("%w: %s", ErrSurveyNotFound, surveyGUID)
	}
	if err != nil {
		return ref, fmt.Errorf("query survey %s: %w", surveyGUID, err)
	}
	ref.Identifier = identifier.String
	return ref, nil
}

// SaveSurvey records a published survey version.
func (s *SQLiteStore) SaveSurvey(ctx context.Context, studyID string, ref models.SurveyReference) error {
	if ref.GUID == "" {
		return fmt.Errorf("survey guid is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO surveys (guid, study_id, identifier, created_on)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guid, created_on) DO UPDATE SET study_id = excluded.study_id, identifier = excluded.identifier`,
		ref.GUID, studyID, nilIfEmpty(ref.Identifier), ref.CreatedOn)
	if err != nil {
		return fmt.Errorf("save survey %s: %w", ref.GUID, err)
	}
	return nil
}

// ActivitiesForParticipant returns the participant's persisted activities ordered by guid.
func (s *SQLiteStore) ActivitiesForParticipant(ctx context.Context, participantID string) ([]*models.ScheduledActivity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledActivityColumns+` FROM scheduled_activities WHERE participant_id = ? ORDER BY guid`, participantID)
	if err != nil {
		return nil, fmt.Errorf("query scheduled activities for %s: %w", participantID, err)
	}
	defer rows.Close()

	var out []*models.ScheduledActivity
	for rows.Next() {
		a, err := scanScheduledActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled activity rows: %w", err)
	}
	return out, nil
}

// ActivityByGUID returns one persisted activity, or nil when absent.
func (s *SQLiteStore) ActivityByGUID(ctx context.Context, participantID, guid string) (*models.ScheduledActivity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledActivityColumns+` FROM scheduled_activities WHERE participant_id = ? AND guid = ?`, participantID, guid)
	a, err := scanScheduledActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// SaveActivities upserts the batch inside one transaction so a regeneration
// write is atomic against a racing completion write.
func (s *SQLiteStore) SaveActivities(ctx context.Context, participantID string, activities []*models.ScheduledActivity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range activities {
		if a == nil || a.GUID == "" {
			return fmt.Errorf("cannot save activity without identity")
		}
		args, err := activityArgs(a)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO scheduled_activities
			(guid, participant_id, plan_guid, timezone, activity_json, scheduled_on, expires_on, persistent, started_on, finished_on, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(participant_id, guid) DO UPDATE SET
				plan_guid = excluded.plan_guid, timezone = excluded.timezone, activity_json = excluded.activity_json,
				scheduled_on = excluded.scheduled_on, expires_on = excluded.expires_on, persistent = excluded.persistent,
				started_on = excluded.started_on, finished_on = excluded.finished_on, updated_at = excluded.updated_at`,
			append([]interface{}{a.GUID, participantID}, args...)...)
		if err != nil {
			return fmt.Errorf("save activity %s: %w", a.GUID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activity save: %w", err)
	}
	slog.Debug("SQLiteStore SaveActivities succeeded", "participant_id", participantID, "count", len(activities))
	return nil
}

// DeleteActivitiesForParticipant removes every persisted activity for the participant.
func (s *SQLiteStore) DeleteActivitiesForParticipant(ctx context.Context, participantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_activities WHERE participant_id = ?`, participantID)
	if err != nil {
		return fmt.Errorf("delete activities for %s: %w", participantID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
