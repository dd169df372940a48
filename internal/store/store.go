// Package store provides storage backends for SchedulePipe.
//
// It persists schedule plans, participant activity events, published surveys,
// and scheduled activity lifecycle state, with parallel SQLite and PostgreSQL
// implementations plus an in-memory store for tests and ephemeral deployments.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
	"github.com/OpenCohort/SchedulePipe/internal/util"
)

// Store bundles every collaborator role the scheduling engine and API consume.
type Store interface {
	// Plan source
	ListSchedulePlans(ctx context.Context, studyID string) ([]models.SchedulePlan, error)
	SavePlan(ctx context.Context, plan models.SchedulePlan) error

	// Event store
	ActivityEventMap(ctx context.Context, participantID string) (map[string]time.Time, error)
	PublishEvent(ctx context.Context, participantID, eventID string, timestamp time.Time) error

	// Survey content resolver
	MostRecentlyPublishedSurvey(ctx context.Context, studyID, surveyGUID string) (models.SurveyReference, error)
	SaveSurvey(ctx context.Context, studyID string, ref models.SurveyReference) error

	// Persisted activity store
	ActivitiesForParticipant(ctx context.Context, participantID string) ([]*models.ScheduledActivity, error)
	ActivityByGUID(ctx context.Context, participantID, guid string) (*models.ScheduledActivity, error)
	SaveActivities(ctx context.Context, participantID string, activities []*models.ScheduledActivity) error
	DeleteActivitiesForParticipant(ctx context.Context, participantID string) error

	Close() error
}

// ErrSurveyNotFound is returned when no published version of a survey exists.
var ErrSurveyNotFound = fmt.Errorf("no published survey version found")

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string // database connection string (file path for SQLite, URL for PostgreSQL)
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use URL or key=value forms; everything else is a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// publishedSurvey is one published version of a survey held in memory.
type publishedSurvey struct {
	studyID string
	ref     models.SurveyReference
}

// InMemoryStore implements Store with process-local maps. It is safe for
// concurrent use and is the default when no database DSN is configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	plans      map[string]models.SchedulePlan          // plan guid -> plan
	events     map[string]map[string]time.Time         // participant -> event id -> instant
	surveys    map[string][]publishedSurvey            // survey guid -> published versions
	activities map[string]map[string]*models.ScheduledActivity // participant -> activity guid -> record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		plans:      make(map[string]models.SchedulePlan),
		events:     make(map[string]map[string]time.Time),
		surveys:    make(map[string][]publishedSurvey),
		activities: make(map[string]map[string]*models.ScheduledActivity),
	}
}

// ListSchedulePlans returns the study's plans ordered by guid for determinism.
func (s *InMemoryStore) ListSchedulePlans(ctx context.Context, studyID string) ([]models.SchedulePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SchedulePlan
	for _, p := range s.plans {
		if p.StudyID == studyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out, nil
}

// SavePlan inserts or replaces a schedule plan. A missing guid is allocated.
func (s *InMemoryStore) SavePlan(ctx context.Context, plan models.SchedulePlan) error {
	if plan.GUID == "" {
		plan.GUID = util.NewGUID()
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid schedule plan: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.GUID] = plan
	return nil
}

// ActivityEventMap returns a copy of the participant's event timestamps.
func (s *InMemoryStore) ActivityEventMap(ctx context.Context, participantID string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.events[participantID]))
	for k, v := range s.events[participantID] {
		out[k] = v
	}
	return out, nil
}

// PublishEvent records an event timestamp, replacing any earlier instant.
func (s *InMemoryStore) PublishEvent(ctx context.Context, participantID, eventID string, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events[participantID] == nil {
		s.events[participantID] = make(map[string]time.Time)
	}
	s.events[participantID][eventID] = timestamp
	return nil
}

// MostRecentlyPublishedSurvey returns the latest published version of the survey.
func (s *InMemoryStore) MostRecentlyPublishedSurvey(ctx context.Context, studyID, surveyGUID string) (models.SurveyReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.SurveyReference
	for i := range s.surveys[surveyGUID] {
		v := &s.surveys[surveyGUID][i]
		if v.studyID != studyID {
			continue
		}
		if latest == nil || v.ref.CreatedOn.After(latest.CreatedOn) {
			latest = &v.ref
		}
	}
	if latest == nil {
		return models.SurveyReference{}, fmt.Errorf("%w: %s", ErrSurveyNotFound, surveyGUID)
	}
	return *latest, nil
}

// SaveSurvey records a published survey version.
func (s *InMemoryStore) SaveSurvey(ctx context.Context, studyID string, ref models.SurveyReference) error {
	if ref.GUID == "" {
		return fmt.Errorf("survey guid is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[ref.GUID] = append(s.surveys[ref.GUID], publishedSurvey{studyID: studyID, ref: ref})
	return nil
}

// ActivitiesForParticipant returns copies of the participant's persisted
// activities ordered by guid for determinism.
func (s *InMemoryStore) ActivitiesForParticipant(ctx context.Context, participantID string) ([]*models.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScheduledActivity
	for _, a := range s.activities[participantID] {
		out = append(out, a.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out, nil
}

// ActivityByGUID returns a copy of one persisted activity, or nil when absent.
func (s *InMemoryStore) ActivityByGUID(ctx context.Context, participantID, guid string) (*models.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.activities[participantID][guid]
	if a == nil {
		return nil, nil
	}
	return a.Copy(), nil
}

// SaveActivities upserts the batch, keyed by activity identity.
func (s *InMemoryStore) SaveActivities(ctx context.Context, participantID string, activities []*models.ScheduledActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activities[participantID] == nil {
		s.activities[participantID] = make(map[string]*models.ScheduledActivity)
	}
	for _, a := range activities {
		if a == nil || a.GUID == "" {
			return fmt.Errorf("cannot save activity without identity")
		}
		saved := a.Copy()
		saved.ParticipantID = participantID
		s.activities[participantID][a.GUID] = saved
	}
	return nil
}

// DeleteActivitiesForParticipant removes every persisted activity for the participant.
func (s *InMemoryStore) DeleteActivitiesForParticipant(ctx context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activities, participantID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
