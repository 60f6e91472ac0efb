package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sequencehq/engine/internal/dispatcher"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// GormStore implements every Store interface the scheduling, dispatch
// and resolver packages declare, backed by a single *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn and returns a ready GormStore. It
// does not run migrations; callers run golang-migrate separately
// (cmd/engine's --migrate flag).
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewWithDB wraps an already-open *gorm.DB, such as a preconfigured
// connection.
func NewWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetLead(ctx context.Context, leadID string) (types.Lead, error) {
	var m LeadModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", leadID).Error; err != nil {
		return types.Lead{}, fmt.Errorf("store: get lead %s: %w", leadID, err)
	}
	return modelToLead(m), nil
}

func (s *GormStore) UpdateLead(ctx context.Context, lead types.Lead) error {
	m := leadToModel(lead)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("store: update lead %s: %w", lead.ID, err)
	}
	return nil
}

func (s *GormStore) ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error) {
	var ms []JobModel
	if err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: list jobs for lead %s: %w", leadID, err)
	}
	return modelsToJobs(ms), nil
}

func (s *GormStore) CreateJob(ctx context.Context, job types.Job) error {
	m := jobToModel(job)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("store: create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateJob(ctx context.Context, job types.Job) error {
	m := jobToModel(job)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("store: update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *GormStore) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	var m JobModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", jobID).Error; err != nil {
		return types.Job{}, fmt.Errorf("store: get job %s: %w", jobID, err)
	}
	return modelToJob(m), nil
}

func (s *GormStore) GetSettings(ctx context.Context) (types.Settings, error) {
	var m SettingsModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Settings{}, nil
		}
		return types.Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	return modelToSettings(m), nil
}

func (s *GormStore) UpsertEmailSchedule(ctx context.Context, sched types.EmailSchedule) error {
	m := emailScheduleToModel(sched)
	m.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}},
		UpdateAll: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("store: upsert email schedule for lead %s: %w", sched.LeadID, err)
	}
	return nil
}

// ClaimDueJob implements the single-winner conditional update from
// SPEC_FULL.md §5: UPDATE ... WHERE status='pending' AND id=X, checking
// RowsAffected instead of a bbolt CAS transaction.
func (s *GormStore) ClaimDueJob(ctx context.Context, jobID string) (types.Job, bool, error) {
	result := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ? AND status = ?", jobID, string(rulebook.StatusPending)).
		Update("status", string(rulebook.StatusQueued))
	if result.Error != nil {
		return types.Job{}, false, fmt.Errorf("store: claim due job %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return types.Job{}, false, nil
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return types.Job{}, false, err
	}
	return job, true, nil
}

func (s *GormStore) ListDueJobIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("status = ? AND scheduled_for <= ?", string(rulebook.StatusPending), now).
		Order("scheduled_for ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: list due job ids: %w", err)
	}
	return ids, nil
}

func (s *GormStore) ListJobsScheduledOnPausedDates(ctx context.Context, pausedDates []string) ([]types.Job, error) {
	if len(pausedDates) == 0 {
		return nil, nil
	}
	var ms []JobModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", activeStatusStrings()).
		Where("scheduled_for::date::text IN ?", pausedDates).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("store: list jobs on paused dates: %w", err)
	}
	return modelsToJobs(ms), nil
}

func (s *GormStore) GetLeadForJob(ctx context.Context, job types.Job) (types.Lead, error) {
	return s.GetLead(ctx, job.LeadID)
}

func (s *GormStore) ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error) {
	q := s.db.WithContext(ctx).Where("lead_id = ? AND status IN ?", leadID, activeStatusStrings())
	if excludeJobID != "" {
		q = q.Where("id <> ?", excludeJobID)
	}
	var ms []JobModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: list active jobs for lead %s: %w", leadID, err)
	}
	return modelsToJobs(ms), nil
}

func (s *GormStore) ListJobsByTypeForLead(ctx context.Context, leadID, jobType string) ([]types.Job, error) {
	var ms []JobModel
	if err := s.db.WithContext(ctx).Where("lead_id = ? AND type = ?", leadID, jobType).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: list jobs by type for lead %s: %w", leadID, err)
	}
	return modelsToJobs(ms), nil
}

func (s *GormStore) ListJobsByStatusForLead(ctx context.Context, leadID string, status string) ([]types.Job, error) {
	var ms []JobModel
	if err := s.db.WithContext(ctx).Where("lead_id = ? AND status = ?", leadID, status).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: list jobs by status for lead %s: %w", leadID, err)
	}
	return modelsToJobs(ms), nil
}

func (s *GormStore) ListEnabledConditionalEmails(ctx context.Context, triggerEvent, triggerStep string) ([]types.ConditionalEmail, error) {
	var ms []ConditionalEmailModel
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND trigger_event = ? AND trigger_step = ?", true, triggerEvent, triggerStep).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("store: list enabled conditional emails: %w", err)
	}
	out := make([]types.ConditionalEmail, len(ms))
	for i, m := range ms {
		out[i] = modelToConditionalEmail(m)
	}
	return out, nil
}

func (s *GormStore) FindConditionalJob(ctx context.Context, leadID, ruleName string) (*types.Job, error) {
	var m JobModel
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND type = ? AND status <> ?", leadID, "conditional:"+ruleName, string(rulebook.StatusCancelled)).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find conditional job for rule %s: %w", ruleName, err)
	}
	job := modelToJob(m)
	return &job, nil
}

func (s *GormStore) ListActiveJobsByCategory(ctx context.Context, leadID string, category types.MailCategory) ([]types.Job, error) {
	var ms []JobModel
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND category = ? AND status IN ?", leadID, string(category), activeStatusStrings()).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("store: list active jobs by category for lead %s: %w", leadID, err)
	}
	return modelsToJobs(ms), nil
}

// InsertEventIfNew implements the EventStore's composite-key dedup via
// the unique index on (event_type, aggregate_id): a unique-constraint
// violation means a duplicate, reported as isNew=false rather than an
// error.
func (s *GormStore) InsertEventIfNew(ctx context.Context, event types.StoredEvent) (bool, error) {
	m := EventStoreModel{
		EventType:      event.EventType,
		AggregateID:    event.AggregateID,
		IdempotencyKey: event.IdempotencyKey,
		ReceivedAt:     event.ReceivedAt,
		Payload:        event.Payload,
	}
	err := s.db.WithContext(ctx).Create(&m).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("store: insert event %s/%s: %w", event.EventType, event.AggregateID, err)
}

func (s *GormStore) CountRecentFollowupJobsForLead(ctx context.Context, leadID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("lead_id = ? AND category = ? AND created_at >= ?", leadID, string(types.CategoryFollowup), since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: count recent followups for lead %s: %w", leadID, err)
	}
	return count, nil
}

func (s *GormStore) CreateNotification(ctx context.Context, n types.Notification) error {
	m := notificationToModel(n)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("store: create notification: %w", err)
	}
	return nil
}

func (s *GormStore) CountInProgressInWindow(ctx context.Context, windowStart, windowEnd time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("scheduled_for >= ? AND scheduled_for < ? AND status IN ?", windowStart, windowEnd, inProgressStatusStrings()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: count in-progress in window: %w", err)
	}
	return count, nil
}

// LoadPollCursor/SavePollCursor implement dispatcher.CursorStore.
func (s *GormStore) LoadPollCursor(ctx context.Context, providerName string) (dispatcher.PollCursorState, error) {
	var m PollCursorModel
	err := s.db.WithContext(ctx).First(&m, "provider_name = ?", providerName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dispatcher.PollCursorState{}, nil
		}
		return dispatcher.PollCursorState{}, fmt.Errorf("store: load poll cursor %s: %w", providerName, err)
	}
	return dispatcher.PollCursorState{LastEventAt: m.LastEventAt, LastEventID: m.LastEventID}, nil
}

func (s *GormStore) SavePollCursor(ctx context.Context, providerName string, state dispatcher.PollCursorState) error {
	m := PollCursorModel{ProviderName: providerName, LastEventAt: state.LastEventAt, LastEventID: state.LastEventID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_name"}},
		UpdateAll: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("store: save poll cursor %s: %w", providerName, err)
	}
	return nil
}

func modelsToJobs(ms []JobModel) []types.Job {
	out := make([]types.Job, len(ms))
	for i, m := range ms {
		out[i] = modelToJob(m)
	}
	return out
}

func activeStatusStrings() []string {
	statuses := rulebook.GetActiveStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func inProgressStatusStrings() []string {
	statuses := rulebook.GetInProgressStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// isUniqueViolation reports whether err came from a unique-constraint
// violation: an error in its chain with a SQLState() method returning
// SQLSTATE 23505. Errors without a SQLState() method report false.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
