// Package tracker follows the import job submitted last: it fetches the job's
// declared series, aggregates them per patient and reconciles the aggregates
// against the series already present in the archive. Nothing here polls on a
// timer; callers decide when to refresh.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tciasync-desktop/internal/events"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures a tracker Service. Zero values fall back to defaults.
type Options struct {
	FetchAttempts        int
	ReconcileConcurrency int
	ProfileID            string
	Backoff              func(attempt int) time.Duration
}

// Service tracks a single import job. Results computed for a job that has since
// been cleared or replaced are discarded.
type Service struct {
	jobs       JobSource
	reconciler *Reconciler
	db         *gorm.DB
	emitter    events.Emitter
	logger     *log.Logger
	opts       Options

	mu         sync.RWMutex
	generation uint64
	jobID      string
	kind       string
	state      State
	job        *models.Job
	aggregates []PatientAggregate
	messages   []string
	lastError  string
	updatedAt  time.Time
}

// NewService creates a tracker. db may be nil, in which case history is not persisted.
func NewService(jobs JobSource, archive ArchiveSource, db *gorm.DB, emitter events.Emitter, logger *log.Logger, opts Options) *Service {
	if emitter == nil {
		emitter = events.Discard
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	if opts.FetchAttempts < 1 {
		opts.FetchAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff
	}
	logger = logger.With("component", "tracker")

	return &Service{
		jobs:       jobs,
		reconciler: NewReconciler(archive, opts.ReconcileConcurrency, logger),
		db:         db,
		emitter:    emitter,
		logger:     logger,
		opts:       opts,
		state:      StateIdle,
	}
}

// Clear forgets the tracked job and its aggregates
func (s *Service) Clear() {
	s.mu.Lock()
	s.generation++
	s.jobID = ""
	s.kind = ""
	s.state = StateIdle
	s.job = nil
	s.aggregates = nil
	s.messages = nil
	s.lastError = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.publish(events.JobUpdated)
}

// Track starts following a freshly submitted job, replacing any previous one
func (s *Service) Track(jobID, kind string) {
	s.mu.Lock()
	s.generation++
	s.jobID = jobID
	s.kind = kind
	s.state = StateSubmitted
	s.job = nil
	s.aggregates = nil
	s.messages = nil
	s.lastError = ""
	s.updatedAt = time.Now()
	s.appendMessageLocked(fmt.Sprintf("Submitted %s import as job %s", kind, jobID))
	s.mu.Unlock()

	s.logger.Info("Tracking import job", "job", jobID, "kind", kind)
	s.persist()
	s.publish(events.JobSubmitted)
}

// JobID returns the tracked job, or "" when idle
func (s *Service) JobID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobID
}

// FetchJobContent retrieves the job and its declared series. Transport failures
// are retried with backoff; an unknown job is reported at once.
func (s *Service) FetchJobContent(ctx context.Context, jobID string) ([]models.SeriesRecord, *models.Job, error) {
	var job *models.Job
	err := retryWithBackoff(ctx, func() error {
		var err error
		job, err = s.jobs.GetJob(ctx, jobID)
		return err
	}, s.opts.FetchAttempts, s.opts.Backoff, func(msg string) {
		s.logger.Warn(msg, "job", jobID)
	})
	if err != nil {
		return nil, nil, err
	}
	return job.Content.Series, job, nil
}

// Refresh fetches the tracked job, rebuilds the per-patient aggregates and
// reconciles them against the archive.
func (s *Service) Refresh(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.jobID == "" {
		s.mu.Unlock()
		return Status{}, shared.ErrNoTrackedJob
	}
	gen := s.generation
	jobID := s.jobID
	s.state = StatePolling
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.publish(events.JobUpdated)

	records, job, err := s.FetchJobContent(ctx, jobID)
	if err != nil {
		return s.fail(gen, "Cannot fetch job content", err)
	}

	aggregates, err := AggregateByPatient(records)
	if err != nil {
		return s.fail(gen, "Cannot aggregate job content", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return Status{}, shared.ErrSuperseded
	}
	carryCompleted(aggregates, s.aggregates)
	s.job = job
	s.aggregates = aggregates
	s.appendMessageLocked(fmt.Sprintf("Job %s is %s (%d%%): %d series for %d patients",
		jobID, job.State, job.Progress, len(records), len(aggregates)))
	s.mu.Unlock()

	return s.reconcile(ctx, gen)
}

// RefreshCounts recounts the archived series without fetching the job again.
// A job whose content was never fetched gets a full Refresh.
func (s *Service) RefreshCounts(ctx context.Context) (Status, error) {
	s.mu.RLock()
	gen := s.generation
	tracked := s.jobID != ""
	fetched := s.job != nil
	s.mu.RUnlock()

	if !tracked {
		return Status{}, shared.ErrNoTrackedJob
	}
	if !fetched {
		return s.Refresh(ctx)
	}
	return s.reconcile(ctx, gen)
}

func (s *Service) reconcile(ctx context.Context, gen uint64) (Status, error) {
	s.mu.RLock()
	if gen != s.generation {
		s.mu.RUnlock()
		return Status{}, shared.ErrSuperseded
	}
	aggregates := make([]PatientAggregate, len(s.aggregates))
	copy(aggregates, s.aggregates)
	jobID := s.jobID
	s.mu.RUnlock()

	s.reconciler.Reconcile(ctx, aggregates, func(row PatientAggregate) {
		if s.applyRow(gen, row) {
			s.emitter.Emit(events.JobPatient, PatientEvent{JobID: jobID, Patient: row})
		}
	})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return Status{}, shared.ErrSuperseded
	}
	s.state = StateReconciled
	s.lastError = ""
	if s.job != nil && s.job.State == models.JobStateFailure {
		s.state = StateFailed
		s.lastError = s.job.ErrorDescription
	}
	completed, expected := s.totalsLocked()
	s.appendMessageLocked(fmt.Sprintf("%d/%d series present in the archive", completed, expected))
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Reconciled import job", "job", jobID, "completed", completed, "expected", expected)
	s.persist()
	s.publish(events.JobUpdated)
	return s.Status(), nil
}

// applyRow replaces a patient row as a whole, keyed by (collection, patient)
func (s *Service) applyRow(gen uint64, row PatientAggregate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}
	for i := range s.aggregates {
		if s.aggregates[i].Key() == row.Key() {
			s.aggregates[i] = row
			return true
		}
	}
	return false
}

func (s *Service) fail(gen uint64, message string, err error) (Status, error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return Status{}, shared.ErrSuperseded
	}
	s.state = StateFailed
	s.lastError = err.Error()
	s.appendMessageLocked(fmt.Sprintf("%s: %v", message, err))
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Error(message, "error", err)
	s.persist()
	s.publish(events.JobUpdated)
	return s.Status(), err
}

// Status returns a snapshot of the tracked job
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Service) statusLocked() Status {
	status := Status{
		JobID:     s.jobID,
		Kind:      s.kind,
		State:     s.state,
		LastError: s.lastError,
		Patients:  make([]PatientAggregate, len(s.aggregates)),
		Messages:  append([]string(nil), s.messages...),
		UpdatedAt: s.updatedAt,
	}
	copy(status.Patients, s.aggregates)

	if s.job != nil {
		status.ServerState = s.job.State
		status.Progress = s.job.Progress
		status.ErrorDescription = s.job.ErrorDescription
	}
	for _, agg := range s.aggregates {
		status.SeriesCount += len(agg.SeriesInstanceUIDs)
		status.CompletedSeries += agg.CompletedSeries
		status.InstancesCount += agg.InstancesCount
		status.Size += agg.Size
	}
	return status
}

func (s *Service) totalsLocked() (completed, expected int) {
	for _, agg := range s.aggregates {
		completed += agg.CompletedSeries
		expected += len(agg.SeriesInstanceUIDs)
	}
	return completed, expected
}

func (s *Service) appendMessageLocked(message string) {
	s.messages = append(s.messages, message)
}

func (s *Service) publish(topic string) {
	s.emitter.Emit(topic, s.Status())
}

// persist saves the tracked job to the history table
func (s *Service) persist() {
	if s.db == nil {
		return
	}

	s.mu.RLock()
	status := s.statusLocked()
	s.mu.RUnlock()
	if status.JobID == "" {
		return
	}

	messages, _ := json.Marshal(status.Messages)
	results, _ := json.Marshal(status.Patients)
	row := models.ImportJob{
		ID:              status.JobID,
		ProfileID:       s.opts.ProfileID,
		Kind:            status.Kind,
		Status:          string(status.State),
		ServerState:     status.ServerState,
		Progress:        status.Progress,
		SeriesCount:     status.SeriesCount,
		CompletedSeries: status.CompletedSeries,
		Messages:        string(messages),
		Results:         string(results),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "server_state", "progress", "series_count", "completed_series", "messages", "results", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		s.logger.Warn("Failed to save job history", "job", status.JobID, "error", err)
	}
}

// History lists previously tracked jobs, most recent first
func (s *Service) History(limit int) ([]models.ImportJob, error) {
	if s.db == nil {
		return []models.ImportJob{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.ImportJob
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	return jobs, nil
}
