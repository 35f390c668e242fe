package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/tracker"
	"tciasync-desktop/internal/shared"
)

const jobTimeout = 30 * time.Minute

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CountRefresher recounts the archived series of the tracked job
type CountRefresher interface {
	RefreshCounts(ctx context.Context) (tracker.Status, error)
}

// CartImporter submits an NBIA cart from disk
type CartImporter interface {
	ImportSpreadsheet(ctx context.Context, path string) (string, error)
}

// Service handles scheduled job management and execution
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	jobs      map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu    sync.RWMutex
	refresher CountRefresher
	importer  CartImporter
	logger    *log.Logger
}

// NewService creates a new scheduler service
func NewService(ctx context.Context, db *gorm.DB, refresher CountRefresher, importer CartImporter, logger *log.Logger) *Service {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	// Create cron scheduler with seconds support
	c := cron.New(cron.WithSeconds())

	return &Service{
		db:        db,
		ctx:       ctx,
		cron:      c,
		jobs:      make(map[string]cron.EntryID),
		refresher: refresher,
		importer:  importer,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start initializes the scheduler and loads enabled jobs from database
func (s *Service) Start() error {
	s.logger.Info("Starting scheduler")

	if err := s.db.AutoMigrate(&models.ScheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs table: %w", err)
	}

	s.cron.Start()

	// Load all enabled jobs from database
	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			s.logger.Warn("Failed to schedule job", "name", job.Name, "id", job.ID, "error", err)
		} else {
			s.logger.Info("Scheduled job", "name", job.Name, "id", job.ID, "cron", job.Cron)
		}
	}

	s.logger.Info("Scheduler started", "enabled_jobs", len(jobs))
	return nil
}

// Stop gracefully stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.logger.Info("Scheduler stopped")
	}
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled job
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if req.Name == "" || req.JobType == "" || req.Cron == "" {
		return "", fmt.Errorf("name, job_type, and cron are required")
	}
	if req.JobType != models.JobTypeRefreshCounts && req.JobType != models.JobTypeCartImport {
		return "", fmt.Errorf("unknown job type: %s", req.JobType)
	}

	// Normalize and validate cron expression (convert 5-field to 6-field)
	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	payload, err := encodePayload(req.Payload)
	if err != nil {
		return "", err
	}
	if req.JobType == models.JobTypeCartImport {
		if _, err := decodeCartPayload(payload); err != nil {
			return "", err
		}
	}

	// Find or create job
	var job models.ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	isNew := errors.Is(result.Error, gorm.ErrRecordNotFound)
	if result.Error != nil && !isNew {
		return "", fmt.Errorf("failed to query job: %w", result.Error)
	}
	if isNew {
		job = models.ScheduledJob{Name: req.Name}
	}

	job.JobType = req.JobType
	job.Cron = normalizedCron
	job.Timezone = timezone
	job.Enabled = req.Enabled
	job.Payload = payload

	schedule, err := cronParser.Parse(job.Cron)
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(time.Now().In(location))
	job.NextRunAt = &nextRun

	if isNew {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.unschedule(jobID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// RunNow executes a scheduled job immediately, outside its cron schedule
func (s *Service) RunNow(jobID string) error {
	return s.runJob(jobID)
}

// IsScheduled reports whether a job currently has a cron entry
func (s *Service) IsScheduled(jobID string) bool {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unschedule(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = entryID
	s.jobsMu.Unlock()

	return nil
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

// executeJob is the cron entry point; failures are only logged
func (s *Service) executeJob(jobID string) {
	if err := s.runJob(jobID); err != nil {
		s.logger.Error("Scheduled job failed", "id", jobID, "error", err)
	}
}

func (s *Service) runJob(jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
	}()

	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	s.logger.Info("Executing scheduled job", "name", job.Name, "type", job.JobType)

	now := time.Now()
	job.LastRunAt = &now
	if schedule, err := cronParser.Parse(job.Cron); err != nil {
		s.logger.Warn("Failed to parse cron for next run", "error", err)
	} else {
		nextRun := schedule.Next(now)
		job.NextRunAt = &nextRun
	}
	if err := s.db.Save(&job).Error; err != nil {
		s.logger.Warn("Failed to update job run times", "error", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	switch job.JobType {
	case models.JobTypeRefreshCounts:
		err = s.runRefreshCounts(ctx)
	case models.JobTypeCartImport:
		err = s.runCartImport(ctx, job.Payload)
	default:
		err = fmt.Errorf("unknown job type: %s", job.JobType)
	}
	if err != nil {
		return err
	}

	s.logger.Info("Completed scheduled job", "name", job.Name)
	return nil
}

func (s *Service) runRefreshCounts(ctx context.Context) error {
	status, err := s.refresher.RefreshCounts(ctx)
	if errors.Is(err, shared.ErrNoTrackedJob) {
		s.logger.Info("No tracked job to refresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refresh counts: %w", err)
	}

	s.logger.Info("Refreshed series counts", "job", status.JobID,
		"completed", status.CompletedSeries, "expected", status.SeriesCount)
	return nil
}

func (s *Service) runCartImport(ctx context.Context, payload string) error {
	cart, err := decodeCartPayload(payload)
	if err != nil {
		return err
	}

	jobID, err := s.importer.ImportSpreadsheet(ctx, cart.Path)
	if err != nil {
		return fmt.Errorf("failed to import cart %s: %w", cart.Path, err)
	}

	s.logger.Info("Submitted scheduled cart import", "path", cart.Path, "job", jobID)
	return nil
}

func encodePayload(payload interface{}) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		return string(data), nil
	}
}

func decodeCartPayload(payload string) (CartImportPayload, error) {
	var cart CartImportPayload
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &cart); err != nil {
			return cart, fmt.Errorf("failed to parse job payload: %w", err)
		}
	}
	if strings.TrimSpace(cart.Path) == "" {
		return cart, fmt.Errorf("cart_import payload requires a path")
	}
	return cart, nil
}

// cronSpec prefixes the expression with its timezone for robfig/cron
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" || strings.HasPrefix(job.Cron, "@") {
		return job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err == nil {
			return cronExpr, nil
		}
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		JobType:   job.JobType,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}

	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}

	return resp
}
