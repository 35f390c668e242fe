package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tciasync-desktop/internal/api"
	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/crypto"
	"tciasync-desktop/internal/database"
	"tciasync-desktop/internal/events"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/orthanc"
	"tciasync-desktop/internal/services/explorer"
	"tciasync-desktop/internal/services/scheduler"
	"tciasync-desktop/internal/services/selection"
	"tciasync-desktop/internal/services/tracker"
	"tciasync-desktop/internal/session"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"
	"gorm.io/gorm"
)

// App struct - main application state
type App struct {
	ctx              context.Context
	cfg              config.Config
	logger           *log.Logger
	db               *gorm.DB
	box              *crypto.Box
	emitter          events.Emitter
	schedulerService *scheduler.Service

	mu              sync.RWMutex
	selectedProfile *models.ConnectionProfile
	session         *session.Session

	// refreshes started after an import, waited for on shutdown
	refreshes sync.WaitGroup
}

// NewApp creates a new App application struct
func NewApp(cfg config.Config, logger *log.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		emitter: events.Discard,
	}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.emitter = events.NewWailsEmitter(ctx)
	a.logger.Info("Application starting up")

	// Profiles cannot be saved without encryption
	box, err := crypto.LoadBox(a.logger)
	if err != nil {
		a.logger.Fatal("Encryption initialization failed", "error", err)
	}
	a.box = box

	db, err := database.Open(a.cfg.Database, a.cfg.Log.Level, a.logger)
	if err != nil {
		a.logger.Fatal("Failed to initialize database", "error", err)
	}
	a.db = db

	target := scheduledTarget{app: a}
	a.schedulerService = scheduler.NewService(ctx, db, target, target, a.logger)
	if err := a.schedulerService.Start(); err != nil {
		a.logger.Warn("Failed to start scheduler", "error", err)
	}

	a.logger.Info("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.logger.Info("Application shutting down")

	if a.schedulerService != nil {
		a.schedulerService.Stop()
	}
	a.refreshes.Wait()

	a.mu.Lock()
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	a.mu.Unlock()

	if err := database.Close(a.db); err != nil {
		a.logger.Error("Error closing database", "error", err)
	}

	a.logger.Info("Shutdown complete")
}

// currentSession returns the session of the selected server
func (a *App) currentSession() (*session.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil, shared.ErrNoProfile
	}
	return a.session, nil
}

// activate replaces the current session, stopping the previous one
func (a *App) activate(conn session.Connection, profile *models.ConnectionProfile) {
	next := session.New(conn, session.Options{
		Config:  a.cfg,
		DB:      a.db,
		Emitter: a.emitter,
		Logger:  a.logger,
	})

	a.mu.Lock()
	previous := a.session
	a.session = next
	a.selectedProfile = profile
	a.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	a.logger.Info("Connected to Orthanc", "url", conn.URL)
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// Profile Management Methods

// ListProfiles returns all connection profiles
func (a *App) ListProfiles() ([]models.ConnectionProfile, error) {
	var profiles []models.ConnectionProfile
	if err := a.db.Order("name").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// GetProfile retrieves a specific connection profile by ID
func (a *App) GetProfile(profileID string) (*models.ConnectionProfile, error) {
	var profile models.ConnectionProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateProfile creates a new connection profile
// NOTE: Frontend should call TestConnection() before calling this method
func (a *App) CreateProfile(req CreateProfileRequest) error {
	if a.box == nil {
		return errors.New("encryption system not initialized - cannot save profiles")
	}

	passwordEnc, err := a.sealPassword(req.Password)
	if err != nil {
		return err
	}

	profile := &models.ConnectionProfile{
		Name:        req.Name,
		Owner:       req.Owner,
		OrthancURL:  req.OrthancURL,
		Username:    req.Username,
		PasswordEnc: passwordEnc,
	}

	return a.db.Create(profile).Error
}

// UpdateProfile updates an existing connection profile. An empty password keeps the stored one.
func (a *App) UpdateProfile(profileID string, req CreateProfileRequest) error {
	var profile models.ConnectionProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return err
	}

	profile.Name = req.Name
	profile.Owner = req.Owner
	profile.OrthancURL = req.OrthancURL
	profile.Username = req.Username

	if req.Password != "" {
		passwordEnc, err := a.sealPassword(req.Password)
		if err != nil {
			return err
		}
		profile.PasswordEnc = passwordEnc
	}

	return a.db.Save(&profile).Error
}

func (a *App) sealPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	return a.box.Seal(password)
}

// DeleteProfile deletes a connection profile
func (a *App) DeleteProfile(profileID string) error {
	return a.db.Where("id = ?", profileID).Delete(&models.ConnectionProfile{}).Error
}

// SelectProfile connects to the server of a profile. The explorer, selection
// and tracked job of the previous server are dropped.
func (a *App) SelectProfile(profileID string) error {
	var profile models.ConnectionProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return err
	}

	conn, err := session.ConnectionFromProfile(profile, a.box)
	if err != nil {
		return err
	}

	a.activate(conn, &profile)
	a.logger.Info("Selected profile", "name", profile.Name)
	return nil
}

// UseDefaultServer connects to the Orthanc server of the configuration file
func (a *App) UseDefaultServer() {
	a.activate(session.ConnectionFromConfig(a.cfg), nil)
}

// GetSelectedProfile returns the currently selected profile
func (a *App) GetSelectedProfile() (*models.ConnectionProfile, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selectedProfile, nil
}

// TestConnection tests an Orthanc connection without saving to database
func (a *App) TestConnection(req TestConnectionRequest) TestConnectionResponse {
	client := orthanc.NewClient(api.NewClient(req.URL, req.Username, req.Password, api.Options{
		Timeout: 15 * time.Second,
	}))

	info, err := client.SystemInfo(a.ctx)
	if err != nil {
		var transportErr *shared.TransportError
		errorMsg := fmt.Sprintf("Connection failed: %v", err)
		if errors.As(err, &transportErr) {
			switch transportErr.StatusCode {
			case 401:
				errorMsg = "Invalid credentials (wrong username or password)"
			case 404:
				errorMsg = "Server not found or invalid URL"
			case 403:
				errorMsg = "Access forbidden (check user permissions)"
			}
		}
		return TestConnectionResponse{Success: false, Error: errorMsg}
	}

	return TestConnectionResponse{
		Success:    true,
		ServerInfo: fmt.Sprintf("%s %s (AET %s)", info.Name, info.Version, info.DicomAet),
	}
}

// ====================================================================================
// CATALOG OPERATIONS
// ====================================================================================

// LoadCollections lists the TCIA collections; facets arrive later as events
func (a *App) LoadCollections() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	return uiError(s.Catalog.Load(a.ctx))
}

// GetCollections returns the collections matching a glob filter
func (a *App) GetCollections(filter string) ([]models.Collection, error) {
	s, err := a.currentSession()
	if err != nil {
		return nil, uiError(err)
	}
	return s.Catalog.Filter(filter), nil
}

// ClearCache empties the TCIA caches of the plugin and of this client
func (a *App) ClearCache() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	return uiError(s.Orthanc.ClearCache(a.ctx))
}

// ====================================================================================
// EXPLORER OPERATIONS
// ====================================================================================

func (a *App) OpenCollection(collection string) error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	return uiError(s.Explorer.OpenCollection(a.ctx, collection))
}

func (a *App) CloseCollection() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Explorer.CloseCollection()
	return nil
}

func (a *App) OpenPatient(patientID string) error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	return uiError(s.Explorer.OpenPatient(a.ctx, patientID))
}

func (a *App) ClosePatient() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Explorer.ClosePatient()
	return nil
}

func (a *App) OpenStudy(studyInstanceUID string) error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Explorer.OpenStudy(studyInstanceUID)
	return nil
}

func (a *App) CloseStudy(studyInstanceUID string) error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Explorer.CloseStudy(studyInstanceUID)
	return nil
}

// SetPatientFilter filters the patients of the active collection with a glob pattern
func (a *App) SetPatientFilter(pattern string) error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Explorer.SetFilter(pattern)
	return nil
}

func (a *App) GetExplorerState() (explorer.State, error) {
	s, err := a.currentSession()
	if err != nil {
		return explorer.State{}, uiError(err)
	}
	return s.Explorer.Snapshot(), nil
}

// ====================================================================================
// SELECTION OPERATIONS
// ====================================================================================

func (a *App) SetSeriesSelected(seriesInstanceUID string, selected bool) (selection.Snapshot, error) {
	s, err := a.currentSession()
	if err != nil {
		return selection.Snapshot{}, uiError(err)
	}
	return s.SetSeriesSelected(seriesInstanceUID, selected), nil
}

func (a *App) SetAllSeriesSelected(studyInstanceUID string, selected bool) (selection.Snapshot, error) {
	s, err := a.currentSession()
	if err != nil {
		return selection.Snapshot{}, uiError(err)
	}
	return s.SetAllSeriesSelected(studyInstanceUID, selected), nil
}

func (a *App) CountSelectedSeries(studyInstanceUID string) int {
	s, err := a.currentSession()
	if err != nil {
		return 0
	}
	return s.Tree.CountSelectedInStudy(studyInstanceUID)
}

func (a *App) TotalSelectedSeries() int {
	s, err := a.currentSession()
	if err != nil {
		return 0
	}
	return s.Tree.TotalSelected()
}

// ====================================================================================
// IMPORT OPERATIONS
// ====================================================================================

// ChooseCartFile asks the user for an NBIA cart
func (a *App) ChooseCartFile() (string, error) {
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select an NBIA cart",
		Filters: []runtime.FileFilter{
			{DisplayName: "NBIA spreadsheet (*.csv)", Pattern: "*.csv"},
		},
	})
}

// ImportCart submits an NBIA cart
func (a *App) ImportCart(path string) ImportResponse {
	s, err := a.currentSession()
	if err != nil {
		return importResponse("", err)
	}
	jobID, err := s.Importer.ImportSpreadsheet(a.ctx, path)
	return a.submitted(s, jobID, err)
}

// ImportSelectedSeries submits the series selected for the active patient
func (a *App) ImportSelectedSeries() ImportResponse {
	s, err := a.currentSession()
	if err != nil {
		return importResponse("", err)
	}
	jobID, err := s.Importer.ImportSelection(a.ctx)
	return a.submitted(s, jobID, err)
}

// submitted fetches the content of a new job once, in the background, so the
// patient rows appear without waiting for the first RefreshJob
func (a *App) submitted(s *session.Session, jobID string, err error) ImportResponse {
	if err == nil {
		a.refreshes.Add(1)
		go func() {
			defer a.refreshes.Done()
			if _, err := s.Tracker.Refresh(a.ctx); err != nil && !errors.Is(err, shared.ErrSuperseded) {
				a.logger.Warn("Initial job refresh failed", "job", jobID, "error", err)
			}
		}()
	}
	return importResponse(jobID, err)
}

// ====================================================================================
// JOB TRACKING OPERATIONS
// ====================================================================================

func (a *App) GetJobStatus() (tracker.Status, error) {
	s, err := a.currentSession()
	if err != nil {
		return tracker.Status{State: tracker.StateIdle}, nil
	}
	return s.Tracker.Status(), nil
}

// RefreshJob fetches the tracked job and reconciles it against the archive
func (a *App) RefreshJob() (tracker.Status, error) {
	s, err := a.currentSession()
	if err != nil {
		return tracker.Status{}, uiError(err)
	}
	status, err := s.Tracker.Refresh(a.ctx)
	return status, uiError(err)
}

// RefreshSeriesCount recounts the archived series without fetching the job again
func (a *App) RefreshSeriesCount() (tracker.Status, error) {
	s, err := a.currentSession()
	if err != nil {
		return tracker.Status{}, uiError(err)
	}
	status, err := s.Tracker.RefreshCounts(a.ctx)
	return status, uiError(err)
}

// ClearJob stops tracking the current job
func (a *App) ClearJob() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	s.Tracker.Clear()
	return nil
}

// OpenJob shows the tracked job in the Orthanc explorer
func (a *App) OpenJob() error {
	s, err := a.currentSession()
	if err != nil {
		return uiError(err)
	}
	url := s.JobExplorerURL()
	if url == "" {
		return uiError(shared.ErrNoTrackedJob)
	}
	runtime.BrowserOpenURL(a.ctx, url)
	return nil
}

// ExportJobReport renders the tracked job as json, csv or yaml
func (a *App) ExportJobReport(format string) (string, error) {
	s, err := a.currentSession()
	if err != nil {
		return "", uiError(err)
	}
	report, err := s.Tracker.ExportReport(format)
	return report, uiError(err)
}

// SaveJobReport asks for a destination and writes the report there
func (a *App) SaveJobReport(format string) (string, error) {
	report, err := a.ExportJobReport(format)
	if err != nil {
		return "", err
	}

	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Save import report",
		DefaultFilename: "tcia-import." + format,
	})
	if err != nil || path == "" {
		return "", err
	}

	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// ListJobs retrieves recent import jobs
func (a *App) ListJobs(limit int) ([]JobHistoryResponse, error) {
	if limit <= 0 {
		limit = 10 // Default to 10 most recent jobs
	}

	var jobs []models.ImportJob
	if err := a.db.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}

	history := make([]JobHistoryResponse, 0, len(jobs))
	for i := range jobs {
		history = append(history, toJobHistoryResponse(&jobs[i]))
	}
	return history, nil
}

// ====================================================================================
// SCHEDULER SERVICE OPERATIONS
// ====================================================================================

// ListScheduledJobs retrieves all scheduled jobs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.schedulerService.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled job
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.schedulerService.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled job
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.schedulerService.DeleteJob(jobID)
}

// RunScheduledJob executes a scheduled job now
func (a *App) RunScheduledJob(jobID string) error {
	return uiError(a.schedulerService.RunNow(jobID))
}

// scheduledTarget routes scheduled jobs to whichever server is selected when they fire
type scheduledTarget struct {
	app *App
}

func (t scheduledTarget) RefreshCounts(ctx context.Context) (tracker.Status, error) {
	s, err := t.app.currentSession()
	if err != nil {
		return tracker.Status{}, err
	}
	return s.Tracker.RefreshCounts(ctx)
}

func (t scheduledTarget) ImportSpreadsheet(ctx context.Context, path string) (string, error) {
	s, err := t.app.currentSession()
	if err != nil {
		return "", err
	}
	return s.Importer.ImportSpreadsheet(ctx, path)
}

// ====================================================================================
// REQUEST/RESPONSE TYPES
// ====================================================================================

// JobHistoryResponse represents an import job in the history
type JobHistoryResponse struct {
	JobID           string  `json:"job_id"`
	Kind            string  `json:"kind"`         // "NbiaClientSpreadsheet" or "Series"
	Status          string  `json:"status"`       // tracker state
	ServerState     string  `json:"server_state"` // Orthanc job state
	StartedAt       string  `json:"started_at"`   // ISO 8601 timestamp
	UpdatedAt       *string `json:"updated_at"`   // ISO 8601 timestamp or null
	Summary         string  `json:"summary"`
	Progress        int     `json:"progress"` // 0-100
	SeriesCount     int     `json:"series_count"`
	CompletedSeries int     `json:"completed_series"`
}

func toJobHistoryResponse(job *models.ImportJob) JobHistoryResponse {
	resp := JobHistoryResponse{
		JobID:           job.ID,
		Kind:            job.Kind,
		Status:          job.Status,
		ServerState:     job.ServerState,
		StartedAt:       job.CreatedAt.Format(time.RFC3339),
		Progress:        job.Progress,
		SeriesCount:     job.SeriesCount,
		CompletedSeries: job.CompletedSeries,
		Summary:         generateJobSummary(job),
	}
	if job.UpdatedAt.After(job.CreatedAt) {
		updatedAt := job.UpdatedAt.Format(time.RFC3339)
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

// generateJobSummary creates a brief summary of the job result
func generateJobSummary(job *models.ImportJob) string {
	switch {
	case job.Status == string(tracker.StateFailed):
		return "Failed"
	case job.SeriesCount > 0 && job.CompletedSeries == job.SeriesCount:
		return fmt.Sprintf("Complete (%d series)", job.SeriesCount)
	case job.SeriesCount > 0:
		return fmt.Sprintf("%d/%d series imported", job.CompletedSeries, job.SeriesCount)
	case job.ServerState != "":
		return fmt.Sprintf("%s (%d%%)", job.ServerState, job.Progress)
	default:
		return "Submitted"
	}
}

// CreateProfileRequest represents a request to create/update a connection profile
type CreateProfileRequest struct {
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	OrthancURL string `json:"orthanc_url"`
	Username   string `json:"username"`
	Password   string `json:"password"` // Plain text, will be encrypted
}

// TestConnectionRequest represents a connection test request
type TestConnectionRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// TestConnectionResponse represents the test result
type TestConnectionResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ServerInfo string `json:"server_info,omitempty"`
}

// ImportResponse is the outcome of a submission
type ImportResponse struct {
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

func importResponse(jobID string, err error) ImportResponse {
	if err != nil {
		return ImportResponse{Error: shared.UserMessage(err)}
	}
	return ImportResponse{JobID: jobID}
}

// uiError turns an error into the message shown by the frontend. Superseded
// navigations are not errors for the user.
func uiError(err error) error {
	if err == nil || errors.Is(err, shared.ErrSuperseded) {
		return nil
	}
	return errors.New(shared.UserMessage(err))
}
