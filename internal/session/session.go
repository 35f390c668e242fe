// Package session wires the services that talk to one Orthanc server. The
// desktop app builds a new Session each time a connection profile is selected;
// the CLI builds one per invocation.
package session

import (
	"context"
	"fmt"

	"tciasync-desktop/internal/api"
	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/crypto"
	"tciasync-desktop/internal/events"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/orthanc"
	"tciasync-desktop/internal/services/catalog"
	"tciasync-desktop/internal/services/explorer"
	"tciasync-desktop/internal/services/importer"
	"tciasync-desktop/internal/services/selection"
	"tciasync-desktop/internal/services/tracker"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// Connection identifies an Orthanc server and its credentials
type Connection struct {
	ProfileID string
	URL       string
	Username  string
	Password  string
}

// ConnectionFromProfile decrypts the password of a stored profile
func ConnectionFromProfile(profile models.ConnectionProfile, box *crypto.Box) (Connection, error) {
	conn := Connection{
		ProfileID: profile.ID,
		URL:       profile.OrthancURL,
		Username:  profile.Username,
	}
	if profile.PasswordEnc == "" {
		return conn, nil
	}
	if box == nil {
		return conn, fmt.Errorf("cannot decrypt password of profile %s: encryption not initialized", profile.Name)
	}

	password, err := box.Open(profile.PasswordEnc)
	if err != nil {
		return conn, fmt.Errorf("failed to decrypt password: %w", err)
	}
	conn.Password = password
	return conn, nil
}

// ConnectionFromConfig uses the fallback server of the configuration
func ConnectionFromConfig(cfg config.Config) Connection {
	return Connection{
		URL:      cfg.Orthanc.URL,
		Username: cfg.Orthanc.Username,
		Password: cfg.Orthanc.Password,
	}
}

// Session holds the services bound to one connection
type Session struct {
	Connection Connection
	API        *api.Client
	Orthanc    *orthanc.Client
	Catalog    *catalog.Service
	Tree       *selection.Tree
	Explorer   *explorer.Service
	Tracker    *tracker.Service
	Importer   *importer.Service

	emitter events.Emitter
}

// Options carries the collaborators shared by every session
type Options struct {
	Config  config.Config
	DB      *gorm.DB
	Emitter events.Emitter
	Logger  *log.Logger
	Reader  importer.FileReader
}

// New builds the services for conn
func New(conn Connection, opts Options) *Session {
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	cfg := opts.Config

	apiClient := api.NewClient(conn.URL, conn.Username, conn.Password, api.Options{
		Timeout:       cfg.Orthanc.Timeout.Duration,
		RetryCount:    cfg.Orthanc.RetryCount,
		CachePrefix:   orthanc.ProxyPrefix,
		CacheTTL:      cfg.Catalog.CacheTTL.Duration,
		CacheCapacity: cfg.Catalog.CacheCapacity,
	})
	client := orthanc.NewClient(apiClient)
	tree := selection.NewTree()

	jobs := tracker.NewService(client, client, opts.DB, opts.Emitter, opts.Logger, tracker.Options{
		FetchAttempts:        cfg.Tracker.FetchAttempts,
		ReconcileConcurrency: cfg.Tracker.ReconcileConcurrency,
		ProfileID:            conn.ProfileID,
	})

	return &Session{
		Connection: conn,
		API:        apiClient,
		Orthanc:    client,
		Catalog:    catalog.NewService(client, opts.Emitter, opts.Logger, cfg.Catalog.RequestsPerSecond, cfg.Catalog.Burst),
		Tree:       tree,
		Explorer:   explorer.NewService(client, tree, opts.Emitter, opts.Logger),
		Tracker:    jobs,
		Importer:   importer.NewService(opts.Reader, client, jobs, tree, opts.Logger),
		emitter:    opts.Emitter,
	}
}

// Ping checks that the server answers and the credentials are accepted
func (s *Session) Ping(ctx context.Context) (*orthanc.SystemInfo, error) {
	return s.Orthanc.SystemInfo(ctx)
}

// SetSeriesSelected toggles one series of the active patient
func (s *Session) SetSeriesSelected(seriesInstanceUID string, selected bool) selection.Snapshot {
	s.Tree.SetSeries(seriesInstanceUID, selected)
	return s.publishSelection()
}

// SetAllSeriesSelected toggles every series of a study
func (s *Session) SetAllSeriesSelected(studyInstanceUID string, selected bool) selection.Snapshot {
	s.Tree.SetAllInStudy(studyInstanceUID, selected)
	return s.publishSelection()
}

func (s *Session) publishSelection() selection.Snapshot {
	snapshot := s.Tree.Snapshot()
	s.emitter.Emit(events.SelectionChanged, snapshot)
	return snapshot
}

// JobExplorerURL links to the tracked job in the Orthanc explorer, or "" when idle
func (s *Session) JobExplorerURL() string {
	jobID := s.Tracker.JobID()
	if jobID == "" {
		return ""
	}
	return s.Orthanc.JobExplorerURL(jobID)
}

// Close stops the background catalog pipelines
func (s *Session) Close() {
	s.Catalog.Stop()
}
