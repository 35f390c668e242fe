package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/crypto"
	"tciasync-desktop/internal/database"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/tracker"
	"tciasync-desktop/internal/session"
	"tciasync-desktop/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = "sqlite://" + filepath.Join(t.TempDir(), "app.db")

	app := NewApp(cfg, shared.DiscardLogger())
	db, err := database.Open(cfg.Database, "error", nil)
	require.NoError(t, err)
	app.db = db

	box, err := crypto.NewBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	app.box = box

	t.Cleanup(func() { app.shutdown(context.Background()) })
	return app
}

func TestProfiles(t *testing.T) {
	t.Run("Should create, select, update and delete a profile", func(t *testing.T) {
		app := newTestApp(t)

		require.NoError(t, app.CreateProfile(CreateProfileRequest{
			Name:       "lab",
			OrthancURL: "http://pacs:8042",
			Username:   "admin",
			Password:   "secret",
		}))

		profiles, err := app.ListProfiles()
		require.NoError(t, err)
		require.Len(t, profiles, 1)
		assert.NotEqual(t, "secret", profiles[0].PasswordEnc)

		require.NoError(t, app.SelectProfile(profiles[0].ID))
		selected, err := app.GetSelectedProfile()
		require.NoError(t, err)
		assert.Equal(t, "lab", selected.Name)

		s, err := app.currentSession()
		require.NoError(t, err)
		assert.Equal(t, "secret", s.Connection.Password)
		assert.Equal(t, profiles[0].ID, s.Connection.ProfileID)

		require.NoError(t, app.UpdateProfile(profiles[0].ID, CreateProfileRequest{
			Name:       "lab-2",
			OrthancURL: "http://pacs:8042",
			Username:   "admin",
		}))
		updated, err := app.GetProfile(profiles[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "lab-2", updated.Name)
		assert.Equal(t, profiles[0].PasswordEnc, updated.PasswordEnc)

		require.NoError(t, app.DeleteProfile(profiles[0].ID))
		profiles, err = app.ListProfiles()
		require.NoError(t, err)
		assert.Empty(t, profiles)
	})

	t.Run("Should require a server before browsing", func(t *testing.T) {
		app := newTestApp(t)

		err := app.OpenCollection("LIDC-IDRI")
		assert.EqualError(t, err, "Select a connection profile first")

		resp := app.ImportSelectedSeries()
		assert.Equal(t, "Select a connection profile first", resp.Error)

		status, err := app.GetJobStatus()
		require.NoError(t, err)
		assert.Equal(t, tracker.StateIdle, status.State)
	})

	t.Run("Should use the configured server", func(t *testing.T) {
		app := newTestApp(t)

		app.UseDefaultServer()

		s, err := app.currentSession()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8042", s.Connection.URL)
		selected, _ := app.GetSelectedProfile()
		assert.Nil(t, selected)
	})
}

// newPluginServer answers an import with job-1, declaring S1 and S2 of P1 with only S1 archived
func newPluginServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/tcia/import", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"ID": "job-1", "Path": "/jobs/job-1"})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Job{
			ID:       "job-1",
			State:    models.JobStateRunning,
			Progress: 50,
			Content: models.JobContent{Series: []models.SeriesRecord{
				{Collection: "LIDC-IDRI", PatientID: "P1", SeriesInstanceUID: "S1", InstancesCount: 5, Size: "100"},
				{Collection: "LIDC-IDRI", PatientID: "P1", SeriesInstanceUID: "S2", InstancesCount: 3, Size: "50"},
			}},
		})
	})
	mux.HandleFunc("/tools/find", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"ID": "a", "MainDicomTags": map[string]string{"SeriesInstanceUID": "S1"}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestImportCart(t *testing.T) {
	t.Run("Should fetch the job content after a successful import", func(t *testing.T) {
		app := newTestApp(t)
		app.ctx = context.Background()
		server := newPluginServer(t)
		app.activate(session.Connection{URL: server.URL}, nil)

		cart := filepath.Join(t.TempDir(), "cart.csv")
		require.NoError(t, os.WriteFile(cart, []byte(
			"Collection Name,Subject ID,Series ID,Number of images,File Size (Bytes)\n"+
				"LIDC-IDRI,P1,S1,5,100\nLIDC-IDRI,P1,S2,3,50\n"), 0o644))

		resp := app.ImportCart(cart)
		require.Empty(t, resp.Error)
		assert.Equal(t, "job-1", resp.JobID)

		app.refreshes.Wait()
		status, err := app.GetJobStatus()
		require.NoError(t, err)
		assert.Equal(t, tracker.StateReconciled, status.State)
		require.Len(t, status.Patients, 1)
		assert.Equal(t, 8, status.Patients[0].InstancesCount)
		assert.Equal(t, 1, status.Patients[0].CompletedSeries)
	})

	t.Run("Should not refresh after a failed import", func(t *testing.T) {
		app := newTestApp(t)
		app.ctx = context.Background()
		server := newPluginServer(t)
		app.activate(session.Connection{URL: server.URL}, nil)

		resp := app.ImportCart(filepath.Join(t.TempDir(), "missing.csv"))

		assert.Equal(t, "Cannot read the cart", resp.Error)
		app.refreshes.Wait()
		status, err := app.GetJobStatus()
		require.NoError(t, err)
		assert.Empty(t, status.JobID)
	})
}

func TestListJobs(t *testing.T) {
	t.Run("Should list recent jobs with a summary", func(t *testing.T) {
		app := newTestApp(t)
		now := time.Now()

		require.NoError(t, app.db.Create(&models.ImportJob{
			ID: "old", Kind: models.ImportTypeSeries, Status: string(tracker.StateReconciled),
			SeriesCount: 2, CompletedSeries: 2, CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
		}).Error)
		require.NoError(t, app.db.Create(&models.ImportJob{
			ID: "new", Kind: models.ImportTypeSpreadsheet, Status: string(tracker.StateReconciled),
			SeriesCount: 4, CompletedSeries: 1, CreatedAt: now, UpdatedAt: now,
		}).Error)

		jobs, err := app.ListJobs(0)

		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "new", jobs[0].JobID)
		assert.Equal(t, "1/4 series imported", jobs[0].Summary)
		assert.Nil(t, jobs[0].UpdatedAt)
		assert.Equal(t, "Complete (2 series)", jobs[1].Summary)
		assert.NotNil(t, jobs[1].UpdatedAt)
	})
}

func TestGenerateJobSummary(t *testing.T) {
	tests := []struct {
		name string
		job  models.ImportJob
		want string
	}{
		{"failed", models.ImportJob{Status: string(tracker.StateFailed), SeriesCount: 3}, "Failed"},
		{"complete", models.ImportJob{SeriesCount: 3, CompletedSeries: 3}, "Complete (3 series)"},
		{"partial", models.ImportJob{SeriesCount: 3, CompletedSeries: 1}, "1/3 series imported"},
		{"server state only", models.ImportJob{ServerState: models.JobStateRunning, Progress: 40}, "Running (40%)"},
		{"submitted", models.ImportJob{}, "Submitted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateJobSummary(&tt.job))
		})
	}
}

func TestUIError(t *testing.T) {
	t.Run("Should hide superseded navigations", func(t *testing.T) {
		assert.NoError(t, uiError(shared.ErrSuperseded))
		assert.NoError(t, uiError(nil))
	})

	t.Run("Should use the user message", func(t *testing.T) {
		err := uiError(&shared.TransportError{StatusCode: 401, Err: errors.New("unauthorized")})
		assert.EqualError(t, err, "Invalid credentials for the Orthanc server")
	})

	t.Run("Should report the job of a successful import", func(t *testing.T) {
		assert.Equal(t, ImportResponse{JobID: "job-1"}, importResponse("job-1", nil))
		assert.Equal(t, ImportResponse{Error: "No series selected"}, importResponse("", &shared.EmptySelectionError{}))
	})
}
