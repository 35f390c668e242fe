package tracker

import (
	"context"
	"time"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/orthanc"
)

// State of the tracked job on the client side
type State string

const (
	StateIdle       State = "idle"
	StateSubmitted  State = "submitted"
	StatePolling    State = "polling"
	StateReconciled State = "reconciled"
	StateFailed     State = "failed"
)

// JobSource fetches Orthanc jobs
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// ArchiveSource lists the series present in the archive for a patient
type ArchiveSource interface {
	FindSeriesByPatientID(ctx context.Context, patientID string) ([]orthanc.ArchivedSeries, error)
}

// PatientAggregate summarizes the declared series of one patient of a job.
// CompletedSeries never exceeds len(SeriesInstanceUIDs).
type PatientAggregate struct {
	Collection         string     `json:"collection" yaml:"collection"`
	PatientID          string     `json:"patientId" yaml:"patient_id"`
	OrthancID          string     `json:"orthancId,omitempty" yaml:"orthanc_id,omitempty"`
	SeriesInstanceUIDs []string   `json:"seriesInstanceUids" yaml:"series_instance_uids"`
	InstancesCount     int        `json:"instancesCount" yaml:"instances_count"`
	Size               int64      `json:"size" yaml:"size"`
	CompletedSeries    int        `json:"completedSeries" yaml:"completed_series"`
	Error              string     `json:"error,omitempty" yaml:"error,omitempty"`
	RefreshedAt        *time.Time `json:"refreshedAt,omitempty" yaml:"refreshed_at,omitempty"`
}

func (a PatientAggregate) Key() models.PatientKey {
	return models.PatientKey{Collection: a.Collection, PatientID: a.PatientID}
}

// IsComplete reports whether every declared series is in the archive
func (a PatientAggregate) IsComplete() bool {
	return len(a.SeriesInstanceUIDs) > 0 && a.CompletedSeries == len(a.SeriesInstanceUIDs)
}

// Status is the tracker view published to the frontend
type Status struct {
	JobID            string             `json:"jobId" yaml:"job_id"`
	Kind             string             `json:"kind" yaml:"kind"`
	State            State              `json:"state" yaml:"state"`
	ServerState      string             `json:"serverState,omitempty" yaml:"server_state,omitempty"`
	Progress         int                `json:"progress" yaml:"progress"`
	ErrorDescription string             `json:"errorDescription,omitempty" yaml:"error_description,omitempty"`
	LastError        string             `json:"lastError,omitempty" yaml:"last_error,omitempty"`
	SeriesCount      int                `json:"seriesCount" yaml:"series_count"`
	CompletedSeries  int                `json:"completedSeries" yaml:"completed_series"`
	InstancesCount   int                `json:"instancesCount" yaml:"instances_count"`
	Size             int64              `json:"size" yaml:"size"`
	Patients         []PatientAggregate `json:"patients" yaml:"patients"`
	Messages         []string           `json:"messages" yaml:"messages,omitempty"`
	UpdatedAt        time.Time          `json:"updatedAt" yaml:"updated_at"`
}

// PatientEvent is emitted each time a patient row is recounted
type PatientEvent struct {
	JobID   string           `json:"jobId"`
	Patient PatientAggregate `json:"patient"`
}
