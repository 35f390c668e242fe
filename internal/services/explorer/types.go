package explorer

import (
	"context"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/selection"
)

// Source is the subset of the Orthanc client used to browse the catalog
type Source interface {
	GetPatient(ctx context.Context, collection string) ([]models.Patient, error)
	GetPatientStudy(ctx context.Context, collection, patientID string) ([]models.Study, error)
	GetSeries(ctx context.Context, collection, patientID string) ([]models.Series, error)
}

// StudyView is a study of the active patient with its UI state and series
type StudyView struct {
	models.Study
	Open          bool            `json:"open"`
	Series        []models.Series `json:"series"`
	SelectedCount int             `json:"selectedCount"`
}

// State is the explorer view published to the frontend
type State struct {
	Filter           string             `json:"filter"`
	ActiveCollection string             `json:"activeCollection"`
	ActivePatientID  string             `json:"activePatientId"`
	Patients         []models.Patient   `json:"patients"`
	Studies          []StudyView        `json:"studies"`
	Selection        selection.Snapshot `json:"selection"`
}
