package models

import (
	"time"
)

// ImportJob records an import job submitted to the Orthanc TCIA plugin and its last known state
type ImportJob struct {
	ID              string    `gorm:"primaryKey" json:"id"`                        // Orthanc job ID
	ProfileID       string    `gorm:"index;column:profile_id" json:"profile_id"`   // connection profile that submitted it
	Kind            string    `gorm:"not null" json:"kind"`                        // NbiaClientSpreadsheet, Series
	Status          string    `gorm:"not null;default:submitted" json:"status"`    // submitted, polling, reconciled, failed
	ServerState     string    `gorm:"column:server_state" json:"server_state"`     // Pending, Running, Success, Failure
	Progress        int       `gorm:"not null;default:0" json:"progress"`          // 0-100, as reported by Orthanc
	SeriesCount     int       `gorm:"column:series_count" json:"series_count"`     // declared
	CompletedSeries int       `gorm:"column:completed_series" json:"completed_series"`
	Messages        string    `gorm:"type:text" json:"messages"` // JSON array of strings
	Results         string    `gorm:"type:text" json:"results"`  // JSON array of patient aggregates
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ImportJob) TableName() string {
	return "import_jobs"
}
