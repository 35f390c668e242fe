// Package importer submits import jobs to the Orthanc TCIA plugin, either from
// an NBIA cart file or from the series selected in the explorer.
package importer

import (
	"context"
	"encoding/base64"
	"fmt"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/orthanc"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
)

// FileReader reads a user-provided file as UTF-8 text
type FileReader interface {
	ReadFileAsText(ctx context.Context, path string) (string, error)
}

// Submitter posts import requests to the archive
type Submitter interface {
	SubmitImport(ctx context.Context, req models.ImportRequest) (*orthanc.SubmitResponse, error)
}

// JobTracker follows the last submitted job
type JobTracker interface {
	Clear()
	Track(jobID, kind string)
}

// Selection exposes the series chosen for the active patient
type Selection interface {
	Context() models.PatientKey
	SelectedSeries() []models.Series
}

// Service submits imports. Only one job is tracked at a time: the tracker is
// cleared before every submission and follows the new job on success.
type Service struct {
	reader    FileReader
	submitter Submitter
	tracker   JobTracker
	selection Selection
	logger    *log.Logger
}

func NewService(reader FileReader, submitter Submitter, tracker JobTracker, selection Selection, logger *log.Logger) *Service {
	if reader == nil {
		reader = OSFileReader{}
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Service{
		reader:    reader,
		submitter: submitter,
		tracker:   tracker,
		selection: selection,
		logger:    logger.With("component", "importer"),
	}
}

// ImportSpreadsheet submits the NBIA cart stored at path
func (s *Service) ImportSpreadsheet(ctx context.Context, path string) (string, error) {
	content, err := s.reader.ReadFileAsText(ctx, path)
	if err != nil {
		s.logger.Error("Failed to read cart", "path", path, "error", err)
		return "", err
	}

	rows, err := ValidateCart(content)
	if err != nil {
		s.logger.Error("Rejected cart", "path", path, "error", err)
		return "", err
	}
	s.logger.Info("Submitting cart", "path", path, "series", rows)

	return s.submit(ctx, models.ImportRequest{
		Type:         models.ImportTypeSpreadsheet,
		Content:      base64.StdEncoding.EncodeToString([]byte(content)),
		Asynchronous: true,
	})
}

// ImportSelection submits the series selected for the active patient, in
// study then series order.
func (s *Service) ImportSelection(ctx context.Context) (string, error) {
	key := s.selection.Context()
	if key.PatientID == "" {
		return "", shared.ErrNoActivePatient
	}

	selected := s.selection.SelectedSeries()
	if len(selected) == 0 {
		return "", &shared.EmptySelectionError{}
	}

	records := make([]models.SeriesRecord, 0, len(selected))
	for _, series := range selected {
		records = append(records, models.NewSeriesRecord(key, series))
	}
	s.logger.Info("Submitting selected series", "patient", key.String(), "series", len(records))

	return s.submit(ctx, models.ImportRequest{
		Type:         models.ImportTypeSeries,
		Content:      records,
		Asynchronous: true,
	})
}

func (s *Service) submit(ctx context.Context, req models.ImportRequest) (string, error) {
	s.tracker.Clear()

	resp, err := s.submitter.SubmitImport(ctx, req)
	if err != nil {
		s.logger.Error("Import submission failed", "type", req.Type, "error", err)
		return "", fmt.Errorf("failed to submit %s import: %w", req.Type, err)
	}

	s.tracker.Track(resp.ID, req.Type)
	return resp.ID, nil
}
