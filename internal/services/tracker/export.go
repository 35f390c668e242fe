package tracker

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tciasync-desktop/internal/shared"

	"gopkg.in/yaml.v3"
)

// ExportReport renders the tracked job as json, csv (one row per patient) or yaml
func (s *Service) ExportReport(format string) (string, error) {
	status := s.Status()
	if status.JobID == "" {
		return "", shared.ErrNoTrackedJob
	}
	return RenderReport(status, format)
}

func RenderReport(status Status, format string) (string, error) {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(data), nil

	case "yaml", "yml":
		data, err := yaml.Marshal(status)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return string(data), nil

	case "csv":
		var buf strings.Builder
		writer := csv.NewWriter(&buf)

		writer.Write([]string{"collection", "patient_id", "orthanc_id", "series_expected", "series_completed", "instances", "size_bytes", "error"})
		for _, p := range status.Patients {
			writer.Write([]string{
				p.Collection,
				p.PatientID,
				p.OrthancID,
				strconv.Itoa(len(p.SeriesInstanceUIDs)),
				strconv.Itoa(p.CompletedSeries),
				strconv.Itoa(p.InstancesCount),
				strconv.FormatInt(p.Size, 10),
				p.Error,
			})
		}

		writer.Flush()
		return buf.String(), writer.Error()
	}

	return "", fmt.Errorf("%w: %s", shared.ErrUnsupportedFormat, format)
}
