// Package orthanc exposes the Orthanc REST endpoints used by the importer: the
// TCIA catalog proxied (and cached) by the plugin, archive lookups, and the
// import job lifecycle.
package orthanc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/shared"
)

// ProxyPrefix is the plugin route forwarding (and caching) TCIA catalog queries
const ProxyPrefix = "tcia/proxy/"

const (
	importEndpoint   = "tcia/import"
	clearCacheRoute  = "tcia/clear-cache"
	findEndpoint     = "tools/find"
	systemEndpoint   = "system"
	explorerJobRoute = "app/explorer.html#job?uuid="
)

// Requester is the transport the client is built on. *api.Client satisfies it.
type Requester interface {
	GetJSON(ctx context.Context, endpoint string, params map[string]string, out interface{}) error
	PostJSON(ctx context.Context, endpoint string, payload interface{}, out interface{}) error
	ClearCache()
	BaseURL() string
}

// Client manages communication with the Orthanc API
type Client struct {
	api Requester
}

// NewClient creates a new Orthanc client on top of a transport
func NewClient(api Requester) *Client {
	return &Client{api: api}
}

// SubmitResponse is the answer of an asynchronous import submission
type SubmitResponse struct {
	ID   string `json:"ID"`
	Path string `json:"Path"`
}

// SystemInfo is the subset of GET /system used for connection tests
type SystemInfo struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	APIVersion int    `json:"ApiVersion"`
	DicomAet   string `json:"DicomAet"`
}

// ArchivedSeries is an entry of an expanded series-level tools/find answer
type ArchivedSeries struct {
	ID             string            `json:"ID"`
	ParentStudy    string            `json:"ParentStudy"`
	MainDicomTags  map[string]string `json:"MainDicomTags"`
	Instances      []string          `json:"Instances"`
	IsStable       bool              `json:"IsStable"`
	ExpectedNumber *int              `json:"ExpectedNumberOfInstances"`
	LastUpdate     string            `json:"LastUpdate"`
}

// SeriesInstanceUID returns the DICOM identifier of the archived series
func (s ArchivedSeries) SeriesInstanceUID() string {
	return s.MainDicomTags["SeriesInstanceUID"]
}

type findRequest struct {
	Level  string            `json:"Level"`
	Expand bool              `json:"Expand"`
	Query  map[string]string `json:"Query"`
}

// GetCollectionValues lists the collection names of the catalog
func (c *Client) GetCollectionValues(ctx context.Context) ([]string, error) {
	var rows []map[string]string
	if err := c.proxy(ctx, "getCollectionValues", nil, &rows); err != nil {
		return nil, err
	}
	return columnValues(rows, "Collection"), nil
}

// GetModalityValues lists the modalities of a collection
func (c *Client) GetModalityValues(ctx context.Context, collection string) ([]string, error) {
	var rows []map[string]string
	if err := c.proxy(ctx, "getModalityValues", map[string]string{"Collection": collection}, &rows); err != nil {
		return nil, err
	}
	return columnValues(rows, "Modality"), nil
}

// GetBodyPartValues lists the examined body parts of a collection
func (c *Client) GetBodyPartValues(ctx context.Context, collection string) ([]string, error) {
	var rows []map[string]string
	if err := c.proxy(ctx, "getBodyPartValues", map[string]string{"Collection": collection}, &rows); err != nil {
		return nil, err
	}
	return columnValues(rows, "BodyPartExamined"), nil
}

func (c *Client) GetPatient(ctx context.Context, collection string) ([]models.Patient, error) {
	var patients []models.Patient
	if err := c.proxy(ctx, "getPatient", map[string]string{"Collection": collection}, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

func (c *Client) GetPatientStudy(ctx context.Context, collection, patientID string) ([]models.Study, error) {
	var studies []models.Study
	params := map[string]string{"Collection": collection, "PatientID": patientID}
	if err := c.proxy(ctx, "getPatientStudy", params, &studies); err != nil {
		return nil, err
	}
	return studies, nil
}

func (c *Client) GetSeries(ctx context.Context, collection, patientID string) ([]models.Series, error) {
	var series []models.Series
	params := map[string]string{"Collection": collection, "PatientID": patientID}
	if err := c.proxy(ctx, "getSeries", params, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// FindSeriesByPatientID lists the series currently stored in the archive for a patient
func (c *Client) FindSeriesByPatientID(ctx context.Context, patientID string) ([]ArchivedSeries, error) {
	req := findRequest{
		Level:  "Series",
		Expand: true,
		Query:  map[string]string{"PatientID": patientID},
	}

	var series []ArchivedSeries
	if err := c.api.PostJSON(ctx, findEndpoint, req, &series); err != nil {
		return nil, fmt.Errorf("failed to find series of patient %s: %w", patientID, err)
	}
	return series, nil
}

// SubmitImport posts an import request. A 400 answer means the plugin could not parse the content.
func (c *Client) SubmitImport(ctx context.Context, req models.ImportRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.api.PostJSON(ctx, importEndpoint, req, &resp); err != nil {
		var transportErr *shared.TransportError
		if errors.As(err, &transportErr) && transportErr.StatusCode == http.StatusBadRequest {
			return nil, &shared.InvalidFormatError{Reason: "import rejected by the server", Err: err}
		}
		return nil, err
	}
	if resp.ID == "" {
		return nil, &shared.TransportError{Method: http.MethodPost, Endpoint: importEndpoint, Err: errors.New("answer has no job ID")}
	}
	return &resp, nil
}

// GetJob fetches an Orthanc job. Unknown IDs yield a JobNotFoundError.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.api.GetJSON(ctx, "jobs/"+jobID, nil, &job); err != nil {
		var transportErr *shared.TransportError
		if errors.As(err, &transportErr) && transportErr.StatusCode == http.StatusNotFound {
			return nil, &shared.JobNotFoundError{JobID: jobID}
		}
		return nil, err
	}
	return &job, nil
}

// ClearCache empties the plugin's TCIA cache and the local response cache
func (c *Client) ClearCache(ctx context.Context) error {
	c.api.ClearCache()
	if err := c.api.PostJSON(ctx, clearCacheRoute, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to clear the TCIA cache: %w", err)
	}
	return nil
}

func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.api.GetJSON(ctx, systemEndpoint, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// JobExplorerURL is the Orthanc Explorer page showing a job
func (c *Client) JobExplorerURL(jobID string) string {
	return c.api.BaseURL() + "/" + explorerJobRoute + jobID
}

func (c *Client) proxy(ctx context.Context, op string, params map[string]string, out interface{}) error {
	if err := c.api.GetJSON(ctx, ProxyPrefix+op, params, out); err != nil {
		return fmt.Errorf("TCIA %s: %w", op, err)
	}
	return nil
}

// columnValues extracts a field from TCIA rows, skipping rows without it.
func columnValues(rows []map[string]string, field string) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[field]; ok && strings.TrimSpace(v) != "" {
			values = append(values, v)
		}
	}
	return values
}
