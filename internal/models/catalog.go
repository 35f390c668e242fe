package models

import (
	"strconv"
	"strings"
)

const (
	// FacetPending is shown until the facet query for a collection resolves
	FacetPending = "..."
	// FacetUnavailable replaces the placeholder when the facet query failed
	FacetUnavailable = "(unavailable)"
)

// Import request types understood by the Orthanc TCIA plugin
const (
	ImportTypeSpreadsheet = "NbiaClientSpreadsheet"
	ImportTypeSeries      = "Series"
)

// Orthanc job states
const (
	JobStatePending = "Pending"
	JobStateRunning = "Running"
	JobStateSuccess = "Success"
	JobStateFailure = "Failure"
	JobStatePaused  = "Paused"
	JobStateRetry   = "Retry"
)

// Collection is a TCIA collection with its comma-joined facets
type Collection struct {
	Name       string `json:"name"`
	Modalities string `json:"modalities"`
	BodyParts  string `json:"bodyParts"`
}

// Patient as returned by the TCIA getPatient query
type Patient struct {
	PatientID   string `json:"PatientId"`
	PatientName string `json:"PatientName,omitempty"`
	PatientSex  string `json:"PatientSex,omitempty"`
	Collection  string `json:"Collection,omitempty"`
}

// Study as returned by the TCIA getPatientStudy query
type Study struct {
	StudyInstanceUID string `json:"StudyInstanceUID"`
	StudyDate        string `json:"StudyDate,omitempty"`
	StudyDescription string `json:"StudyDescription,omitempty"`
	PatientID        string `json:"PatientID,omitempty"`
	SeriesCount      int    `json:"SeriesCount,omitempty"`
}

// Series as returned by the TCIA getSeries query
type Series struct {
	SeriesInstanceUID string  `json:"SeriesInstanceUID"`
	StudyInstanceUID  string  `json:"StudyInstanceUID"`
	Modality          string  `json:"Modality,omitempty"`
	SeriesDescription string  `json:"SeriesDescription,omitempty"`
	BodyPartExamined  string  `json:"BodyPartExamined,omitempty"`
	ImageCount        int     `json:"ImageCount"`
	FileSize          float64 `json:"FileSize,omitempty"`
}

// PatientKey identifies a patient across collections
type PatientKey struct {
	Collection string `json:"collection"`
	PatientID  string `json:"patientId"`
}

func (k PatientKey) IsZero() bool {
	return k.Collection == "" && k.PatientID == ""
}

func (k PatientKey) String() string {
	return k.Collection + "/" + k.PatientID
}

// Less orders keys by collection, then patient ID
func (k PatientKey) Less(other PatientKey) bool {
	if c := strings.Compare(k.Collection, other.Collection); c != 0 {
		return c < 0
	}
	return k.PatientID < other.PatientID
}

// SeriesRecord is one declared series of an import job. Size is a decimal string on the wire.
type SeriesRecord struct {
	Collection        string `json:"Collection"`
	PatientID         string `json:"PatientID"`
	OrthancID         string `json:"OrthancID,omitempty"`
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
	InstancesCount    int    `json:"InstancesCount"`
	Size              string `json:"Size"`
}

func (r SeriesRecord) Key() PatientKey {
	return PatientKey{Collection: r.Collection, PatientID: r.PatientID}
}

// NewSeriesRecord builds the record submitted for a selected series
func NewSeriesRecord(key PatientKey, s Series) SeriesRecord {
	return SeriesRecord{
		Collection:        key.Collection,
		PatientID:         key.PatientID,
		SeriesInstanceUID: s.SeriesInstanceUID,
		InstancesCount:    s.ImageCount,
		Size:              strconv.FormatInt(int64(s.FileSize), 10),
	}
}

// ImportRequest is the body of POST /tcia/import
type ImportRequest struct {
	Type         string `json:"Type"`
	Content      any    `json:"Content"`
	Asynchronous bool   `json:"Asynchronous"`
}

// JobContent is the plugin-specific content of an import job
type JobContent struct {
	Series         []SeriesRecord `json:"Series"`
	SeriesCount    int            `json:"SeriesCount"`
	InstancesCount int            `json:"InstancesCount"`
	Size           string         `json:"Size"`
	SizeMB         int            `json:"SizeMB"`
}

// Job is the Orthanc /jobs/{id} document
type Job struct {
	ID               string     `json:"ID"`
	Type             string     `json:"Type"`
	State            string     `json:"State"`
	Progress         int        `json:"Progress"`
	ErrorCode        int        `json:"ErrorCode,omitempty"`
	ErrorDescription string     `json:"ErrorDescription,omitempty"`
	CreationTime     string     `json:"CreationTime,omitempty"`
	CompletionTime   string     `json:"CompletionTime,omitempty"`
	Content          JobContent `json:"Content"`
}

// IsTerminal reports whether Orthanc will no longer change the job
func (j Job) IsTerminal() bool {
	return j.State == JobStateSuccess || j.State == JobStateFailure
}
