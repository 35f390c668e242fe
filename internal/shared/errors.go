package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoProfile          = errors.New("no connection profile selected")
	ErrNoActiveCollection = errors.New("no active collection")
	ErrNoActivePatient    = errors.New("no active patient")
	ErrNoTrackedJob       = errors.New("no import job is being tracked")
	ErrUnsupportedFormat  = errors.New("unsupported export format")

	// ErrSuperseded is returned when a response arrives for a context the user
	// has since navigated away from. The response is discarded.
	ErrSuperseded = errors.New("request superseded by a newer navigation")
)

// TransportError reports a failed request to the Orthanc server, either at the
// network level or through a non-2xx status.
type TransportError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Endpoint, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReadError means a user-provided file could not be read as UTF-8 text.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// InvalidFormatError means a payload was rejected as malformed, locally or by the server.
type InvalidFormatError struct {
	Reason string
	Err    error
}

func (e *InvalidFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid format: %s: %v", e.Reason, e.Err)
	}
	return "invalid format: " + e.Reason
}

func (e *InvalidFormatError) Unwrap() error { return e.Err }

// JobNotFoundError means the server does not know the job identifier.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// MalformedSizeError means a declared series carries a non-numeric size.
type MalformedSizeError struct {
	SeriesInstanceUID string
	Value             string
	Err               error
}

func (e *MalformedSizeError) Error() string {
	return fmt.Sprintf("series %s: malformed size %q", e.SeriesInstanceUID, e.Value)
}

func (e *MalformedSizeError) Unwrap() error { return e.Err }

// EmptySelectionError means an import of selected series was requested with nothing selected.
type EmptySelectionError struct{}

func (e *EmptySelectionError) Error() string {
	return "no series selected"
}

// UserMessage turns a submission error into the message shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var readErr *ReadError
	var formatErr *InvalidFormatError
	var emptyErr *EmptySelectionError
	var notFoundErr *JobNotFoundError
	var transportErr *TransportError

	switch {
	case errors.As(err, &readErr):
		return "Cannot read the cart"
	case errors.As(err, &formatErr):
		return "Cannot process the cart, check that this is a valid NBIA spreadsheet file in CSV format"
	case errors.As(err, &emptyErr):
		return "No series selected"
	case errors.As(err, &notFoundErr):
		return fmt.Sprintf("Unknown job: %s", notFoundErr.JobID)
	case errors.Is(err, ErrNoProfile):
		return "Select a connection profile first"
	case errors.As(err, &transportErr):
		if transportErr.StatusCode == 401 {
			return "Invalid credentials for the Orthanc server"
		}
		return fmt.Sprintf("Cannot reach the Orthanc server: %v", transportErr)
	default:
		return err.Error()
	}
}
