package importer

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/orthanc"
	"tciasync-desktop/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCart = "Collection Name,Subject ID,Study UID,Series ID,Number of images,File Size (Bytes)\n" +
	"C1,P1,ST1,S1,5,100\n" +
	"C1,P1,ST1,S2,3,50\n"

type fakeReader struct {
	content string
	err     error
}

func (f fakeReader) ReadFileAsText(ctx context.Context, path string) (string, error) {
	return f.content, f.err
}

type fakeSubmitter struct {
	requests []models.ImportRequest
	id       string
	err      error
	// calls records the order of tracker and submitter calls
	calls *[]string
}

func (f *fakeSubmitter) SubmitImport(ctx context.Context, req models.ImportRequest) (*orthanc.SubmitResponse, error) {
	*f.calls = append(*f.calls, "submit")
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &orthanc.SubmitResponse{ID: f.id, Path: "/jobs/" + f.id}, nil
}

type fakeTracker struct {
	tracked string
	kind    string
	calls   *[]string
}

func (f *fakeTracker) Clear() {
	*f.calls = append(*f.calls, "clear")
	f.tracked = ""
}

func (f *fakeTracker) Track(jobID, kind string) {
	*f.calls = append(*f.calls, "track")
	f.tracked = jobID
	f.kind = kind
}

type fakeSelection struct {
	key      models.PatientKey
	selected []models.Series
}

func (f fakeSelection) Context() models.PatientKey      { return f.key }
func (f fakeSelection) SelectedSeries() []models.Series { return f.selected }

func newFixture(reader FileReader, selection Selection) (*Service, *fakeSubmitter, *fakeTracker, *[]string) {
	calls := &[]string{}
	submitter := &fakeSubmitter{id: "job-42", calls: calls}
	tracker := &fakeTracker{calls: calls}
	if selection == nil {
		selection = fakeSelection{}
	}
	return NewService(reader, submitter, tracker, selection, nil), submitter, tracker, calls
}

func TestService_ImportSpreadsheet(t *testing.T) {
	ctx := context.Background()

	t.Run("Should submit the cart as base64 and track the job", func(t *testing.T) {
		svc, submitter, tracker, calls := newFixture(fakeReader{content: validCart}, nil)

		jobID, err := svc.ImportSpreadsheet(ctx, "cart.csv")

		require.NoError(t, err)
		assert.Equal(t, "job-42", jobID)
		require.Len(t, submitter.requests, 1)

		req := submitter.requests[0]
		assert.Equal(t, models.ImportTypeSpreadsheet, req.Type)
		assert.True(t, req.Asynchronous)
		decoded, err := base64.StdEncoding.DecodeString(req.Content.(string))
		require.NoError(t, err)
		assert.Equal(t, validCart, string(decoded))

		assert.Equal(t, "job-42", tracker.tracked)
		assert.Equal(t, models.ImportTypeSpreadsheet, tracker.kind)
		assert.Equal(t, []string{"clear", "submit", "track"}, *calls)
	})

	t.Run("Should not submit an unreadable cart", func(t *testing.T) {
		readErr := &shared.ReadError{Path: "cart.csv", Err: errors.New("permission denied")}
		svc, submitter, _, calls := newFixture(fakeReader{err: readErr}, nil)

		_, err := svc.ImportSpreadsheet(ctx, "cart.csv")

		assert.ErrorAs(t, err, &readErr)
		assert.Empty(t, submitter.requests)
		assert.Empty(t, *calls, "Tracker should be left untouched")
		assert.Equal(t, "Cannot read the cart", shared.UserMessage(err))
	})

	t.Run("Should not submit a cart with missing columns", func(t *testing.T) {
		svc, submitter, _, _ := newFixture(fakeReader{content: "Subject ID,Series ID\nP1,S1\n"}, nil)

		_, err := svc.ImportSpreadsheet(ctx, "cart.csv")

		var formatErr *shared.InvalidFormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Contains(t, formatErr.Reason, "Collection Name")
		assert.Empty(t, submitter.requests)
	})

	t.Run("Should report a cart rejected by the server", func(t *testing.T) {
		svc, submitter, tracker, calls := newFixture(fakeReader{content: validCart}, nil)
		submitter.err = &shared.InvalidFormatError{Reason: "rejected by server"}

		_, err := svc.ImportSpreadsheet(ctx, "cart.csv")

		var formatErr *shared.InvalidFormatError
		assert.ErrorAs(t, err, &formatErr)
		assert.Empty(t, tracker.tracked)
		assert.Equal(t, []string{"clear", "submit"}, *calls)
		assert.Equal(t, "Cannot process the cart, check that this is a valid NBIA spreadsheet file in CSV format", shared.UserMessage(err))
	})
}

func TestService_ImportSelection(t *testing.T) {
	ctx := context.Background()
	key := models.PatientKey{Collection: "C1", PatientID: "P1"}

	t.Run("Should submit the selected series in order", func(t *testing.T) {
		selection := fakeSelection{key: key, selected: []models.Series{
			{SeriesInstanceUID: "S1", StudyInstanceUID: "ST1", ImageCount: 5, FileSize: 100},
			{SeriesInstanceUID: "S3", StudyInstanceUID: "ST2", ImageCount: 2, FileSize: 0},
		}}
		svc, submitter, tracker, _ := newFixture(nil, selection)

		jobID, err := svc.ImportSelection(ctx)

		require.NoError(t, err)
		assert.Equal(t, "job-42", jobID)
		require.Len(t, submitter.requests, 1)
		assert.Equal(t, models.ImportTypeSeries, submitter.requests[0].Type)
		assert.Equal(t, []models.SeriesRecord{
			{Collection: "C1", PatientID: "P1", SeriesInstanceUID: "S1", InstancesCount: 5, Size: "100"},
			{Collection: "C1", PatientID: "P1", SeriesInstanceUID: "S3", InstancesCount: 2, Size: "0"},
		}, submitter.requests[0].Content)
		assert.Equal(t, models.ImportTypeSeries, tracker.kind)
	})

	t.Run("Should reject an empty selection", func(t *testing.T) {
		svc, submitter, _, calls := newFixture(nil, fakeSelection{key: key})

		_, err := svc.ImportSelection(ctx)

		var emptyErr *shared.EmptySelectionError
		assert.ErrorAs(t, err, &emptyErr)
		assert.Empty(t, submitter.requests)
		assert.Empty(t, *calls)
		assert.Equal(t, "No series selected", shared.UserMessage(err))
	})

	t.Run("Should require an active patient", func(t *testing.T) {
		svc, _, _, _ := newFixture(nil, fakeSelection{})

		_, err := svc.ImportSelection(ctx)

		assert.ErrorIs(t, err, shared.ErrNoActivePatient)
	})

	t.Run("Should wrap transport failures", func(t *testing.T) {
		selection := fakeSelection{key: key, selected: []models.Series{{SeriesInstanceUID: "S1"}}}
		svc, submitter, _, _ := newFixture(nil, selection)
		submitter.err = &shared.TransportError{Method: "POST", Endpoint: "tcia/import", StatusCode: 503}

		_, err := svc.ImportSelection(ctx)

		var transportErr *shared.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, 503, transportErr.StatusCode)
		assert.Contains(t, err.Error(), "failed to submit Series import")
	})
}

func TestValidateCart(t *testing.T) {
	tests := []struct {
		name    string
		content string
		rows    int
		reason  string
	}{
		{name: "valid cart", content: validCart, rows: 2},
		{name: "byte order mark", content: "\ufeff" + validCart, rows: 2},
		{name: "header only", content: "Collection Name,Subject ID,Series ID,Number of images,File Size (Bytes)\n", rows: 0},
		{name: "empty file", content: "", reason: "empty cart"},
		{name: "missing size", content: "Collection Name,Subject ID,Series ID,Number of images\nC1,P1,S1,5\n", reason: "missing column: File Size (Bytes)"},
		{name: "duplicate column", content: "Collection Name,Subject ID,Series ID,Series ID,Number of images,File Size (Bytes)\n", reason: "duplicate column: Series ID"},
		{name: "not a csv", content: "{\"Type\": \"json\"}", reason: "missing column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ValidateCart(tt.content)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.rows, rows)
				return
			}
			var formatErr *shared.InvalidFormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Contains(t, formatErr.Reason, tt.reason)
		})
	}
}

func TestOSFileReader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("Should read a text file", func(t *testing.T) {
		path := filepath.Join(dir, "cart.csv")
		require.NoError(t, os.WriteFile(path, []byte(validCart), 0o600))

		content, err := OSFileReader{}.ReadFileAsText(ctx, path)

		require.NoError(t, err)
		assert.Equal(t, validCart, content)
	})

	t.Run("Should reject a missing file", func(t *testing.T) {
		_, err := OSFileReader{}.ReadFileAsText(ctx, filepath.Join(dir, "missing.csv"))

		var readErr *shared.ReadError
		assert.ErrorAs(t, err, &readErr)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Should reject binary content", func(t *testing.T) {
		path := filepath.Join(dir, "cart.bin")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0xfd}, 0o600))

		_, err := OSFileReader{}.ReadFileAsText(ctx, path)

		var readErr *shared.ReadError
		assert.ErrorAs(t, err, &readErr)
	})
}
