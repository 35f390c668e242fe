package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tciasync-desktop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCart = "Collection Name,Subject ID,Series ID,Number of images,File Size (Bytes)\n" +
	"LIDC-IDRI,P1,S1,5,100\n" +
	"LIDC-IDRI,P1,S2,3,50\n"

// fakePlugin serves the Orthanc and TCIA plugin routes used by tciactl
type fakePlugin struct {
	mu           sync.Mutex
	imports      []string
	cacheCleared int
}

func (f *fakePlugin) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux.HandleFunc("/tcia/proxy/getCollectionValues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"Collection": "LIDC-IDRI"}, {"Collection": "TCGA-BRCA"}})
	})
	mux.HandleFunc("/tcia/proxy/getModalityValues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"Modality": "CT"}, {"Modality": "DX"}})
	})
	mux.HandleFunc("/tcia/proxy/getBodyPartValues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"BodyPartExamined": "CHEST"}})
	})
	mux.HandleFunc("/tcia/clear-cache", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cacheCleared++
		f.mu.Unlock()
		writeJSON(w, map[string]string{})
	})
	mux.HandleFunc("/tcia/import", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"Type"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.imports = append(f.imports, req.Type)
		f.mu.Unlock()
		writeJSON(w, map[string]string{"ID": "job-1", "Path": "/jobs/job-1"})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Job{
			ID:       "job-1",
			State:    models.JobStateSuccess,
			Progress: 100,
			Content: models.JobContent{Series: []models.SeriesRecord{
				{Collection: "LIDC-IDRI", PatientID: "P1", SeriesInstanceUID: "S1", InstancesCount: 5, Size: "100"},
				{Collection: "LIDC-IDRI", PatientID: "P1", SeriesInstanceUID: "S2", InstancesCount: 3, Size: "50"},
			}},
		})
	})
	mux.HandleFunc("/tools/find", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"ID": "a", "MainDicomTags": map[string]string{"SeriesInstanceUID": "S1"}},
			{"ID": "b", "MainDicomTags": map[string]string{"SeriesInstanceUID": "S2"}},
		})
	})
	return mux
}

func setup(t *testing.T) (*fakePlugin, string) {
	t.Helper()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "tciactl.db"))
	t.Setenv("CATALOG_RATE_LIMIT", "0")
	t.Setenv("ORTHANC_USERNAME", "")
	t.Setenv("ORTHANC_PASSWORD", "")

	fake := &fakePlugin{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return fake, server.URL
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args,
		"--url", url,
		"--config", filepath.Join(t.TempDir(), "missing.toml"),
		"--log-level", "error",
	))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeCart(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cart.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCollectionsCmd(t *testing.T) {
	t.Run("Should filter collections by glob", func(t *testing.T) {
		_, url := setup(t)

		out, err := run(t, url, "collections", "--filter", "LIDC*")

		require.NoError(t, err)
		assert.Contains(t, out, "LIDC-IDRI")
		assert.NotContains(t, out, "TCGA-BRCA")
	})

	t.Run("Should resolve facets as JSON", func(t *testing.T) {
		_, url := setup(t)

		out, err := run(t, url, "collections", "--facets", "--json")
		require.NoError(t, err)

		var collections []models.Collection
		require.NoError(t, json.Unmarshal([]byte(out), &collections))
		require.Len(t, collections, 2)
		assert.Equal(t, "CT, DX", collections[0].Modalities)
		assert.Equal(t, "CHEST", collections[1].BodyParts)
	})
}

func TestImportCmd(t *testing.T) {
	t.Run("Should submit a cart and watch it until success", func(t *testing.T) {
		fake, url := setup(t)
		cart := writeCart(t, testCart)

		out, err := run(t, url, "import", cart, "--watch", "--interval", "10ms")

		require.NoError(t, err)
		assert.Contains(t, out, "Submitted job job-1")
		assert.Contains(t, out, "LIDC-IDRI / P1: 2/2 series, 8 instances, 150 bytes")
		assert.Contains(t, out, "Total: 2/2 series")
		assert.Equal(t, []string{models.ImportTypeSpreadsheet}, fake.imports)

		history, err := run(t, url, "history")
		require.NoError(t, err)
		assert.Contains(t, history, "job-1")
		assert.Contains(t, history, "2/2")
	})

	t.Run("Should reject an invalid cart before submitting", func(t *testing.T) {
		fake, url := setup(t)
		cart := writeCart(t, "Collection Name,Subject ID\nLIDC-IDRI,P1\n")

		_, err := run(t, url, "import", cart)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot process the cart")
		assert.Empty(t, fake.imports)
	})
}

func TestStatusCmd(t *testing.T) {
	t.Run("Should report a job as CSV", func(t *testing.T) {
		_, url := setup(t)

		out, err := run(t, url, "status", "job-1", "--format", "csv")

		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "collection,patient_id,orthanc_id,series_expected,series_completed,instances,size_bytes,error", lines[0])
		assert.Equal(t, "LIDC-IDRI,P1,,2,2,8,150,", lines[1])
	})

	t.Run("Should fail for an unknown job", func(t *testing.T) {
		_, url := setup(t)

		_, err := run(t, url, "status", "nope")

		require.Error(t, err)
		assert.Equal(t, "Unknown job: nope", err.Error())
	})
}

func TestClearCacheCmd(t *testing.T) {
	t.Run("Should clear the plugin cache", func(t *testing.T) {
		fake, url := setup(t)

		out, err := run(t, url, "clear-cache")

		require.NoError(t, err)
		assert.Contains(t, out, "TCIA cache cleared")
		assert.Equal(t, 1, fake.cacheCleared)
	})
}
