package submit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
	"github.com/JakeFAU/catalog-importer/internal/apitest"
	"github.com/JakeFAU/catalog-importer/internal/hash/sha256"
	"github.com/JakeFAU/catalog-importer/internal/importer"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "req-1", nil }

func newSubmitter(t *testing.T, baseURL string) *Submitter {
	t.Helper()
	client := apiclient.New(apiclient.Config{BaseURL: baseURL, Timeout: 5 * time.Second, IDs: staticIDs{}})
	return New(client, fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, nil)
}

func TestValidateFilename(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateFilename("products.csv"))
	for _, name := range []string{"products.txt", "products", "products.csv.bak", "products.CSV"} {
		err := ValidateFilename(name)
		require.ErrorIs(t, err, importer.ErrNotCSV, name)
	}
}

func TestSubmitReturnsTask(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	srv.QueueTaskIDs("abc-123")
	sub := newSubmitter(t, srv.URL)

	task, err := sub.Submit(context.Background(), "products.csv", strings.NewReader("sku,name\nA1,Widget\n"))
	require.NoError(t, err)
	require.Equal(t, "abc-123", task.ID)
	require.Equal(t, importer.TaskKindProductImport, task.Kind)
	require.Equal(t, "products.csv", task.Filename)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), task.Submitted)
	require.Equal(t, sha256.Hash([]byte("sku,name\nA1,Widget\n")), task.Checksum)
	require.EqualValues(t, len("sku,name\nA1,Widget\n"), task.Size)

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	require.Equal(t, "products.csv", uploads[0].Filename)
	require.Equal(t, "sku,name\nA1,Widget\n", string(uploads[0].Content))
	require.Equal(t, "req-1", uploads[0].RequestID)
}

func TestSubmitRejectsNonCSVWithoutRequest(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	sub := newSubmitter(t, srv.URL)

	_, err := sub.Submit(context.Background(), "products.xlsx", strings.NewReader("x"))
	require.ErrorIs(t, err, importer.ErrNotCSV)
	require.Empty(t, srv.Uploads())
}

func TestSubmitServerRejection(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	srv.FailUploads(http.StatusBadRequest, "File must be a CSV file")
	sub := newSubmitter(t, srv.URL)

	_, err := sub.Submit(context.Background(), "products.csv", strings.NewReader("x"))
	var subErr *importer.SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Equal(t, http.StatusBadRequest, subErr.StatusCode)
	require.Equal(t, "File must be a CSV file", subErr.Detail)

	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "/api/upload", apiErr.Route)
}

func TestSubmitNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	url := srv.URL
	srv.Close()
	sub := newSubmitter(t, url)

	_, err := sub.Submit(context.Background(), "products.csv", strings.NewReader("x"))
	var subErr *importer.SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Zero(t, subErr.StatusCode)
	require.Error(t, errors.Unwrap(subErr))
}

func TestSubmitFile(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	sub := newSubmitter(t, srv.URL)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku,name\n"), 0o600))

	task, err := sub.SubmitFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)
	require.Equal(t, "catalog.csv", task.Filename)

	_, err = sub.SubmitFile(context.Background(), filepath.Join(dir, "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = sub.SubmitFile(context.Background(), filepath.Join(dir, "notes.txt"))
	require.ErrorIs(t, err, importer.ErrNotCSV)
}
