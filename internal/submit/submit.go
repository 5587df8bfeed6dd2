// Package submit uploads CSV files to the import backend.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
	"github.com/JakeFAU/catalog-importer/internal/hash/sha256"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
)

const uploadPath = "/api/upload"

// Submitter posts import files and returns the task the backend created.
// Uploads are never retried; a second attempt would start a second import.
type Submitter struct {
	client *resty.Client
	clock  importer.Clock
	logger *zap.Logger
}

// New builds a Submitter around a request/response client.
func New(client *resty.Client, clock importer.Clock, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		client: client,
		clock:  clock,
		logger: logger.Named("submit"),
	}
}

type uploadResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ValidateFilename rejects files the backend would refuse to import.
func ValidateFilename(name string) error {
	if !strings.HasSuffix(name, ".csv") {
		return fmt.Errorf("%q: %w", name, importer.ErrNotCSV)
	}
	return nil
}

// SubmitFile opens path and uploads it.
func (s *Submitter) SubmitFile(ctx context.Context, path string) (importer.Task, error) {
	name := filepath.Base(path)
	if err := ValidateFilename(name); err != nil {
		return importer.Task{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return importer.Task{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("close upload file", zap.String("path", path), zap.Error(cerr))
		}
	}()
	return s.Submit(ctx, name, f)
}

// Submit uploads content as filename and returns the created task. Non-2xx
// answers and network failures are returned as *importer.SubmissionError.
func (s *Submitter) Submit(ctx context.Context, filename string, content io.Reader) (importer.Task, error) {
	if err := ValidateFilename(filename); err != nil {
		metrics.ObserveSubmission("rejected")
		return importer.Task{}, err
	}

	body := sha256.NewReader(content)
	var out uploadResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, body).
		SetResult(&out).
		SetError(&apiclient.ErrorBody{}).
		Post(uploadPath)
	if err != nil {
		metrics.ObserveSubmission("network_error")
		s.logger.Warn("upload failed", zap.String("filename", filename), zap.Error(err))
		return importer.Task{}, &importer.SubmissionError{Err: err}
	}
	if resp.IsError() {
		metrics.ObserveSubmission("rejected")
		apiErr := apiclient.NewAPIError(resp)
		s.logger.Warn("upload rejected",
			zap.String("filename", filename),
			zap.Int("status", apiErr.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return importer.Task{}, &importer.SubmissionError{
			StatusCode: apiErr.StatusCode,
			Detail:     apiErr.Detail,
			Err:        apiErr,
		}
	}
	if out.TaskID == "" {
		metrics.ObserveSubmission("invalid_response")
		return importer.Task{}, &importer.SubmissionError{
			StatusCode: resp.StatusCode(),
			Detail:     "response carried no task_id",
			Err:        errors.New("missing task_id"),
		}
	}

	metrics.ObserveSubmission("accepted")
	task := importer.Task{
		ID:        out.TaskID,
		Kind:      importer.TaskKindProductImport,
		Filename:  filename,
		Submitted: s.clock.Now(),
		Checksum:  body.Sum(),
		Size:      body.Size(),
	}
	s.logger.Info("upload accepted",
		zap.String("task_id", task.ID),
		zap.String("filename", filename),
		zap.String("sha256", task.Checksum),
		zap.Int64("bytes", task.Size),
		zap.String("message", out.Message),
	)
	return task, nil
}
