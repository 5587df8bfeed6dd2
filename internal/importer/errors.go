package importer

import (
	"errors"
	"fmt"
)

// ErrNotCSV rejects uploads whose filename does not end in ".csv".
var ErrNotCSV = errors.New("file must be a CSV file")

// SubmissionError reports a failed upload. StatusCode is zero when the
// request never produced a response.
type SubmissionError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("upload failed: status %d: %s", e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload failed: status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("upload failed: %v", e.Err)
	default:
		return "upload failed"
	}
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TransportError is a channel-level failure: a dropped connection, a
// malformed payload, or a server close before a terminal report.
type TransportError struct {
	Channel ChannelKind
	TaskID  string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s channel for task %s: %v", e.Channel, e.TaskID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TaskError is a server-reported terminal failure of an import.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("import %s failed: %s", e.TaskID, e.Message)
}
