package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the server-reported state of an import task.
type Status string

// Supported task statuses. Completed and Error are terminal.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TaskKind tags what a task imports so the reconciler knows which listing a
// completion invalidates.
type TaskKind string

// TaskKindProductImport marks a CSV import of catalog products.
const TaskKindProductImport TaskKind = "product_import"

// Task is one server-side import job as seen by the client session that
// created it.
type Task struct {
	// ID is the opaque identifier returned by the upload endpoint.
	ID string
	// Kind selects the listing refreshed on success.
	Kind TaskKind
	// Filename is the uploaded file's base name, for display only.
	Filename string
	// Submitted is when the upload was accepted.
	Submitted time.Time
	// Checksum is the hex SHA-256 of the uploaded bytes and Size their
	// count. Both are empty for tasks the client did not upload itself.
	Checksum string
	Size     int64
}

// Report is a single progress snapshot delivered by a channel.
type Report struct {
	Status     Status
	Percentage float64
	Message    string
	Errors     []string
	// Progress and Total are the row counters some backends publish next to
	// the percentage. Zero when absent or unreadable.
	Progress int
	Total    int
}

// reportPayload is the wire shape of a report. The row counters are kept raw
// so a backend that sends them as floats or strings cannot reject the report.
type reportPayload struct {
	Status     Status          `json:"status"`
	Percentage float64         `json:"percentage"`
	Message    string          `json:"message"`
	Errors     []string        `json:"errors"`
	Progress   json.RawMessage `json:"progress"`
	Total      json.RawMessage `json:"total"`
}

// DecodeReport parses a JSON progress payload. Any syntax error is returned
// so callers can treat it as a transport failure.
func DecodeReport(data []byte) (Report, error) {
	var p reportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Report{}, fmt.Errorf("decode progress report: %w", err)
	}
	return Report{
		Status:     Status(strings.ToLower(strings.TrimSpace(string(p.Status)))),
		Percentage: p.Percentage,
		Message:    p.Message,
		Errors:     p.Errors,
		Progress:   rowCount(p.Progress),
		Total:      rowCount(p.Total),
	}, nil
}

// rowCount reads a counter sent as a JSON number or numeric string. Anything
// else counts as zero.
func rowCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	f, err := n.Float64()
	switch {
	case err != nil, math.IsNaN(f), f < 0:
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	default:
		return int(f)
	}
}

// Terminal reports whether the report carries a terminal status.
func (r Report) Terminal() bool {
	return r.Status.Terminal()
}

// StatusLine picks the human-readable text shown next to the progress bar.
func (r Report) StatusLine() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Status != "" {
		return string(r.Status)
	}
	return "Processing..."
}

// ClampedPercentage bounds the percentage to [0, 100] for display. NaN maps
// to zero.
func (r Report) ClampedPercentage() float64 {
	switch {
	case math.IsNaN(r.Percentage), r.Percentage < 0:
		return 0
	case r.Percentage > 100:
		return 100
	default:
		return r.Percentage
	}
}

// ChannelKind names a notification transport.
type ChannelKind string

// Supported channel kinds.
const (
	ChannelStream ChannelKind = "stream"
	ChannelPoll   ChannelKind = "poll"
)
