// Package reconcile turns progress reports into operator-visible state and
// makes sure each task is finalized at most once, whichever channel delivered
// its terminal report and however many times it was delivered.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
)

const unknownError = "Unknown error"

// historySize bounds how many finished tasks keep their Outcome.
const historySize = 64

// Level classifies a notification.
type Level string

// Notification levels.
const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is the one-time message emitted when a task finishes.
type Notification struct {
	TaskID  string
	Level   Level
	Title   string
	Message string
}

// View is what the progress display shows.
type View struct {
	TaskID     string
	Filename   string
	Percentage float64
	StatusLine string
	Errors     []string
	// Result is empty until the task finishes.
	Result      string
	ResultLevel Level
}

// Outcome records how a task finished.
type Outcome struct {
	TaskID   string
	Status   importer.Status
	Message  string
	Errors   []string
	Finished time.Time
}

// Err returns a *importer.TaskError for failed tasks and nil otherwise.
func (o Outcome) Err() error {
	if o.Status != importer.StatusError {
		return nil
	}
	msg := o.Message
	if msg == "" {
		msg = unknownError
	}
	return &importer.TaskError{TaskID: o.TaskID, Message: msg}
}

// Presenter redraws the progress display.
type Presenter interface {
	Render(View)
}

// Notifier shows the one-time completion message.
type Notifier interface {
	Notify(Notification)
}

// ListingRefresher reloads the product listing.
type ListingRefresher interface {
	RefreshListing(ctx context.Context) error
}

// Visibility reports whether the product listing is the view on screen.
type Visibility interface {
	ListingVisible() bool
}

// Config wires a Reconciler. Every collaborator is optional.
type Config struct {
	Presenter  Presenter
	Notifier   Notifier
	Refresher  ListingRefresher
	Visibility Visibility
	Clock      importer.Clock
	Logger     *zap.Logger
	// BaseContext bounds listing refreshes; defaults to context.Background.
	BaseContext context.Context
}

// Reconciler is the only component that decides a task is done.
type Reconciler struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	task  importer.Task
	view  View
	shown map[string]struct{}
	done  map[string]finished
	order []string
}

// finished is a task's outcome plus a channel closed once any listing
// refresh its completion triggered has returned.
type finished struct {
	outcome   Outcome
	refreshed chan struct{}
}

// New returns a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Reconciler{
		cfg:       cfg,
		logger:    cfg.Logger.Named("reconcile"),
		shown:     make(map[string]struct{}),
		done:      make(map[string]finished),
	}
}

// Begin resets the display for a newly submitted task.
func (r *Reconciler) Begin(task importer.Task) {
	r.mu.Lock()
	r.task = task
	r.view = View{
		TaskID:     task.ID,
		Filename:   task.Filename,
		StatusLine: "Uploading...",
	}
	r.shown = make(map[string]struct{})
	view := r.snapshotLocked()
	r.mu.Unlock()

	r.render(view)
}

// Apply updates the display from report and reports whether this was the
// first terminal report for taskID. Reports for a task other than the one
// passed to Begin are ignored.
func (r *Reconciler) Apply(taskID string, report importer.Report) bool {
	r.mu.Lock()
	if taskID == "" || taskID != r.task.ID {
		r.mu.Unlock()
		r.logger.Debug("ignoring report for inactive task", zap.String("task_id", taskID))
		return false
	}

	r.view.Percentage = report.ClampedPercentage()
	r.view.StatusLine = report.StatusLine()
	for _, msg := range report.Errors {
		if _, ok := r.shown[msg]; ok {
			continue
		}
		r.shown[msg] = struct{}{}
		r.view.Errors = append(r.view.Errors, msg)
	}

	first := false
	var rec finished
	if report.Terminal() {
		if _, done := r.done[taskID]; !done {
			first = true
			rec = finished{
				outcome: Outcome{
					TaskID:   taskID,
					Status:   report.Status,
					Message:  report.Message,
					Errors:   append([]string(nil), r.view.Errors...),
					Finished: r.now(),
				},
				refreshed: make(chan struct{}),
			}
			r.rememberLocked(rec)
			r.view.Result, r.view.ResultLevel = resultLine(report)
		}
	}
	kind := r.task.Kind
	view := r.snapshotLocked()
	r.mu.Unlock()

	r.render(view)
	if !first {
		if report.Terminal() {
			r.logger.Debug("duplicate terminal report", zap.String("task_id", taskID))
		}
		return false
	}
	r.finalize(rec, kind)
	return true
}

// rememberLocked records a finished task, forgetting the oldest ones beyond
// historySize.
func (r *Reconciler) rememberLocked(rec finished) {
	r.done[rec.outcome.TaskID] = rec
	r.order = append(r.order, rec.outcome.TaskID)
	for len(r.order) > historySize {
		delete(r.done, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Reconciler) finalize(rec finished, kind importer.TaskKind) {
	outcome := rec.outcome
	log := r.logger.With(zap.String("task_id", outcome.TaskID), zap.String("status", string(outcome.Status)))
	n := Notification{TaskID: outcome.TaskID, Message: outcome.Message}
	if outcome.Status == importer.StatusCompleted {
		n.Level, n.Title = LevelSuccess, "Import completed successfully"
		metrics.ObserveFinalized("completed")
		log.Info("import completed", zap.String("message", outcome.Message))
	} else {
		n.Level, n.Title = LevelError, "Import failed"
		if n.Message == "" {
			n.Message = unknownError
		}
		metrics.ObserveFinalized("error")
		log.Warn("import failed", zap.String("message", n.Message))
	}
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.Notify(n)
	}

	if !r.shouldRefresh(outcome, kind) {
		close(rec.refreshed)
		return
	}
	go func() {
		defer close(rec.refreshed)
		if err := r.cfg.Refresher.RefreshListing(r.cfg.BaseContext); err != nil {
			log.Warn("listing refresh failed", zap.Error(err))
		}
	}()
}

func (r *Reconciler) shouldRefresh(outcome Outcome, kind importer.TaskKind) bool {
	if outcome.Status != importer.StatusCompleted || kind != importer.TaskKindProductImport {
		return false
	}
	return r.cfg.Refresher != nil && r.cfg.Visibility != nil && r.cfg.Visibility.ListingVisible()
}

// WaitRefresh blocks until the listing refresh triggered by taskID's
// completion, if any, has returned. Unknown tasks return at once.
func (r *Reconciler) WaitRefresh(ctx context.Context, taskID string) error {
	r.mu.Lock()
	rec, ok := r.done[taskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-rec.refreshed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns a copy of the current display state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Outcome returns how taskID finished, if it has.
func (r *Reconciler) Outcome(taskID string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.done[taskID]
	return rec.outcome, ok
}

func (r *Reconciler) snapshotLocked() View {
	v := r.view
	v.Errors = append([]string(nil), r.view.Errors...)
	return v
}

func (r *Reconciler) render(v View) {
	if r.cfg.Presenter != nil {
		r.cfg.Presenter.Render(v)
	}
}

func (r *Reconciler) now() time.Time {
	if r.cfg.Clock == nil {
		return time.Now().UTC()
	}
	return r.cfg.Clock.Now()
}

func resultLine(report importer.Report) (string, Level) {
	if report.Status == importer.StatusCompleted {
		return strings.TrimSpace("Import completed! " + report.Message), LevelSuccess
	}
	msg := report.Message
	if msg == "" {
		msg = unknownError
	}
	return "Import failed: " + msg, LevelError
}
