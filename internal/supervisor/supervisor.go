// Package supervisor chooses and owns the progress channel of the tracked
// import task. It starts on the stream, downgrades once to polling on any
// stream failure, and closes the channel when the reconciler declares the
// task finished.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
)

const (
	defaultEventBuffer = 64
	// historySize bounds how many finished or abandoned tasks Await still
	// recognises.
	historySize = 64
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("supervisor closed")
	// ErrUnknownTask is returned by Await for a task never tracked.
	ErrUnknownTask = errors.New("unknown task")
)

// Reconciler is the part of reconcile.Reconciler the supervisor drives.
type Reconciler interface {
	Begin(task importer.Task)
	Apply(taskID string, report importer.Report) bool
}

// Config wires a Supervisor.
//   - Stream: opens the live channel; nil tracks every task by polling.
//   - Poll: opens the fallback channel (required).
//   - Reconciler: receives every report of the tracked task (required).
//   - BaseContext: parent of every channel (defaults to context.Background()).
//   - EventBuffer: queued channel events before posters block (default 64).
type Config struct {
	Stream      importer.ChannelFactory
	Poll        importer.ChannelFactory
	Reconciler  Reconciler
	BaseContext context.Context
	EventBuffer int
	Logger      *zap.Logger
}

// Supervisor serialises every channel event and command through a single
// goroutine, so its state needs no locking beyond the published snapshot.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger

	events    chan event
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	// Owned by run.
	state    State
	task     importer.Task
	active   importer.Channel
	gen      uint64
	retired  chan struct{}
	waiters  map[string][]chan State
	resolved map[string]State

	mu            sync.RWMutex
	snap          Snapshot
	resolvedOrder []string
}

type eventKind int

const (
	evReport eventKind = iota
	evTransportError
	evTrack
	evReset
	evAwait
)

type event struct {
	kind   eventKind
	gen    uint64
	report importer.Report
	err    error
	task   importer.Task
	taskID string
	done   chan error
	state  chan State
}

// New starts a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Poll == nil {
		return nil, errors.New("supervisor: poll factory required")
	}
	if cfg.Reconciler == nil {
		return nil, errors.New("supervisor: reconciler required")
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:      cfg,
		logger:   logger.Named("supervisor"),
		events:   make(chan event, cfg.EventBuffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		waiters:  make(map[string][]chan State),
		resolved: make(map[string]State),
	}
	go s.run()
	return s, nil
}

// Track abandons whatever task is being followed, closing its channel, and
// starts following task. It returns once the new channel is open.
func (s *Supervisor) Track(ctx context.Context, task importer.Task) error {
	if task.ID == "" {
		return errors.New("track: empty task id")
	}
	return s.command(ctx, event{kind: evTrack, task: task})
}

// Reset abandons the tracked task and returns to idle.
func (s *Supervisor) Reset(ctx context.Context) error {
	return s.command(ctx, event{kind: evReset})
}

// Await blocks until taskID is finalized or abandoned and returns
// StateFinalized or StateIdle respectively.
func (s *Supervisor) Await(ctx context.Context, taskID string) (State, error) {
	reply := make(chan State, 1)
	if err := s.post(ctx, event{kind: evAwait, taskID: taskID, state: reply}); err != nil {
		return StateIdle, err
	}
	select {
	case st := <-reply:
		if st == StateIdle {
			if _, ok := s.resolvedState(taskID); !ok {
				return st, fmt.Errorf("await %s: %w", taskID, ErrUnknownTask)
			}
		}
		return st, nil
	case <-ctx.Done():
		return StateIdle, ctx.Err()
	case <-s.doneCh:
		select {
		case st := <-reply:
			return st, nil
		default:
			return StateIdle, ErrClosed
		}
	}
}

// Snapshot returns the current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close stops the event loop and closes the active channel. It is safe to
// call multiple times.
func (s *Supervisor) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor close wait: %w", ctx.Err())
	}
}

func (s *Supervisor) command(ctx context.Context, ev event) error {
	ev.done = make(chan error, 1)
	if err := s.post(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		select {
		case err := <-ev.done:
			return err
		default:
			return ErrClosed
		}
	}
}

func (s *Supervisor) post(ctx context.Context, ev event) error {
	select {
	case <-s.stopCh:
		return ErrClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrClosed
	}
}

func (s *Supervisor) run() {
	defer close(s.doneCh)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.stopCh:
			s.retire()
			s.abandon()
			s.state = StateIdle
			s.publish()
			s.logger.Debug("supervisor stopped")
			return
		}
	}
}

func (s *Supervisor) handle(ev event) {
	switch ev.kind {
	case evTrack:
		ev.done <- s.track(ev.task)
	case evReset:
		s.retire()
		s.abandon()
		s.state = StateIdle
		s.publish()
		ev.done <- nil
	case evAwait:
		s.await(ev.taskID, ev.state)
	case evReport:
		if ev.gen != s.gen || s.active == nil {
			return
		}
		s.onReport(ev.report)
	case evTransportError:
		if ev.gen != s.gen || s.active == nil {
			return
		}
		s.onTransportError(ev.err)
	}
}

func (s *Supervisor) track(task importer.Task) error {
	if s.active != nil || s.task.ID != "" {
		s.logger.Info("abandoning task for new upload",
			zap.String("task_id", s.task.ID),
			zap.String("next_task_id", task.ID),
		)
	}
	s.retire()
	s.abandon()

	s.task = task
	s.cfg.Reconciler.Begin(task)
	s.forget(task.ID)

	if s.cfg.Stream == nil {
		return s.openPoll()
	}
	s.state = StateStreamAttempting
	if err := s.open(s.cfg.Stream); err != nil {
		s.logger.Warn("stream open failed, falling back to polling",
			zap.String("task_id", task.ID), zap.Error(err))
		metrics.ObserveDowngrade()
		return s.openPoll()
	}
	s.publish()
	return nil
}

func (s *Supervisor) openPoll() error {
	s.state = StatePollActive
	if err := s.open(s.cfg.Poll); err != nil {
		s.logger.Error("poll open failed, task abandoned", zap.String("task_id", s.task.ID), zap.Error(err))
		s.abandon()
		s.state = StateIdle
		s.publish()
		return fmt.Errorf("open poll channel: %w", err)
	}
	s.publish()
	return nil
}

func (s *Supervisor) open(factory importer.ChannelFactory) error {
	s.gen++
	retired := make(chan struct{})
	sink := channelSink{s: s, gen: s.gen, retired: retired}
	ch, err := factory.Open(s.cfg.BaseContext, s.task.ID, sink)
	if err != nil {
		close(retired)
		return err
	}
	s.active = ch
	s.retired = retired
	metrics.IncActiveChannels()
	s.logger.Debug("channel opened",
		zap.String("task_id", s.task.ID),
		zap.String("channel", string(ch.Kind())),
		zap.Uint64("generation", s.gen),
	)
	return nil
}

func (s *Supervisor) onReport(report importer.Report) {
	metrics.ObserveReport(string(s.active.Kind()), string(report.Status))
	if s.state == StateStreamAttempting {
		s.state = StateStreamActive
		s.publish()
	}
	first := s.cfg.Reconciler.Apply(s.task.ID, report)
	if !first && !report.Terminal() {
		return
	}
	taskID := s.task.ID
	s.retire()
	s.resolve(taskID, StateFinalized)
	s.task = importer.Task{}
	s.state = StateFinalized
	s.publish()
	s.logger.Info("task finalized", zap.String("task_id", taskID), zap.String("status", string(report.Status)))
}

func (s *Supervisor) onTransportError(err error) {
	if !s.state.streaming() {
		s.logger.Debug("ignoring transport error outside streaming", zap.String("task_id", s.task.ID), zap.Error(err))
		return
	}
	s.logger.Warn("stream failed, falling back to polling", zap.String("task_id", s.task.ID), zap.Error(err))
	s.retire()
	metrics.ObserveDowngrade()
	// The poll channel's first pull re-queries authoritative state.
	if openErr := s.openPoll(); openErr != nil {
		s.logger.Error("downgrade failed", zap.Error(openErr))
	}
}

// retire closes the active channel. Its pending posts are released first so
// Close cannot deadlock against a sink blocked on the event queue.
func (s *Supervisor) retire() {
	if s.active == nil {
		return
	}
	close(s.retired)
	s.active.Close()
	metrics.DecActiveChannels()
	s.logger.Debug("channel closed",
		zap.String("task_id", s.task.ID),
		zap.String("channel", string(s.active.Kind())),
		zap.Uint64("generation", s.gen),
	)
	s.active = nil
	s.retired = nil
}

// abandon resolves the tracked task, if any, as given up.
func (s *Supervisor) abandon() {
	if s.task.ID == "" {
		return
	}
	s.resolve(s.task.ID, StateIdle)
	s.task = importer.Task{}
}

func (s *Supervisor) resolve(taskID string, st State) {
	s.mu.Lock()
	if _, seen := s.resolved[taskID]; !seen {
		s.resolvedOrder = append(s.resolvedOrder, taskID)
	}
	s.resolved[taskID] = st
	for len(s.resolvedOrder) > historySize {
		delete(s.resolved, s.resolvedOrder[0])
		s.resolvedOrder = s.resolvedOrder[1:]
	}
	s.mu.Unlock()
	for _, w := range s.waiters[taskID] {
		w <- st
	}
	delete(s.waiters, taskID)
}

// forget drops a resolution so a re-tracked task is awaited afresh.
func (s *Supervisor) forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolved[taskID]; !ok {
		return
	}
	delete(s.resolved, taskID)
	s.resolvedOrder = slices.DeleteFunc(s.resolvedOrder, func(id string) bool { return id == taskID })
}

func (s *Supervisor) await(taskID string, reply chan State) {
	if taskID != "" && taskID == s.task.ID {
		s.waiters[taskID] = append(s.waiters[taskID], reply)
		return
	}
	st, _ := s.resolvedState(taskID)
	reply <- st
}

func (s *Supervisor) resolvedState(taskID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.resolved[taskID]
	return st, ok
}

func (s *Supervisor) publish() {
	snap := Snapshot{State: s.state, TaskID: s.task.ID, Generation: s.gen}
	if s.active != nil {
		snap.Channel = s.active.Kind()
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// channelSink tags events with the generation of the channel that produced
// them.
type channelSink struct {
	s       *Supervisor
	gen     uint64
	retired <-chan struct{}
}

func (c channelSink) OnReport(report importer.Report) {
	c.post(event{kind: evReport, gen: c.gen, report: report})
}

func (c channelSink) OnTransportError(err error) {
	c.post(event{kind: evTransportError, gen: c.gen, err: err})
}

func (c channelSink) post(ev event) {
	select {
	case c.s.events <- ev:
	case <-c.retired:
	case <-c.s.stopCh:
	}
}
