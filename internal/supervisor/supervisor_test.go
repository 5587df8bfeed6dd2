package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/reconcile"
)

type opLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeChannel struct {
	kind   importer.ChannelKind
	taskID string
	sink   importer.Sink
	log    *opLog

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (c *fakeChannel) Kind() importer.ChannelKind { return c.kind }

func (c *fakeChannel) Close() {
	c.once.Do(func() {
		close(c.stop)
		if c.done != nil {
			<-c.done
		}
		c.log.add("close %s %s", c.kind, c.taskID)
	})
}

type fakeFactory struct {
	kind    importer.ChannelKind
	log     *opLog
	openErr error
	// chatty channels post reports from their own goroutine until closed.
	chatty bool

	mu     sync.Mutex
	opened []*fakeChannel
}

func (f *fakeFactory) Open(_ context.Context, taskID string, sink importer.Sink) (importer.Channel, error) {
	if f.openErr != nil {
		f.log.add("open-failed %s %s", f.kind, taskID)
		return nil, f.openErr
	}
	ch := &fakeChannel{kind: f.kind, taskID: taskID, sink: sink, log: f.log, stop: make(chan struct{})}
	if f.chatty {
		ch.done = make(chan struct{})
		go func() {
			defer close(ch.done)
			for {
				select {
				case <-ch.stop:
					return
				default:
					sink.OnReport(importer.Report{Status: importer.StatusProcessing, Percentage: 1})
				}
			}
		}()
	}
	f.log.add("open %s %s", f.kind, taskID)
	f.mu.Lock()
	f.opened = append(f.opened, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeFactory) channels() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeChannel(nil), f.opened...)
}

func (f *fakeFactory) last(t *testing.T) *fakeChannel {
	t.Helper()
	chs := f.channels()
	require.NotEmpty(t, chs)
	return chs[len(chs)-1]
}

type notifications struct {
	mu   sync.Mutex
	sent []reconcile.Notification
}

func (n *notifications) Notify(note reconcile.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *notifications) all() []reconcile.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]reconcile.Notification(nil), n.sent...)
}

type harness struct {
	sup    *Supervisor
	rec    *reconcile.Reconciler
	notes  *notifications
	stream *fakeFactory
	poll   *fakeFactory
	log    *opLog
}

func newHarness(t *testing.T, mutate func(cfg *Config, stream, poll *fakeFactory)) *harness {
	t.Helper()
	log := &opLog{}
	stream := &fakeFactory{kind: importer.ChannelStream, log: log}
	poll := &fakeFactory{kind: importer.ChannelPoll, log: log}
	notes := &notifications{}
	rec := reconcile.New(reconcile.Config{Notifier: notes})
	cfg := Config{Stream: stream, Poll: poll, Reconciler: rec}
	if mutate != nil {
		mutate(&cfg, stream, poll)
	}
	sup, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, sup.Close(ctx))
	})
	return &harness{sup: sup, rec: rec, notes: notes, stream: stream, poll: poll, log: log}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sup.Snapshot().State == want },
		5*time.Second, 5*time.Millisecond, "want state %s, have %s", want, h.sup.Snapshot().State)
}

func (h *harness) await(t *testing.T, taskID string) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.sup.Await(ctx, taskID)
	require.NoError(t, err)
	return st
}

func task(id string) importer.Task {
	return importer.Task{ID: id, Kind: importer.TaskKindProductImport, Filename: id + ".csv"}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Reconciler: reconcile.New(reconcile.Config{})})
	require.Error(t, err)
	_, err = New(Config{Poll: &fakeFactory{}})
	require.Error(t, err)
}

func TestStreamDuplicateTerminalFinalizesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.sup.Track(ctx, task("t1")))

	snap := h.sup.Snapshot()
	require.Equal(t, StateStreamAttempting, snap.State)
	require.Equal(t, "t1", snap.TaskID)
	require.Equal(t, importer.ChannelStream, snap.Channel)

	sink := h.stream.last(t).sink
	sink.OnReport(importer.Report{Status: importer.StatusProcessing, Percentage: 40})
	h.waitState(t, StateStreamActive)
	sink.OnReport(importer.Report{Status: importer.StatusCompleted, Percentage: 100, Message: "5 rows"})
	sink.OnReport(importer.Report{Status: importer.StatusCompleted, Percentage: 100})

	require.Equal(t, StateFinalized, h.await(t, "t1"))
	snap = h.sup.Snapshot()
	require.Equal(t, StateFinalized, snap.State)
	require.Empty(t, snap.TaskID)
	require.Empty(t, snap.Channel)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	require.Equal(t, reconcile.LevelSuccess, notes[0].Level)
	require.Equal(t, "5 rows", notes[0].Message)
	require.InDelta(t, 100, h.rec.View().Percentage, 0.001)
	require.Equal(t, []string{"open stream t1", "close stream t1"}, h.log.snapshot())
	require.Empty(t, h.poll.channels())
}

func TestStreamErrorDowngradesToExactlyOnePoll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.sup.Track(context.Background(), task("t2")))

	streamSink := h.stream.last(t).sink
	streamSink.OnTransportError(&importer.TransportError{Channel: importer.ChannelStream, TaskID: "t2", Err: errors.New("connection reset")})
	h.waitState(t, StatePollActive)

	// Late events from the retired stream are dropped.
	streamSink.OnTransportError(errors.New("late"))
	streamSink.OnReport(importer.Report{Status: importer.StatusCompleted})

	pollSink := h.poll.last(t).sink
	pollSink.OnReport(importer.Report{Status: importer.StatusError, Message: "bad header"})
	require.Equal(t, StateFinalized, h.await(t, "t2"))

	require.Len(t, h.stream.channels(), 1, "stream is never reopened for the task")
	require.Len(t, h.poll.channels(), 1)
	require.Equal(t, []string{"open stream t2", "close stream t2", "open poll t2", "close poll t2"}, h.log.snapshot())

	notes := h.notes.all()
	require.Len(t, notes, 1)
	require.Equal(t, reconcile.LevelError, notes[0].Level)
	require.Equal(t, "bad header", notes[0].Message)

	outcome, ok := h.rec.Outcome("t2")
	require.True(t, ok)
	require.Equal(t, importer.StatusError, outcome.Status)
}

func TestTransportErrorWhilePollingIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.sup.Track(context.Background(), task("p")))
	h.stream.last(t).sink.OnTransportError(errors.New("drop"))
	h.waitState(t, StatePollActive)

	h.poll.last(t).sink.OnTransportError(errors.New("poll hiccup"))
	h.poll.last(t).sink.OnReport(importer.Report{Status: importer.StatusProcessing})
	require.Never(t, func() bool { return len(h.poll.channels()) > 1 || len(h.stream.channels()) > 1 },
		50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, StatePollActive, h.sup.Snapshot().State)
}

func TestTrackClosesPriorChannelBeforeOpening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.sup.Track(ctx, task("a")))
	h.stream.last(t).sink.OnTransportError(errors.New("drop"))
	h.waitState(t, StatePollActive)

	require.NoError(t, h.sup.Track(ctx, task("b")))
	require.Equal(t, []string{
		"open stream a",
		"close stream a",
		"open poll a",
		"close poll a",
		"open stream b",
	}, h.log.snapshot())

	require.Equal(t, StateIdle, h.await(t, "a"), "the prior task is abandoned")
	require.Equal(t, "b", h.sup.Snapshot().TaskID)
}

func TestStreamOpenFailureFallsBackToPoll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, stream, _ *fakeFactory) {
		stream.openErr = errors.New("no route")
	})
	require.NoError(t, h.sup.Track(context.Background(), task("f")))

	snap := h.sup.Snapshot()
	require.Equal(t, StatePollActive, snap.State)
	require.Equal(t, importer.ChannelPoll, snap.Channel)
	require.Equal(t, []string{"open-failed stream f", "open poll f"}, h.log.snapshot())
}

func TestStreamDisabledPollsDirectly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config, _, _ *fakeFactory) {
		cfg.Stream = nil
	})
	require.NoError(t, h.sup.Track(context.Background(), task("d")))
	require.Equal(t, StatePollActive, h.sup.Snapshot().State)
	require.Equal(t, []string{"open poll d"}, h.log.snapshot())
}

func TestPollOpenFailureAbandonsTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, stream, poll *fakeFactory) {
		stream.openErr = errors.New("no route")
		poll.openErr = errors.New("still no route")
	})
	err := h.sup.Track(context.Background(), task("x"))
	require.ErrorContains(t, err, "open poll channel")

	snap := h.sup.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Empty(t, snap.TaskID)
	require.Equal(t, StateIdle, h.await(t, "x"))
}

func TestResetAbandonsTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.sup.Track(ctx, task("r")))

	awaited := make(chan State, 1)
	go func() {
		st, _ := h.sup.Await(ctx, "r")
		awaited <- st
	}()
	require.NoError(t, h.sup.Reset(ctx))
	require.Equal(t, StateIdle, h.sup.Snapshot().State)
	require.Equal(t, []string{"open stream r", "close stream r"}, h.log.snapshot())

	select {
	case st := <-awaited:
		require.Equal(t, StateIdle, st)
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return after Reset")
	}
}

func TestAwaitUnknownTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.sup.Await(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestResolvedHistoryIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config, _, _ *fakeFactory) { cfg.Stream = nil })
	ctx := context.Background()
	for i := range historySize + 3 {
		require.NoError(t, h.sup.Track(ctx, task(fmt.Sprintf("h%d", i))))
	}
	require.NoError(t, h.sup.Reset(ctx))

	// The oldest abandoned tasks are forgotten; recent ones still resolve.
	_, err := h.sup.Await(ctx, "h0")
	require.ErrorIs(t, err, ErrUnknownTask)
	require.Equal(t, StateIdle, h.await(t, fmt.Sprintf("h%d", historySize+2)))

	h.sup.mu.RLock()
	defer h.sup.mu.RUnlock()
	require.Len(t, h.sup.resolved, historySize)
	require.Len(t, h.sup.resolvedOrder, historySize)
}

func TestRetrackedTaskIsAwaitedAfresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.sup.Track(ctx, task("again")))
	require.NoError(t, h.sup.Reset(ctx))
	require.Equal(t, StateIdle, h.await(t, "again"))

	require.NoError(t, h.sup.Track(ctx, task("again")))
	h.stream.last(t).sink.OnReport(importer.Report{Status: importer.StatusCompleted})
	require.Equal(t, StateFinalized, h.await(t, "again"))

	h.sup.mu.RLock()
	defer h.sup.mu.RUnlock()
	require.Equal(t, []string{"again"}, h.sup.resolvedOrder)
}

func TestAwaitHonoursContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.sup.Track(context.Background(), task("slow")))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.sup.Await(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseReleasesChannelAndRejectsCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.sup.Track(ctx, task("c")))

	require.NoError(t, h.sup.Close(ctx))
	require.NoError(t, h.sup.Close(ctx))
	require.Equal(t, []string{"open stream c", "close stream c"}, h.log.snapshot())

	require.ErrorIs(t, h.sup.Track(ctx, task("d")), ErrClosed)
	require.ErrorIs(t, h.sup.Reset(ctx), ErrClosed)
	_, err := h.sup.Await(ctx, "c")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRetiringBusyChannelDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config, stream, _ *fakeFactory) {
		cfg.EventBuffer = 1
		stream.chatty = true
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.sup.Track(ctx, task("busy-1")))
	require.NoError(t, h.sup.Track(ctx, task("busy-2")))
	require.NoError(t, h.sup.Reset(ctx))
	require.Equal(t, StateIdle, h.sup.Snapshot().State)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "stream_attempting", StateStreamAttempting.String())
	require.Equal(t, "stream_active", StateStreamActive.String())
	require.Equal(t, "poll_active", StatePollActive.String())
	require.Equal(t, "finalized", StateFinalized.String())
	require.Equal(t, "unknown", State(42).String())
}
