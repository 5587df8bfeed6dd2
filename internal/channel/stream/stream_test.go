package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
	"github.com/JakeFAU/catalog-importer/internal/apitest"
	"github.com/JakeFAU/catalog-importer/internal/importer"
)

type recordingSink struct {
	mu      sync.Mutex
	reports []importer.Report
	errs    []error
}

func (s *recordingSink) OnReport(r importer.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *recordingSink) OnTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) snapshot() ([]importer.Report, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]importer.Report(nil), s.reports...), append([]error(nil), s.errs...)
}

func newFactory(srv *apitest.Server) *Factory {
	return NewFactory(apiclient.NewStreaming(apiclient.Config{BaseURL: srv.URL}), nil)
}

func openStream(t *testing.T, srv *apitest.Server, taskID string, sink importer.Sink) *Channel {
	t.Helper()
	ch, err := newFactory(srv).Open(context.Background(), taskID, sink)
	require.NoError(t, err)
	require.Equal(t, importer.ChannelStream, ch.Kind())
	t.Cleanup(ch.Close)
	return ch.(*Channel)
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamDeliversReportsAndStopsOnTerminal(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	srv.ScriptStream("t1", apitest.StreamScript{
		Events: []string{
			apitest.JSON(map[string]any{"status": "processing", "percentage": 40, "message": "Row 2/5"}),
			apitest.JSON(map[string]any{"status": "completed", "percentage": 100, "message": "Imported 5 products"}),
			apitest.JSON(map[string]any{"status": "completed", "percentage": 100}),
		},
		Hold: true,
	})

	sink := &recordingSink{}
	ch := openStream(t, srv, "t1", sink)
	waitDone(t, ch)

	reports, errs := sink.snapshot()
	require.Empty(t, errs)
	require.Len(t, reports, 2)
	require.Equal(t, importer.StatusProcessing, reports[0].Status)
	require.InDelta(t, 40, reports[0].Percentage, 0.001)
	require.Equal(t, importer.StatusCompleted, reports[1].Status)
	require.Equal(t, "Imported 5 products", reports[1].Message)

	require.Eventually(t, func() bool { return srv.OpenStreams() == 0 }, 5*time.Second, 10*time.Millisecond)
}

// rawStream serves body verbatim as the event stream of every task.
func rawStream(t *testing.T, body string) *Factory {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/stream/{task_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewFactory(apiclient.NewStreaming(apiclient.Config{BaseURL: srv.URL}), nil)
}

func TestStreamEventFraming(t *testing.T) {
	t.Parallel()

	body := ": connected\n\n" +
		"event: heartbeat\ndata: {\"status\":\"error\"}\n\n" +
		"id: 7\n\n" +
		"data: {\"status\":\"processing\",\r\ndata: \"percentage\":30,\"progress\":12.5}\r\n\r\n" +
		"event: message\ndata:{\"status\":\"completed\",\"message\":\"done\",\"total\":\"40\"}\n\n"

	sink := &recordingSink{}
	ch, err := rawStream(t, body).Open(context.Background(), "t5", sink)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	waitDone(t, ch.(*Channel))

	reports, errs := sink.snapshot()
	require.Empty(t, errs)
	require.Len(t, reports, 2)
	require.Equal(t, importer.StatusProcessing, reports[0].Status)
	require.InDelta(t, 30, reports[0].Percentage, 0.001)
	require.Equal(t, 12, reports[0].Progress)
	require.Equal(t, importer.StatusCompleted, reports[1].Status)
	require.Equal(t, "done", reports[1].Message)
	require.Equal(t, 40, reports[1].Total)
}

func TestStreamOversizedEventIsTransportError(t *testing.T) {
	t.Parallel()

	body := "data: " + strings.Repeat("x", maxEventSize+1) + "\n\n"
	sink := &recordingSink{}
	ch, err := rawStream(t, body).Open(context.Background(), "t6", sink)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	waitDone(t, ch.(*Channel))

	reports, errs := sink.snapshot()
	require.Empty(t, reports)
	require.Len(t, errs, 1)
	require.False(t, errors.Is(errs[0], ErrClosedBeforeTerminal))
}

func TestStreamTransportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		script      *apitest.StreamScript
		wantReports int
		wantErr     error
	}{
		{
			name:        "malformed payload",
			script:      &apitest.StreamScript{Events: []string{apitest.JSON(map[string]any{"status": "processing"}), "{not json"}, Hold: true},
			wantReports: 1,
		},
		{
			name:        "server close before terminal",
			script:      &apitest.StreamScript{Events: []string{apitest.JSON(map[string]any{"status": "queued"})}},
			wantReports: 1,
			wantErr:     ErrClosedBeforeTerminal,
		},
		{
			name:   "non-2xx",
			script: &apitest.StreamScript{Status: http.StatusServiceUnavailable},
		},
		{
			name: "unknown task",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := apitest.New(t)
			if tc.script != nil {
				srv.ScriptStream("t2", *tc.script)
			}
			sink := &recordingSink{}
			ch := openStream(t, srv, "t2", sink)
			waitDone(t, ch)

			reports, errs := sink.snapshot()
			require.Len(t, reports, tc.wantReports)
			require.Len(t, errs, 1)
			var transportErr *importer.TransportError
			require.ErrorAs(t, errs[0], &transportErr)
			require.Equal(t, importer.ChannelStream, transportErr.Channel)
			require.Equal(t, "t2", transportErr.TaskID)
			if tc.wantErr != nil {
				require.True(t, errors.Is(errs[0], tc.wantErr))
			}
		})
	}
}

func TestStreamCloseReleasesConnectionSilently(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	srv.ScriptStream("t3", apitest.StreamScript{
		Events: []string{apitest.JSON(map[string]any{"status": "processing", "percentage": 10})},
		Hold:   true,
	})

	sink := &recordingSink{}
	ch := openStream(t, srv, "t3", sink)
	require.Eventually(t, func() bool {
		reports, _ := sink.snapshot()
		return len(reports) == 1 && srv.OpenStreams() == 1
	}, 5*time.Second, 10*time.Millisecond)

	ch.Close()
	ch.Close()

	select {
	case <-ch.Done():
	default:
		t.Fatal("Close returned before the reader stopped")
	}
	require.Eventually(t, func() bool { return srv.OpenStreams() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, errs := sink.snapshot()
	require.Empty(t, errs)
}

func TestOpenRejectsEmptyTaskID(t *testing.T) {
	t.Parallel()

	srv := apitest.New(t)
	_, err := newFactory(srv).Open(context.Background(), "", &recordingSink{})
	require.Error(t, err)
}
