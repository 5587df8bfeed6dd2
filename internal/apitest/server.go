package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Upload records one multipart upload received by the server.
type Upload struct {
	TaskID    string
	Filename  string
	Content   []byte
	RequestID string
}

// StreamScript controls GET /api/stream/{task_id} for one task.
type StreamScript struct {
	// Status, when non-zero, answers with this status instead of a stream.
	Status int
	// Events are raw data payloads, each sent as one SSE event.
	Events []string
	// Hold keeps the connection open after the last event until the client
	// disconnects; otherwise the server closes it.
	Hold bool
}

// PollResponse is one scripted answer for GET /api/progress/{task_id}.
type PollResponse struct {
	Status int
	Body   string
}

type progressScript struct {
	responses []PollResponse
	next      int
}

// Server is the fake backend. The zero value is not usable; call New.
type Server struct {
	// URL is the base URL of the running server.
	URL string

	srv      *httptest.Server
	shutdown chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	taskIDs      []string
	taskSeq      int
	uploadStatus int
	uploadDetail string
	uploads      []Upload
	streams      map[string]StreamScript
	streamHits   map[string]int
	openStreams  int
	progress     map[string]*progressScript
	pollHits     map[string][]time.Time

	products *productStore
	webhooks *webhookStore
}

// New starts a Server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		shutdown:   make(chan struct{}),
		streams:    make(map[string]StreamScript),
		streamHits: make(map[string]int),
		progress:   make(map[string]*progressScript),
		pollHits:   make(map[string][]time.Time),
		products:   newProductStore(),
		webhooks:   newWebhookStore(),
	}
	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close releases held streams and stops the server.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)
		r.Get("/stream/{task_id}", s.stream)
		r.Get("/progress/{task_id}", s.poll)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Post("/", s.createProduct)
			r.Delete("/bulk/all", s.deleteAllProducts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getProduct)
				r.Put("/", s.updateProduct)
				r.Delete("/", s.deleteProduct)
			})
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", s.listWebhooks)
			r.Post("/", s.createWebhook)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getWebhook)
				r.Put("/", s.updateWebhook)
				r.Delete("/", s.deleteWebhook)
				r.Post("/test", s.testWebhook)
			})
		})
	})
	return r
}

// QueueTaskIDs sets the IDs handed out by successive uploads. Once the queue
// drains the server generates "task-N".
func (s *Server) QueueTaskIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskIDs = append(s.taskIDs, ids...)
}

// FailUploads makes every upload answer status with detail.
func (s *Server) FailUploads(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadStatus = status
	s.uploadDetail = detail
}

// Uploads returns the uploads received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// ScriptStream sets the stream behaviour for taskID. Unscripted tasks answer
// 404.
func (s *Server) ScriptStream(taskID string, script StreamScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[taskID] = script
}

// ScriptProgress queues poll answers for taskID. The last answer repeats.
// Unscripted tasks answer 404.
func (s *Server) ScriptProgress(taskID string, responses ...PollResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[taskID] = &progressScript{responses: responses}
}

// StreamHits reports how many stream connections were made for taskID.
func (s *Server) StreamHits(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamHits[taskID]
}

// OpenStreams reports stream connections that are currently held open.
func (s *Server) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openStreams
}

// PollHits returns the arrival time of every poll for taskID.
func (s *Server) PollHits(taskID string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.pollHits[taskID]))
	copy(out, s.pollHits[taskID])
	return out
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status, detail := s.uploadStatus, s.uploadDetail
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, detail)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file field required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload")
		return
	}

	s.mu.Lock()
	var taskID string
	if len(s.taskIDs) > 0 {
		taskID = s.taskIDs[0]
		s.taskIDs = s.taskIDs[1:]
	} else {
		s.taskSeq++
		taskID = fmt.Sprintf("task-%d", s.taskSeq)
	}
	s.uploads = append(s.uploads, Upload{
		TaskID:    taskID,
		Filename:  header.Filename,
		Content:   content,
		RequestID: r.Header.Get("X-Request-ID"),
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"message": "File uploaded successfully. Import started.",
	})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	s.mu.Lock()
	s.streamHits[taskID]++
	script, ok := s.streams[taskID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found or expired")
		return
	}
	if script.Status != 0 {
		writeError(w, script.Status, "stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s.mu.Lock()
	s.openStreams++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.openStreams--
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for _, data := range script.Events {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	if !script.Hold {
		return
	}
	select {
	case <-r.Context().Done():
	case <-s.shutdown:
	}
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	s.mu.Lock()
	s.pollHits[taskID] = append(s.pollHits[taskID], time.Now())
	script, ok := s.progress[taskID]
	var resp PollResponse
	if ok && len(script.responses) > 0 {
		resp = script.responses[script.next]
		if script.next < len(script.responses)-1 {
			script.next++
		}
	}
	s.mu.Unlock()

	if !ok || len(script.responses) == 0 {
		writeError(w, http.StatusNotFound, "Task not found or expired")
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp.Body)
}

// JSON marshals v for use in scripts; it panics on unsupported values.
func JSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("apitest: marshal %T: %v", v, err))
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
