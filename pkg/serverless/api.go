package serverless

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ditto-assistant/txt2img/pkg/jobs"
	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
	"github.com/ditto-assistant/txt2img/types/ty"
	"github.com/google/uuid"
)

// Presigner issues download URLs for stored images.
type Presigner interface {
	PresignURL(ctx context.Context, key string) (string, error)
}

// API serves the platform's job endpoints locally. It is meant for
// development and keeps job state in memory.
type API struct {
	handler   JobHandler
	presigner Presigner
	sd        ty.ShutdownContext
	client    *http.Client

	// status holds /run jobs until their completed status is read once.
	mu     sync.Mutex
	status map[string]rp.JobStatus
}

// NewAPI returns a local API. presigner may be nil when images are returned inline.
func NewAPI(sd ty.ShutdownContext, h JobHandler, presigner Presigner) *API {
	return &API{
		handler:   h,
		presigner: presigner,
		sd:        sd,
		client:    http.DefaultClient,
		status:    make(map[string]rp.JobStatus),
	}
}

func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.Health)
	mux.HandleFunc("POST /runsync", a.RunSync)
	mux.HandleFunc("POST /run", a.Run)
	mux.HandleFunc("GET /status/{id}", a.Status)
	mux.HandleFunc("POST /v1/presign-url", a.PresignURL)
}

// Handler is the API with CORS applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Routes(mux)
	return NewCors().Handler(mux)
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeRun(w http.ResponseWriter, r *http.Request) (rq.Job, bool) {
	var bod rq.RunV1
	if err := json.NewDecoder(r.Body).Decode(&bod); err != nil {
		slog.Error("failed to decode request body", "error", err, "path", r.URL.Path)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return rq.Job{}, false
	}
	return bod.Job(uuid.NewString()), true
}

// RunSync runs a job and responds with its output.
func (a *API) RunSync(w http.ResponseWriter, r *http.Request) {
	job, ok := decodeRun(w, r)
	if !ok {
		return
	}
	out := jobs.Output(a.handler.Handle(r.Context(), job))
	writeJSON(w, http.StatusOK, rp.JobStatus{ID: job.ID, Status: rp.JobCompleted, Output: &out})
}

// Run queues a job and responds with its id. Poll Status for the output;
// a completed status can be read once.
func (a *API) Run(w http.ResponseWriter, r *http.Request) {
	job, ok := decodeRun(w, r)
	if !ok {
		return
	}
	st := rp.JobStatus{ID: job.ID, Status: rp.JobInQueue}
	a.setStatus(st)
	a.sd.WaitGroup.Add(1)
	go func() {
		defer a.sd.WaitGroup.Done()
		ctx := a.sd.Background
		a.setStatus(rp.JobStatus{ID: job.ID, Status: rp.JobInProgress})
		out := jobs.Output(a.handler.Handle(ctx, job))
		done := rp.JobStatus{ID: job.ID, Status: rp.JobCompleted, Output: &out}
		a.setStatus(done)
		if job.Webhook != "" {
			a.notify(ctx, job.Webhook, done)
		}
	}()
	writeJSON(w, http.StatusOK, st)
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a.mu.Lock()
	st, ok := a.status[id]
	if ok && st.Status == rp.JobCompleted {
		delete(a.status, id)
	}
	a.mu.Unlock()
	if !ok {
		http.Error(w, "job not found: "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) PresignURL(w http.ResponseWriter, r *http.Request) {
	if a.presigner == nil {
		http.Error(w, "no image storage configured", http.StatusNotFound)
		return
	}
	var bod rq.PresignedURLV1
	if err := json.NewDecoder(r.Body).Decode(&bod); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bod.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	url, err := a.presigner.PresignURL(r.Context(), bod.Key)
	if err != nil {
		slog.Error("failed to presign url", "error", err, "key", bod.Key)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rp.PresignedURLV1{URL: url})
}

func (a *API) setStatus(st rp.JobStatus) {
	a.mu.Lock()
	a.status[st.ID] = st
	a.mu.Unlock()
}

func (a *API) notify(ctx context.Context, webhook string, st rp.JobStatus) {
	body, err := json.Marshal(st)
	if err != nil {
		slog.Error("failed to encode webhook body", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", webhook, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to create webhook request", "error", err, "webhook", webhook)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		slog.Error("failed to call webhook", "error", err, "webhook", webhook)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("webhook rejected job status", "status", resp.StatusCode, "webhook", webhook)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
