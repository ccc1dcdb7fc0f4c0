// Package serverless connects the job handler to the RunPod worker protocol
// and serves a local API with the same job semantics for development.
package serverless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ditto-assistant/txt2img/pkg/jobs"
	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
	"github.com/ditto-assistant/txt2img/types/ty"
	"golang.org/x/sync/errgroup"
)

// ErrRefreshWorker stops the worker after a job asked for a fresh GPU.
var ErrRefreshWorker = errors.New("worker refresh requested")

// JobHandler runs a single job.
type JobHandler interface {
	Handle(ctx context.Context, job rq.Job) ty.Result[rp.Success]
}

type WorkerConfig struct {
	// GetJobURL and PostOutputURL may contain $ID, replaced by the pod id
	// and the job id respectively.
	GetJobURL     string
	PostOutputURL string
	PodID         string
	APIKey        string
	Concurrency   int
	PollInterval  time.Duration
	HTTPClient    *http.Client
}

// Worker pulls jobs from the platform and posts their outputs back.
type Worker struct {
	handler JobHandler
	cfg     WorkerConfig
	client  *http.Client
}

func NewWorker(h JobHandler, cfg WorkerConfig) (*Worker, error) {
	if h == nil {
		return nil, errors.New("serverless: job handler is required")
	}
	if cfg.GetJobURL == "" || cfg.PostOutputURL == "" {
		return nil, errors.New("serverless: job and output webhook URLs are required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Worker{handler: h, cfg: cfg, client: client}, nil
}

// Run polls for jobs until ctx is done or a job asks for a worker refresh.
// Jobs already taken run to completion and have their outputs posted even
// after ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "concurrency", w.cfg.Concurrency, "pod", w.cfg.PodID)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.Concurrency)
	for ctx.Err() == nil {
		group.Go(func() error {
			return w.poll(ctx)
		})
	}
	err := group.Wait()
	slog.Info("worker stopped", "error", err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// poll takes one job, if there is one, and processes it.
func (w *Worker) poll(ctx context.Context) error {
	job, err := w.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("failed to fetch job", "error", err)
	}
	if job == nil {
		sleep(ctx, w.cfg.PollInterval)
		return nil
	}
	return w.process(context.WithoutCancel(ctx), *job)
}

func (w *Worker) process(ctx context.Context, job rq.Job) error {
	out := jobs.Output(w.handler.Handle(ctx, job))
	if err := w.post(ctx, job.ID, out); err != nil {
		slog.Error("failed to post job output", "error", err, "jobID", job.ID)
	}
	if out.RefreshWorker {
		return fmt.Errorf("%w: job %s", ErrRefreshWorker, job.ID)
	}
	return nil
}

func (w *Worker) fetch(ctx context.Context) (*rq.Job, error) {
	url := strings.ReplaceAll(w.cfg.GetJobURL, "$ID", w.cfg.PodID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", w.cfg.APIKey)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("job fetch error (status %d): %s", resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var job rq.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.ID == "" {
		return nil, errors.New("job has no id")
	}
	slog.Debug("job received", "jobID", job.ID)
	return &job, nil
}

type outputEnvelope struct {
	Output rp.JobOutput `json:"output"`
}

func (w *Worker) post(ctx context.Context, jobID string, out rp.JobOutput) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(outputEnvelope{Output: out}); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	url := strings.ReplaceAll(w.cfg.PostOutputURL, "$ID", jobID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", w.cfg.APIKey)
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("output post error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
