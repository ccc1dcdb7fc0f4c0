package serverless_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ditto-assistant/txt2img/pkg/jobs"
	"github.com/ditto-assistant/txt2img/pkg/serverless"
	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
	"github.com/ditto-assistant/txt2img/types/ty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, job rq.Job) ty.Result[rp.Success]

func (f handlerFunc) Handle(ctx context.Context, job rq.Job) ty.Result[rp.Success] {
	return f(ctx, job)
}

// echoHandler succeeds with the prompt as the image URL.
var echoHandler = handlerFunc(func(ctx context.Context, job rq.Job) ty.Result[rp.Success] {
	input, err := job.DecodeInput()
	if err != nil {
		return ty.Fail[rp.Success](&jobs.Error{Kind: jobs.KindInvalidInput, Err: err})
	}
	prompt, _ := input["prompt"].(string)
	return ty.Ok(rp.Success{ImageURL: "https://images.example.com/" + prompt, ContentType: "image/png", Cost: 0.026112, Seed: 42})
})

type posted struct {
	path, auth string
	output     rp.JobOutput
}

// fakeRunPod hands out queued jobs and records posted outputs.
type fakeRunPod struct {
	mu      sync.Mutex
	queue   []rq.Job
	outputs []posted
	takes   []string
	failGet int
}

func (f *fakeRunPod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/job-take/"):
		f.takes = append(f.takes, r.URL.Path)
		if f.failGet > 0 {
			f.failGet--
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		if len(f.queue) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		job := f.queue[0]
		f.queue = f.queue[1:]
		json.NewEncoder(w).Encode(job)
	case r.Method == "POST" && strings.HasPrefix(r.URL.Path, "/job-done/"):
		var body struct {
			Output rp.JobOutput `json:"output"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.outputs = append(f.outputs, posted{r.URL.Path, r.Header.Get("Authorization"), body.Output})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRunPod) posted() []posted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]posted(nil), f.outputs...)
}

func newWorker(t *testing.T, srv *httptest.Server, h serverless.JobHandler) *serverless.Worker {
	t.Helper()
	w, err := serverless.NewWorker(h, serverless.WorkerConfig{
		GetJobURL:     srv.URL + "/job-take/$ID",
		PostOutputURL: srv.URL + "/job-done/$ID",
		PodID:         "pod-1",
		APIKey:        "rp-key",
		Concurrency:   2,
		PollInterval:  5 * time.Millisecond,
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)
	return w
}

func job(id, input string) rq.Job {
	return rq.Job{ID: id, Input: json.RawMessage(input)}
}

func TestWorkerPostsOneOutputPerJob(t *testing.T) {
	fake := &fakeRunPod{queue: []rq.Job{
		job("a", `{"prompt":"cat"}`),
		job("b", `{"prompt":"dog"}`),
		job("c", `null`),
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	w := newWorker(t, srv, echoHandler)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fake.posted()) == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	byPath := map[string]rp.JobOutput{}
	for _, p := range fake.posted() {
		assert.Equal(t, "rp-key", p.auth)
		byPath[p.path] = p.output
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, "https://images.example.com/cat", byPath["/job-done/a"].ImageURL)
	assert.Equal(t, "https://images.example.com/dog", byPath["/job-done/b"].ImageURL)
	assert.Equal(t, rp.StatusError, byPath["/job-done/c"].Status)
	assert.Equal(t, "InvalidInput", byPath["/job-done/c"].ErrorType)
	for _, take := range fake.takes {
		assert.Equal(t, "/job-take/pod-1", take)
	}
}

func TestWorkerKeepsPollingAfterFetchErrors(t *testing.T) {
	fake := &fakeRunPod{failGet: 3, queue: []rq.Job{job("a", `{"prompt":"cat"}`)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go newWorker(t, srv, echoHandler).Run(ctx)
	require.Eventually(t, func() bool { return len(fake.posted()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerStopsOnRefresh(t *testing.T) {
	fake := &fakeRunPod{queue: []rq.Job{job("a", `{"prompt":"cat"}`)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	oom := handlerFunc(func(ctx context.Context, job rq.Job) ty.Result[rp.Success] {
		return ty.Fail[rp.Success](&jobs.Error{Kind: jobs.KindGeneration, Err: errors.New("CUDA out of memory")})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := newWorker(t, srv, oom).Run(ctx)
	assert.ErrorIs(t, err, serverless.ErrRefreshWorker)

	out := fake.posted()
	require.Len(t, out, 1)
	assert.True(t, out[0].output.RefreshWorker)
	assert.Equal(t, "GenerationError", out[0].output.ErrorType)
}

func TestNewWorkerValidation(t *testing.T) {
	_, err := serverless.NewWorker(nil, serverless.WorkerConfig{GetJobURL: "x", PostOutputURL: "y"})
	assert.Error(t, err)
	_, err = serverless.NewWorker(echoHandler, serverless.WorkerConfig{GetJobURL: "x"})
	assert.Error(t, err)
}

type fakePresigner struct{}

func (fakePresigner) PresignURL(ctx context.Context, key string) (string, error) {
	if key == "missing.png" {
		return "", errors.New("no such key")
	}
	return "https://signed.example.com/" + key + "?sig=1", nil
}

func newAPI(t *testing.T, h serverless.JobHandler, p serverless.Presigner) *httptest.Server {
	t.Helper()
	sd := ty.NewShutdownContext(context.Background(), time.Second)
	srv := httptest.NewServer(serverless.NewAPI(sd, h, p).Handler())
	t.Cleanup(func() {
		sd.Wait()
		srv.Close()
	})
	return srv
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func getStatus(t *testing.T, url string) (rp.JobStatus, int) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var st rp.JobStatus
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	}
	return st, resp.StatusCode
}

func TestRunSync(t *testing.T) {
	srv := newAPI(t, echoHandler, nil)
	var st rp.JobStatus
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/runsync", `{"input":{"prompt":"cat"}}`, &st))
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, rp.JobCompleted, st.Status)
	require.NotNil(t, st.Output)
	assert.Equal(t, "Image generated successfully", st.Output.Message)
	assert.Equal(t, "https://images.example.com/cat", st.Output.ImageURL)
	require.NotNil(t, st.Output.Seed)
	assert.Equal(t, uint64(42), *st.Output.Seed)

	_, code := getStatus(t, srv.URL+"/status/"+st.ID)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunThenStatus(t *testing.T) {
	release := make(chan struct{})
	slow := handlerFunc(func(ctx context.Context, job rq.Job) ty.Result[rp.Success] {
		<-release
		return echoHandler(ctx, job)
	})
	srv := newAPI(t, slow, nil)

	var st rp.JobStatus
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/run", `{"id":"mine","input":{"prompt":"dog"}}`, &st))
	assert.Equal(t, "mine", st.ID)
	assert.Equal(t, rp.JobInQueue, st.Status)

	pending, code := getStatus(t, srv.URL+"/status/mine")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, pending.Output)
	close(release)

	var done rp.JobStatus
	require.Eventually(t, func() bool {
		done, _ = getStatus(t, srv.URL+"/status/mine")
		return done.Status == rp.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, done.Output)
	assert.Equal(t, "https://images.example.com/dog", done.Output.ImageURL)

	// Completed jobs are dropped once read.
	_, code = getStatus(t, srv.URL+"/status/mine")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunWebhook(t *testing.T) {
	got := make(chan rp.JobStatus, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var st rp.JobStatus
		json.NewDecoder(r.Body).Decode(&st)
		got <- st
	}))
	defer hook.Close()
	srv := newAPI(t, echoHandler, nil)

	body := `{"input":{"prompt":"owl"},"webhook":"` + hook.URL + `"}`
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/run", body, nil))
	select {
	case st := <-got:
		assert.Equal(t, rp.JobCompleted, st.Status)
		assert.Equal(t, "https://images.example.com/owl", st.Output.ImageURL)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestStatusNotFound(t *testing.T) {
	srv := newAPI(t, echoHandler, nil)
	_, code := getStatus(t, srv.URL+"/status/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBadRunBody(t *testing.T) {
	srv := newAPI(t, echoHandler, nil)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/runsync", `{"input":`, nil))
}

func TestPresignURL(t *testing.T) {
	srv := newAPI(t, echoHandler, fakePresigner{})
	var got rp.PresignedURLV1
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/v1/presign-url", `{"key":"gen-images/a.png"}`, &got))
	assert.Equal(t, "https://signed.example.com/gen-images/a.png?sig=1", got.URL)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/v1/presign-url", `{}`, nil))
	assert.Equal(t, http.StatusInternalServerError, postJSON(t, srv.URL+"/v1/presign-url", `{"key":"missing.png"}`, nil))

	inline := newAPI(t, echoHandler, nil)
	assert.Equal(t, http.StatusNotFound, postJSON(t, inline.URL+"/v1/presign-url", `{"key":"a.png"}`, nil))
}

func TestHealthAndCors(t *testing.T) {
	srv := newAPI(t, echoHandler, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest("OPTIONS", srv.URL+"/runsync", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
