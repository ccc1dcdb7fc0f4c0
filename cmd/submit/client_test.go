package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestSubmitPollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	cost, seed := 0.026112, uint64(42)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		var body rq.RunV1
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"prompt":"a cat"}`, string(body.Input))
		writeJSON(w, rp.JobStatus{ID: "job-1", Status: rp.JobInQueue})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1", r.PathValue("id"))
		if polls.Add(1) < 3 {
			writeJSON(w, rp.JobStatus{ID: "job-1", Status: rp.JobInProgress})
			return
		}
		writeJSON(w, rp.JobStatus{ID: "job-1", Status: rp.JobCompleted, Output: &rp.JobOutput{
			Status: rp.StatusSuccess, Image: "aGk=", ContentType: "image/png", Cost: &cost, Seed: &seed,
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var seen []string
	c := newClient(srv.URL+"/", time.Millisecond)
	st, err := c.submit(context.Background(), json.RawMessage(`{"prompt":"a cat"}`), false, func(s string) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{rp.JobInQueue, rp.JobInProgress, rp.JobCompleted}, seen)
	require.NotNil(t, st.Output)
	assert.True(t, st.Output.OK())
	assert.Equal(t, int32(3), polls.Load())

	data, err := c.image(context.Background(), st.Output)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestSubmitSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runsync", r.URL.Path)
		writeJSON(w, rp.JobStatus{ID: "job-2", Status: rp.JobCompleted, Output: &rp.JobOutput{
			Status: rp.StatusError, Message: "InvalidInput: bad", ErrorType: "InvalidInput",
		}})
	}))
	defer srv.Close()

	var seen []string
	st, err := newClient(srv.URL, 0).submit(context.Background(), json.RawMessage(`{"prompt":"x"}`), true, func(s string) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{rp.JobInProgress, rp.JobCompleted}, seen)
	assert.False(t, st.Output.OK())
	assert.Equal(t, "InvalidInput", st.Output.ErrorType)
}

func TestSubmitAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 0).submit(context.Background(), json.RawMessage(`{}`), false, func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid request body")
}

func TestImageDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gen-images/a.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("jpeg bytes"))
	}))
	defer srv.Close()

	c := newClient(srv.URL, 0)
	data, err := c.image(context.Background(), &rp.JobOutput{ImageURL: srv.URL + "/gen-images/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)

	_, err = c.image(context.Background(), &rp.JobOutput{ImageURL: srv.URL + "/missing"})
	assert.ErrorContains(t, err, "status 404")

	_, err = c.image(context.Background(), &rp.JobOutput{})
	assert.Error(t, err)
}

func TestBuildInput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"prompt":"from file","seed":7}`), 0o644))

	tests := []struct {
		name, raw, prompt, format string
		want                      string
		wantErr                   bool
	}{
		{name: "prompt only", prompt: "a cat", want: `{"prompt":"a cat"}`},
		{name: "raw json", raw: `{"prompt":"a dog","width":512}`, want: `{"prompt":"a dog","width":512}`},
		{name: "flags override", raw: `{"prompt":"a dog"}`, prompt: "a cat", format: "jpg", want: `{"prompt":"a cat","image_format":"jpg"}`},
		{name: "from file", raw: "@" + file, want: `{"prompt":"from file","seed":7}`},
		{name: "seed above 2^53", raw: `{"seed":9007199254740993}`, prompt: "a cat", want: `{"prompt":"a cat","seed":9007199254740993}`},
		{name: "max uint64 seed", raw: `{"seed":18446744073709551615}`, want: `{"seed":18446744073709551615}`},
		{name: "trailing data", raw: `{"prompt":"a"} {"prompt":"b"}`, wantErr: true},
		{name: "empty", wantErr: true},
		{name: "not an object", raw: `[1,2]`, wantErr: true},
		{name: "missing file", raw: "@/does/not/exist.json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildInput(tt.raw, tt.prompt, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestBuildInputKeepsSeedDigits(t *testing.T) {
	for _, seed := range []string{"9007199254740993", "18446744073709551615"} {
		got, err := buildInput(`{"seed":`+seed+`}`, "a cat", "")
		require.NoError(t, err)
		assert.Contains(t, string(got), `"seed":`+seed)
	}
}

func TestSaveImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	data := []byte{0x89, 'P', 'N', 'G'}
	filename, err := saveImage(dir, "a cat/on a mat?", "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_cat_on_a_mat_.png"), filename)
	got, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	long := strings.Repeat("猫", 60)
	filename, err = saveImage(dir, long, "image/png", data)
	require.NoError(t, err)
	base := filepath.Base(filename)
	assert.True(t, utf8.ValidString(base))
	assert.Equal(t, strings.Repeat("猫", 50)+".png", base)

	assert.Equal(t, ".jpg", extension("image/jpeg"))
	assert.Equal(t, ".bin", extension("application/octet-stream"))
}

func TestWaitModel(t *testing.T) {
	m := newWaitModel()
	next, _ := m.Update(statusMsg(rp.JobInProgress))
	m = next.(waitModel)
	assert.Contains(t, m.View(), rp.JobInProgress)

	st := rp.JobStatus{ID: "job-3", Status: rp.JobCompleted}
	next, cmd := m.Update(doneMsg{status: st})
	m = next.(waitModel)
	require.NotNil(t, m.done)
	assert.Equal(t, st, m.done.status)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}
