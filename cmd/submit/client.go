package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
)

// client talks to a worker's local API.
type client struct {
	baseURL string
	http    *http.Client
	poll    time.Duration
}

func newClient(baseURL string, poll time.Duration) *client {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
		poll:    poll,
	}
}

// submit runs one job to completion. onStatus sees every status change,
// including the initial one.
func (c *client) submit(ctx context.Context, input json.RawMessage, sync bool, onStatus func(string)) (rp.JobStatus, error) {
	body, err := json.Marshal(rq.RunV1{Input: input})
	if err != nil {
		return rp.JobStatus{}, fmt.Errorf("error encoding request: %w", err)
	}
	var st rp.JobStatus
	if sync {
		onStatus(rp.JobInProgress)
		if err := c.call(ctx, "POST", "/runsync", body, &st); err != nil {
			return st, err
		}
		onStatus(st.Status)
		return st, nil
	}
	if err := c.call(ctx, "POST", "/run", body, &st); err != nil {
		return st, err
	}
	last := st.Status
	onStatus(last)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for st.Status != rp.JobCompleted {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
		id := st.ID
		st = rp.JobStatus{}
		if err := c.call(ctx, "GET", "/status/"+id, nil, &st); err != nil {
			return st, err
		}
		if st.Status != last {
			last = st.Status
			onStatus(last)
		}
	}
	return st, nil
}

func (c *client) call(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// image returns the generated image bytes, downloading them when the
// worker uploaded the image instead of inlining it.
func (c *client) image(ctx context.Context, out *rp.JobOutput) ([]byte, error) {
	if out.Image != "" {
		return base64.StdEncoding.DecodeString(out.Image)
	}
	if out.ImageURL == "" {
		return nil, fmt.Errorf("output has neither image nor image_url")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", out.ImageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error fetching image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// buildInput merges the --prompt and --format shortcuts into the raw input.
func buildInput(raw, prompt, format string) (json.RawMessage, error) {
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("error reading input file: %w", err)
		}
		raw = string(b)
	}
	input := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		// Numbers stay json.Number so large seeds are sent unchanged.
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&input); err != nil {
			return nil, fmt.Errorf("input must be a JSON object: %w", err)
		}
		if dec.More() {
			return nil, fmt.Errorf("input must be a single JSON object")
		}
	}
	if prompt != "" {
		input["prompt"] = prompt
	}
	if format != "" {
		input["image_format"] = format
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("nothing to generate: pass --prompt or --input")
	}
	return json.Marshal(input)
}

func saveImage(dir, name, contentType string, data []byte) (string, error) {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if r := []rune(sanitized); len(r) > 50 {
		sanitized = string(r[:50])
	}
	filename := sanitized + extension(contentType)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("error creating output folder: %w", err)
		}
		filename = filepath.Join(dir, filename)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("error saving image: %w", err)
	}
	return filename, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	return ".bin"
}
