package rq

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNoInput = errors.New("no input provided")

// Job is a unit of work delivered by the serverless platform.
type Job struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input,omitempty"`
	// Webhook, when set, receives the job output once it completes.
	Webhook string `json:"webhook,omitempty"`
}

// DecodeInput parses the job input into a field map. Numbers are kept as
// json.Number so integer fields survive without float rounding.
// A missing, null, empty or non-object input is ErrNoInput.
func (j *Job) DecodeInput() (map[string]any, error) {
	raw := bytes.TrimSpace(j.Input)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoInput
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: input must be a JSON object", ErrNoInput)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	if len(input) == 0 {
		return nil, ErrNoInput
	}
	return input, nil
}

// RunV1 is the body of the local API's /run and /runsync endpoints.
type RunV1 struct {
	ID      string          `json:"id,omitempty"`
	Input   json.RawMessage `json:"input"`
	Webhook string          `json:"webhook,omitempty"`
}

// Job converts the request into a job with the given id, keeping a caller-chosen id if present.
func (r RunV1) Job(id string) Job {
	if r.ID != "" {
		id = r.ID
	}
	return Job{ID: id, Input: r.Input, Webhook: r.Webhook}
}

// PresignedURLV1 asks for a fresh download URL for a stored image.
type PresignedURLV1 struct {
	Key string `json:"key"`
}
