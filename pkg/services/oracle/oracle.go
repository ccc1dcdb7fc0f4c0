// Package oracle talks to the inference sidecar that runs the diffusion pipelines.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/ditto-assistant/txt2img/pkg/genreq"
	"github.com/ditto-assistant/txt2img/pkg/models"
)

// Client handles inference sidecar requests
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new sidecar client
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// ReqGenerate is the body of POST /generate.
type ReqGenerate struct {
	Model          models.Family `json:"model"`
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt"`
	Height         int           `json:"height"`
	Width          int           `json:"width"`
	// NumInferenceSteps is the number of denoising steps.
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	// Seed seeds the pipeline generator. The same seed and parameters
	// reproduce the same image on the same hardware.
	Seed      uint64 `json:"seed"`
	NumImages int    `json:"num_images"`

	// MaxSequenceLength caps the T5 prompt length.
	//
	//	- FLUX.1 [schnell] only
	MaxSequenceLength int `json:"max_sequence_length,omitempty"`

	// SDXL base/refiner parameters.
	//
	//	- Scheduler: one of PNDM, KLMS, DDIM, K_EULER, DPMSolverMultistep
	//	- ImageURL: refine this image instead of running the base pipeline
	Scheduler             string  `json:"scheduler,omitempty"`
	RefinerInferenceSteps int     `json:"refiner_inference_steps,omitempty"`
	Strength              float64 `json:"strength,omitempty"`
	HighNoiseFrac         float64 `json:"high_noise_frac,omitempty"`
	ImageURL              string  `json:"image_url,omitempty"`
}

func newReqGenerate(r genreq.Request) ReqGenerate {
	req := ReqGenerate{
		Model:             r.Model,
		Prompt:            r.Prompt,
		NegativePrompt:    r.NegativePrompt,
		Height:            r.Height,
		Width:             r.Width,
		NumInferenceSteps: r.NumInferenceSteps,
		GuidanceScale:     r.GuidanceScale,
		Seed:              r.Seed,
		NumImages:         r.NumImages,
		MaxSequenceLength: r.MaxSequenceLength,
	}
	if ref := r.Refiner; ref != nil {
		req.Scheduler = ref.Scheduler
		req.RefinerInferenceSteps = ref.InferenceSteps
		req.Strength = ref.Strength
		req.HighNoiseFrac = ref.HighNoiseFrac
		req.ImageURL = ref.ImageURL
	}
	return req
}

type rspGenerate struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// Load asks the sidecar to load the pipelines for model.
func (c *Client) Load(ctx context.Context, model models.Family) error {
	return c.post(ctx, "/load", map[string]models.Family{"model": model}, nil)
}

// Generate runs one generation and decodes the returned images.
func (c *Client) Generate(ctx context.Context, r genreq.Request) ([]image.Image, error) {
	var rsp rspGenerate
	if err := c.post(ctx, "/generate", newReqGenerate(r), &rsp); err != nil {
		return nil, err
	}
	if rsp.Error != "" {
		return nil, fmt.Errorf("inference error: %s", rsp.Error)
	}
	if len(rsp.Images) == 0 {
		return nil, errors.New("no images returned")
	}
	imgs := make([]image.Image, 0, len(rsp.Images))
	for i, b64 := range rsp.Images {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
