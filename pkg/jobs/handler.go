// Package jobs runs text-to-image jobs from raw input to a priced result.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ditto-assistant/txt2img/pkg/cost"
	"github.com/ditto-assistant/txt2img/pkg/db"
	"github.com/ditto-assistant/txt2img/pkg/genreq"
	"github.com/ditto-assistant/txt2img/pkg/imgenc"
	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/rq"
	"github.com/ditto-assistant/txt2img/types/ty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage is a step of the job state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageNormalizing Stage = "normalizing"
	StageGenerating  Stage = "generating"
	StageEncoding    Stage = "encoding"
	StageUploading   Stage = "uploading"
	StageCosting     Stage = "costing"
	StageResponding  Stage = "responding"
)

// OutputMode selects how a generated image is returned.
type OutputMode string

const (
	OutputInline OutputMode = "inline"
	OutputUpload OutputMode = "upload"
)

func ParseOutputMode(s string) (OutputMode, error) {
	switch m := OutputMode(s); m {
	case OutputInline, OutputUpload:
		return m, nil
	case "":
		return OutputUpload, nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

// Oracle turns a request into pixels.
type Oracle interface {
	Generate(ctx context.Context, req genreq.Request) ([]image.Image, error)
}

// Store persists an encoded image and returns a URL for it.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// RecordFunc persists a receipt for a finished job.
type RecordFunc func(ctx context.Context, r *db.Receipt) error

type Config struct {
	Normalizer *genreq.Normalizer
	Oracle     Oracle
	Cost       cost.Calculator
	Output     OutputMode
	// Store and Namer are required for OutputUpload.
	Store Store
	Namer *imgenc.Namer
	// Record is optional. When set, receipts are written through Shutdown
	// after the result is returned.
	Record   RecordFunc
	Shutdown ty.ShutdownContext
	Tracer   trace.Tracer
}

type Handler struct {
	norm     *genreq.Normalizer
	oracle   Oracle
	store    Store
	namer    *imgenc.Namer
	calc     cost.Calculator
	output   OutputMode
	record   RecordFunc
	shutdown ty.ShutdownContext
	tracer   trace.Tracer
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Normalizer == nil {
		return nil, errors.New("jobs: normalizer is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("jobs: oracle is required")
	}
	if cfg.Cost == nil {
		return nil, errors.New("jobs: cost calculator is required")
	}
	if cfg.Output == "" {
		cfg.Output = OutputUpload
	}
	switch cfg.Output {
	case OutputUpload:
		if cfg.Store == nil {
			return nil, errors.New("jobs: upload output requires a store")
		}
		if cfg.Namer == nil {
			cfg.Namer = imgenc.NewNamer(imgenc.DefaultKeyPrefix)
		}
	case OutputInline:
	default:
		return nil, fmt.Errorf("jobs: unknown output mode %q", cfg.Output)
	}
	if cfg.Record != nil && cfg.Shutdown.WaitGroup == nil {
		return nil, errors.New("jobs: recording receipts requires a shutdown context")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("txt2img-jobs")
	}
	return &Handler{
		norm:     cfg.Normalizer,
		oracle:   cfg.Oracle,
		store:    cfg.Store,
		namer:    cfg.Namer,
		calc:     cfg.Cost,
		output:   cfg.Output,
		record:   cfg.Record,
		shutdown: cfg.Shutdown,
		tracer:   cfg.Tracer,
	}, nil
}

// Handle runs one job. It calls the oracle at most once and the store at
// most once, and never retries. Failures carry a *Error.
func (h *Handler) Handle(ctx context.Context, job rq.Job) ty.Result[rp.Success] {
	ctx, span := h.tracer.Start(ctx, "txt2img_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.model", h.norm.Family().String()),
		attribute.String("job.output", string(h.output)),
	)
	slog := slog.With("jobID", job.ID, "model", h.norm.Family())
	start := time.Now()

	res, req := h.run(ctx, slog, span, job)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(KindOf(res.Err)))
		var je *Error
		errors.As(res.Err, &je)
		slog.Error("job failed", "error", res.Err, "kind", je.Kind, "stage", je.Stage, "duration", time.Since(start))
		return res
	}
	slog.Info("job completed", "seed", res.Ok.Seed, "cost", res.Ok.Cost, "duration", time.Since(start))
	if h.record != nil {
		receipt := &db.Receipt{
			JobID:           job.ID,
			Model:           req.Model,
			Width:           req.Width,
			Height:          req.Height,
			NumImages:       req.NumImages,
			Seed:            req.Seed,
			Cost:            res.Ok.Cost,
			StorageKey:      res.Ok.Key,
			ContentType:     res.Ok.ContentType,
			DurationSeconds: time.Since(start).Seconds(),
		}
		h.shutdown.Run(func(ctx context.Context) {
			if err := h.record(ctx, receipt); err != nil {
				slog.Error("failed to record receipt", "error", err)
				return
			}
			slog.Debug("receipt recorded", "receiptID", receipt.ID)
		})
	}
	return res
}

func (h *Handler) run(ctx context.Context, slog *slog.Logger, span trace.Span, job rq.Job) (ty.Result[rp.Success], genreq.Request) {
	enter := func(s Stage) {
		span.AddEvent(string(s))
		slog.Debug("job stage", "stage", s)
	}
	enter(StageReceived)

	enter(StageNormalizing)
	raw, err := job.DecodeInput()
	if err != nil {
		return ty.Fail[rp.Success](fail(KindInvalidInput, StageNormalizing, err)), genreq.Request{}
	}
	req, err := h.norm.Normalize(raw)
	if err != nil {
		return ty.Fail[rp.Success](fail(KindInvalidInput, StageNormalizing, err)), req
	}
	span.SetAttributes(
		attribute.Int("job.width", req.Width),
		attribute.Int("job.height", req.Height),
		attribute.String("job.format", req.Format.Format.String()),
	)

	enter(StageGenerating)
	imgs, err := h.oracle.Generate(ctx, req)
	if err != nil {
		return ty.Fail[rp.Success](fail(KindGeneration, StageGenerating, err)), req
	}
	if len(imgs) == 0 || imgs[0] == nil {
		return ty.Fail[rp.Success](fail(KindGeneration, StageGenerating, errors.New("oracle returned no images"))), req
	}
	if len(imgs) > 1 {
		slog.Warn("oracle returned several images, keeping the first", "count", len(imgs))
	}

	enter(StageEncoding)
	var namer *imgenc.Namer
	if h.output == OutputUpload {
		namer = h.namer
	}
	asset, err := imgenc.Encode(imgs[0], req.Format, namer)
	if err != nil {
		return ty.Fail[rp.Success](fail(KindUpload, StageEncoding, err)), req
	}
	out := rp.Success{
		ContentType: asset.ContentType,
		Key:         asset.Key,
		Seed:        req.Seed,
	}
	switch h.output {
	case OutputUpload:
		enter(StageUploading)
		url, err := h.store.Upload(ctx, asset.Key, asset.ContentType, asset.Data)
		if err != nil {
			return ty.Fail[rp.Success](fail(KindUpload, StageUploading, err)), req
		}
		out.ImageURL = url
	case OutputInline:
		out.Image = asset.Base64()
		out.DataURL = asset.DataURL()
	}

	enter(StageCosting)
	q, err := h.calc.Quote(cost.Params{Width: req.Width, Height: req.Height, NumImages: req.NumImages})
	if err != nil {
		return ty.Fail[rp.Success](fail(KindConfiguration, StageCosting, err)), req
	}
	out.Cost = q.Cost

	enter(StageResponding)
	return ty.Ok(out), req
}
