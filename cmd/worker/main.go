package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ditto-assistant/txt2img/cfg/envs"
	"github.com/ditto-assistant/txt2img/cfg/secr"
	"github.com/ditto-assistant/txt2img/pkg/cost"
	"github.com/ditto-assistant/txt2img/pkg/db"
	"github.com/ditto-assistant/txt2img/pkg/genreq"
	"github.com/ditto-assistant/txt2img/pkg/imgenc"
	"github.com/ditto-assistant/txt2img/pkg/jobs"
	"github.com/ditto-assistant/txt2img/pkg/models"
	"github.com/ditto-assistant/txt2img/pkg/serverless"
	"github.com/ditto-assistant/txt2img/pkg/services/filestorage"
	"github.com/ditto-assistant/txt2img/pkg/services/oracle"
	"github.com/ditto-assistant/txt2img/types/ty"
)

var (
	local   = flag.Bool("local", false, "serve the local API instead of polling for jobs")
	addr    = flag.String("addr", "", "local API listen address (default LOCAL_API_ADDR or :8000)")
	warmup  = flag.Bool("warmup", true, "load the model before taking the first job")
	jsonLog = flag.Bool("json-log", false, "log as JSON (default outside the local environment)")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := secr.Setup(ctx); err != nil {
		log.Fatalf("failed to set up secrets: %v", err)
	}
	setupLogger()

	family, err := models.ParseFamily(envs.MODEL_FAMILY)
	if err != nil {
		log.Fatalf("MODEL_FAMILY: %v", err)
	}
	slog := slog.With("model", family, "env", envs.TXT2IMG_ENV)

	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	sd := ty.NewShutdownContext(bg, envs.SHUTDOWN_TIMEOUT)

	norm, err := genreq.New(family)
	if err != nil {
		log.Fatal(err)
	}
	calc, err := cost.FromConfig(envs.COST_STRATEGY, cost.Rates{
		PerMegapixel: envs.COST_PER_MEGAPIXEL,
		PerImage:     envs.COST_PER_IMAGE,
	})
	if err != nil {
		log.Fatal(err)
	}
	output, err := jobs.ParseOutputMode(envs.OUTPUT_MODE)
	if err != nil {
		log.Fatal(err)
	}
	lazy := oracle.NewLazy(oracle.NewClient(envs.INFERENCE_URL, oracle.HttpClient), family)

	cfg := jobs.Config{
		Normalizer: norm,
		Oracle:     lazy,
		Cost:       calc,
		Output:     output,
		Namer:      imgenc.NewNamer(envs.KEY_PREFIX),
		Shutdown:   sd,
	}
	var store filestorage.Store
	if envs.BUCKET_NAME != "" {
		store, err = filestorage.New(bg, envs.STORAGE_BACKEND, filestorage.ConfigFromEnv())
		if err != nil {
			log.Fatalf("failed to set up file storage: %v", err)
		}
		cfg.Store = store
	}

	var dbShutdown sync.WaitGroup
	switch err := db.Setup(bg, &dbShutdown, db.ModeFor(envs.DB_URL)); {
	case errors.Is(err, db.ErrNotConfigured):
		slog.Info("DB_URL not set, receipts disabled")
	case err != nil:
		log.Fatalf("failed to set up database: %v", err)
	default:
		cfg.Record = func(ctx context.Context, r *db.Receipt) error {
			return r.Insert(ctx, db.D)
		}
	}

	handler, err := jobs.NewHandler(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if *warmup {
		if err := lazy.Init(ctx); err != nil {
			// The first job retries the load.
			slog.Error("model warmup failed", "error", err)
		}
	}

	if *local || envs.RUNPOD_WEBHOOK_GET_JOB == "" {
		serveLocal(ctx, sd, handler, store)
	} else {
		runWorker(ctx, handler)
	}

	slog.Info("waiting for background work", "timeout", envs.SHUTDOWN_TIMEOUT)
	sd.Wait()
	cancelBg()
	dbShutdown.Wait()
}

func runWorker(ctx context.Context, handler *jobs.Handler) {
	w, err := serverless.NewWorker(handler, serverless.WorkerConfig{
		GetJobURL:     envs.RUNPOD_WEBHOOK_GET_JOB,
		PostOutputURL: envs.RUNPOD_WEBHOOK_POST_OUTPUT,
		PodID:         envs.RUNPOD_POD_ID,
		APIKey:        secr.RUNPOD_AI_API_KEY.String(),
		Concurrency:   envs.WORKER_CONCURRENCY,
		PollInterval:  envs.POLL_INTERVAL,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := w.Run(ctx); err != nil {
		slog.Error("worker exited", "error", err)
	}
}

func serveLocal(ctx context.Context, sd ty.ShutdownContext, handler *jobs.Handler, store filestorage.Store) {
	listen := *addr
	if listen == "" {
		listen = envs.LOCAL_API_ADDR
	}
	if listen == "" {
		listen = ":8000"
	}
	var presigner serverless.Presigner
	if store != nil {
		presigner = store
	}
	srv := &http.Server{
		Addr:    listen,
		Handler: serverless.NewAPI(sd, handler, presigner).Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("serving local API", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("local API stopped", "error", err)
	}
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envs.LOG_LEVEL)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if *jsonLog || envs.TXT2IMG_ENV != envs.EnvLocal {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
	slog.Debug("logger ready", "level", strings.ToLower(level.String()))
}
