package envs

import (
	"bufio"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

//go:embed .env.*
var fs embed.FS

// Environment Variables
var (
	TXT2IMG_ENV Env
	PROJECT_ID  string
	LOG_LEVEL   string

	MODEL_FAMILY  string
	INFERENCE_URL string
	OUTPUT_MODE   string
	KEY_PREFIX    string

	COST_STRATEGY      string
	COST_PER_MEGAPIXEL string
	COST_PER_IMAGE     string

	STORAGE_BACKEND      string
	BUCKET_NAME          string
	BUCKET_ENDPOINT      string
	BUCKET_REGION        string
	BUCKET_ACCESS_KEY_ID string
	BUCKET_USE_SSL       bool
	PUBLIC_URL           string

	DB_URL string

	RUNPOD_WEBHOOK_GET_JOB     string
	RUNPOD_WEBHOOK_POST_OUTPUT string
	RUNPOD_POD_ID              string
	WORKER_CONCURRENCY         int
	POLL_INTERVAL              time.Duration
	LOCAL_API_ADDR             string
	SHUTDOWN_TIMEOUT           time.Duration
)

type Env string

const (
	EnvLocal   Env = "local"
	EnvStaging Env = "staging"
	EnvProd    Env = "prod"
)

func (e Env) String() string {
	return string(e)
}

type EnvFile string

func (e Env) EnvFile() EnvFile {
	return EnvFile(".env." + e.String())
}

// Load sets every variable in the file that is not already set in the
// process environment.
func (e EnvFile) Load() error {
	file, err := fs.Open(string(e))
	if err != nil {
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		os.Setenv(key, value)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

var didLoad = false

func Load() error {
	if didLoad {
		return nil
	}
	env, ok := os.LookupEnv("TXT2IMG_ENV")
	if !ok {
		slog.Info("TXT2IMG_ENV not set, using local")
		env = "local"
	}
	TXT2IMG_ENV = Env(env)
	switch TXT2IMG_ENV {
	case EnvLocal, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("env TXT2IMG_ENV: unknown environment %q", env)
	}
	eFile := TXT2IMG_ENV.EnvFile()
	slog.Info("Loading environment from file", "file", eFile)
	if err := eFile.Load(); err != nil {
		return err
	}

	PROJECT_ID = os.Getenv("PROJECT_ID")
	LOG_LEVEL = getDefault("LOG_LEVEL", "info")
	MODEL_FAMILY = os.Getenv("MODEL_FAMILY")
	if MODEL_FAMILY == "" {
		return fmt.Errorf("env MODEL_FAMILY not set")
	}
	INFERENCE_URL = os.Getenv("INFERENCE_URL")
	if INFERENCE_URL == "" {
		return fmt.Errorf("env INFERENCE_URL not set")
	}
	OUTPUT_MODE = getDefault("OUTPUT_MODE", "upload")
	KEY_PREFIX = getDefault("KEY_PREFIX", "gen-images")

	COST_STRATEGY = getDefault("COST_STRATEGY", "megapixel")
	COST_PER_MEGAPIXEL = os.Getenv("COST_PER_MEGAPIXEL")
	COST_PER_IMAGE = os.Getenv("COST_PER_IMAGE")

	STORAGE_BACKEND = getDefault("STORAGE_BACKEND", "s3")
	BUCKET_NAME = os.Getenv("BUCKET_NAME")
	BUCKET_ENDPOINT = os.Getenv("BUCKET_ENDPOINT")
	BUCKET_REGION = getDefault("BUCKET_REGION", "auto")
	BUCKET_ACCESS_KEY_ID = os.Getenv("BUCKET_ACCESS_KEY_ID")
	PUBLIC_URL = strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	DB_URL = os.Getenv("DB_URL")

	RUNPOD_WEBHOOK_GET_JOB = os.Getenv("RUNPOD_WEBHOOK_GET_JOB")
	RUNPOD_WEBHOOK_POST_OUTPUT = os.Getenv("RUNPOD_WEBHOOK_POST_OUTPUT")
	RUNPOD_POD_ID = os.Getenv("RUNPOD_POD_ID")
	LOCAL_API_ADDR = os.Getenv("LOCAL_API_ADDR")

	var err error
	if BUCKET_USE_SSL, err = parseDefault("BUCKET_USE_SSL", true, strconv.ParseBool); err != nil {
		return err
	}
	if WORKER_CONCURRENCY, err = parseDefault("WORKER_CONCURRENCY", 1, strconv.Atoi); err != nil {
		return err
	}
	if WORKER_CONCURRENCY < 1 {
		return fmt.Errorf("env WORKER_CONCURRENCY must be at least 1, got %d", WORKER_CONCURRENCY)
	}
	if POLL_INTERVAL, err = parseDefault("POLL_INTERVAL", time.Second, time.ParseDuration); err != nil {
		return err
	}
	if SHUTDOWN_TIMEOUT, err = parseDefault("SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration); err != nil {
		return err
	}
	didLoad = true
	slog.Debug("Loaded environment variables",
		"TXT2IMG_ENV", TXT2IMG_ENV,
		"MODEL_FAMILY", MODEL_FAMILY,
		"INFERENCE_URL", INFERENCE_URL,
		"OUTPUT_MODE", OUTPUT_MODE,
		"COST_STRATEGY", COST_STRATEGY,
		"STORAGE_BACKEND", STORAGE_BACKEND,
		"BUCKET_NAME", BUCKET_NAME,
		"WORKER_CONCURRENCY", WORKER_CONCURRENCY,
	)
	return nil
}

func getDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseDefault[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := parse(v)
	if err != nil {
		return def, fmt.Errorf("env %s: %w", key, err)
	}
	return parsed, nil
}

// Reset clears the loaded flag so Load reads the environment again.
func Reset() {
	didLoad = false
}
