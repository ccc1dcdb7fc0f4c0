package secr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ditto-assistant/txt2img/cfg/envs"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/secretmanager/v1"
)

type SecretID string

// Secrets
var (
	BUCKET_SECRET_ACCESS_KEY SecretID
	RUNPOD_AI_API_KEY        SecretID
	TURSO_AUTH_TOKEN         SecretID
	LIBSQL_ENCRYPTION_KEY    SecretID
)

func (s SecretID) String() string { return string(s) }

func (secPtr *SecretID) fetch(
	ctx context.Context,
	group *errgroup.Group,
	sm *secretmanager.Service,
	secName string,
) {
	group.Go(func() error {
		var sb strings.Builder
		sb.WriteString("projects/")
		sb.WriteString(envs.PROJECT_ID)
		sb.WriteString("/secrets/")
		sb.WriteString(secName)
		sb.WriteString("/versions/latest")
		sid := sb.String()
		s, err := sm.Projects.Secrets.Versions.Access(sid).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get secret: %s: %w", sid, err)
		}
		decoded, err := base64.StdEncoding.DecodeString(s.Payload.Data)
		if err != nil {
			return fmt.Errorf("failed to decode secret: %s: %w", sid, err)
		}
		*secPtr = SecretID(decoded)
		slog.Debug("fetched secret", "id", sid)
		return nil
	})
}

func (secPtr *SecretID) lookup(name string) {
	*secPtr = SecretID(os.Getenv(name))
	if *secPtr == "" {
		slog.Debug("secret not set", "name", name)
	}
}

// Setup loads the environment and then the secrets. With PROJECT_ID set,
// secrets come from Secret Manager; otherwise they are read from the
// process environment under the same names.
func Setup(ctx context.Context) error {
	if err := envs.Load(); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	if envs.PROJECT_ID == "" {
		slog.Info("PROJECT_ID not set, reading secrets from the environment")
		FromEnv()
		return nil
	}
	sm, err := secretmanager.NewService(ctx)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	group, ctx := errgroup.WithContext(ctx)
	RUNPOD_AI_API_KEY.fetch(ctx, group, sm, "RUNPOD_AI_API_KEY")
	switch envs.TXT2IMG_ENV {
	case envs.EnvLocal:
		BUCKET_SECRET_ACCESS_KEY.fetch(ctx, group, sm, "LOCAL_BUCKET_SECRET_ACCESS_KEY")
	case envs.EnvStaging:
		BUCKET_SECRET_ACCESS_KEY.fetch(ctx, group, sm, "STAGING_BUCKET_SECRET_ACCESS_KEY")
		TURSO_AUTH_TOKEN.fetch(ctx, group, sm, "STAGING_TURSO_AUTH_TOKEN")
		LIBSQL_ENCRYPTION_KEY.fetch(ctx, group, sm, "LIBSQL_ENCRYPTION_KEY")
	case envs.EnvProd:
		BUCKET_SECRET_ACCESS_KEY.fetch(ctx, group, sm, "PROD_BUCKET_SECRET_ACCESS_KEY")
		TURSO_AUTH_TOKEN.fetch(ctx, group, sm, "PROD_TURSO_AUTH_TOKEN")
		LIBSQL_ENCRYPTION_KEY.fetch(ctx, group, sm, "LIBSQL_ENCRYPTION_KEY")
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return nil
}

// FromEnv reads every secret from the process environment.
func FromEnv() {
	BUCKET_SECRET_ACCESS_KEY.lookup("BUCKET_SECRET_ACCESS_KEY")
	RUNPOD_AI_API_KEY.lookup("RUNPOD_AI_API_KEY")
	TURSO_AUTH_TOKEN.lookup("TURSO_AUTH_TOKEN")
	LIBSQL_ENCRYPTION_KEY.lookup("LIBSQL_ENCRYPTION_KEY")
}
