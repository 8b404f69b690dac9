package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/config"
	"github.com/eremconecta/portal/internal/data"
	"github.com/eremconecta/portal/internal/data/memory"
	"github.com/eremconecta/portal/internal/data/postgres"
	"github.com/eremconecta/portal/internal/data/postgrest"
	"github.com/eremconecta/portal/internal/secret"
)

const devJWTSecret = "default-dev-secret"

// loadAWS loads the SDK configuration for the configured region.
func loadAWS(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return awsCfg, nil
}

func newResolver(cfg config.Config, awsCfg aws.Config, logger *slog.Logger) secret.Resolver {
	if cfg.DevMode {
		logger.Info("using EnvResolver (DEV_MODE=true)")
		return secret.NewEnvResolver()
	}
	logger.Info("using SSMResolver (SSM Parameter Store)")
	return secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
}

type keys struct {
	anon      string
	jwtSecret []byte
}

// resolveKeys resolves the anon key and the JWT secret. The anon key is required outside
// dev mode; without a JWT secret the /me endpoint answers 503.
func resolveKeys(ctx context.Context, cfg config.Config, r secret.Resolver, logger *slog.Logger) (keys, error) {
	var k keys
	anon, err := secret.Resolve(ctx, r, cfg.AnonKey, cfg.AnonKeyParam)
	switch {
	case err == nil:
		k.anon = anon
	case cfg.DevMode:
		logger.Warn("anon key not resolved", "error", err)
	default:
		return keys{}, fmt.Errorf("resolve anon key: %w", err)
	}

	jwtSecret, err := r.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		logger.Warn("failed to resolve JWT secret", "param", cfg.JWTSecretParam, "error", err)
		if cfg.DevMode {
			jwtSecret = devJWTSecret
		}
	}
	k.jwtSecret = []byte(jwtSecret)
	return k, nil
}

// newDataStore picks the relational store: in-memory in dev mode, Postgres when a
// database URL is set, the REST endpoint otherwise. The returned func releases it.
func newDataStore(ctx context.Context, cfg config.Config, anonKey string, tokens oauth2.TokenSource, logger *slog.Logger) (data.Store, func(), error) {
	if cfg.DevMode && cfg.DatabaseURL == "" {
		logger.Info("using in-memory data store (DEV_MODE=true)")
		return NewDevStore(), func() {}, nil
	}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
	var opts []postgrest.Option
	if tokens != nil {
		opts = append(opts, postgrest.WithTokenSource(tokens))
	}
	client, err := postgrest.New(cfg.SupabaseURL, anonKey, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create data client: %w", err)
	}
	return client, func() {}, nil
}

// NewDevStore returns an in-memory store with the portal schema and a few schools.
func NewDevStore() *memory.Store {
	s := memory.New()
	s.DefineTable("escolas", "id", "nome", "endereco")
	s.DefineTable("turmas", "id", "nome", "ano", "escola_id")
	s.DefineTable("profiles", "id", "name", "user_type", "avatar_url", "deficiencia", "turma_id", "escola_id", "turno", "created_at")

	_ = s.Seed("escolas",
		map[string]any{"id": "erem-recife", "nome": "EREM Recife", "endereco": "Av. Conde da Boa Vista, 100"},
		map[string]any{"id": "erem-olinda", "nome": "EREM Olinda"},
	)
	_ = s.Seed("turmas",
		map[string]any{"id": "recife-1a", "nome": "1º Ano A", "ano": "2024", "escola_id": "erem-recife"},
		map[string]any{"id": "recife-3a", "nome": "3º Ano A", "ano": "2024", "escola_id": "erem-recife"},
		map[string]any{"id": "olinda-2b", "nome": "2º Ano B", "ano": "2024", "escola_id": "erem-olinda"},
	)
	return s
}
