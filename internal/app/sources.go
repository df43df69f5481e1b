package app

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ent0n29/docvoice/internal/config"
	"github.com/ent0n29/docvoice/internal/credentials"
	"github.com/ent0n29/docvoice/internal/docindex"
)

type sourceSetup struct {
	sources []docindex.Source
	cleanup func() error
}

// resolveSources always serves the documents directory and adds the
// Postgres table when DATABASE_URL is set.
func resolveSources(ctx context.Context, cfg config.Config) (sourceSetup, error) {
	setup := sourceSetup{cleanup: func() error { return nil }}
	if dir := strings.TrimSpace(cfg.DocumentsDir); dir != "" {
		setup.sources = append(setup.sources, docindex.NewDirSource(dir))
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := docindex.NewPostgresSource(ctx, cfg.DatabaseURL)
		if err != nil {
			return sourceSetup{}, fmt.Errorf("postgres document source init failed: %w", err)
		}
		setup.sources = append(setup.sources, pg)
		setup.cleanup = pg.Close
	}
	if len(setup.sources) == 0 {
		return sourceSetup{}, fmt.Errorf("no document source configured: set DOCUMENTS_DIR or DATABASE_URL")
	}
	return setup, nil
}

type credentialSetup struct {
	provider credentials.Provider
	detail   string
}

// resolveCredentials prefers Parameter Store, then OPENAI_API_KEY. With
// neither, get_config answers with a null key.
func resolveCredentials(ctx context.Context, cfg config.Config) (credentialSetup, error) {
	var setup credentialSetup
	switch {
	case cfg.CredentialSSMParam != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return credentialSetup{}, fmt.Errorf("aws config load failed: %w", err)
		}
		p, err := credentials.NewSSM(ssm.NewFromConfig(awsCfg), cfg.CredentialSSMParam)
		if err != nil {
			return credentialSetup{}, err
		}
		setup = credentialSetup{provider: p, detail: "ssm:" + cfg.CredentialSSMParam}
	case cfg.OpenAIAPIKey != "":
		setup = credentialSetup{provider: credentials.NewStatic(cfg.OpenAIAPIKey), detail: "env"}
	default:
		return credentialSetup{detail: "none"}, nil
	}

	// go-cache treats a zero TTL as "never expire", so zero disables caching.
	if cfg.CredentialCacheTTL > 0 {
		setup.provider = credentials.NewCached(setup.provider, cfg.CredentialCacheTTL)
		setup.detail += fmt.Sprintf(" (cached %s)", cfg.CredentialCacheTTL)
	}
	return setup, nil
}
