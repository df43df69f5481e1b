package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/config"
	"github.com/ent0n29/docvoice/internal/docindex"
	"github.com/ent0n29/docvoice/internal/httpapi"
	"github.com/ent0n29/docvoice/internal/observability"
	"github.com/ent0n29/docvoice/internal/relay"
	"github.com/ent0n29/docvoice/internal/session"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Relay       *relay.Relay
	Index       *docindex.Index
	Metrics     *observability.Metrics
	Credentials string

	// Cleanup should be called on shutdown to release external resources (DB pools, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	docs, err := resolveSources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, src := range docs.sources {
		logger.Info("document source", zap.String("source", src.Name()))
	}
	index := docindex.New(logger, metrics, docs.sources...)
	if err := index.Load(ctx); err != nil {
		logger.Warn("initial document load failed; will retry on first search", zap.Error(err))
	}

	creds, err := resolveCredentials(ctx, cfg)
	if err != nil {
		_ = docs.cleanup()
		return nil, err
	}
	logger.Info("credential provider", zap.String("provider", creds.detail))

	sessions := session.NewManager(cfg.SessionRetention)
	sessions.SetEndHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("ended").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	rel := relay.New(relay.Deps{
		Dialer: relay.NewWSDialer(relay.WSDialerConfig{
			BaseURL: cfg.RealtimeURL,
			Model:   cfg.RealtimeModel,
		}),
		Index:    index,
		Session:  relay.SessionConfigFromProfile(cfg.Profile),
		Sessions: sessions,
		Metrics:  metrics,
		Logger:   logger,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:    sessions,
		Relay:       rel,
		Index:       index,
		Credentials: creds.provider,
		Metrics:     metrics,
		Logger:      logger,
	})

	cleanup := func() error {
		var errs []string
		if err := docs.cleanup(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Relay:       rel,
		Index:       index,
		Metrics:     metrics,
		Credentials: creds.detail,
		Cleanup:     cleanup,
	}, nil
}
