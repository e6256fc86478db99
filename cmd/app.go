package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ink2md/internal/config"
	"ink2md/internal/conversion"
	"ink2md/internal/document"
	"ink2md/internal/progress"
	"ink2md/internal/prompt"
	"ink2md/internal/provider"
	"ink2md/internal/store"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	registry *provider.Registry
	prompts  *prompt.Resolver
	store    *store.SQLiteStore
	tracker  *progress.Tracker
	service  *conversion.Service
}

// newApp loads the configuration and wires every component.
func newApp(ctx context.Context, log zerolog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := prompt.NewResolver(cfg.PromptTemplatesFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	registry := newRegistry(ctx, cfg, log)
	tracker := progress.NewTracker(cfg.ProgressRetention)
	service := conversion.NewService(
		conversion.OptionsFromConfig(cfg),
		registry,
		resolver,
		st,
		tracker,
		document.NewFitzOpener(),
	)

	log.Debug().
		Str("vlm_provider", cfg.VLMProviderID).
		Str("formatting_provider", cfg.FormattingProviderID).
		Str("htr_provider", cfg.HTRProviderID).
		Msg("Conversion service ready")

	return &app{
		cfg:      cfg,
		registry: registry,
		prompts:  resolver,
		store:    st,
		tracker:  tracker,
		service:  service,
	}, nil
}

// Close waits for background work and closes the store.
func (a *app) Close() {
	a.service.Wait()
	a.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return st, nil
}

func newRegistry(ctx context.Context, cfg *config.Config, log zerolog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	registered := registry.LoadFromConfig(ctx, cfg.Providers)
	log.Debug().
		Int("configured", len(cfg.Providers)).
		Int("registered", registered).
		Msg("Providers loaded")
	return registry
}
