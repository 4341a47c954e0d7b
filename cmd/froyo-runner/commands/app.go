package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
	"github.com/openfroyo/reconcile-runner/pkg/config"
	"github.com/openfroyo/reconcile-runner/pkg/stores"
	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// app holds the per-invocation configuration and services.
type app struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.SQLiteStore
}

// newApp loads configuration, starts telemetry and, when configured, opens
// the run-history store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	cfg.Telemetry.ServiceVersion = buildVersion

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, tel: tel}

	if cfg.Store.Enabled() {
		store, err := openStore(ctx, cfg.Store.Path)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.store = store
	}

	return a, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate run history: %w", err)
	}
	return store, nil
}

// context attaches telemetry to ctx.
func (a *app) context(ctx context.Context) context.Context {
	return a.tel.WithContext(ctx)
}

// close flushes telemetry and closes the store. Errors are logged only.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run history")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

// jobID reads the controller job id from the environment. A malformed value
// is ignored with a warning.
func (a *app) jobID() *int {
	name := a.cfg.Output.JobIDEnv
	id, err := awx.ParseJobID(os.Getenv(name))
	if err != nil {
		log.Warn().Err(err).Str("env", name).Msg("Ignoring job id")
		return nil
	}
	return id
}

// envList renders an environment map as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
