package cli

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/cloudydaiyz/stringplay-core/internal/config"
	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/publish"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// ConfigEnvVar names the config file when --config is not given.
const ConfigEnvVar = "STRINGPLAY_CONFIG"

// app is the wired runtime shared by every command.
type app struct {
	cfg    *config.Config
	store  *store.Store
	ledger *quota.Ledger
	log    zerolog.Logger

	// engineOpts are appended last; tests use them to pin clocks and ids.
	engineOpts []engine.Option
}

// openApp loads config, configures logging and opens the store.
func openApp(opts *RootOptions) (*app, error) {
	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Log.Format})
	log := logging.Component("cli")

	log.Debug().Str("path", cfg.Database.Path).Msg("opening database")
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &app{
		cfg:        cfg,
		store:      st,
		ledger:     quota.NewLedger(st.DB()),
		log:        log,
		engineOpts: opts.EngineOptions,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("error closing database")
	}
}

// newEngine loads the source drive and builds the sync engine.
func (a *app) newEngine() (*engine.Engine, error) {
	fixture, err := source.LoadFixture(a.cfg.Source.Fixture)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load source drive", err)
	}
	drive := source.NewGuard(fixture, source.GuardConfig{
		Name:            "drive",
		RatePerSecond:   a.cfg.Source.RatePerSecond,
		Burst:           a.cfg.Source.Burst,
		BreakerFailures: a.cfg.Source.BreakerFailures,
		BreakerTimeout:  a.cfg.Source.BreakerTimeout,
	})

	opts := []engine.Option{
		engine.WithClock(model.SystemClock{}),
		engine.WithLeaseTTL(a.cfg.Sync.LeaseTTL),
		engine.WithPageSize(a.cfg.Sync.PageSize),
		engine.WithConcurrency(a.cfg.Sync.Concurrency),
		engine.WithDelegateConcurrency(a.cfg.Sync.DelegateConcurrency),
	}
	if a.cfg.Sync.Publish {
		opts = append(opts, engine.WithPublisher(publish.NewFileLog(a.cfg.Publish.Dir)))
	}
	opts = append(opts, a.engineOpts...)
	return engine.New(a.store, a.ledger, drive, opts...), nil
}
