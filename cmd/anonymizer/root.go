package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/cache"
	"github.com/raaihank/pii-anonymizer/internal/config"
	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
	"github.com/raaihank/pii-anonymizer/internal/logger"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/synth"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pii-anonymizer",
		Short:         "Consistent substitution PII anonymization service",
		Long:          "Detects PII in text and replaces each value with a realistic substitute that stays the same across requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newServeCmd(opts),
		newInitDBCmd(opts),
		newStatsCmd(opts),
		newExportMappingsCmd(opts),
		newResetMappingsCmd(opts),
		newHealthcheckCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled:    true,
			Path:       cfg.Logging.File.Path,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxAge:     cfg.Logging.File.MaxAge,
			MaxBackups: cfg.Logging.File.MaxBackups,
			Compress:   cfg.Logging.File.Compress,
		}
	}
	return lc
}

// pipeline holds every component behind the anonymize operation.
type pipeline struct {
	db         *store.DB
	cache      *cache.SpanCache
	detector   detect.Detector
	settings   *settings.Service
	mappings   *store.MappingStore
	audit      *store.AuditLog
	anonymizer *anonymizer.Anonymizer
}

func (p *pipeline) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
	p.db.Close()
}

func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	db, err := store.Open(ctx, cfg.Database, log.WithComponent("store").Logger)
	if err != nil {
		return nil, err
	}
	p := &pipeline{db: db}

	var detector detect.Detector = detect.NewPatternDetector(log.WithComponent("detector").Logger)
	if cfg.Cache.Enabled {
		spanCache, err := cache.NewSpanCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Span cache unavailable, detecting without it", zap.Error(err))
		} else {
			p.cache = spanCache
			detector = detect.NewCachingDetector(detector, spanCache, cfg.Anonymizer.FingerprintSecret, log.WithComponent("cache").Logger)
		}
	}
	p.detector = detector

	p.settings, err = settings.NewService(ctx, store.NewSettingsRepository(db), cfg.Anonymizer.Defaults.Settings(), log.WithComponent("settings").Logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to load anonymization settings: %w", err)
	}

	p.mappings = store.NewMappingStore(db, cfg.Anonymizer.SynthesisAttempts, log.WithComponent("mappings").Logger)
	p.audit = store.NewAuditLog(db)
	p.anonymizer = anonymizer.New(anonymizer.Deps{
		Detector:     p.detector,
		Mappings:     p.mappings,
		Synthesizer:  synth.New(),
		Fingerprints: fingerprint.New(cfg.Anonymizer.FingerprintSecret),
		Settings:     p.settings,
		Audit:        p.audit,
	}, cfg.Anonymizer.Limits(), log.WithComponent("anonymizer").Logger)

	return p, nil
}
