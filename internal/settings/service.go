package settings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
	"github.com/raaihank/pii-anonymizer/internal/synth"
	"go.uber.org/zap"
)

// Repository persists configuration snapshots. LoadSettings returns
// (nil, nil) when nothing has been stored yet.
type Repository interface {
	LoadSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
}

// EntityUpdate changes one entity type. Nil fields keep their value; a
// non-nil Params replaces the whole parameter bag.
type EntityUpdate struct {
	EntityType string             `json:"entity_type"`
	Enabled    *bool              `json:"enabled,omitempty"`
	Strategy   *strategy.Strategy `json:"strategy,omitempty"`
	Params     strategy.Params    `json:"strategy_params,omitempty"`
}

// Update is a partial configuration change.
type Update struct {
	ConfidenceThreshold *float64       `json:"confidence_threshold,omitempty"`
	Language            *string        `json:"language,omitempty"`
	Locale              *string        `json:"locale,omitempty"`
	EntityTypes         []EntityUpdate `json:"entity_types,omitempty"`
}

// Service serves the current snapshot lock-free and serializes writers.
type Service struct {
	repo     Repository
	current  atomic.Pointer[Settings]
	mu       sync.Mutex
	logger   *zap.Logger
	watchers []func(*Settings)
}

// NewService loads the stored configuration, seeding it from defaults on
// first start.
func NewService(ctx context.Context, repo Repository, defaults *Settings, logger *zap.Logger) (*Service, error) {
	s := &Service{repo: repo, logger: logger}

	stored, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if stored == nil {
		if defaults == nil {
			defaults = Defaults()
		}
		if err := validate(defaults); err != nil {
			return nil, fmt.Errorf("invalid default settings: %w", err)
		}
		stored = defaults.Clone()
		stored.Version = 1
		stored.UpdatedAt = time.Now().UTC()
		if err := repo.SaveSettings(ctx, stored); err != nil {
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
		logger.Info("Seeded default anonymization settings",
			zap.Int("entity_types", len(stored.EntityTypes)),
			zap.String("locale", stored.Locale))
	}

	s.current.Store(stored)
	return s, nil
}

// Current returns the active snapshot. Callers must treat it as read-only.
func (s *Service) Current() *Settings {
	return s.current.Load()
}

// OnChange registers fn to run after every successful Apply.
func (s *Service) OnChange(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Apply validates u against the current snapshot, persists the result and
// swaps it in. In-flight calls keep the snapshot they started with.
func (s *Service) Apply(ctx context.Context, u Update) (*Settings, error) {
	const op = "settings.apply"

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()

	if u.ConfidenceThreshold != nil {
		next.ConfidenceThreshold = *u.ConfidenceThreshold
	}
	if u.Language != nil {
		next.Language = *u.Language
	}
	if u.Locale != nil {
		next.Locale = *u.Locale
	}

	seen := make(map[string]bool, len(u.EntityTypes))
	for _, eu := range u.EntityTypes {
		if !entityTypePattern.MatchString(eu.EntityType) {
			return nil, errs.Validation(op, "invalid entity type name %q", eu.EntityType)
		}
		if seen[eu.EntityType] {
			return nil, errs.Validation(op, "entity type %s listed more than once", eu.EntityType)
		}
		seen[eu.EntityType] = true

		ec := next.For(eu.EntityType)
		if eu.Enabled != nil {
			ec.Enabled = *eu.Enabled
		}
		if eu.Strategy != nil {
			if *eu.Strategy != ec.Strategy && eu.Params == nil {
				ec.Params = nil
			}
			ec.Strategy = *eu.Strategy
		}
		if eu.Params != nil {
			ec.Params = eu.Params.Clone()
		}
		next.EntityTypes[eu.EntityType] = ec
	}

	if err := validate(next); err != nil {
		return nil, errs.Validation(op, "%s", err.Error())
	}

	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveSettings(ctx, next); err != nil {
		return nil, err
	}
	s.current.Store(next)

	s.logger.Info("Anonymization settings updated",
		zap.Int64("version", next.Version),
		zap.Float64("confidence_threshold", next.ConfidenceThreshold),
		zap.String("locale", next.Locale),
		zap.Int("entity_types_changed", len(u.EntityTypes)))

	for _, fn := range s.watchers {
		fn(next)
	}
	return next, nil
}

func validate(s *Settings) error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1")
	}
	if !languagePattern.MatchString(s.Language) {
		return fmt.Errorf("language must be a two-letter lowercase code")
	}
	if !localePattern.MatchString(s.Locale) {
		return fmt.Errorf("locale must look like en_US")
	}
	if !synth.IsSupportedLocale(s.Locale) {
		return fmt.Errorf("unsupported locale %s", s.Locale)
	}
	for name, ec := range s.EntityTypes {
		if name != ec.EntityType {
			return fmt.Errorf("entity type %s stored under %s", ec.EntityType, name)
		}
		if err := strategy.Validate(ec.Strategy, ec.Params); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
