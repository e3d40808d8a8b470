// Package settings holds the runtime anonymization configuration: the
// confidence threshold, language, locale and per-entity-type strategies.
// Readers take an immutable snapshot; writers replace it wholesale.
package settings

import (
	"regexp"
	"sort"
	"time"

	"github.com/raaihank/pii-anonymizer/internal/strategy"
)

// EntityConfig is the configuration of a single entity type.
type EntityConfig struct {
	EntityType string            `json:"entity_type"`
	Enabled    bool              `json:"enabled"`
	Strategy   strategy.Strategy `json:"strategy"`
	Params     strategy.Params   `json:"strategy_params,omitempty"`
}

// Settings is an immutable configuration snapshot. Do not modify a value
// obtained from Service.Current; use Service.Apply.
type Settings struct {
	Version             int64
	ConfidenceThreshold float64
	Language            string
	Locale              string
	EntityTypes         map[string]EntityConfig
	UpdatedAt           time.Time
}

// For returns the configuration of entityType. Unconfigured types are
// enabled with the replace strategy.
func (s *Settings) For(entityType string) EntityConfig {
	if ec, ok := s.EntityTypes[entityType]; ok {
		return ec
	}
	return EntityConfig{EntityType: entityType, Enabled: true, Strategy: strategy.Replace}
}

// Entities returns the configured entity types ordered by name.
func (s *Settings) Entities() []EntityConfig {
	out := make([]EntityConfig, 0, len(s.EntityTypes))
	for _, ec := range s.EntityTypes {
		out = append(out, ec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	c := *s
	c.EntityTypes = make(map[string]EntityConfig, len(s.EntityTypes))
	for k, v := range s.EntityTypes {
		v.Params = v.Params.Clone()
		c.EntityTypes[k] = v
	}
	return &c
}

// DefaultEntityTypes are configured with replace on first start.
var DefaultEntityTypes = []string{
	"PERSON",
	"EMAIL_ADDRESS",
	"PHONE_NUMBER",
	"CREDIT_CARD",
	"US_SSN",
	"IP_ADDRESS",
	"LOCATION",
	"STREET_ADDRESS",
	"DATE_TIME",
	"GUID",
}

// Defaults returns the first-start configuration.
func Defaults() *Settings {
	s := &Settings{
		ConfidenceThreshold: 0.7,
		Language:            "en",
		Locale:              "en_US",
		EntityTypes:         make(map[string]EntityConfig, len(DefaultEntityTypes)),
	}
	for _, t := range DefaultEntityTypes {
		s.EntityTypes[t] = EntityConfig{EntityType: t, Enabled: true, Strategy: strategy.Replace}
	}
	return s
}

var (
	languagePattern   = regexp.MustCompile(`^[a-z]{2}$`)
	localePattern     = regexp.MustCompile(`^[a-z]{2}_[A-Z]{2}$`)
	entityTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)
)
