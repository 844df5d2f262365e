package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "LEADSYNC"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "leadsync.db"
	defaultLogLevel          = "info"
	defaultTimezone          = "Europe/Berlin"
	defaultQualification     = "Unqualified"
	defaultLeadSource        = "LeadRebel"
	defaultSalutationMr      = "Mr"
	defaultSalutationMrs     = "Mrs"
	defaultPhoneCountryCode  = "49"
	defaultHTTPTimeoutSecond = 30
)

// AppConfig captures runtime configuration for the sync service.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string

	// Remote API access.
	APIURL      string
	APIKey      string
	HTTPTimeout time.Duration

	// Destination defaults applied to newly created leads.
	LeadSource          string
	LeadOwner           string
	QualificationStatus string
	SalutationMr        string
	SalutationMrs       string

	// Normalization settings.
	DefaultPhoneCountryCode string
	Timezone                string

	// Optional allow-list of two-letter country codes. Empty disables
	// country filtering.
	Countries []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("api.timeout_seconds", defaultHTTPTimeoutSecond)
	configViper.SetDefault("lead.source", defaultLeadSource)
	configViper.SetDefault("lead.qualification_status", defaultQualification)
	configViper.SetDefault("lead.salutation_mr", defaultSalutationMr)
	configViper.SetDefault("lead.salutation_mrs", defaultSalutationMrs)
	configViper.SetDefault("phone.default_country_code", defaultPhoneCountryCode)
	configViper.SetDefault("timezone", defaultTimezone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		DatabasePath:            configViper.GetString("database.path"),
		LogLevel:                configViper.GetString("log.level"),
		SigningSecret:           configViper.GetString("auth.signing_secret"),
		APIURL:                  configViper.GetString("api.url"),
		APIKey:                  configViper.GetString("api.key"),
		HTTPTimeout:             time.Duration(configViper.GetInt("api.timeout_seconds")) * time.Second,
		LeadSource:              configViper.GetString("lead.source"),
		LeadOwner:               configViper.GetString("lead.owner"),
		QualificationStatus:     configViper.GetString("lead.qualification_status"),
		SalutationMr:            configViper.GetString("lead.salutation_mr"),
		SalutationMrs:           configViper.GetString("lead.salutation_mrs"),
		DefaultPhoneCountryCode: configViper.GetString("phone.default_country_code"),
		Timezone:                configViper.GetString("timezone"),
		Countries:               normalizeCountries(configViper.GetStringSlice("countries")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api.url is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api.key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone is invalid: %w", err)
	}
	for _, code := range c.Countries {
		if len(code) != 2 {
			return fmt.Errorf("countries entries must be two-letter codes, got %q", code)
		}
	}
	return nil
}

// Location resolves the configured timezone. Load validates the zone name,
// so resolution only falls back to UTC for a zero-value config.
func (c AppConfig) Location() *time.Location {
	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return location
}

func normalizeCountries(raw []string) []string {
	codes := make([]string, 0, len(raw))
	for _, entry := range raw {
		code := strings.ToUpper(strings.TrimSpace(entry))
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}
