package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Addr string `mapstructure:"addr"`
		TLS  struct {
			Enable    bool     `mapstructure:"enable"`
			CertFile  string   `mapstructure:"cert_file"`
			KeyFile   string   `mapstructure:"key_file"`
			Hostnames []string `mapstructure:"hostnames"`
		} `mapstructure:"tls"`
	} `mapstructure:"server"`
	Runtime struct {
		ID          string `mapstructure:"id"`
		DataplaneID string `mapstructure:"dataplane_id"`
	} `mapstructure:"runtime"`
	Store struct {
		Driver     string `mapstructure:"driver"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Lease struct {
		Duration    time.Duration `mapstructure:"duration"`
		GracePeriod time.Duration `mapstructure:"grace_period"`
		Owner       string        `mapstructure:"owner"`
	} `mapstructure:"lease"`
	ControlPlane struct {
		BaseURL       string        `mapstructure:"base_url"`
		ControlAPIURL string        `mapstructure:"control_api_url"`
		TokenURL      string        `mapstructure:"token_url"`
		ClientID      string        `mapstructure:"client_id"`
		ClientSecret  string        `mapstructure:"client_secret"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"controlplane"`
	Registration struct {
		Enabled              bool     `mapstructure:"enabled"`
		URL                  string   `mapstructure:"url"`
		AllowedSourceTypes   []string `mapstructure:"allowed_source_types"`
		AllowedTransferTypes []string `mapstructure:"allowed_transfer_types"`
		UnregisterOnShutdown bool     `mapstructure:"unregister_on_shutdown"`
	} `mapstructure:"registration"`
	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
	Auth struct {
		Issuer           string `mapstructure:"issuer"`
		Audience         string `mapstructure:"audience"`
		ParticipantClaim string `mapstructure:"participant_claim"`
		DevParticipant   string `mapstructure:"dev_participant"`
	} `mapstructure:"auth"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DatabaseURL builds the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls.enable", false)
	v.SetDefault("server.tls.cert_file", "certs/server.crt")
	v.SetDefault("server.tls.key_file", "certs/server.key")
	v.SetDefault("server.tls.hostnames", []string{"localhost"})
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.sqlite_path", "dataplane.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "dataplane")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("lease.duration", 60*time.Second)
	v.SetDefault("lease.grace_period", time.Duration(0))
	v.SetDefault("controlplane.timeout", 10*time.Second)
	v.SetDefault("nats.subject_prefix", "dataplane.dataflows")
	v.SetDefault("auth.participant_claim", "participant_id")
	v.SetDefault("auth.dev_participant", "dev-participant")
	v.SetDefault("log.level", "info")
}

// LoadConfig loads the configuration from a file and the environment.
// path may name a config file; when empty, config.yaml is searched in . and
// ./config. A missing file is not an error: defaults and DATAPLANE_*
// environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("DATAPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	config.ControlPlane.BaseURL = strings.TrimRight(strings.TrimSpace(config.ControlPlane.BaseURL), "/")
	config.ControlPlane.ControlAPIURL = strings.TrimRight(strings.TrimSpace(config.ControlPlane.ControlAPIURL), "/")
	if config.ControlPlane.ControlAPIURL == "" {
		config.ControlPlane.ControlAPIURL = config.ControlPlane.BaseURL
	}
	if config.Runtime.ID == "" {
		config.Runtime.ID = uuid.NewString()
	}
	if config.Runtime.DataplaneID == "" {
		config.Runtime.DataplaneID = config.Runtime.ID
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of memory, postgres, sqlite; got %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
	}
	if c.Lease.Duration <= 0 {
		errs = append(errs, errors.New("lease.duration must be positive"))
	}
	if c.Lease.GracePeriod < 0 {
		errs = append(errs, errors.New("lease.grace_period must not be negative"))
	}
	if c.ControlPlane.TokenURL != "" && c.ControlPlane.ClientID == "" {
		errs = append(errs, errors.New("controlplane.client_id is required with controlplane.token_url"))
	}
	if c.Registration.Enabled {
		if c.ControlPlane.ControlAPIURL == "" {
			errs = append(errs, errors.New("controlplane.control_api_url or controlplane.base_url is required for registration"))
		}
		if len(c.Registration.AllowedSourceTypes) == 0 {
			errs = append(errs, errors.New("registration.allowed_source_types must not be empty"))
		}
		if len(c.Registration.AllowedTransferTypes) == 0 {
			errs = append(errs, errors.New("registration.allowed_transfer_types must not be empty"))
		}
	}
	if !(c.IsDev() && c.DevModeBypass) && c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer is required unless dev_mode_bypass is enabled in DEV"))
	}
	return errors.Join(errs...)
}

// normalizeIssuer removes surrounding whitespace and any trailing slash so
// the value matches the iss claim the provider puts in tokens.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
