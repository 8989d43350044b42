package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/gateway/quote"
	"marketplace-escrow/model"
)

type ctxKey string

const configContextKey ctxKey = "marketplace.config"

const (
	DefaultShutdownTimeout        = "30s"
	DefaultSignatureMaxAge        = "2m"
	DefaultQuoteTimeout           = "10s"
	DefaultFaucetLimit     uint64 = 10_000_000_000 // 10 SOL
	DefaultBackendBaseURL         = "https://hackathon-backend-982651832089.europe-west1.run.app"
)

// WithContext stores the config on the context
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

// FromContext returns the config stored by WithContext, or nil
func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config *Config `yaml:"config,omitempty"`
}

type Config struct {
	BindAddr        string             `yaml:"bindAddr"        split_words:"true"`
	DatabasePath    string             `yaml:"databasePath"    split_words:"true"`
	ProgramID       string             `yaml:"programId"       envconfig:"PROGRAM_ID"`
	BackendBaseURL  string             `yaml:"backendBaseUrl"  envconfig:"BACKEND_BASE_URL"`
	QuoteAPIURL     string             `yaml:"quoteApiUrl"     envconfig:"QUOTE_API_URL"`
	QuoteTimeout    string             `yaml:"quoteTimeout"    split_words:"true"`
	SignatureMaxAge string             `yaml:"signatureMaxAge" split_words:"true"`
	ShutdownTimeout string             `yaml:"shutdownTimeout" split_words:"true"`
	CorsOrigins     []string           `yaml:"corsOrigins"     split_words:"true"`
	Fees            ledger.FeeSchedule `yaml:"fees"`
	FaucetLimit     uint64             `yaml:"faucetLimit"     split_words:"true"`
	Port            uint               `yaml:"port"            envconfig:"PORT"`
	FaucetEnabled   bool               `yaml:"faucetEnabled"   split_words:"true"`
	MetricsEnabled  bool               `yaml:"metricsEnabled"  split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		BindAddr:        "0.0.0.0",
		Port:            8080,
		DatabasePath:    ".marketplace",
		ProgramID:       program.DefaultProgramID,
		BackendBaseURL:  DefaultBackendBaseURL,
		QuoteAPIURL:     quote.DefaultBaseURL,
		QuoteTimeout:    DefaultQuoteTimeout,
		SignatureMaxAge: DefaultSignatureMaxAge,
		ShutdownTimeout: DefaultShutdownTimeout,
		CorsOrigins:     []string{"*"},
		Fees:            ledger.DefaultFeeSchedule(),
		FaucetEnabled:   true,
		FaucetLimit:     DefaultFaucetLimit,
		MetricsEnabled:  true,
	}
}

// LoadConfig builds the config from defaults, then the YAML file, then the
// MARKETPLACE_* environment. Without an explicit path the user and system
// locations are tried in order
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".marketplace", "marketplace.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/marketplace/marketplace.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// トップレベルに "config:" セクションがあればその中身を使う
		var tempCfg tempConfig
		if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if tempCfg.Config != nil {
			buf, err = yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process("marketplace", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Port == 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if _, err := model.ParsePublicKey(c.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("invalid programId %q: %w", c.ProgramID, err))
	}
	for name, v := range map[string]string{
		"quoteTimeout":    c.QuoteTimeout,
		"signatureMaxAge": c.SignatureMaxAge,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("invalid %s %q: negative", name, v))
		}
	}
	for name, v := range map[string]string{
		"backendBaseUrl": c.BackendBaseURL,
		"quoteApiUrl":    c.QuoteAPIURL,
	} {
		if v == "" {
			// 空なら機能を無効にする
			continue
		}
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, v))
		}
	}
	if c.FaucetEnabled && c.FaucetLimit == 0 {
		errs = append(errs, errors.New("faucetLimit must be positive when the faucet is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

func (c *Config) ProgramPublicKey() model.PublicKey {
	pk, err := model.ParsePublicKey(c.ProgramID)
	if err != nil {
		return model.MustParsePublicKey(program.DefaultProgramID)
	}
	return pk
}

// 以下は Validate 済みであることが前提

func (c *Config) SignatureMaxAgeDuration() time.Duration {
	d, _ := time.ParseDuration(c.SignatureMaxAge)
	return d
}

func (c *Config) QuoteTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.QuoteTimeout)
	return d
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// EffectiveFaucetLimit はレジャーに渡す上限。0 はフォーセット無効
func (c *Config) EffectiveFaucetLimit() uint64 {
	if !c.FaucetEnabled {
		return 0
	}
	return c.FaucetLimit
}
