package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "ACCOUNTLEDGER"

	defaultDatabaseURL     = "sqlite:///tmp/accountledger.db"
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultShutdownTimeout = 5 * time.Second
	defaultLockKeyPrefix   = "accountledger:lock:account"
)

// Config aggregates runtime settings for the accountledger binary.
type Config struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Redis           RedisConfig   `mapstructure:"redis"`
	Policy          PolicyConfig  `mapstructure:"policy"`
}

// RedisConfig enables the cross-process account lock when Addr is set.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	LockKeyPrefix string        `mapstructure:"lock_key_prefix"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockWait      time.Duration `mapstructure:"lock_wait"`
}

// Enabled reports whether a Redis address is configured.
func (cfg RedisConfig) Enabled() bool {
	return strings.TrimSpace(cfg.Addr) != ""
}

// PolicyConfig is the file/env form of ledger.Policy.
type PolicyConfig struct {
	InviteCodeLength         int    `mapstructure:"invite_code_length"`
	InviteCodeMaxUsage       int    `mapstructure:"invite_code_max_usage"`
	BindCashbackEnabled      bool   `mapstructure:"bind_cashback_enabled"`
	InviterBindCashbackCents int64  `mapstructure:"inviter_bind_cashback_cents"`
	InviteeBindCashbackCents int64  `mapstructure:"invitee_bind_cashback_cents"`
	RechargeCashbackEnabled  bool   `mapstructure:"recharge_cashback_enabled"`
	RechargeCashbackPercent  string `mapstructure:"recharge_cashback_percent"`
	DefaultBalanceCents      int64  `mapstructure:"default_balance_cents"`
	DefaultBillingRate       int    `mapstructure:"default_billing_rate"`
	CycleCheck               string `mapstructure:"cycle_check"`
}

// Options controls where Load looks for settings.
type Options struct {
	ConfigFile string
	Flags      *pflag.FlagSet
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"database-url": "database_url",
	"listen-addr":  "listen_addr",
	"redis-addr":   "redis.addr",
}

// Load merges defaults, the optional TOML file, ACCOUNTLEDGER_* environment variables and flags.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if strings.TrimSpace(opts.ConfigFile) != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for flagName, key := range flagKeys {
			flag := opts.Flags.Lookup(flagName)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the configuration and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AllowedOrigins = normalizeStringSlice(cfg.AllowedOrigins)
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if cfg.Redis.Enabled() && (cfg.Redis.LockTTL <= 0 || cfg.Redis.LockWait <= 0) {
		return fmt.Errorf("redis lock ttl and wait must be positive")
	}
	if _, err := cfg.Policy.LedgerPolicy(); err != nil {
		return err
	}
	return nil
}

// LedgerPolicy converts the settings into a validated ledger.Policy.
func (policyConfig PolicyConfig) LedgerPolicy() (ledger.Policy, error) {
	percent, err := decimal.NewFromString(strings.TrimSpace(policyConfig.RechargeCashbackPercent))
	if err != nil {
		return ledger.Policy{}, fmt.Errorf("%w: recharge cashback percent %q", ledger.ErrInvalidServiceConfig, policyConfig.RechargeCashbackPercent)
	}
	policy := ledger.Policy{
		InviteCodeLength:         policyConfig.InviteCodeLength,
		InviteCodeMaxUsage:       policyConfig.InviteCodeMaxUsage,
		BindCashbackEnabled:      policyConfig.BindCashbackEnabled,
		InviterBindCashbackCents: ledger.AmountCents(policyConfig.InviterBindCashbackCents),
		InviteeBindCashbackCents: ledger.AmountCents(policyConfig.InviteeBindCashbackCents),
		RechargeCashbackEnabled:  policyConfig.RechargeCashbackEnabled,
		RechargeCashbackPercent:  percent,
		DefaultBalanceCents:      ledger.AmountCents(policyConfig.DefaultBalanceCents),
		DefaultBillingRate:       policyConfig.DefaultBillingRate,
		CycleCheck:               ledger.CycleCheck(strings.TrimSpace(policyConfig.CycleCheck)),
	}
	if err := policy.Validate(); err != nil {
		return ledger.Policy{}, err
	}
	return policy, nil
}

func setDefaults(v *viper.Viper) {
	defaults := ledger.DefaultPolicy()

	v.SetDefault("database_url", defaultDatabaseURL)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("allowed_origins", []string{defaultAllowedOrigin})
	v.SetDefault("shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key_prefix", defaultLockKeyPrefix)
	v.SetDefault("redis.lock_ttl", "10s")
	v.SetDefault("redis.lock_wait", "3s")

	v.SetDefault("policy.invite_code_length", defaults.InviteCodeLength)
	v.SetDefault("policy.invite_code_max_usage", defaults.InviteCodeMaxUsage)
	v.SetDefault("policy.bind_cashback_enabled", defaults.BindCashbackEnabled)
	v.SetDefault("policy.inviter_bind_cashback_cents", defaults.InviterBindCashbackCents.Int64())
	v.SetDefault("policy.invitee_bind_cashback_cents", defaults.InviteeBindCashbackCents.Int64())
	v.SetDefault("policy.recharge_cashback_enabled", defaults.RechargeCashbackEnabled)
	v.SetDefault("policy.recharge_cashback_percent", defaults.RechargeCashbackPercent.String())
	v.SetDefault("policy.default_balance_cents", defaults.DefaultBalanceCents.Int64())
	v.SetDefault("policy.default_billing_rate", defaults.DefaultBillingRate)
	v.SetDefault("policy.cycle_check", string(defaults.CycleCheck))
}

func normalizeStringSlice(values []string) []string {
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				normalized = append(normalized, trimmed)
			}
		}
	}
	return normalized
}
