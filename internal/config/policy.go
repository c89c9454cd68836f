package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig holds operator-tunable queue and retry policy. It lives in a
// mounted warmline.yml so retries can be tuned without a redeploy.
type PolicyConfig struct {
	MaxRetries     int           `mapstructure:"maxRetries"`
	BaseBackoff    time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
	DrainBatchSize int           `mapstructure:"drainBatchSize"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxRetries:     3,
		BaseBackoff:    time.Minute,
		MaxBackoff:     30 * time.Minute,
		DrainBatchSize: 25,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("warmline")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/warmline/config")
	v.AddConfigPath("/etc/warmline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WARMLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policy.maxRetries", defaults.MaxRetries)
	v.SetDefault("policy.baseBackoff", defaults.BaseBackoff)
	v.SetDefault("policy.maxBackoff", defaults.MaxBackoff)
	v.SetDefault("policy.drainBatchSize", defaults.DrainBatchSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicyConfig(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	if v := h.current.Load(); v != nil {
		return v.(PolicyConfig)
	}
	return DefaultPolicyConfig()
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if cfg.MaxRetries < 0 {
		return errors.New("policy.maxRetries cannot be negative")
	}
	if cfg.BaseBackoff <= 0 {
		return errors.New("policy.baseBackoff must be positive")
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		return errors.New("policy.maxBackoff must be >= baseBackoff")
	}
	if cfg.DrainBatchSize <= 0 {
		return errors.New("policy.drainBatchSize must be positive")
	}
	return nil
}
