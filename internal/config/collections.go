package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ToneBand maps a days-overdue range to the tone used when drafting a
// collection message.
type ToneBand struct {
	Tone    string `mapstructure:"tone"`
	MinDays int    `mapstructure:"minDays"`
	MaxDays *int   `mapstructure:"maxDays"` // nil = open-ended
}

// CollectionsConfig is operator-tunable collections policy. It is loaded from
// collections.yml and hot-reloaded on change.
type CollectionsConfig struct {
	ToneBands            []ToneBand `mapstructure:"toneBands"`
	PromiseToleranceDays int        `mapstructure:"promiseToleranceDays"`
	MaxFeeCents          int64      `mapstructure:"maxFeeCents"`
}

func DefaultCollectionsConfig() CollectionsConfig {
	return CollectionsConfig{
		ToneBands: []ToneBand{
			{Tone: "friendly", MinDays: 0, MaxDays: intPtr(30)},
			{Tone: "firm", MinDays: 31, MaxDays: intPtr(60)},
			{Tone: "urgent", MinDays: 61, MaxDays: nil},
		},
		PromiseToleranceDays: 2,
		MaxFeeCents:          50_000,
	}
}

func intPtr(v int) *int { return &v }

// ToneForDaysOverdue returns the configured tone for an invoice age.
func (c CollectionsConfig) ToneForDaysOverdue(days int) string {
	for _, band := range c.ToneBands {
		if days < band.MinDays {
			continue
		}
		if band.MaxDays != nil && days > *band.MaxDays {
			continue
		}
		return band.Tone
	}
	return "friendly"
}

type CollectionsConfigHolder struct {
	current atomic.Value // holds CollectionsConfig
}

// NewStaticCollectionsHolder wraps a fixed config, used by tests.
func NewStaticCollectionsHolder(cfg CollectionsConfig) *CollectionsConfigHolder {
	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCollectionsConfigHolder() (*CollectionsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("collections")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/billingcore/config")
	v.AddConfigPath("/etc/billingcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultCollectionsConfig()
		v.SetDefault("collections.toneBands", defaults.ToneBands)
		v.SetDefault("collections.promiseToleranceDays", defaults.PromiseToleranceDays)
		v.SetDefault("collections.maxFeeCents", defaults.MaxFeeCents)
	}

	var cfg CollectionsConfig
	if err := v.UnmarshalKey("collections", &cfg); err != nil {
		return nil, err
	}
	if err := validateCollectionsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CollectionsConfig
		if err := v.UnmarshalKey("collections", &updated); err != nil {
			log.Printf("[collections-config] reload failed: %v", err)
			return
		}
		if err := validateCollectionsConfig(updated); err != nil {
			log.Printf("[collections-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[collections-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CollectionsConfigHolder) Get() CollectionsConfig {
	return h.current.Load().(CollectionsConfig)
}

func validateCollectionsConfig(cfg CollectionsConfig) error {
	if len(cfg.ToneBands) == 0 {
		return errors.New("collections config requires at least one tone band")
	}
	for _, band := range cfg.ToneBands {
		if strings.TrimSpace(band.Tone) == "" {
			return errors.New("tone band requires a tone")
		}
		if band.MinDays < 0 {
			return errors.New("tone band minDays must be >= 0")
		}
		if band.MaxDays != nil && *band.MaxDays < band.MinDays {
			return errors.New("tone band maxDays must be >= minDays")
		}
	}
	if cfg.PromiseToleranceDays < 0 {
		return errors.New("promiseToleranceDays must be >= 0")
	}
	if cfg.MaxFeeCents < 0 {
		return errors.New("maxFeeCents must be >= 0")
	}
	return nil
}
