package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AccountingConfig carries the bookkeeping defaults applied when staging
// documents are pushed to the accounting system.
type AccountingConfig struct {
	DefaultCurrency string `mapstructure:"defaultCurrency"`
	BankAccountCode string `mapstructure:"bankAccountCode"`
	DueDays         int    `mapstructure:"dueDays"`
	TaxType         string `mapstructure:"taxType"`
	LineAmountTypes string `mapstructure:"lineAmountTypes"`
	ReferencePrefix string `mapstructure:"referencePrefix"`
}

func DefaultAccountingConfig() AccountingConfig {
	return AccountingConfig{
		DefaultCurrency: "AUD",
		BankAccountCode: "090",
		DueDays:         0,
		TaxType:         "NONE",
		LineAmountTypes: "Inclusive",
		ReferencePrefix: "REG",
	}
}

type AccountingConfigHolder struct {
	current atomic.Value // holds AccountingConfig
}

// NewStaticAccountingConfigHolder returns a holder that never reloads.
func NewStaticAccountingConfigHolder(cfg AccountingConfig) *AccountingConfigHolder {
	holder := &AccountingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAccountingConfigHolder() (*AccountingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("accounting")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/registrar/config")
	v.AddConfigPath("/etc/registrar")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REGISTRAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAccountingConfig()
	v.SetDefault("accounting.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("accounting.bankAccountCode", defaults.BankAccountCode)
	v.SetDefault("accounting.dueDays", defaults.DueDays)
	v.SetDefault("accounting.taxType", defaults.TaxType)
	v.SetDefault("accounting.lineAmountTypes", defaults.LineAmountTypes)
	v.SetDefault("accounting.referencePrefix", defaults.ReferencePrefix)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg AccountingConfig
	if err := v.UnmarshalKey("accounting", &cfg); err != nil {
		return nil, err
	}
	if err := validateAccountingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAccountingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AccountingConfig
		if err := v.UnmarshalKey("accounting", &updated); err != nil {
			log.Printf("[accounting-config] reload failed: %v", err)
			return
		}
		if err := validateAccountingConfig(updated); err != nil {
			log.Printf("[accounting-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[accounting-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AccountingConfigHolder) Get() AccountingConfig {
	return h.current.Load().(AccountingConfig)
}

func validateAccountingConfig(cfg AccountingConfig) error {
	if strings.TrimSpace(cfg.BankAccountCode) == "" {
		return errors.New("accounting.bankAccountCode cannot be empty")
	}
	if len(strings.TrimSpace(cfg.DefaultCurrency)) != 3 {
		return errors.New("accounting.defaultCurrency must be an ISO 4217 code")
	}
	if cfg.DueDays < 0 {
		return errors.New("accounting.dueDays cannot be negative")
	}
	switch cfg.LineAmountTypes {
	case "Inclusive", "Exclusive", "NoTax":
	default:
		return errors.New("accounting.lineAmountTypes must be Inclusive, Exclusive or NoTax")
	}
	return nil
}
