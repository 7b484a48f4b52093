package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RentPolicy holds operator-tunable collection rules. It is read from
// rent.yml and reloaded on change.
type RentPolicy struct {
	Currency             string   `mapstructure:"currency"`
	GraceDays            int      `mapstructure:"graceDays"`
	LateFeeFlat          float64  `mapstructure:"lateFeeFlat"`
	OverdueSweepSchedule string   `mapstructure:"overdueSweepSchedule"`
	SuccessPath          string   `mapstructure:"successPath"`
	CancelPath           string   `mapstructure:"cancelPath"`
	WebhookEvents        []string `mapstructure:"webhookEvents"`
	RecentPaidLimit      int      `mapstructure:"recentPaidLimit"`
}

// LateFee returns the flat late fee as a decimal amount.
func (p RentPolicy) LateFee() decimal.Decimal {
	return decimal.NewFromFloat(p.LateFeeFlat).Round(2)
}

// SuccessURL renders the checkout success redirect for a receipt.
func (p RentPolicy) SuccessURL(baseURL, receiptNumber string) string {
	return baseURL + strings.ReplaceAll(p.SuccessPath, "{receipt}", receiptNumber)
}

// CancelURL renders the checkout cancel redirect for a receipt.
func (p RentPolicy) CancelURL(baseURL, receiptNumber string) string {
	return baseURL + strings.ReplaceAll(p.CancelPath, "{receipt}", receiptNumber)
}

func DefaultRentPolicy() RentPolicy {
	return RentPolicy{
		Currency:             "usd",
		GraceDays:            5,
		LateFeeFlat:          0,
		OverdueSweepSchedule: "@hourly",
		SuccessPath:          "/payments/success?receipt={receipt}",
		CancelPath:           "/payments/cancel?receipt={receipt}",
		WebhookEvents: []string{
			"checkout.session.completed",
			"checkout.session.async_payment_succeeded",
			"checkout.session.async_payment_failed",
			"checkout.session.expired",
			"payment_intent.succeeded",
			"payment_intent.payment_failed",
			"payment_intent.canceled",
		},
		RecentPaidLimit: 6,
	}
}

type RentPolicyHolder struct {
	current atomic.Value // holds RentPolicy
}

// NewStaticRentPolicyHolder wraps a fixed policy without file watching.
func NewStaticRentPolicyHolder(policy RentPolicy) *RentPolicyHolder {
	holder := &RentPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewRentPolicyHolder() (*RentPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("rent")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rentwise/config")
	v.AddConfigPath("/etc/rentwise")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RENTWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRentPolicy()
	v.SetDefault("rent.currency", defaults.Currency)
	v.SetDefault("rent.graceDays", defaults.GraceDays)
	v.SetDefault("rent.lateFeeFlat", defaults.LateFeeFlat)
	v.SetDefault("rent.overdueSweepSchedule", defaults.OverdueSweepSchedule)
	v.SetDefault("rent.successPath", defaults.SuccessPath)
	v.SetDefault("rent.cancelPath", defaults.CancelPath)
	v.SetDefault("rent.webhookEvents", defaults.WebhookEvents)
	v.SetDefault("rent.recentPaidLimit", defaults.RecentPaidLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy RentPolicy
	if err := v.UnmarshalKey("rent", &policy); err != nil {
		return nil, err
	}
	if err := validateRentPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticRentPolicyHolder(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RentPolicy
		if err := v.UnmarshalKey("rent", &updated); err != nil {
			log.Printf("[rent-policy] reload failed: %v", err)
			return
		}
		if err := validateRentPolicy(updated); err != nil {
			log.Printf("[rent-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rent-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RentPolicyHolder) Get() RentPolicy {
	return h.current.Load().(RentPolicy)
}

func validateRentPolicy(p RentPolicy) error {
	if len(strings.TrimSpace(p.Currency)) != 3 {
		return errors.New("rent.currency must be a 3-letter ISO code")
	}
	if p.GraceDays < 0 {
		return errors.New("rent.graceDays cannot be negative")
	}
	if p.LateFeeFlat < 0 {
		return errors.New("rent.lateFeeFlat cannot be negative")
	}
	if p.RecentPaidLimit <= 0 {
		return errors.New("rent.recentPaidLimit must be positive")
	}
	if !strings.Contains(p.SuccessPath, "{receipt}") {
		return errors.New("rent.successPath must contain {receipt}")
	}
	if _, err := cron.ParseStandard(p.OverdueSweepSchedule); err != nil {
		return errors.New("rent.overdueSweepSchedule is not a valid cron spec")
	}
	return nil
}
