package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GatewayEntry describes one payment gateway as reference data. Fee and
// timezone semantics are data-driven so shared code can serve every
// provider.
type GatewayEntry struct {
	Name             string   `mapstructure:"name"`
	Currencies       []string `mapstructure:"currencies"`
	FeePercentage    float64  `mapstructure:"feePercentage"`
	FeeFixed         int64    `mapstructure:"feeFixed"`
	Region           string   `mapstructure:"region"`
	Active           bool     `mapstructure:"active"`
	Environment      string   `mapstructure:"environment"`
	UTCOffsetMinutes int      `mapstructure:"utcOffsetMinutes"`
	WebhookSecret    string   `mapstructure:"webhookSecret"`
}

type GatewayCatalog struct {
	Gateways []GatewayEntry `mapstructure:"gateways"`
}

func DefaultGatewayCatalog() GatewayCatalog {
	return GatewayCatalog{
		Gateways: []GatewayEntry{
			{
				Name:             "midtrans",
				Currencies:       []string{"IDR"},
				FeePercentage:    0.029,
				FeeFixed:         0,
				Region:           "id",
				Active:           true,
				Environment:      EnvironmentSandbox,
				UTCOffsetMinutes: 420,
				WebhookSecret:    "midtrans-sandbox-secret",
			},
			{
				Name:             "xendit",
				Currencies:       []string{"IDR", "PHP", "USD"},
				FeePercentage:    0.032,
				FeeFixed:         2000,
				Region:           "id",
				Active:           true,
				Environment:      EnvironmentSandbox,
				UTCOffsetMinutes: 0,
				WebhookSecret:    "xendit-sandbox-secret",
			},
		},
	}
}

// GatewayCatalogHolder keeps the current catalog behind an atomic value so
// reloads never race readers.
type GatewayCatalogHolder struct {
	current atomic.Value // holds GatewayCatalog
}

func NewGatewayCatalogHolder() (*GatewayCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("gateways")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payrail/config")
	v.AddConfigPath("/etc/payrail")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	useDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		useDefaults = true
	}

	cfg := DefaultGatewayCatalog()
	if !useDefaults {
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateGatewayCatalog(cfg); err != nil {
		return nil, err
	}

	holder := &GatewayCatalogHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayCatalog
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[gateway-config] reload failed: %v", err)
			return
		}
		if err := validateGatewayCatalog(updated); err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded %d gateways", len(updated.Gateways))
	})

	return holder, nil
}

// NewStaticGatewayCatalogHolder wraps a fixed catalog without file
// watching.
func NewStaticGatewayCatalogHolder(cfg GatewayCatalog) (*GatewayCatalogHolder, error) {
	if err := validateGatewayCatalog(cfg); err != nil {
		return nil, err
	}
	holder := &GatewayCatalogHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *GatewayCatalogHolder) Current() GatewayCatalog {
	return h.current.Load().(GatewayCatalog)
}

func validateGatewayCatalog(cfg GatewayCatalog) error {
	if len(cfg.Gateways) == 0 {
		return errors.New("gateway catalog must not be empty")
	}
	seen := map[string]bool{}
	for _, gw := range cfg.Gateways {
		name := strings.ToLower(strings.TrimSpace(gw.Name))
		if name == "" {
			return errors.New("gateway name is required")
		}
		key := name + "/" + strings.ToLower(strings.TrimSpace(gw.Environment))
		if seen[key] {
			return errors.New("duplicate gateway entry: " + key)
		}
		seen[key] = true
		if len(gw.Currencies) == 0 {
			return errors.New("gateway " + name + " must list supported currencies")
		}
		if gw.FeePercentage < 0 || gw.FeePercentage > 1 {
			return errors.New("gateway " + name + " fee percentage must be within [0,1]")
		}
		if gw.FeeFixed < 0 {
			return errors.New("gateway " + name + " fixed fee must not be negative")
		}
	}
	return nil
}
