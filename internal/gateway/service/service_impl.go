package service

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/payrail/internal/config"
	gatewaydomain "github.com/smallbiznis/payrail/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LocalTimeLayout is the wall-clock format gateways use in callbacks.
const LocalTimeLayout = "2006-01-02 15:04:05"

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Catalog *config.GatewayCatalogHolder
}

type Service struct {
	log     *zap.Logger
	cfg     config.Config
	catalog *config.GatewayCatalogHolder
}

func NewService(p Params) gatewaydomain.Service {
	return &Service{
		log:     p.Log.Named("gateway.service"),
		cfg:     p.Cfg,
		catalog: p.Catalog,
	}
}

func (s *Service) gateways() []gatewaydomain.Gateway {
	entries := s.catalog.Current().Gateways
	out := make([]gatewaydomain.Gateway, 0, len(entries))
	for _, e := range entries {
		out = append(out, gatewaydomain.Gateway{
			Name:             strings.ToLower(strings.TrimSpace(e.Name)),
			Currencies:       e.Currencies,
			FeePercentage:    e.FeePercentage,
			FeeFixed:         e.FeeFixed,
			Region:           e.Region,
			Active:           e.Active,
			Environment:      strings.ToLower(strings.TrimSpace(e.Environment)),
			UTCOffsetMinutes: e.UTCOffsetMinutes,
			WebhookSecret:    e.WebhookSecret,
		})
	}
	return out
}

func (s *Service) Get(name string) (gatewaydomain.Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return gatewaydomain.Gateway{}, gatewaydomain.ErrUnknownGateway
	}
	for _, gw := range s.gateways() {
		if gw.Name == name && gw.Environment == s.cfg.GatewayEnvironment {
			return gw, nil
		}
	}
	return gatewaydomain.Gateway{}, gatewaydomain.ErrUnknownGateway
}

func (s *Service) Select(environment, currency string) (gatewaydomain.Gateway, error) {
	environment = strings.ToLower(strings.TrimSpace(environment))
	if environment == "" {
		environment = s.cfg.GatewayEnvironment
	}

	var candidates []gatewaydomain.Gateway
	for _, gw := range s.gateways() {
		if !gw.Active || gw.Environment != environment {
			continue
		}
		if gw.SupportsCurrency(currency) {
			candidates = append(candidates, gw)
		}
	}
	if len(candidates) == 0 {
		return gatewaydomain.Gateway{}, gatewaydomain.ErrUnsupportedCurrency
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FeePercentage != b.FeePercentage {
			return a.FeePercentage < b.FeePercentage
		}
		if a.FeeFixed != b.FeeFixed {
			return a.FeeFixed < b.FeeFixed
		}
		return a.Name < b.Name
	})
	return candidates[0], nil
}

func (s *Service) ToGatewayTime(t time.Time, gateway string) (time.Time, error) {
	gw, err := s.Get(gateway)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(gw.Location()), nil
}

func (s *Service) ToUTC(t time.Time, gateway string) (time.Time, error) {
	if _, err := s.Get(gateway); err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *Service) ParseLocalTime(value, gateway string) (time.Time, error) {
	gw, err := s.Get(gateway)
	if err != nil {
		return time.Time{}, err
	}
	parsed, err := time.ParseInLocation(LocalTimeLayout, strings.TrimSpace(value), gw.Location())
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
