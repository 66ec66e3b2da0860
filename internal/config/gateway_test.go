package config

import "testing"

func TestDefaultGatewayCatalogIsValid(t *testing.T) {
	if err := validateGatewayCatalog(DefaultGatewayCatalog()); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}

func TestValidateGatewayCatalog(t *testing.T) {
	base := GatewayEntry{
		Name:        "midtrans",
		Currencies:  []string{"IDR"},
		Environment: EnvironmentSandbox,
	}

	cases := []struct {
		name    string
		mutate  func(e GatewayEntry) GatewayCatalog
		wantErr bool
	}{
		{
			name: "valid",
			mutate: func(e GatewayEntry) GatewayCatalog {
				return GatewayCatalog{Gateways: []GatewayEntry{e}}
			},
		},
		{
			name: "empty catalog",
			mutate: func(e GatewayEntry) GatewayCatalog {
				return GatewayCatalog{}
			},
			wantErr: true,
		},
		{
			name: "missing name",
			mutate: func(e GatewayEntry) GatewayCatalog {
				e.Name = ""
				return GatewayCatalog{Gateways: []GatewayEntry{e}}
			},
			wantErr: true,
		},
		{
			name: "duplicate name and environment",
			mutate: func(e GatewayEntry) GatewayCatalog {
				return GatewayCatalog{Gateways: []GatewayEntry{e, e}}
			},
			wantErr: true,
		},
		{
			name: "no currencies",
			mutate: func(e GatewayEntry) GatewayCatalog {
				e.Currencies = nil
				return GatewayCatalog{Gateways: []GatewayEntry{e}}
			},
			wantErr: true,
		},
		{
			name: "fee percentage out of range",
			mutate: func(e GatewayEntry) GatewayCatalog {
				e.FeePercentage = 1.5
				return GatewayCatalog{Gateways: []GatewayEntry{e}}
			},
			wantErr: true,
		},
		{
			name: "negative fixed fee",
			mutate: func(e GatewayEntry) GatewayCatalog {
				e.FeeFixed = -1
				return GatewayCatalog{Gateways: []GatewayEntry{e}}
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateGatewayCatalog(tc.mutate(base))
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStaticHolderSameEnvironmentDifferentGateways(t *testing.T) {
	holder, err := NewStaticGatewayCatalogHolder(DefaultGatewayCatalog())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	got := holder.Current()
	if len(got.Gateways) != 2 {
		t.Fatalf("expected 2 gateways, got %d", len(got.Gateways))
	}
}
