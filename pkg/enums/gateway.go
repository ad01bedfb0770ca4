package enums

import (
	"fmt"
	"strings"
)

// GatewayProvider names the external payment processor behind a record or webhook.
type GatewayProvider string

const (
	GatewayStripe GatewayProvider = "stripe"
	GatewaySquare GatewayProvider = "square"
)

var validGatewayProviders = []GatewayProvider{
	GatewayStripe,
	GatewaySquare,
}

// String implements fmt.Stringer.
func (g GatewayProvider) String() string {
	return string(g)
}

// IsValid reports whether the value is known.
func (g GatewayProvider) IsValid() bool {
	for _, candidate := range validGatewayProviders {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGatewayProvider converts raw input into a GatewayProvider.
func ParseGatewayProvider(value string) (GatewayProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validGatewayProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway provider %q", value)
}
