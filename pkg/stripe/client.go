package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// keyPrefixes lists the secret and restricted key prefixes accepted per
// environment. A live key in the test environment would move real money.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

// Client holds the process-wide Stripe setup: the API key installed on the
// package-level backend and the webhook endpoint secrets.
type Client struct {
	environment string
	secrets     []string
}

// NewClient validates the key against the environment and installs it. The
// gateway adapter resends charges and refunds with a stable idempotency key,
// so stripe-go's own network retries are capped by cfg.NetworkRetries.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("stripe environment %q must be test or live", env)
	}

	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	if !hasAnyPrefix(key, prefixes) {
		return nil, fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	secrets := SplitSecrets(cfg.Secret)
	if len(secrets) == 0 {
		return nil, errSecretRequired
	}

	stripe.Key = key
	retries := cfg.NetworkRetries
	if retries < 0 {
		retries = 0
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(retries),
	}))

	if logg != nil {
		fields := map[string]any{
			"stripe_env":      env,
			"signing_secrets": len(secrets),
			"network_retries": retries,
		}
		logg.Info(logg.WithFields(ctx, fields), "stripe configured")
	}

	return &Client{environment: env, secrets: secrets}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// VerifyEvent checks the Stripe-Signature header against every configured
// endpoint secret. Several secrets are live while an endpoint secret is
// being rolled; the first one that matches wins.
func (c *Client) VerifyEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || len(c.secrets) == 0 {
		return stripe.Event{}, errSecretRequired
	}
	return verifyWithSecrets(payload, header, c.secrets)
}

func verifyWithSecrets(payload []byte, header string, secrets []string) (stripe.Event, error) {
	var lastErr error
	for _, secret := range secrets {
		event, err := webhook.ConstructEvent(payload, header, secret)
		if err == nil {
			return event, nil
		}
		// Header, timestamp and version failures are the same for every secret.
		if !errors.Is(err, webhook.ErrNoValidSignature) {
			return stripe.Event{}, err
		}
		lastErr = err
	}
	return stripe.Event{}, lastErr
}

// SplitSecrets parses a comma separated list of webhook endpoint secrets,
// dropping blanks and repeats.
func SplitSecrets(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		secret := strings.TrimSpace(part)
		if secret == "" {
			continue
		}
		if _, dup := seen[secret]; dup {
			continue
		}
		seen[secret] = struct{}{}
		out = append(out, secret)
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
