package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	Version     string `envconfig:"VERSION" default:"dev"`

	// PublicOrigin is the externally reachable origin of this service,
	// used to build OAuth redirect and migration callback URLs.
	PublicOrigin string `envconfig:"PUBLIC_ORIGIN" required:"true"`
	// WebhookOrigin overrides PublicOrigin for migration callback URLs,
	// e.g. a tunnel origin during local development.
	WebhookOrigin string `envconfig:"WEBHOOK_ORIGIN" default:""`

	ProvisionerAPIURL string `envconfig:"PROVISIONER_API_URL" default:"https://console.neon.tech/api/v2"`
	ProvisionerAPIKey string `envconfig:"PROVISIONER_API_KEY" required:"true"`
	ConsoleURL        string `envconfig:"CONSOLE_URL" default:"https://console.neon.tech"`

	OAuthIssuerURL    string   `envconfig:"OAUTH_ISSUER_URL" default:"https://oauth2.neon.tech"`
	OAuthClientID     string   `envconfig:"OAUTH_CLIENT_ID" default:""`
	OAuthClientSecret string   `envconfig:"OAUTH_CLIENT_SECRET" default:""`
	OAuthScopes       []string `envconfig:"OAUTH_SCOPES" default:"urn:neoncloud:projects:create,urn:neoncloud:orgs:read"`

	MigrationInvokeURL string `envconfig:"MIGRATION_INVOKE_URL" required:"true"`

	ChallengeVerifyURL string `envconfig:"CHALLENGE_VERIFY_URL" default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	ChallengeSecretKey string `envconfig:"CHALLENGE_SECRET_KEY" default:""`

	SweepIntervalMinutes int `envconfig:"SWEEP_INTERVAL_MINUTES" default:"5"`
	TTLMinutes           int `envconfig:"TTL_MINUTES" default:"60"`
	SweepConcurrency     int `envconfig:"SWEEP_CONCURRENCY" default:"50"`

	// AdminAPIKeyHash is a bcrypt hash of the admin API key. The admin
	// surface is disabled when empty.
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH" default:""`
	// RegionsPath points at an optional YAML region catalog overriding
	// the built-in one.
	RegionsPath string `envconfig:"REGIONS_PATH" default:""`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
