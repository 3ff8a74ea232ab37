package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Redis holds connection settings for the session store backend.
type Redis struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka configures the optional audit event sink. Leaving Brokers empty
// disables it.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"verifier.audit"`
}

// Verifier holds the OID4VP identity of this relying party.
type Verifier struct {
	DID string `env:"VERIFIER_DID" envDefault:"did:web:verifier.example.com"`
	// PrivateKeyJWK is a JSON-encoded EC P-256 private JWK used to sign
	// authorization request objects. The service refuses to create sessions
	// without it.
	PrivateKeyJWK string `env:"VERIFIER_PRIVATE_KEY"`
	ClientName    string `env:"VERIFIER_CLIENT_NAME" envDefault:"EUDI Verifier"`
	LogoURI       string `env:"VERIFIER_LOGO_URI"`
	Contact       string `env:"VERIFIER_CONTACT"`
}

// Config is the full runtime configuration, populated from the environment.
type Config struct {
	Addr            string        `env:"VERIFIER_ADDR" envDefault:":8080"`
	BaseURL         string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"5m"`
	RequestedClaims []string      `env:"REQUESTED_CLAIMS" envSeparator:"," envDefault:"family_name,given_name,birth_date"`
	TrustedIssuers  []string      `env:"TRUSTED_ISSUERS" envSeparator:","`
	// TrustedIssuerKeys optionally pins verification keys: a JSON object of
	// issuer DID -> public JWK. Issuers without a pinned key pass the
	// signature step unverified until real DID resolution lands.
	TrustedIssuerKeys string `env:"TRUSTED_ISSUER_KEYS"`
	WebhookURL        string `env:"NOTIFY_WEBHOOK_URL"`
	DebugEndpoints    bool   `env:"DEBUG_ENDPOINTS" envDefault:"false"`

	Verifier Verifier
	Redis    Redis
	Kafka    Kafka
}

// CallbackURL is where wallets direct_post their presentation responses.
func (c Config) CallbackURL() string {
	return c.BaseURL + "/verify/response"
}

// Load reads configuration from the environment. A .env file is honoured when
// present so local runs do not need exported variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if len(cfg.TrustedIssuers) == 0 {
		cfg.TrustedIssuers = DefaultTrustedIssuers
	}
	return cfg, nil
}

// DefaultTrustedIssuers is the pilot-phase whitelist used when no explicit
// trust list is configured. A trust registry lookup should replace this.
var DefaultTrustedIssuers = []string{
	"did:web:issuer.eudiw.dev",
	"did:web:issuer.gataca.io",
	"did:web:issuer.idaustria.at",
	"did:web:issuer.deutscher-epass.de",
	"did:web:issuer.france-wallet.fr",
	"did:web:issuer.italia-wallet.it",
	"did:web:issuer.polska-teczka.pl",
	"did:web:issuer.portugal-wallet.pt",
	"did:web:verifier.example.com",
}
