// Package config loads the caller's runtime configuration from the
// environment. Missing credentials are fatal at startup, never mid-call.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/intent"
)

type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`
	// PublicHost is the externally reachable host used when building the
	// stream and callback URLs handed to the telephony vendor.
	PublicHost string `envconfig:"PUBLIC_HOST"`

	TwilioAccountSid string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioCallerID   string `envconfig:"TWILIO_CALLER_ID"`

	ElevenAPIKey  string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenAgentID string `envconfig:"ELEVENLABS_AGENT_ID"`

	AgentPrompt       string `envconfig:"AGENT_PROMPT"`
	AgentFirstMessage string `envconfig:"AGENT_FIRST_MESSAGE"`

	// IntentCatalogPath overrides the built-in intent categories with a
	// YAML catalog.
	IntentCatalogPath string `envconfig:"INTENT_CATALOG_PATH"`

	WebhookURL         string        `envconfig:"WEBHOOK_URL"`
	WebhookMaxAttempts int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"3"`
	WebhookBaseDelay   time.Duration `envconfig:"WEBHOOK_BASE_DELAY" default:"1s"`

	MaxRetries int           `envconfig:"MAX_RETRIES" default:"2"`
	RetryDelay time.Duration `envconfig:"RETRY_DELAY" default:"1m"`

	// MQTT settings for the preferred retry-scheduling channel. Leaving the
	// broker empty disables the channel; the scheduler then redials
	// directly.
	MQTTBroker   string `envconfig:"MQTT_BROKER"`
	MQTTClientID string `envconfig:"MQTT_CLIENT_ID" default:"ai-caller"`
	MQTTTopic    string `envconfig:"MQTT_TOPIC" default:"calls/retry"`
	MQTTQoS      int    `envconfig:"MQTT_QOS" default:"1"`

	MinAIFrameBytes      int           `envconfig:"MIN_AI_FRAME_BYTES" default:"20"`
	QualityCheckInterval time.Duration `envconfig:"QUALITY_CHECK_INTERVAL" default:"5s"`

	ReadHeaderTimeout   time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"30s"`
}

// Load reads CALLER_-prefixed environment variables and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("caller", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TwilioAccountSid == "" || c.TwilioAuthToken == "" {
		return fmt.Errorf("CALLER_TWILIO_ACCOUNT_SID and CALLER_TWILIO_AUTH_TOKEN are required")
	}
	if c.TwilioCallerID == "" {
		return fmt.Errorf("CALLER_TWILIO_CALLER_ID is required")
	}
	if c.ElevenAgentID == "" {
		return fmt.Errorf("CALLER_ELEVENLABS_AGENT_ID is required")
	}
	if c.PublicHost == "" {
		return fmt.Errorf("CALLER_PUBLIC_HOST is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("CALLER_MAX_RETRIES must be >= 0")
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("CALLER_WEBHOOK_MAX_ATTEMPTS must be > 0")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("CALLER_MQTT_QOS must be 0, 1, or 2")
	}
	return nil
}

// Catalog returns the intent catalog, reading the YAML override when one is
// configured.
func (c Config) Catalog() (intent.Catalog, error) {
	if c.IntentCatalogPath == "" {
		return intent.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(c.IntentCatalogPath)
	if err != nil {
		return intent.Catalog{}, fmt.Errorf("read intent catalog: %w", err)
	}
	return intent.CatalogFromYAML(data)
}

// StreamURL is the websocket endpoint handed to the telephony vendor.
func (c Config) StreamURL() string {
	return "wss://" + c.PublicHost + "/media-stream"
}

// StatusCallbackURL receives call-status events.
func (c Config) StatusCallbackURL() string {
	return "https://" + c.PublicHost + "/call-status"
}

// AMDCallbackURL receives answering-detection events.
func (c Config) AMDCallbackURL() string {
	return "https://" + c.PublicHost + "/amd-status"
}

// TwiMLURL answers the vendor's call webhook with stream markup.
func (c Config) TwiMLURL() string {
	return "https://" + c.PublicHost + "/twiml"
}
