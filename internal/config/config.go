package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models folio.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
		// TrustProxy keys rate limits on forwarded client addresses.
		TrustProxy bool `yaml:"trust_proxy"`
		RateLimit  struct {
			Requests      int           `yaml:"requests"`
			WriteRequests int           `yaml:"write_requests"`
			Window        time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Client struct {
		Endpoint     string        `yaml:"endpoint"`
		AnonKey      string        `yaml:"anon_key"`
		Timeout      time.Duration `yaml:"timeout"`
		SuccessFlash time.Duration `yaml:"success_flash"`
	} `yaml:"client"`
	Storage struct {
		S3 S3Config `yaml:"s3"`
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
	PathStyle       bool          `yaml:"path_style"`
}

// Enabled reports whether evidence files should be served via presigned URLs.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with folio config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	if c.Server.RateLimit.Requests < 0 || c.Server.RateLimit.WriteRequests < 0 {
		return fmt.Errorf("server.rate_limit requests must not be negative")
	}
	if c.Server.RateLimit.Window < 0 {
		return fmt.Errorf("server.rate_limit.window must not be negative")
	}
	if c.Client.Endpoint != "" {
		u, err := url.Parse(c.Client.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("client.endpoint must be an absolute URL")
		}
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative")
	}
	if c.Client.SuccessFlash < 0 {
		return fmt.Errorf("client.success_flash must not be negative")
	}
	if c.Storage.S3.Enabled() && strings.TrimSpace(c.Storage.S3.Region) == "" {
		return fmt.Errorf("storage.s3.region is required when a bucket is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "folio.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset values fall
// back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /rest/v1
  rate_limit:
    requests: 120
    write_requests: 20
    window: 1m

client:
  endpoint: http://127.0.0.1:8080/rest/v1
  timeout: 10s
  success_flash: 3s

log:
  level: info
  format: console
`
