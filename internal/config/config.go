package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Leader departure policies applied by the party store when the owner leaves.
const (
	LeaderDepartureOrphan  = "orphan"
	LeaderDepartureDisband = "disband"
)

// Database drivers supported by the reference store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config models crewjob.yml.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Jobs   []JobSeed    `yaml:"jobs"`
}

type ClientConfig struct {
	ServerURL      string          `yaml:"server_url"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	Challenge      ChallengeConfig `yaml:"challenge"`
}

// ChallengeConfig tunes the client-side challenge gate. The two probabilities are kept
// apart on purpose; party actions are drawn more often than solo ones.
type ChallengeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Probability struct {
		Solo  float64 `yaml:"solo"`
		Party float64 `yaml:"party"`
	} `yaml:"probability"`
}

type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	BasePath        string          `yaml:"base_path"`
	Database        DatabaseConfig  `yaml:"database"`
	Auth            AuthConfig      `yaml:"auth"`
	LeaderDeparture string          `yaml:"leader_departure"`
	StartingLevel   int             `yaml:"starting_level"`
	StartingEnergy  int             `yaml:"starting_energy"`
	Restriction     time.Duration   `yaml:"restriction"`
	RateLimits      RateLimitConfig `yaml:"rate_limits"`
}

// AuthConfig configures bearer token auth. An empty secret disables dev login and every
// authenticated route.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	DevLogin  bool          `yaml:"dev_login"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RateLimitConfig struct {
	Solo       BucketConfig `yaml:"solo"`
	Party      BucketConfig `yaml:"party"`
	Automation BucketConfig `yaml:"automation"`
}

// BucketConfig describes a token bucket: Every is the refill period for one token.
type BucketConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

type JobSeed struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	RequiredCrew   int    `yaml:"required_crew"`
	RequiredLevel  int    `yaml:"required_level"`
	RequiredEnergy int    `yaml:"required_energy"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with cj config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive")
	}
	if c.Client.Challenge.Timeout <= 0 {
		return fmt.Errorf("client.challenge.timeout must be positive")
	}
	for name, p := range map[string]float64{
		"solo":  c.Client.Challenge.Probability.Solo,
		"party": c.Client.Challenge.Probability.Party,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("client.challenge.probability.%s must be within [0,1]", name)
		}
	}
	switch c.Server.LeaderDeparture {
	case LeaderDepartureOrphan, LeaderDepartureDisband:
	default:
		return fmt.Errorf("server.leader_departure must be %q or %q", LeaderDepartureOrphan, LeaderDepartureDisband)
	}
	switch c.Server.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Server.Database.DSN == "" {
			return fmt.Errorf("server.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("server.database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	for name, b := range map[string]BucketConfig{
		"solo":       c.Server.RateLimits.Solo,
		"party":      c.Server.RateLimits.Party,
		"automation": c.Server.RateLimits.Automation,
	} {
		if b.Every <= 0 || b.Burst <= 0 {
			return fmt.Errorf("server.rate_limits.%s needs positive every and burst", name)
		}
	}
	if c.Server.StartingLevel < 1 || c.Server.StartingEnergy < 0 {
		return fmt.Errorf("server.starting_level must be at least 1 and starting_energy non-negative")
	}
	if c.Server.Auth.TokenTTL <= 0 {
		return fmt.Errorf("server.auth.token_ttl must be positive")
	}
	if c.Server.Restriction <= 0 {
		return fmt.Errorf("server.restriction must be positive")
	}
	seen := map[string]bool{}
	for _, j := range c.Jobs {
		if j.ID == "" {
			return fmt.Errorf("jobs entry has empty id")
		}
		if seen[j.ID] {
			return fmt.Errorf("job %s defined twice", j.ID)
		}
		seen[j.ID] = true
		if j.RequiredCrew < 1 {
			return fmt.Errorf("job %s required_crew must be at least 1", j.ID)
		}
		if j.RequiredLevel < 0 || j.RequiredEnergy < 0 {
			return fmt.Errorf("job %s has negative requirements", j.ID)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewjob.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
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

const defaultTemplate = `client:
  server_url: http://127.0.0.1:8080/v1
  request_timeout: 10s
  poll_interval: 4s
  challenge:
    timeout: 30s
    probability:
      solo: 0.03
      party: 0.05

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  database:
    driver: sqlite
    dsn: ""
  auth:
    jwt_secret: ""
    dev_login: true
    token_ttl: 24h
  leader_departure: orphan
  starting_level: 1
  starting_energy: 100
  restriction: 5m
  rate_limits:
    solo:
      every: 2s
      burst: 3
    party:
      every: 5s
      burst: 2
    automation:
      every: 10s
      burst: 1

jobs:
  - id: courier-run
    name: Courier Run
    required_crew: 1
    required_level: 1
    required_energy: 5
  - id: warehouse-heist
    name: Warehouse Heist
    required_crew: 3
    required_level: 2
    required_energy: 10
  - id: dock-shakedown
    name: Dock Shakedown
    required_crew: 2
    required_level: 1
    required_energy: 8
`
