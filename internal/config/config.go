// Package config handles loading and validating the application
// configuration from a JSON file (config.json by default).
//
// The configuration file is expected to be a JSON object with database
// connection details, HTTP listen address, token signing settings, an
// operator admin key, and the media storage backend.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// Media storage drivers.
const (
	MediaDriverS3     = "s3"
	MediaDriverMemory = "memory"
)

// minSecretLen is the shortest accepted JWT signing secret.
const minSecretLen = 32

// Config holds all application configuration loaded from config.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "postgres:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// JWTSecret is the HMAC key used to sign access and refresh tokens.
	JWTSecret string `json:"jwtSecret"`

	// Issuer is written to the "iss" claim of every token
	// (default "vibespace").
	Issuer string `json:"issuer"`

	// AdminKey is a shared secret for operator access to the admin API.
	// Clients send it as "Authorization: Bearer <adminKey>". Empty
	// disables operator access; moderators still authenticate with JWTs.
	AdminKey string `json:"adminKey,omitempty"`

	// CORSOrigins lists the frontend origins allowed to call the API.
	CORSOrigins []string `json:"corsOrigins,omitempty"`

	// LogLevel is "debug", "info" (default), "warn" or "error".
	LogLevel string `json:"logLevel,omitempty"`

	// Media configures where uploaded files are stored.
	Media MediaConfig `json:"media"`
}

// MediaConfig selects and configures the object store for uploads.
type MediaConfig struct {
	Driver          string `json:"driver"` // "s3" or "memory"
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // S3-compatible endpoint, e.g. MinIO
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	UsePathStyle    bool   `json:"usePathStyle,omitempty"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.Issuer == "" {
		c.Issuer = "vibespace"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Media.Driver == "" {
		c.Media.Driver = MediaDriverMemory
	}
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case len(c.JWTSecret) < minSecretLen:
		return fmt.Errorf("config: jwtSecret must be at least %d characters", minSecretLen)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logLevel %q", c.LogLevel)
	}

	switch c.Media.Driver {
	case MediaDriverMemory:
	case MediaDriverS3:
		if c.Media.Bucket == "" || c.Media.Region == "" {
			return fmt.Errorf("config: media.bucket and media.region are required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown media.driver %q", c.Media.Driver)
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
